// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"os"
	"time"

	"github.com/bureau-foundation/fsbroker/lib/control"
)

// StatusResponse is the control socket's "status" reply.
type StatusResponse struct {
	PID      int      `cbor:"pid"`
	Started  int64    `cbor:"started"`
	Commands []string `cbor:"commands"`
	Rules    int      `cbor:"rules"`
}

// PolicyRule is one rule in the control socket's "policy" reply.
type PolicyRule struct {
	Path     string `cbor:"path"`
	Mode     string `cbor:"mode"`
	Tempfile bool   `cbor:"tempfile,omitempty"`
}

// PolicyResponse is the control socket's "policy" reply.
type PolicyResponse struct {
	Commands []string     `cbor:"commands"`
	Rules    []PolicyRule `cbor:"rules"`
}

// RegisterControl exposes the broker on a control server: "status",
// "policy" (the loaded rule table), and "stats" (request counters).
// Everything served here is read-only; the control socket cannot
// change policy — nothing can, after construction.
func (b *Broker) RegisterControl(server *control.Server) {
	started := time.Now().Unix()

	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return StatusResponse{
			PID:      os.Getpid(),
			Started:  started,
			Commands: b.commandNames(),
			Rules:    len(b.policy.Rules()),
		}, nil
	})

	server.Handle("policy", func(ctx context.Context, raw []byte) (any, error) {
		response := PolicyResponse{Commands: b.commandNames()}
		for _, rule := range b.policy.Rules() {
			response.Rules = append(response.Rules, PolicyRule{
				Path:     rule.Pattern,
				Mode:     rule.Access.String(),
				Tempfile: rule.Tempfile,
			})
		}
		return response, nil
	})

	server.Handle("stats", func(ctx context.Context, raw []byte) (any, error) {
		return b.stats.Snapshot(), nil
	})
}

func (b *Broker) commandNames() []string {
	var names []string
	for _, command := range b.policy.Commands().Commands() {
		names = append(names, command.String())
	}
	return names
}

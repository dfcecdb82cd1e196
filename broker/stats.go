// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync/atomic"

	"github.com/bureau-foundation/fsbroker/wire"
)

// Stats counts request outcomes across all channels. Counters are
// atomic and live outside the decision path: validators never consult
// them, they only feed the control socket.
type Stats struct {
	malformed atomic.Uint64
	commands  [wire.CmdMax + 1]commandCounters
}

type commandCounters struct {
	approved atomic.Uint64
	denied   atomic.Uint64
}

func (s *Stats) record(command wire.Command, approved bool) {
	if !command.Valid() {
		return
	}
	if approved {
		s.commands[command].approved.Add(1)
	} else {
		s.commands[command].denied.Add(1)
	}
}

// CommandStats is the per-command slice of a stats snapshot.
type CommandStats struct {
	Command  string `cbor:"command"`
	Approved uint64 `cbor:"approved"`
	Denied   uint64 `cbor:"denied"`
}

// StatsSnapshot is a point-in-time copy of the counters, as served on
// the control socket.
type StatsSnapshot struct {
	Malformed uint64         `cbor:"malformed"`
	Commands  []CommandStats `cbor:"commands"`
}

// Snapshot copies the counters. Commands with no traffic are included
// so the output shape is stable.
func (s *Stats) Snapshot() StatsSnapshot {
	snapshot := StatsSnapshot{Malformed: s.malformed.Load()}
	for command := wire.CmdAccess; command <= wire.CmdMax; command++ {
		snapshot.Commands = append(snapshot.Commands, CommandStats{
			Command:  command.String(),
			Approved: s.commands[command].approved.Load(),
			Denied:   s.commands[command].denied.Load(),
		})
	}
	return snapshot
}

// Stats returns the broker's counters.
func (b *Broker) Stats() *Stats {
	return &b.stats
}

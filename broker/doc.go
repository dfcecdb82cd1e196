// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker runs in the trusted process and answers filesystem
// requests from sandboxed peers.
//
// Each sandboxed process gets one dedicated channel, served by one
// goroutine. The protocol is strictly synchronous — one request in
// flight per channel — so a channel's loop is a plain state machine:
// receive, validate, perform the syscall only on approval, reply.
// Channels share nothing but the immutable policy, so there is no
// locking anywhere on the request path.
//
// The load-bearing invariant is that rejection has zero filesystem
// side effects. A request that fails to decode, or whose validator
// says no, turns into an errno reply without any syscall being
// attempted; only an approved decision's sanitized arguments — never
// the peer's raw bytes — reach the kernel.
package broker

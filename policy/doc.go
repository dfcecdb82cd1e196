// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy holds the broker's authorization state and the
// per-command decision functions.
//
// A Policy is built once when the sandbox is set up and never mutated
// afterward: there is no write API past the constructor, which is what
// makes it safe to consult from every channel goroutine without
// locking. Rules are matched literally against the requested path
// string — no cleaning, no symlink resolution. Resolving would require
// privileged filesystem access the decision functions must not have,
// and would reopen the check/use race the broker exists to close. The
// cost of that trade-off is that a symlink created inside a covered
// directory can redirect a covered path elsewhere; the broker does not
// defend against that here, and callers who allow write access to a
// directory should know that it includes symlink creation.
//
// The Check functions are pure: no I/O, no locks, and no heap
// allocation beyond their stack frames, so they remain callable from
// the most restricted execution context the broker runs in. They
// return a Decision value, never an error.
package policy

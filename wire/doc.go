// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the broker channel message format.
//
// Messages are fixed-layout little-endian records, capped at MaxMessage
// bytes in both directions. Strings are length-prefixed, never
// NUL-terminated, so an embedded NUL can't silently shorten a path on
// the privileged side. Open flags and access modes travel in a bit
// layout defined by this protocol rather than the platform's O_*/X_OK
// values, so the encoded form does not depend on where it was built.
//
// Decoding is written for an adversarial peer: the broker end of the
// channel must assume the sandboxed process has been compromised and
// is sending arbitrary bytes. Every decode path bounds-checks before
// reading and returns ErrMalformed (or ErrOversize) instead of
// panicking. A file descriptor returned by an open is not part of the
// byte layout; the transport carries it as ancillary data and the
// reply's FD flag says whether one is attached.
package wire

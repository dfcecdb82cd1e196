// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "golang.org/x/sys/unix"

// OpenFlags is the protocol's encoding of open(2) flags. The low two
// bits carry the access mode; the remaining bits are independent flags
// with protocol-assigned positions, so the encoded value is identical
// regardless of the platform's O_* bit assignment.
//
// There is deliberately no bit for O_CLOEXEC. Close-on-exec is a
// property of the receiving process's descriptor table, not of the
// file, and must never reach the policy check or the wire: a broker
// that honored a peer-supplied cloexec bit would let the sandboxed
// process influence descriptor state it does not own. The client strips
// the bit before encoding and re-applies it locally after the
// descriptor arrives.
type OpenFlags uint32

const (
	// Access mode, two-bit field. Value 3 is invalid.
	OpenReadOnly  OpenFlags = 0
	OpenWriteOnly OpenFlags = 1
	OpenReadWrite OpenFlags = 2

	openAccessMask OpenFlags = 3

	OpenCreate    OpenFlags = 1 << 2
	OpenExclusive OpenFlags = 1 << 3
	OpenTruncate  OpenFlags = 1 << 4
	OpenAppend    OpenFlags = 1 << 5
	OpenNonblock  OpenFlags = 1 << 6
	OpenDirectory OpenFlags = 1 << 7
	OpenNofollow  OpenFlags = 1 << 8
	OpenNoctty    OpenFlags = 1 << 9

	openKnownMask = openAccessMask | OpenCreate | OpenExclusive |
		OpenTruncate | OpenAppend | OpenNonblock | OpenDirectory |
		OpenNofollow | OpenNoctty
)

// openFlagBits maps each single-bit wire flag to its host value.
var openFlagBits = []struct {
	wire OpenFlags
	host int
}{
	{OpenCreate, unix.O_CREAT},
	{OpenExclusive, unix.O_EXCL},
	{OpenTruncate, unix.O_TRUNC},
	{OpenAppend, unix.O_APPEND},
	{OpenNonblock, unix.O_NONBLOCK},
	{OpenDirectory, unix.O_DIRECTORY},
	{OpenNofollow, unix.O_NOFOLLOW},
	{OpenNoctty, unix.O_NOCTTY},
}

// OpenFlagsFromHost translates platform open(2) flags to the wire
// layout. O_CLOEXEC is dropped: the caller records it locally before
// calling this. Returns ok=false if hostFlags carries any bit the
// protocol cannot represent, or an invalid access mode; the client
// fails such a call with EINVAL rather than silently narrowing it.
func OpenFlagsFromHost(hostFlags int) (OpenFlags, bool) {
	hostFlags &^= unix.O_CLOEXEC

	var flags OpenFlags
	switch hostFlags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		flags = OpenReadOnly
	case unix.O_WRONLY:
		flags = OpenWriteOnly
	case unix.O_RDWR:
		flags = OpenReadWrite
	default:
		return 0, false
	}
	hostFlags &^= unix.O_ACCMODE

	for _, bit := range openFlagBits {
		if hostFlags&bit.host != 0 {
			flags |= bit.wire
			hostFlags &^= bit.host
		}
	}
	if hostFlags != 0 {
		return 0, false
	}
	return flags, true
}

// HostFlags translates wire flags back to platform open(2) flags.
// Only valid flag values (per Valid) translate meaningfully.
func (f OpenFlags) HostFlags() int {
	var hostFlags int
	switch f & openAccessMask {
	case OpenWriteOnly:
		hostFlags = unix.O_WRONLY
	case OpenReadWrite:
		hostFlags = unix.O_RDWR
	default:
		hostFlags = unix.O_RDONLY
	}
	for _, bit := range openFlagBits {
		if f&bit.wire != 0 {
			hostFlags |= bit.host
		}
	}
	return hostFlags
}

// Valid reports whether f uses only defined bits and a defined access
// mode. Requests carrying invalid flags are malformed.
func (f OpenFlags) Valid() bool {
	return f&^openKnownMask == 0 && f&openAccessMask != 3
}

// WriteIntent reports whether f implies any write access to the file:
// a writable access mode, creation, truncation, or append.
func (f OpenFlags) WriteIntent() bool {
	if mode := f & openAccessMask; mode == OpenWriteOnly || mode == OpenReadWrite {
		return true
	}
	return f&(OpenCreate|OpenTruncate|OpenAppend) != 0
}

// AccessMode is the protocol's encoding of access(2) mode bits.
// AccessExists (F_OK) is the zero value; the others are independent
// permission bits.
type AccessMode uint32

const (
	AccessExists  AccessMode = 0
	AccessExecute AccessMode = 1 << 0
	AccessWrite   AccessMode = 1 << 1
	AccessRead    AccessMode = 1 << 2

	accessKnownMask = AccessExecute | AccessWrite | AccessRead
)

// AccessModeFromHost translates a platform access(2) mode to the wire
// layout. Returns ok=false for undefined bits.
func AccessModeFromHost(hostMode int) (AccessMode, bool) {
	var mode AccessMode
	if hostMode&unix.X_OK != 0 {
		mode |= AccessExecute
		hostMode &^= unix.X_OK
	}
	if hostMode&unix.W_OK != 0 {
		mode |= AccessWrite
		hostMode &^= unix.W_OK
	}
	if hostMode&unix.R_OK != 0 {
		mode |= AccessRead
		hostMode &^= unix.R_OK
	}
	if hostMode != 0 {
		return 0, false
	}
	return mode, true
}

// HostMode translates wire access mode bits back to platform values.
func (m AccessMode) HostMode() int {
	var hostMode int
	if m&AccessExecute != 0 {
		hostMode |= unix.X_OK
	}
	if m&AccessWrite != 0 {
		hostMode |= unix.W_OK
	}
	if m&AccessRead != 0 {
		hostMode |= unix.R_OK
	}
	return hostMode
}

// Valid reports whether m uses only defined bits.
func (m AccessMode) Valid() bool {
	return m&^accessKnownMask == 0
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// Command identifies a brokered filesystem operation. The numeric
// values are part of the wire format and must never be reordered.
type Command uint32

const (
	CmdInvalid Command = iota
	CmdAccess
	CmdOpen
	CmdReadlink
	CmdRename
	CmdStat
	CmdStat64

	// CmdMax is the highest valid command. Update when adding commands.
	CmdMax = CmdStat64
)

// Valid reports whether c is a dispatchable command. CmdInvalid is a
// reserved zero value, not a command.
func (c Command) Valid() bool {
	return c >= CmdAccess && c <= CmdMax
}

// String returns the command name for logging. Safe on arbitrary
// values decoded from the wire.
func (c Command) String() string {
	switch c {
	case CmdInvalid:
		return "invalid"
	case CmdAccess:
		return "access"
	case CmdOpen:
		return "open"
	case CmdReadlink:
		return "readlink"
	case CmdRename:
		return "rename"
	case CmdStat:
		return "stat"
	case CmdStat64:
		return "stat64"
	}
	return "unknown"
}

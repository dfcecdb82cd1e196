// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/fsbroker/wire"
)

// Decision is the outcome of one authorization check. Errno zero means
// approved; on approval Path (and NewPath for rename) carry the
// sanitized strings the broker must pass to the syscall. The broker
// acts only on these, never on its own copy of the request, so the
// string that was checked is the string that is used.
type Decision struct {
	// Errno is zero on approval, or the errno to answer with:
	// ENOSYS for a disabled command, EPERM for a policy denial.
	Errno unix.Errno

	// Path is the authoritative path for the syscall.
	Path string

	// NewPath is the authoritative rename target.
	NewPath string

	// UnlinkAfterOpen instructs the broker to unlink Path immediately
	// after a successful open. Set by CheckOpen when a tempfile rule
	// matched; the request itself has no way to ask for it.
	UnlinkAfterOpen bool
}

// Approved reports whether the command may proceed.
func (d Decision) Approved() bool {
	return d.Errno == 0
}

func deny(errno unix.Errno) Decision {
	return Decision{Errno: errno}
}

// CheckAccess decides an access(2) request. F_OK (no mode bits) needs
// any matching rule; read and execute checks need any class; a write
// check needs ReadWrite.
func (p *Policy) CheckAccess(path string, mode wire.AccessMode) Decision {
	if !p.CommandEnabled(wire.CmdAccess) {
		return deny(unix.ENOSYS)
	}
	rule := p.findRule(path)
	if rule == nil {
		return deny(unix.EPERM)
	}
	if mode&wire.AccessWrite != 0 && rule.Access != ReadWrite {
		return deny(unix.EPERM)
	}
	return Decision{Path: path}
}

// CheckOpen decides an open(2) request. The flags here are wire flags:
// close-on-exec was stripped before encoding and has no wire bit, so
// it can never influence this decision. Any write intent needs a
// ReadWrite rule. A tempfile rule additionally requires exclusive
// creation and makes the broker unlink the path after opening.
func (p *Policy) CheckOpen(path string, flags wire.OpenFlags) Decision {
	if !p.CommandEnabled(wire.CmdOpen) {
		return deny(unix.ENOSYS)
	}
	rule := p.findRule(path)
	if rule == nil {
		return deny(unix.EPERM)
	}
	if flags.WriteIntent() && rule.Access != ReadWrite {
		return deny(unix.EPERM)
	}
	if rule.Tempfile {
		if flags&(wire.OpenCreate|wire.OpenExclusive) != wire.OpenCreate|wire.OpenExclusive {
			return deny(unix.EPERM)
		}
		return Decision{Path: path, UnlinkAfterOpen: true}
	}
	return Decision{Path: path}
}

// CheckReadlink decides a readlink(2) request. Any matching rule
// suffices; reading a link target is read access.
func (p *Policy) CheckReadlink(path string) Decision {
	if !p.CommandEnabled(wire.CmdReadlink) {
		return deny(unix.ENOSYS)
	}
	if p.findRule(path) == nil {
		return deny(unix.EPERM)
	}
	return Decision{Path: path}
}

// CheckRename decides a rename(2) request. Both paths must
// independently match a ReadWrite rule. Either failure yields the same
// EPERM: the reply must not tell a compromised caller which side of
// the rename the policy covers.
func (p *Policy) CheckRename(oldPath, newPath string) Decision {
	if !p.CommandEnabled(wire.CmdRename) {
		return deny(unix.ENOSYS)
	}
	oldRule := p.findRule(oldPath)
	newRule := p.findRule(newPath)
	if oldRule == nil || oldRule.Access != ReadWrite {
		return deny(unix.EPERM)
	}
	if newRule == nil || newRule.Access != ReadWrite {
		return deny(unix.EPERM)
	}
	return Decision{Path: oldPath, NewPath: newPath}
}

// CheckStat decides a stat(2) or stat64(2) request; command selects
// which enabled bit applies. Any matching rule suffices.
func (p *Policy) CheckStat(command wire.Command, path string) Decision {
	if command != wire.CmdStat && command != wire.CmdStat64 {
		return deny(unix.ENOSYS)
	}
	if !p.CommandEnabled(command) {
		return deny(unix.ENOSYS)
	}
	if p.findRule(path) == nil {
		return deny(unix.EPERM)
	}
	return Decision{Path: path}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/fsbroker/policy"
	"github.com/bureau-foundation/fsbroker/wire"
)

// maxTargetLength bounds a readlink result so the encoded reply always
// fits in a message. The margin covers the fixed reply header and the
// string length prefix.
const maxTargetLength = wire.MaxMessage - 64

// createMode is the permission bits for broker-created files. The
// sandboxed process has no say in creation mode; files it asks the
// broker to create are private to the broker's uid.
const createMode = 0600

// perform executes the syscall an approved decision implies, using
// only the decision's sanitized arguments. The syscall's own errno
// passes through to the reply verbatim.
func (b *Broker) perform(request *wire.Request, decision policy.Decision) (*wire.Reply, int) {
	switch request.Command {
	case wire.CmdAccess:
		return errnoReply(unix.Access(decision.Path, uint32(request.Mode.HostMode()))), -1

	case wire.CmdOpen:
		return b.performOpen(request.Flags, decision)

	case wire.CmdReadlink:
		return b.performReadlink(decision.Path), -1

	case wire.CmdRename:
		return errnoReply(unix.Rename(decision.Path, decision.NewPath)), -1

	case wire.CmdStat, wire.CmdStat64:
		return performStat(decision.Path), -1
	}
	// Unreachable: validate already rejected anything else.
	return &wire.Reply{Result: -1, Errno: int32(unix.ENOSYS)}, -1
}

// performOpen opens the sanitized path and hands the descriptor to the
// transfer. O_CLOEXEC is added locally so the descriptor never leaks
// into anything else the broker process spawns; it is not part of the
// wire flags and the client applies its own cloexec choice on arrival.
func (b *Broker) performOpen(flags wire.OpenFlags, decision policy.Decision) (*wire.Reply, int) {
	fd, err := unix.Open(decision.Path, flags.HostFlags()|unix.O_CLOEXEC, createMode)
	if err != nil {
		return errnoReply(err), -1
	}

	if decision.UnlinkAfterOpen {
		// Tempfile convention: the name disappears right after the
		// open, leaving the peer a descriptor to an anonymous file.
		if err := unix.Unlink(decision.Path); err != nil {
			b.logger.Warn("tempfile unlink failed",
				"path", decision.Path,
				"error", err,
			)
		}
	}

	return &wire.Reply{Result: 0, HasFD: true}, fd
}

func (b *Broker) performReadlink(path string) *wire.Reply {
	buf := make([]byte, maxTargetLength)
	n, err := unix.Readlink(path, buf)
	if err != nil {
		return errnoReply(err)
	}
	if n >= len(buf) {
		// Possibly truncated; never return a silently shortened target.
		return &wire.Reply{Result: -1, Errno: int32(unix.ENAMETOOLONG)}
	}
	return &wire.Reply{Result: int32(n), Target: string(buf[:n])}
}

func performStat(path string) *wire.Reply {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return errnoReply(err)
	}
	return &wire.Reply{Result: 0, Stat: statFromHost(&st)}
}

// statFromHost converts the platform stat buffer to the wire's
// explicit field layout.
func statFromHost(st *unix.Stat_t) *wire.Stat {
	return &wire.Stat{
		Dev:     uint64(st.Dev),
		Ino:     uint64(st.Ino),
		Nlink:   uint64(st.Nlink),
		Mode:    uint32(st.Mode),
		UID:     st.Uid,
		GID:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Size:    st.Size,
		Blksize: int64(st.Blksize),
		Blocks:  st.Blocks,
		Atime:   wire.Timespec{Sec: st.Atim.Sec, Nsec: st.Atim.Nsec},
		Mtime:   wire.Timespec{Sec: st.Mtim.Sec, Nsec: st.Mtim.Nsec},
		Ctime:   wire.Timespec{Sec: st.Ctim.Sec, Nsec: st.Ctim.Nsec},
	}
}

// errnoReply builds a success or plain-errno reply from a syscall
// result.
func errnoReply(err error) *wire.Reply {
	if err == nil {
		return &wire.Reply{Result: 0}
	}
	if errno, ok := err.(unix.Errno); ok {
		return &wire.Reply{Result: -1, Errno: int32(errno)}
	}
	return &wire.Reply{Result: -1, Errno: int32(unix.EIO)}
}

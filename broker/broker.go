// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/fsbroker/lib/fdchan"
	"github.com/bureau-foundation/fsbroker/policy"
	"github.com/bureau-foundation/fsbroker/wire"
)

// Broker answers brokered filesystem requests against one immutable
// policy. A single Broker serves any number of channels concurrently;
// it holds no mutable state beyond counters.
type Broker struct {
	policy *policy.Policy
	logger *slog.Logger
	stats  Stats
}

// New creates a broker for the given policy. A nil logger means
// slog.Default().
func New(pol *policy.Policy, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{policy: pol, logger: logger}
}

// Policy returns the broker's policy.
func (b *Broker) Policy() *policy.Policy {
	return b.policy
}

// ServeChannel serves requests on one channel until the peer closes
// its end (returns nil) or the channel fails (returns the error).
// Other channels are unaffected either way. The channel is closed on
// return.
func (b *Broker) ServeChannel(channel *fdchan.Channel) error {
	defer channel.Close()

	// One byte past the cap: the kernel truncates an oversized
	// datagram into this buffer, and a full read of MaxMessage+1
	// bytes is exactly how an over-length request is detected.
	buf := make([]byte, wire.MaxMessage+1)

	for {
		n, fd, err := channel.Recv(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.logger.Debug("broker channel closed by peer")
				return nil
			}
			return fmt.Errorf("broker channel receive: %w", err)
		}
		// Requests never carry descriptors; one sent anyway is closed
		// before anything else happens.
		if fd >= 0 {
			unix.Close(fd)
		}

		reply, sendFD := b.handle(buf[:n])

		data, err := wire.EncodeReply(reply)
		if err != nil {
			// Only an over-long readlink target can get here; answer
			// the way the kernel would for an unrepresentable result.
			data, _ = wire.EncodeReply(&wire.Reply{Result: -1, Errno: int32(unix.ENAMETOOLONG)})
			if sendFD >= 0 {
				unix.Close(sendFD)
				sendFD = -1
			}
		}

		sendErr := channel.Send(data, sendFD)
		// The descriptor was duplicated into the message (or the send
		// failed); either way the broker's copy must die here so a
		// failed transfer can't leave a second live descriptor.
		if sendFD >= 0 {
			unix.Close(sendFD)
		}
		if sendErr != nil {
			return fmt.Errorf("broker channel send: %w", sendErr)
		}
	}
}

// handle decodes, validates, and (only on approval) performs one
// request. Returns the reply and the descriptor to attach, or -1.
func (b *Broker) handle(data []byte) (*wire.Reply, int) {
	request, err := wire.DecodeRequest(data)
	if err != nil {
		b.stats.malformed.Add(1)
		b.logger.Debug("malformed broker request", "error", err)
		errno := unix.EINVAL
		if errors.Is(err, wire.ErrOversize) {
			errno = unix.EFAULT
		}
		return &wire.Reply{Result: -1, Errno: int32(errno)}, -1
	}

	decision := b.validate(request)
	if !decision.Approved() {
		b.stats.record(request.Command, false)
		b.logger.Debug("broker request denied",
			"command", request.Command.String(),
			"errno", int(decision.Errno),
		)
		return &wire.Reply{Result: -1, Errno: int32(decision.Errno)}, -1
	}

	b.stats.record(request.Command, true)
	return b.perform(request, decision)
}

// validate dispatches to the command's decision function. The
// sanitized paths in the returned Decision are the only strings
// perform is allowed to use.
func (b *Broker) validate(request *wire.Request) policy.Decision {
	switch request.Command {
	case wire.CmdAccess:
		return b.policy.CheckAccess(request.Path, request.Mode)
	case wire.CmdOpen:
		return b.policy.CheckOpen(request.Path, request.Flags)
	case wire.CmdReadlink:
		return b.policy.CheckReadlink(request.Path)
	case wire.CmdRename:
		return b.policy.CheckRename(request.Path, request.NewPath)
	case wire.CmdStat, wire.CmdStat64:
		return b.policy.CheckStat(request.Command, request.Path)
	}
	// Unreachable: DecodeRequest rejects invalid commands.
	return policy.Decision{Errno: unix.ENOSYS}
}

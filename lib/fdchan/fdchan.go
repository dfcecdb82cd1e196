// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fdchan provides the broker's transport: a local datagram
// channel that preserves message boundaries and can move file
// descriptor ownership across a process boundary.
//
// The concrete primitive is an AF_UNIX SOCK_SEQPACKET socketpair.
// Sequenced packets keep one request or reply per message with no
// framing layer, and SCM_RIGHTS ancillary data carries descriptors.
// A Channel wraps a raw descriptor rather than a *net.UnixConn so one
// end can be handed to a child process by fd number and picked up
// with FromFD on the other side of an exec.
//
// Descriptor transfer is a move. Send duplicates the descriptor into
// the message at sendmsg time, so the sender must still close its
// copy; Recv returns sole ownership of the arrived descriptor to the
// caller, already close-on-exec (MSG_CMSG_CLOEXEC). If a message
// unexpectedly carries more descriptors than the protocol allows, the
// extras are closed on the spot, never leaked.
package fdchan

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Channel is one end of a message channel. It is not safe for
// concurrent use by itself; the broker protocol's one-request-in-
// flight rule means callers serialize access anyway.
type Channel struct {
	fd     int
	closed bool
}

// Pair creates a connected channel pair. Both descriptors are
// close-on-exec; a parent handing one end to a child process does so
// explicitly (via ExtraFiles or equivalent), never by accident.
func Pair() (*Channel, *Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("fdchan: socketpair: %w", err)
	}
	return &Channel{fd: fds[0]}, &Channel{fd: fds[1]}, nil
}

// FromFD wraps an inherited channel descriptor, typically one passed
// to a child process at a known fd number. The Channel takes ownership.
func FromFD(fd int) *Channel {
	return &Channel{fd: fd}
}

// FD returns the underlying descriptor number, for handing this end
// to a child process. The Channel retains ownership.
func (c *Channel) FD() int {
	return c.fd
}

// Send writes one message, attaching the descriptor as SCM_RIGHTS
// ancillary data when fd >= 0. The kernel duplicates the descriptor
// into the message; the caller still owns (and must close) its copy.
func (c *Channel) Send(payload []byte, fd int) error {
	if c.closed {
		return fmt.Errorf("fdchan: send on closed channel")
	}

	var oob []byte
	if fd >= 0 {
		oob = unix.UnixRights(fd)
	}
	for {
		// MSG_NOSIGNAL: a dead peer is an error return, not a signal.
		err := unix.Sendmsg(c.fd, payload, oob, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("fdchan: sendmsg: %w", err)
		}
		return nil
	}
}

// Recv reads one message into buf, returning the payload length and
// the received descriptor (-1 if none). The descriptor arrives with
// close-on-exec already set. A message larger than buf is truncated
// by the kernel; callers size buf one byte past the protocol maximum
// so truncation is detectable as an over-length message.
//
// Returns io.EOF when the peer has closed its end. The protocol never
// sends empty messages, so a zero-length read is unambiguous.
func (c *Channel) Recv(buf []byte) (int, int, error) {
	if c.closed {
		return 0, -1, fmt.Errorf("fdchan: recv on closed channel")
	}

	oob := make([]byte, unix.CmsgSpace(4))
	for {
		n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, unix.MSG_CMSG_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, -1, fmt.Errorf("fdchan: recvmsg: %w", err)
		}

		if n == 0 && oobn == 0 {
			return 0, -1, io.EOF
		}
		fd, perr := parseRights(oob[:oobn])
		if perr != nil {
			return 0, -1, perr
		}
		return n, fd, nil
	}
}

// parseRights extracts at most one descriptor from ancillary data.
// Extra descriptors are closed immediately: a peer must not be able to
// stuff the receiver's descriptor table.
func parseRights(oob []byte) (int, error) {
	if len(oob) == 0 {
		return -1, nil
	}
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1, fmt.Errorf("fdchan: parsing control message: %w", err)
	}

	received := -1
	for _, message := range messages {
		fds, err := unix.ParseUnixRights(&message)
		if err != nil {
			// Not SCM_RIGHTS; nothing to own, nothing to leak.
			continue
		}
		for _, fd := range fds {
			if received < 0 {
				received = fd
			} else {
				unix.Close(fd)
			}
		}
	}
	return received, nil
}

// Close closes this end of the channel. The peer's next Recv returns
// io.EOF. Safe to call twice.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("fdchan: close: %w", err)
	}
	return nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the sandboxed process's end of the broker
// channel. It exposes functions shaped like the filesystem calls they
// replace — Access, Open, Readlink, Rename, Stat — so call sites keep
// their conventional result-and-errno error handling: a policy or
// syscall failure surfaces as the matching unix.Errno, exactly as the
// direct call would have failed.
//
// A broken channel is different. The broker is a trusted, always-
// resident local peer; if it goes away, no further mediated
// filesystem access is possible and every call fails with an error
// wrapping ErrChannelClosed. Callers must treat that as fatal, not
// retry it.
package client

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/fsbroker/lib/fdchan"
	"github.com/bureau-foundation/fsbroker/wire"
)

// ChannelFDEnv names the environment variable through which a
// launching parent tells the sandboxed process which inherited
// descriptor is the broker channel.
const ChannelFDEnv = "FSBROKER_CHANNEL_FD"

// ErrChannelClosed is wrapped by every failure caused by the channel
// itself — broker exit, transport error, or an unparseable reply —
// rather than by the request. Unrecoverable for all further calls.
var ErrChannelClosed = errors.New("client: broker channel failed")

// Client issues brokered filesystem calls over one channel. The
// protocol has no multiplexing, so the mutex keeps one logical
// request in flight at a time; the send-then-block round trip is the
// only blocking point in the sandboxed process.
type Client struct {
	mu      sync.Mutex
	channel *fdchan.Channel
}

// New wraps a channel end. The client takes ownership.
func New(channel *fdchan.Channel) *Client {
	return &Client{channel: channel}
}

// FromEnv builds a client from the inherited channel descriptor named
// by FSBROKER_CHANNEL_FD.
func FromEnv() (*Client, error) {
	value := os.Getenv(ChannelFDEnv)
	if value == "" {
		return nil, fmt.Errorf("client: %s is not set", ChannelFDEnv)
	}
	fd, err := strconv.Atoi(value)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("client: invalid %s value %q", ChannelFDEnv, value)
	}
	return New(fdchan.FromFD(fd)), nil
}

// Close closes the channel. All subsequent calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel.Close()
}

// roundTrip sends one request and blocks for its reply. Any transport
// or decode failure is a channel failure.
func (c *Client) roundTrip(request *wire.Request) (*wire.Reply, int, error) {
	data, err := wire.EncodeRequest(request)
	if err != nil {
		// A request this package built that cannot encode is a caller
		// argument problem (an over-long path), not a channel problem.
		return nil, -1, unix.EINVAL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.channel.Send(data, -1); err != nil {
		return nil, -1, fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}

	buf := make([]byte, wire.MaxMessage+1)
	n, fd, err := c.channel.Recv(buf)
	if err != nil {
		return nil, -1, fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}

	reply, err := wire.DecodeReply(buf[:n])
	if err != nil {
		if fd >= 0 {
			unix.Close(fd)
		}
		return nil, -1, fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	if reply.HasFD != (fd >= 0) {
		// Reply and ancillary data disagree; nothing about this
		// channel can be trusted anymore.
		if fd >= 0 {
			unix.Close(fd)
		}
		return nil, -1, fmt.Errorf("%w: descriptor transfer mismatch", ErrChannelClosed)
	}
	return reply, fd, nil
}

// replyError converts a failed reply into its errno.
func replyError(reply *wire.Reply) error {
	if reply.Result >= 0 {
		return nil
	}
	if reply.Errno > 0 {
		return unix.Errno(reply.Errno)
	}
	return unix.EIO
}

// Access checks path accessibility through the broker, with access(2)
// semantics and mode bits (F_OK, R_OK, W_OK, X_OK).
func (c *Client) Access(path string, mode int) error {
	wireMode, ok := wire.AccessModeFromHost(mode)
	if !ok {
		return unix.EINVAL
	}
	reply, _, err := c.roundTrip(&wire.Request{
		Command: wire.CmdAccess,
		Path:    path,
		Mode:    wireMode,
	})
	if err != nil {
		return err
	}
	return replyError(reply)
}

// Open opens path through the broker with open(2) semantics and
// returns the transferred descriptor.
//
// O_CLOEXEC is handled entirely on this side: it's stripped before
// encoding (the wire layout cannot express it), the descriptor always
// arrives close-on-exec via MSG_CMSG_CLOEXEC so no window exists in
// which another thread's execve could leak it, and the flag is then
// cleared if the caller didn't ask for it.
func (c *Client) Open(path string, flags int) (int, error) {
	wantCloexec := flags&unix.O_CLOEXEC != 0
	wireFlags, ok := wire.OpenFlagsFromHost(flags)
	if !ok {
		return -1, unix.EINVAL
	}

	reply, fd, err := c.roundTrip(&wire.Request{
		Command: wire.CmdOpen,
		Path:    path,
		Flags:   wireFlags,
	})
	if err != nil {
		return -1, err
	}
	if replyErr := replyError(reply); replyErr != nil {
		return -1, replyErr
	}
	if fd < 0 {
		return -1, fmt.Errorf("%w: open succeeded without a descriptor", ErrChannelClosed)
	}

	if !wantCloexec {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	return fd, nil
}

// Readlink reads a symlink target through the broker.
func (c *Client) Readlink(path string) (string, error) {
	reply, _, err := c.roundTrip(&wire.Request{
		Command: wire.CmdReadlink,
		Path:    path,
	})
	if err != nil {
		return "", err
	}
	if replyErr := replyError(reply); replyErr != nil {
		return "", replyErr
	}
	return reply.Target, nil
}

// Rename renames oldPath to newPath through the broker.
func (c *Client) Rename(oldPath, newPath string) error {
	reply, _, err := c.roundTrip(&wire.Request{
		Command: wire.CmdRename,
		Path:    oldPath,
		NewPath: newPath,
	})
	if err != nil {
		return err
	}
	return replyError(reply)
}

// Stat stats path through the broker, filling st.
func (c *Client) Stat(path string, st *unix.Stat_t) error {
	return c.stat(wire.CmdStat, path, st)
}

// Stat64 is Stat under the wire's distinct stat64 command id. On
// 64-bit platforms the results are identical; the command is kept
// separate because the policy enables them independently.
func (c *Client) Stat64(path string, st *unix.Stat_t) error {
	return c.stat(wire.CmdStat64, path, st)
}

func (c *Client) stat(command wire.Command, path string, st *unix.Stat_t) error {
	reply, _, err := c.roundTrip(&wire.Request{
		Command: command,
		Path:    path,
	})
	if err != nil {
		return err
	}
	if replyErr := replyError(reply); replyErr != nil {
		return replyErr
	}
	if reply.Stat == nil {
		return fmt.Errorf("%w: stat succeeded without a payload", ErrChannelClosed)
	}
	statToHost(reply.Stat, st)
	return nil
}

// statToHost fills a platform stat buffer from the wire layout.
func statToHost(ws *wire.Stat, st *unix.Stat_t) {
	*st = unix.Stat_t{}
	st.Dev = uint64(ws.Dev)
	st.Ino = ws.Ino
	st.Nlink = uint64(ws.Nlink)
	st.Mode = ws.Mode
	st.Uid = ws.UID
	st.Gid = ws.GID
	st.Rdev = uint64(ws.Rdev)
	st.Size = ws.Size
	st.Blksize = int64(ws.Blksize)
	st.Blocks = ws.Blocks
	st.Atim = unix.Timespec{Sec: ws.Atime.Sec, Nsec: ws.Atime.Nsec}
	st.Mtim = unix.Timespec{Sec: ws.Mtime.Sec, Nsec: ws.Mtime.Nsec}
	st.Ctim = unix.Timespec{Sec: ws.Ctime.Sec, Nsec: ws.Ctime.Nsec}
}

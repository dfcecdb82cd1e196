// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// MaxMessage is the maximum encoded size of a request or reply,
// in bytes. Anything larger is rejected before interpretation.
const MaxMessage = 4096

// ErrMalformed is wrapped by every decode failure caused by message
// content: truncation, trailing bytes, unknown commands, undefined
// flag bits, or an invalid path. The broker answers these with EINVAL
// and never touches the filesystem.
var ErrMalformed = errors.New("wire: malformed message")

// ErrOversize is returned when a message exceeds MaxMessage. The
// broker answers these with EFAULT, matching the kernel's verdict on
// an argument too large to copy.
var ErrOversize = errors.New("wire: message exceeds maximum size")

// Request is one brokered syscall request. Which fields are meaningful
// depends on Command: every command carries Path; Rename adds NewPath;
// Access adds Mode; Open adds Flags.
type Request struct {
	Command Command
	Path    string
	NewPath string
	Mode    AccessMode
	Flags   OpenFlags
}

// Reply payload kinds.
const (
	payloadNone   = 0
	payloadTarget = 1
	payloadStat   = 2
)

// Reply is the broker's answer to one request. Result is >= 0 on
// success and -1 on failure, with Errno holding the denial or syscall
// errno. Target is set for a successful readlink, Stat for a
// successful stat. HasFD records whether a descriptor rides along as
// ancillary data (open success only).
type Reply struct {
	Result int32
	Errno  int32
	Target string
	Stat   *Stat
	HasFD  bool
}

// validPath reports whether a decoded path string is usable as a
// syscall argument. Empty paths and embedded NULs are rejected here so
// no validator or syscall ever sees them; relative paths are left for
// policy, which cannot match them against absolute rules anyway.
func validPath(path string) bool {
	return path != "" && !strings.ContainsRune(path, 0)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// EncodeRequest serializes r. Fails with ErrOversize if the encoded
// form would exceed MaxMessage, and with ErrMalformed for requests
// that could never decode (invalid command, flags, or paths), so a
// bug on the client side surfaces before anything hits the channel.
func EncodeRequest(r *Request) ([]byte, error) {
	if !r.Command.Valid() {
		return nil, fmt.Errorf("encoding command %d: %w", uint32(r.Command), ErrMalformed)
	}
	if !validPath(r.Path) {
		return nil, fmt.Errorf("encoding %s path: %w", r.Command, ErrMalformed)
	}

	buf := make([]byte, 0, 64+len(r.Path)+len(r.NewPath))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Command))
	buf = appendString(buf, r.Path)

	switch r.Command {
	case CmdAccess:
		if !r.Mode.Valid() {
			return nil, fmt.Errorf("encoding access mode: %w", ErrMalformed)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Mode))
	case CmdOpen:
		if !r.Flags.Valid() {
			return nil, fmt.Errorf("encoding open flags: %w", ErrMalformed)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Flags))
	case CmdRename:
		if !validPath(r.NewPath) {
			return nil, fmt.Errorf("encoding rename target path: %w", ErrMalformed)
		}
		buf = appendString(buf, r.NewPath)
	}

	if len(buf) > MaxMessage {
		return nil, fmt.Errorf("request is %d bytes: %w", len(buf), ErrOversize)
	}
	return buf, nil
}

// DecodeRequest parses an untrusted request buffer. Every failure mode
// maps to ErrOversize or ErrMalformed; no input panics or reads out of
// bounds.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) > MaxMessage {
		return nil, fmt.Errorf("request is %d bytes: %w", len(data), ErrOversize)
	}

	d := decoder{data: data}
	request := &Request{Command: Command(d.uint32())}
	if !request.Command.Valid() {
		return nil, fmt.Errorf("command %d: %w", uint32(request.Command), ErrMalformed)
	}
	request.Path = d.string()

	switch request.Command {
	case CmdAccess:
		request.Mode = AccessMode(d.uint32())
		if !request.Mode.Valid() {
			return nil, fmt.Errorf("access mode %#x: %w", uint32(request.Mode), ErrMalformed)
		}
	case CmdOpen:
		request.Flags = OpenFlags(d.uint32())
		if !request.Flags.Valid() {
			return nil, fmt.Errorf("open flags %#x: %w", uint32(request.Flags), ErrMalformed)
		}
	case CmdRename:
		request.NewPath = d.string()
		if !d.failed && !validPath(request.NewPath) {
			return nil, fmt.Errorf("rename target path: %w", ErrMalformed)
		}
	}

	if err := d.finish(); err != nil {
		return nil, err
	}
	if !validPath(request.Path) {
		return nil, fmt.Errorf("%s path: %w", request.Command, ErrMalformed)
	}
	return request, nil
}

// EncodeReply serializes r. A reply that cannot fit in MaxMessage
// (an over-long readlink target) fails with ErrOversize; the broker
// converts that into an errno reply instead.
func EncodeReply(r *Reply) ([]byte, error) {
	buf := make([]byte, 0, 64+len(r.Target))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Result))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Errno))

	switch {
	case r.Target != "":
		buf = append(buf, payloadTarget)
		buf = appendString(buf, r.Target)
	case r.Stat != nil:
		buf = append(buf, payloadStat)
		buf = r.Stat.append(buf)
	default:
		buf = append(buf, payloadNone)
	}

	if r.HasFD {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	if len(buf) > MaxMessage {
		return nil, fmt.Errorf("reply is %d bytes: %w", len(buf), ErrOversize)
	}
	return buf, nil
}

// DecodeReply parses a reply buffer. The client treats any failure as
// a broken channel: the broker is trusted, so a malformed reply means
// the transport or the peer process is gone wrong, not that the
// request was bad.
func DecodeReply(data []byte) (*Reply, error) {
	if len(data) > MaxMessage {
		return nil, fmt.Errorf("reply is %d bytes: %w", len(data), ErrOversize)
	}

	d := decoder{data: data}
	reply := &Reply{
		Result: int32(d.uint32()),
		Errno:  int32(d.uint32()),
	}

	switch kind := d.byte(); kind {
	case payloadNone:
	case payloadTarget:
		reply.Target = d.string()
	case payloadStat:
		reply.Stat = d.stat()
	default:
		if !d.failed {
			return nil, fmt.Errorf("payload kind %d: %w", kind, ErrMalformed)
		}
	}

	switch fd := d.byte(); fd {
	case 0:
	case 1:
		reply.HasFD = true
	default:
		if !d.failed {
			return nil, fmt.Errorf("fd flag %d: %w", fd, ErrMalformed)
		}
	}

	if err := d.finish(); err != nil {
		return nil, err
	}
	return reply, nil
}

// decoder reads fixed-layout fields from a buffer, latching the first
// failure. Reads after a failure return zero values, so callers can
// parse a whole message and check failed once at the end.
type decoder struct {
	data   []byte
	offset int
	failed bool
}

func (d *decoder) take(n int) []byte {
	if d.failed || n < 0 || len(d.data)-d.offset < n {
		d.failed = true
		return nil
	}
	b := d.data[d.offset : d.offset+n]
	d.offset += n
	return b
}

func (d *decoder) byte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) string() string {
	length := d.uint32()
	// The length prefix cannot exceed the message cap; checking here
	// keeps take() from being asked for a huge allocation-sized slice.
	if length > MaxMessage {
		d.failed = true
		return ""
	}
	b := d.take(int(length))
	if b == nil {
		return ""
	}
	return string(b)
}

// finish verifies the buffer was consumed exactly: short reads and
// trailing garbage are both malformed.
func (d *decoder) finish() error {
	if d.failed {
		return fmt.Errorf("truncated message: %w", ErrMalformed)
	}
	if d.offset != len(d.data) {
		return fmt.Errorf("%d trailing bytes: %w", len(d.data)-d.offset, ErrMalformed)
	}
	return nil
}

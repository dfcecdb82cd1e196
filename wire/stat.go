// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "encoding/binary"

// Stat is the reply payload for stat commands. It is an explicit field
// list rather than raw platform struct bytes: struct stat layout
// differs between architectures and libc versions, and the broker and
// sandboxed process are not guaranteed to agree on it.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Nlink   uint64
	Mode    uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   Timespec
	Mtime   Timespec
	Ctime   Timespec
}

// Timespec is a second/nanosecond timestamp pair.
type Timespec struct {
	Sec  int64
	Nsec int64
}

func (s *Stat) append(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, s.Dev)
	buf = binary.LittleEndian.AppendUint64(buf, s.Ino)
	buf = binary.LittleEndian.AppendUint64(buf, s.Nlink)
	buf = binary.LittleEndian.AppendUint32(buf, s.Mode)
	buf = binary.LittleEndian.AppendUint32(buf, s.UID)
	buf = binary.LittleEndian.AppendUint32(buf, s.GID)
	buf = binary.LittleEndian.AppendUint64(buf, s.Rdev)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.Size))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.Blksize))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.Blocks))
	for _, ts := range []Timespec{s.Atime, s.Mtime, s.Ctime} {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(ts.Sec))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(ts.Nsec))
	}
	return buf
}

func (d *decoder) stat() *Stat {
	s := &Stat{
		Dev:   d.uint64(),
		Ino:   d.uint64(),
		Nlink: d.uint64(),
		Mode:  d.uint32(),
		UID:   d.uint32(),
		GID:   d.uint32(),
		Rdev:  d.uint64(),
	}
	s.Size = int64(d.uint64())
	s.Blksize = int64(d.uint64())
	s.Blocks = int64(d.uint64())
	for _, ts := range []*Timespec{&s.Atime, &s.Mtime, &s.Ctime} {
		ts.Sec = int64(d.uint64())
		ts.Nsec = int64(d.uint64())
	}
	if d.failed {
		return nil
	}
	return s
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fdchan

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestPairMessageBoundaries(t *testing.T) {
	left, right, err := Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer left.Close()
	defer right.Close()

	// Two sends must arrive as two distinct messages, not a byte
	// stream.
	if err := left.Send([]byte("first"), -1); err != nil {
		t.Fatal(err)
	}
	if err := left.Send([]byte("second message"), -1); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	n, fd, err := right.Recv(buf)
	if err != nil {
		t.Fatal(err)
	}
	if fd != -1 {
		t.Errorf("unexpected descriptor %d on plain message", fd)
	}
	if string(buf[:n]) != "first" {
		t.Errorf("first message = %q", buf[:n])
	}

	n, _, err = right.Recv(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "second message" {
		t.Errorf("second message = %q", buf[:n])
	}
}

func TestDescriptorTransfer(t *testing.T) {
	left, right, err := Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer left.Close()
	defer right.Close()

	path := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(path, []byte("over the wall"), 0o644); err != nil {
		t.Fatal(err)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := left.Send([]byte("take this"), fd); err != nil {
		t.Fatal(err)
	}
	// Transfer is a move: the kernel duplicated the descriptor into
	// the message, so the sender's copy dies now.
	unix.Close(fd)

	buf := make([]byte, 64)
	n, received, err := right.Recv(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "take this" {
		t.Errorf("payload = %q", buf[:n])
	}
	if received < 0 {
		t.Fatal("no descriptor arrived")
	}
	defer unix.Close(received)

	// The received descriptor must be live, independent of the closed
	// original, and close-on-exec.
	content := make([]byte, 32)
	readN, err := unix.Read(received, content)
	if err != nil {
		t.Fatalf("reading transferred descriptor: %v", err)
	}
	if !bytes.Equal(content[:readN], []byte("over the wall")) {
		t.Errorf("transferred descriptor read %q", content[:readN])
	}
	flags, err := unix.FcntlInt(uintptr(received), unix.F_GETFD, 0)
	if err != nil {
		t.Fatal(err)
	}
	if flags&unix.FD_CLOEXEC == 0 {
		t.Error("transferred descriptor is not close-on-exec")
	}
}

func TestRecvAfterPeerClose(t *testing.T) {
	left, right, err := Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer right.Close()

	left.Close()

	buf := make([]byte, 16)
	if _, _, err := right.Recv(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Recv after peer close: got %v, want io.EOF", err)
	}
}

func TestOversizedMessageIsDetectable(t *testing.T) {
	left, right, err := Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer left.Close()
	defer right.Close()

	if err := left.Send(make([]byte, 100), -1); err != nil {
		t.Fatal(err)
	}

	// A receiver sizing its buffer one byte past its protocol cap
	// sees a full read of cap+1 bytes for any over-length message.
	buf := make([]byte, 33)
	n, _, err := right.Recv(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 33 {
		t.Errorf("truncated read = %d bytes, want the full buffer", n)
	}
}

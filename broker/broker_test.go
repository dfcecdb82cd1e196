// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/fsbroker/broker"
	"github.com/bureau-foundation/fsbroker/client"
	"github.com/bureau-foundation/fsbroker/lib/fdchan"
	"github.com/bureau-foundation/fsbroker/policy"
	"github.com/bureau-foundation/fsbroker/wire"
)

// startBroker wires a broker over one end of a fresh channel pair and
// returns the other end plus the broker for counter inspection.
func startBroker(t *testing.T, pol *policy.Policy) (*fdchan.Channel, *broker.Broker) {
	t.Helper()

	brokerEnd, clientEnd, err := fdchan.Pair()
	if err != nil {
		t.Fatal(err)
	}

	b := broker.New(pol, nil)
	served := make(chan error, 1)
	go func() {
		served <- b.ServeChannel(brokerEnd)
	}()
	t.Cleanup(func() {
		clientEnd.Close()
		if err := <-served; err != nil {
			t.Errorf("ServeChannel: %v", err)
		}
	})
	return clientEnd, b
}

// startClient is startBroker plus the syscall-shaped stub.
func startClient(t *testing.T, pol *policy.Policy) (*client.Client, *broker.Broker) {
	t.Helper()
	clientEnd, b := startBroker(t, pol)
	return client.New(clientEnd), b
}

func mustPolicy(t *testing.T, commands policy.CommandSet, rules []policy.Rule) *policy.Policy {
	t.Helper()
	pol, err := policy.New(commands, rules)
	if err != nil {
		t.Fatal(err)
	}
	return pol
}

func TestOpenReadThroughBroker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fonts.conf")
	if err := os.WriteFile(path, []byte("<fontconfig/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	cl, _ := startClient(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdOpen),
		[]policy.Rule{{Pattern: dir + "/", Access: policy.ReadOnly}},
	))

	fd, err := cl.Open(path, unix.O_RDONLY)
	if err != nil {
		t.Fatalf("brokered open failed: %v", err)
	}
	defer unix.Close(fd)

	buf := make([]byte, 64)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("reading brokered descriptor: %v", err)
	}
	if string(buf[:n]) != "<fontconfig/>" {
		t.Errorf("read %q through the broker", buf[:n])
	}

	// The caller didn't ask for O_CLOEXEC, so the descriptor must not
	// carry it after the client's local fixup.
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		t.Fatal(err)
	}
	if flags&unix.FD_CLOEXEC != 0 {
		t.Error("descriptor is close-on-exec though the caller didn't ask")
	}
}

func TestOpenCloexecIsLocalToTheClient(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cl, _ := startClient(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdOpen),
		[]policy.Rule{{Pattern: dir + "/", Access: policy.ReadOnly}},
	))

	fd, err := cl.Open(path, unix.O_RDONLY|unix.O_CLOEXEC)
	if err != nil {
		t.Fatalf("brokered open failed: %v", err)
	}
	defer unix.Close(fd)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		t.Fatal(err)
	}
	if flags&unix.FD_CLOEXEC == 0 {
		t.Error("caller asked for close-on-exec and didn't get it")
	}
}

func TestDeniedOpenHasNoSideEffects(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "read-only.txt")
	if err := os.WriteFile(path, []byte("precious"), 0o644); err != nil {
		t.Fatal(err)
	}

	cl, b := startClient(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdOpen),
		[]policy.Rule{{Pattern: dir + "/", Access: policy.ReadOnly}},
	))

	// O_TRUNC through a read-only rule: if the broker ever performed
	// this speculatively the file would be emptied.
	if _, err := cl.Open(path, unix.O_WRONLY|unix.O_TRUNC); !errors.Is(err, unix.EPERM) {
		t.Fatalf("write-open through read-only rule: got %v, want EPERM", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "precious" {
		t.Errorf("denied open mutated the file: %q", content)
	}

	snapshot := b.Stats().Snapshot()
	for _, commandStats := range snapshot.Commands {
		if commandStats.Command == "open" && commandStats.Denied != 1 {
			t.Errorf("open denied counter = %d, want 1", commandStats.Denied)
		}
	}
}

func TestRenameBothSidesEnforced(t *testing.T) {
	rwDir := t.TempDir()
	outside := t.TempDir()
	source := filepath.Join(rwDir, "a")
	if err := os.WriteFile(source, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cl, _ := startClient(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdRename),
		[]policy.Rule{{Pattern: rwDir + "/", Access: policy.ReadWrite}},
	))

	// New path outside policy: denied, and the source must not move.
	if err := cl.Rename(source, filepath.Join(outside, "b")); !errors.Is(err, unix.EPERM) {
		t.Fatalf("rename out of policy: got %v, want EPERM", err)
	}
	if _, err := os.Stat(source); err != nil {
		t.Errorf("denied rename moved the source: %v", err)
	}

	// Fully inside the read-write tree: performed.
	target := filepath.Join(rwDir, "b")
	if err := cl.Rename(source, target); err != nil {
		t.Fatalf("rename inside policy failed: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("approved rename did not happen: %v", err)
	}
}

func TestDisabledCommandOverChannel(t *testing.T) {
	cl, _ := startClient(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdAccess, wire.CmdOpen, wire.CmdStat),
		[]policy.Rule{{Pattern: "/etc/fonts/", Access: policy.ReadOnly}},
	))

	if _, err := cl.Readlink("/etc/fonts/a.conf"); !errors.Is(err, unix.ENOSYS) {
		t.Errorf("disabled readlink: got %v, want ENOSYS", err)
	}
}

func TestStatThroughBroker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stat-me")
	if err := os.WriteFile(path, []byte("1234567"), 0o640); err != nil {
		t.Fatal(err)
	}

	cl, _ := startClient(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdStat, wire.CmdStat64),
		[]policy.Rule{{Pattern: dir + "/", Access: policy.ReadOnly}},
	))

	var direct unix.Stat_t
	if err := unix.Stat(path, &direct); err != nil {
		t.Fatal(err)
	}

	var brokered unix.Stat_t
	if err := cl.Stat(path, &brokered); err != nil {
		t.Fatalf("brokered stat failed: %v", err)
	}
	if brokered.Size != 7 || brokered.Ino != direct.Ino || brokered.Mode != direct.Mode {
		t.Errorf("brokered stat diverges: got ino=%d mode=%o size=%d, want ino=%d mode=%o size=7",
			brokered.Ino, brokered.Mode, brokered.Size, direct.Ino, direct.Mode)
	}

	var brokered64 unix.Stat_t
	if err := cl.Stat64(path, &brokered64); err != nil {
		t.Fatalf("brokered stat64 failed: %v", err)
	}
	if brokered64.Ino != direct.Ino {
		t.Error("stat64 disagrees with stat")
	}

	if err := cl.Stat(filepath.Join(dir, "missing"), &brokered); !errors.Is(err, unix.ENOENT) {
		t.Errorf("stat of a missing covered file: got %v, want ENOENT", err)
	}
	if err := cl.Stat("/etc/shadow", &brokered); !errors.Is(err, unix.EPERM) {
		t.Errorf("stat outside policy: got %v, want EPERM", err)
	}
}

func TestReadlinkThroughBroker(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "link")
	if err := os.Symlink("/the/target", link); err != nil {
		t.Fatal(err)
	}

	cl, _ := startClient(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdReadlink),
		[]policy.Rule{{Pattern: dir + "/", Access: policy.ReadOnly}},
	))

	target, err := cl.Readlink(link)
	if err != nil {
		t.Fatalf("brokered readlink failed: %v", err)
	}
	if target != "/the/target" {
		t.Errorf("readlink = %q", target)
	}
}

func TestTempfileOpenUnlinksTheName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg0")

	cl, _ := startClient(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdOpen),
		[]policy.Rule{{Pattern: dir + "/", Access: policy.ReadWrite, Tempfile: true}},
	))

	fd, err := cl.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL)
	if err != nil {
		t.Fatalf("tempfile open failed: %v", err)
	}
	defer unix.Close(fd)

	// The descriptor works; the name is already gone.
	if _, err := unix.Write(fd, []byte("anonymous")); err != nil {
		t.Fatalf("writing tempfile: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("tempfile name still exists: %v", err)
	}

	// Plain creation without O_EXCL is not how tempfile rules work.
	if _, err := cl.Open(filepath.Join(dir, "seg1"), unix.O_RDWR|unix.O_CREAT); !errors.Is(err, unix.EPERM) {
		t.Errorf("non-exclusive create on tempfile rule: got %v, want EPERM", err)
	}
}

func TestMalformedBytesOverChannel(t *testing.T) {
	clientEnd, b := startBroker(t, mustPolicy(t,
		policy.NewCommandSet(wire.CmdStat),
		[]policy.Rule{{Pattern: "/", Access: policy.ReadOnly}},
	))
	defer clientEnd.Close()

	roundTrip := func(request []byte) *wire.Reply {
		t.Helper()
		if err := clientEnd.Send(request, -1); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, wire.MaxMessage+1)
		n, _, err := clientEnd.Recv(buf)
		if err != nil {
			t.Fatal(err)
		}
		reply, err := wire.DecodeReply(buf[:n])
		if err != nil {
			t.Fatal(err)
		}
		return reply
	}

	// Garbage bytes: EINVAL, and the loop keeps serving.
	reply := roundTrip([]byte{0xde, 0xad, 0xbe, 0xef, 0xff})
	if reply.Result != -1 || reply.Errno != int32(unix.EINVAL) {
		t.Errorf("garbage request: result=%d errno=%d, want -1/EINVAL", reply.Result, reply.Errno)
	}

	// Over-length message: EFAULT.
	reply = roundTrip(make([]byte, wire.MaxMessage+1))
	if reply.Result != -1 || reply.Errno != int32(unix.EFAULT) {
		t.Errorf("oversize request: result=%d errno=%d, want -1/EFAULT", reply.Result, reply.Errno)
	}

	// And a well-formed request afterwards still works.
	data, err := wire.EncodeRequest(&wire.Request{Command: wire.CmdStat, Path: "/"})
	if err != nil {
		t.Fatal(err)
	}
	reply = roundTrip(data)
	if reply.Result != 0 || reply.Stat == nil {
		t.Errorf("stat after malformed traffic: result=%d errno=%d", reply.Result, reply.Errno)
	}

	snapshot := b.Stats().Snapshot()
	if snapshot.Malformed != 2 {
		t.Errorf("malformed counter = %d, want 2", snapshot.Malformed)
	}
}

func TestBrokerLossIsFatalToTheCall(t *testing.T) {
	brokerEnd, clientEnd, err := fdchan.Pair()
	if err != nil {
		t.Fatal(err)
	}
	cl := client.New(clientEnd)
	defer cl.Close()

	// No broker ever serves this channel; closing the peer end is
	// what broker process death looks like from inside the sandbox.
	brokerEnd.Close()

	err = cl.Access("/etc/hosts", unix.R_OK)
	if !errors.Is(err, client.ErrChannelClosed) {
		t.Errorf("call against a dead broker: got %v, want ErrChannelClosed", err)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"testing"

	"github.com/bureau-foundation/fsbroker/wire"
)

func TestCommandSet(t *testing.T) {
	set := NewCommandSet(wire.CmdAccess, wire.CmdOpen, wire.CmdStat)

	for _, command := range []wire.Command{wire.CmdAccess, wire.CmdOpen, wire.CmdStat} {
		if !set.Contains(command) {
			t.Errorf("set should contain %s", command)
		}
	}
	for _, command := range []wire.Command{wire.CmdReadlink, wire.CmdRename, wire.CmdStat64, wire.CmdInvalid} {
		if set.Contains(command) {
			t.Errorf("set should not contain %s", command)
		}
	}

	// Invalid commands can't be enabled.
	if NewCommandSet(wire.CmdInvalid, wire.Command(40)).Contains(wire.CmdInvalid) {
		t.Error("invalid command ended up enabled")
	}
}

func TestRuleMatching(t *testing.T) {
	pol, err := New(NewCommandSet(wire.CmdStat), []Rule{
		{Pattern: "/etc/fonts/conf.d/", Access: ReadWrite},
		{Pattern: "/etc/fonts/", Access: ReadOnly},
		{Pattern: "/etc/hosts", Access: ReadOnly},
	})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path  string
		want  Access
		found bool
	}{
		// Prefix rules match the subtree, literally.
		{"/etc/fonts/fonts.conf", ReadOnly, true},
		{"/etc/fonts/conf.d/10-hinting.conf", ReadWrite, true},
		// First match wins: conf.d listed first, so it shadows the
		// broader read-only rule.
		{"/etc/fonts/conf.d/", ReadWrite, true},
		// Exact rules match only their own path.
		{"/etc/hosts", ReadOnly, true},
		{"/etc/hosts.bak", 0, false},
		{"/etc/hosts/sub", 0, false},
		// A prefix rule doesn't match its own directory without
		// the trailing separator; matching is literal.
		{"/etc/fonts", 0, false},
		// No cleaning, no upward traversal defense beyond literalness.
		{"/etc/passwd", 0, false},
		{"/etc/fontsX", 0, false},
	}

	for _, testCase := range cases {
		access, found := pol.FindRule(testCase.path)
		if found != testCase.found {
			t.Errorf("FindRule(%q): found=%v, want %v", testCase.path, found, testCase.found)
			continue
		}
		if found && access != testCase.want {
			t.Errorf("FindRule(%q) = %v, want %v", testCase.path, access, testCase.want)
		}
	}
}

func TestNewRejectsBadRules(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
	}{
		{"empty pattern", Rule{}},
		{"relative pattern", Rule{Pattern: "etc/fonts"}},
		{"embedded NUL", Rule{Pattern: "/etc\x00/fonts"}},
		{"read-only tempfile", Rule{Pattern: "/tmp/scratch/", Access: ReadOnly, Tempfile: true}},
	}
	for _, testCase := range cases {
		if _, err := New(0, []Rule{testCase.rule}); err == nil {
			t.Errorf("%s: New accepted %+v", testCase.name, testCase.rule)
		}
	}
}

func TestPolicyIsIsolatedFromCallerSlice(t *testing.T) {
	rules := []Rule{{Pattern: "/etc/hosts", Access: ReadOnly}}
	pol, err := New(NewCommandSet(wire.CmdStat), rules)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's slice after construction must not show
	// through.
	rules[0].Pattern = "/etc/shadow"
	if _, found := pol.FindRule("/etc/shadow"); found {
		t.Error("policy observed a post-construction mutation")
	}
	if _, found := pol.FindRule("/etc/hosts"); !found {
		t.Error("policy lost its original rule")
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/fsbroker/wire"
)

// Access is the access class a rule grants.
type Access uint8

const (
	// ReadOnly permits reads, existence checks, stats, and readlinks.
	ReadOnly Access = iota
	// ReadWrite additionally permits writes and renames.
	ReadWrite
)

// String returns the profile-file spelling of the access class.
func (a Access) String() string {
	if a == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Rule grants an access class to one path or one directory subtree.
//
// A pattern ending in "/" is a subtree rule: it matches any requested
// path carrying it as a literal string prefix. Any other pattern
// matches exactly one literal path. Patterns are stored exactly as
// given — never cleaned or resolved — and compared byte-for-byte
// against the requested path.
type Rule struct {
	// Pattern is the absolute path or "/"-terminated prefix.
	Pattern string

	// Access is the class granted on a match.
	Access Access

	// Tempfile marks an anonymous-tempfile rule: opens against it must
	// request O_CREAT|O_EXCL and the broker unlinks the path right
	// after the open succeeds, so the sandboxed process holds a
	// descriptor to a file with no name. Requires ReadWrite.
	Tempfile bool
}

// matches reports whether the requested path falls under the rule.
// Prefix comparison only; allocation-free.
func (r *Rule) matches(path string) bool {
	if strings.HasSuffix(r.Pattern, "/") {
		return strings.HasPrefix(path, r.Pattern)
	}
	return path == r.Pattern
}

// CommandSet is the fixed-size bit vector of commands enabled for one
// sandbox instance. The zero value enables nothing. Values are built
// once and shared read-only.
type CommandSet uint32

// NewCommandSet returns a set containing the given commands. Invalid
// commands are ignored; they can never be enabled.
func NewCommandSet(commands ...wire.Command) CommandSet {
	var set CommandSet
	for _, command := range commands {
		if command.Valid() {
			set |= 1 << command
		}
	}
	return set
}

// Contains reports whether the command is enabled.
func (s CommandSet) Contains(command wire.Command) bool {
	return command.Valid() && s&(1<<command) != 0
}

// Commands returns the enabled commands in wire order.
func (s CommandSet) Commands() []wire.Command {
	var commands []wire.Command
	for command := wire.CmdAccess; command <= wire.CmdMax; command++ {
		if s.Contains(command) {
			commands = append(commands, command)
		}
	}
	return commands
}

// Policy is the immutable authorization table for one sandbox
// instance: an ordered rule list plus the enabled command set.
// Constructed once by the trusted process before the sandbox starts;
// there is no way to change it afterward.
type Policy struct {
	rules    []Rule
	commands CommandSet
}

// New validates and freezes a policy. Rule order is preserved: lookup
// is first match wins, so the caller lists more specific patterns
// before less specific ones. That ordering is the caller's contract
// and is not checked here.
func New(commands CommandSet, rules []Rule) (*Policy, error) {
	for i, rule := range rules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %d: empty pattern", i)
		}
		if !strings.HasPrefix(rule.Pattern, "/") {
			return nil, fmt.Errorf("rule %d: pattern %q is not absolute", i, rule.Pattern)
		}
		if strings.ContainsRune(rule.Pattern, 0) {
			return nil, fmt.Errorf("rule %d: pattern contains NUL", i)
		}
		if rule.Tempfile && rule.Access != ReadWrite {
			return nil, fmt.Errorf("rule %d: tempfile pattern %q must be read-write", i, rule.Pattern)
		}
	}

	// Private copy so the caller's slice can't mutate the policy later.
	frozen := make([]Rule, len(rules))
	copy(frozen, rules)
	return &Policy{rules: frozen, commands: commands}, nil
}

// CommandEnabled reports whether the command is enabled for this
// sandbox instance.
func (p *Policy) CommandEnabled(command wire.Command) bool {
	return p.commands.Contains(command)
}

// findRule returns the first rule matching the requested path.
// Allocation-free; called from the Check functions.
func (p *Policy) findRule(path string) *Rule {
	for i := range p.rules {
		if p.rules[i].matches(path) {
			return &p.rules[i]
		}
	}
	return nil
}

// FindRule returns the access class granted for a path, if any rule
// matches. Exposed for policy inspection; the Check functions are the
// authorization interface.
func (p *Policy) FindRule(path string) (Access, bool) {
	if rule := p.findRule(path); rule != nil {
		return rule.Access, true
	}
	return 0, false
}

// Rules returns a copy of the rule list, for inspection and display.
func (p *Policy) Rules() []Rule {
	rules := make([]Rule, len(p.rules))
	copy(rules, p.rules)
	return rules
}

// Commands returns the enabled command set.
func (p *Policy) Commands() CommandSet {
	return p.commands
}

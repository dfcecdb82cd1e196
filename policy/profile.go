// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/fsbroker/wire"
)

// Profile is the on-disk form of a broker policy. Profiles are what
// operators edit; they compile into the immutable Policy the broker
// actually consults. A profile can inherit another, with its own rules
// taking precedence over inherited ones.
type Profile struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Inherit     string        `yaml:"inherit,omitempty"`
	Commands    []string      `yaml:"commands,omitempty"`
	Rules       []ProfileRule `yaml:"rules,omitempty"`
}

// ProfileRule is one path rule in a profile file.
type ProfileRule struct {
	// Path is the absolute path, or subtree prefix when it ends in "/".
	Path string `yaml:"path"`

	// Mode is "ro", "rw", or "tmp" (read-write with unlink-after-open,
	// for anonymous tempfiles).
	Mode string `yaml:"mode"`
}

// Rule mode spellings.
const (
	RuleModeRO  = "ro"
	RuleModeRW  = "rw"
	RuleModeTmp = "tmp"
)

// commandNames maps profile command spellings to wire commands.
var commandNames = map[string]wire.Command{
	"access":   wire.CmdAccess,
	"open":     wire.CmdOpen,
	"readlink": wire.CmdReadlink,
	"rename":   wire.CmdRename,
	"stat":     wire.CmdStat,
	"stat64":   wire.CmdStat64,
}

// ProfilesConfig is a profile file: a map of named profiles.
type ProfilesConfig struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// ParseProfilesConfig parses profile file content. YAML is the native
// format; JSONC is accepted too (comments stripped, then parsed —
// YAML is a superset of JSON).
func ParseProfilesConfig(data []byte, format string) (*ProfilesConfig, error) {
	if format == "jsonc" || format == "json" {
		data = jsonc.ToJSON(data)
	}

	var config ProfilesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}

	// Fill in names from the map keys.
	for name, profile := range config.Profiles {
		if profile == nil {
			return nil, fmt.Errorf("profile %q is empty", name)
		}
		profile.Name = name
	}
	return &config, nil
}

// LoadProfilesConfig loads a profile file, choosing the format from
// the extension (.json/.jsonc vs anything else as YAML).
func LoadProfilesConfig(path string) (*ProfilesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles from %s: %w", path, err)
	}

	format := "yaml"
	switch filepath.Ext(path) {
	case ".json":
		format = "json"
	case ".jsonc":
		format = "jsonc"
	}

	config, err := ParseProfilesConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return config, nil
}

// Names returns the profile names in sorted order.
func (c *ProfilesConfig) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named profile with inheritance applied. The
// resolved profile's rules are its own rules followed by inherited
// ones, so lookup order naturally prefers the more specific profile.
// Commands are replaced, not merged: a profile that lists commands
// defines exactly its own set.
func (c *ProfilesConfig) Resolve(name string) (*Profile, error) {
	return c.resolve(name, make(map[string]bool))
}

func (c *ProfilesConfig) resolve(name string, visiting map[string]bool) (*Profile, error) {
	if visiting[name] {
		return nil, fmt.Errorf("profile %q: inheritance cycle", name)
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	if profile.Inherit == "" {
		return profile, nil
	}

	visiting[name] = true
	parent, err := c.resolve(profile.Inherit, visiting)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}

	resolved := &Profile{
		Name:        profile.Name,
		Description: profile.Description,
		Commands:    profile.Commands,
	}
	if len(resolved.Commands) == 0 {
		resolved.Commands = parent.Commands
	}
	if resolved.Description == "" {
		resolved.Description = parent.Description
	}

	// Own rules first, then inherited rules the profile didn't
	// redefine. First match wins at lookup time, so this ordering is
	// what gives the child's rules precedence.
	resolved.Rules = append(resolved.Rules, profile.Rules...)
	own := make(map[string]bool, len(profile.Rules))
	for _, rule := range profile.Rules {
		own[rule.Path] = true
	}
	for _, rule := range parent.Rules {
		if !own[rule.Path] {
			resolved.Rules = append(resolved.Rules, rule)
		}
	}
	return resolved, nil
}

// Validate checks a resolved profile, collecting all problems rather
// than stopping at the first.
func (p *Profile) Validate() error {
	var problems []string

	if len(p.Commands) == 0 {
		problems = append(problems, "no commands enabled")
	}
	for _, name := range p.Commands {
		if _, ok := commandNames[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown command %q", name))
		}
	}

	for i, rule := range p.Rules {
		if rule.Path == "" {
			problems = append(problems, fmt.Sprintf("rules[%d]: path is required", i))
		} else if !strings.HasPrefix(rule.Path, "/") {
			problems = append(problems, fmt.Sprintf("rules[%d]: path %q is not absolute", i, rule.Path))
		}
		switch rule.Mode {
		case RuleModeRO, RuleModeRW, RuleModeTmp:
		case "":
			problems = append(problems, fmt.Sprintf("rules[%d]: mode is required", i))
		default:
			problems = append(problems, fmt.Sprintf("rules[%d]: invalid mode %q (must be ro, rw, or tmp)", i, rule.Mode))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("profile %q validation failed:\n  %s", p.Name, strings.Join(problems, "\n  "))
	}
	return nil
}

// Compile validates the profile and builds the immutable Policy.
func (p *Profile) Compile() (*Policy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	commands := make([]wire.Command, 0, len(p.Commands))
	for _, name := range p.Commands {
		commands = append(commands, commandNames[name])
	}

	rules := make([]Rule, 0, len(p.Rules))
	for _, profileRule := range p.Rules {
		rule := Rule{Pattern: profileRule.Path}
		switch profileRule.Mode {
		case RuleModeRW:
			rule.Access = ReadWrite
		case RuleModeTmp:
			rule.Access = ReadWrite
			rule.Tempfile = true
		}
		rules = append(rules, rule)
	}

	compiled, err := New(NewCommandSet(commands...), rules)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return compiled, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// fsbroker-launch starts a command with a broker channel attached.
//
// It creates the channel pair, keeps the broker end in this (trusted)
// process, and execs the command with the other end as an inherited
// descriptor, announced through FSBROKER_CHANNEL_FD. The launched
// process is expected to be confined separately (namespace or seccomp
// setup is not this tool's job); what this tool provides is the
// mediated filesystem path that confinement leaves behind.
//
// Usage:
//
//	fsbroker-launch --profiles=profiles.yaml --profile=renderer -- <command> [args...]
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fsbroker/broker"
	"github.com/bureau-foundation/fsbroker/client"
	"github.com/bureau-foundation/fsbroker/lib/fdchan"
	"github.com/bureau-foundation/fsbroker/policy"
)

func main() {
	if err := run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("fsbroker-launch", pflag.ContinueOnError)
	profilesPath := flags.String("profiles", "", "Path to the profiles file (YAML or JSONC)")
	profileName := flags.String("profile", "", "Profile name to enforce")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	command := flags.Args()
	if len(command) == 0 {
		return fmt.Errorf("no command given (usage: fsbroker-launch [flags] -- <command> [args...])")
	}

	logLevel := slog.LevelInfo
	if os.Getenv("FSBROKER_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	config, err := policy.LoadProfilesConfig(*profilesPath)
	if err != nil {
		return err
	}
	profile, err := config.Resolve(*profileName)
	if err != nil {
		return err
	}
	compiled, err := profile.Compile()
	if err != nil {
		return err
	}

	brokerEnd, childEnd, err := fdchan.Pair()
	if err != nil {
		return err
	}
	defer brokerEnd.Close()

	// ExtraFiles[0] lands on descriptor 3 in the child.
	childFile := os.NewFile(uintptr(childEnd.FD()), "fsbroker-channel")
	child := exec.Command(command[0], command[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.ExtraFiles = []*os.File{childFile}
	child.Env = append(os.Environ(), fmt.Sprintf("%s=3", client.ChannelFDEnv))

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", command[0], err)
	}
	// The child holds its own copy now; keeping ours open would stop
	// the broker loop from ever seeing the channel close.
	childFile.Close()

	logger.Info("sandboxed command started",
		"command", command[0],
		"pid", child.Process.Pid,
		"profile", profile.Name,
	)

	b := broker.New(compiled, logger)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- b.ServeChannel(brokerEnd)
	}()

	waitErr := child.Wait()
	if serveErr := <-serveDone; serveErr != nil {
		logger.Error("broker channel failed", "error", serveErr)
	}
	return waitErr
}

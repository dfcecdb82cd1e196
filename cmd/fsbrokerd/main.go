// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// fsbrokerd serves brokered filesystem access to sandboxed processes.
//
// Usage:
//
//	fsbrokerd serve [flags]
//	fsbrokerd validate [flags]
//	fsbrokerd show-policy [flags]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fsbroker/broker"
	"github.com/bureau-foundation/fsbroker/lib/control"
	"github.com/bureau-foundation/fsbroker/lib/fdchan"
	"github.com/bureau-foundation/fsbroker/policy"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("FSBROKER_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "serve":
		err = serveCmd(args, logger)
	case "validate":
		err = validateCmd(args)
	case "show-policy":
		err = showPolicyCmd(args)
	case "version", "--version", "-v":
		fmt.Printf("fsbrokerd %s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`fsbrokerd - filesystem syscall broker for sandboxed processes

USAGE
    fsbrokerd <command> [flags]

COMMANDS
    serve        Serve broker channels for a policy profile
    validate     Validate a policy profile file
    show-policy  Show a resolved policy profile
    version      Show version

EXAMPLES
    # Serve a channel inherited on fd 3
    fsbrokerd serve --profiles=/etc/fsbroker/profiles.yaml --profile=renderer --channel-fd=3

    # Serve two sandboxed processes and expose a control socket
    fsbrokerd serve --profiles=profiles.yaml --profile=renderer \
        --channel-fd=3 --channel-fd=4 --control-socket=/run/fsbroker/control.sock

    # Check a profile file before deploying it
    fsbrokerd validate --profiles=profiles.yaml --profile=renderer

ENVIRONMENT
    FSBROKER_DEBUG  Enable debug logging
`)
}

// loadPolicy loads, resolves, and compiles the named profile.
func loadPolicy(profilesPath, profileName string) (*policy.Policy, *policy.Profile, error) {
	if profilesPath == "" {
		return nil, nil, fmt.Errorf("--profiles is required")
	}
	if profileName == "" {
		return nil, nil, fmt.Errorf("--profile is required")
	}

	config, err := policy.LoadProfilesConfig(profilesPath)
	if err != nil {
		return nil, nil, err
	}
	profile, err := config.Resolve(profileName)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := profile.Compile()
	if err != nil {
		return nil, nil, err
	}
	return compiled, profile, nil
}

func serveCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	profilesPath := flags.String("profiles", "", "Path to the profiles file (YAML or JSONC)")
	profileName := flags.String("profile", "", "Profile name to serve")
	channelFDs := flags.IntSlice("channel-fd", nil, "Inherited channel descriptor, repeatable")
	controlSocket := flags.String("control-socket", "", "Unix socket path for the control API")
	if err := flags.Parse(args); err != nil {
		return err
	}

	compiled, profile, err := loadPolicy(*profilesPath, *profileName)
	if err != nil {
		return err
	}
	if len(*channelFDs) == 0 {
		return fmt.Errorf("at least one --channel-fd is required")
	}

	logger.Info("broker starting",
		"profile", profile.Name,
		"channels", len(*channelFDs),
		"rules", len(compiled.Rules()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := broker.New(compiled, logger)

	channelsDone := make(chan struct{})
	go func() {
		defer close(channelsDone)
		serveChannels(b, *channelFDs, logger)
	}()

	if *controlSocket != "" {
		server := control.NewServer(*controlSocket, logger)
		b.RegisterControl(server)
		go func() {
			if err := server.Serve(ctx); err != nil {
				logger.Error("control socket failed", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("broker shutting down on signal")
	case <-channelsDone:
		logger.Info("all broker channels closed")
	}
	return nil
}

// serveChannels runs one goroutine per channel and returns when every
// peer has gone away. A failed channel takes down only itself.
func serveChannels(b *broker.Broker, fds []int, logger *slog.Logger) {
	done := make(chan int, len(fds))
	for _, fd := range fds {
		go func(fd int) {
			defer func() { done <- fd }()
			if err := b.ServeChannel(fdchan.FromFD(fd)); err != nil {
				logger.Error("broker channel failed", "fd", fd, "error", err)
			}
		}(fd)
	}
	for range fds {
		fd := <-done
		logger.Debug("broker channel finished", "fd", fd)
	}
}

func validateCmd(args []string) error {
	flags := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	profilesPath := flags.String("profiles", "", "Path to the profiles file (YAML or JSONC)")
	profileName := flags.String("profile", "", "Profile name to validate")
	if err := flags.Parse(args); err != nil {
		return err
	}

	compiled, profile, err := loadPolicy(*profilesPath, *profileName)
	if err != nil {
		return err
	}
	fmt.Printf("profile %q: %d commands, %d rules, ok\n",
		profile.Name, len(profile.Commands), len(compiled.Rules()))
	return nil
}

func showPolicyCmd(args []string) error {
	flags := pflag.NewFlagSet("show-policy", pflag.ContinueOnError)
	profilesPath := flags.String("profiles", "", "Path to the profiles file (YAML or JSONC)")
	profileName := flags.String("profile", "", "Profile name to show")
	if err := flags.Parse(args); err != nil {
		return err
	}

	compiled, profile, err := loadPolicy(*profilesPath, *profileName)
	if err != nil {
		return err
	}

	fmt.Printf("Profile: %s\n", profile.Name)
	if profile.Description != "" {
		fmt.Printf("Description: %s\n", profile.Description)
	}
	fmt.Print("Commands:")
	for _, command := range compiled.Commands().Commands() {
		fmt.Printf(" %s", command)
	}
	fmt.Println()

	writer := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PATTERN\tMODE\tTEMPFILE")
	for _, rule := range compiled.Rules() {
		tempfile := ""
		if rule.Tempfile {
			tempfile = "yes"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", rule.Pattern, rule.Access, tempfile)
	}
	return writer.Flush()
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tether-daemon is the local half of a tether workspace. It owns the
// ssh tunnel to the remote host, keeps it alive, and serves requests
// from the tether CLI on a loopback port: shell commands run locally
// or are forwarded through the tunnel to tether-server, and index and
// listing requests are always forwarded.
//
// The tether CLI starts this daemon detached; it can also be run in
// the foreground for debugging:
//
//	tether-daemon --host devbox --workspace /home/me/project
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tether/lib/config"
	"github.com/bureau-foundation/tether/lib/process"
	"github.com/bureau-foundation/tether/lib/tunnel"
	"github.com/bureau-foundation/tether/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		host          string
		workspacePath string
		localDir      string
		root          string
		configPath    string
		daemonPort    int
		localPort     int
		remotePort    int
		showVersion   bool
	)

	flags := pflag.NewFlagSet("tether-daemon", pflag.ContinueOnError)
	flags.StringVar(&host, "host", "", "remote host, as given to ssh (required)")
	flags.StringVarP(&workspacePath, "workspace", "w", "", "project path on the remote host (default: current directory)")
	flags.StringVar(&localDir, "local", "", "directory for local shell commands (default: current directory)")
	flags.StringVar(&root, "root", "", "registry root directory (overrides paths.root)")
	flags.StringVar(&configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flags.IntVar(&daemonPort, "daemon-port", 0, "loopback port for CLI requests (default: any free port)")
	flags.IntVar(&localPort, "local-port", 0, "local end of the tunnel (default: any free port)")
	flags.IntVar(&remotePort, "remote-port", 0, "remote end of the tunnel (default: random port in daemon.port_range)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("tether-daemon %s\n", version.Info())
		return nil
	}
	if host == "" {
		return fmt.Errorf("--host is required")
	}

	workingDirectory, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("reading working directory: %w", err)
	}
	if workspacePath == "" {
		workspacePath = workingDirectory
	}
	if localDir == "" {
		localDir = workingDirectory
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if root != "" {
		cfg.Paths.Root = root
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newClientDaemon(daemonOptions{
		Host:       host,
		Workspace:  workspacePath,
		LocalDir:   localDir,
		DaemonPort: daemonPort,
		LocalPort:  localPort,
		RemotePort: remotePort,
		Config:     cfg,
		Logger:     logger,
		TunnelOptions: []tunnel.Option{
			tunnel.WithSpawner(tunnel.ExecSpawner{Output: os.Stderr}),
		},
	})
	if err != nil {
		return err
	}

	logger.Info("starting tether-daemon",
		"version", version.Info(),
		"host", host,
		"workspace", daemon.identity.ProjectPath,
	)
	return daemon.run(ctx)
}

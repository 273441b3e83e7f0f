// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tether-server is the remote half of a tether workspace. The client
// daemon starts it through ssh on the remote host; it listens on a
// loopback port that the ssh tunnel forwards to, and answers index,
// listing, and shell requests against the project directory.
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
	"github.com/bureau-foundation/tether/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		workspacePath string
		port          int
		root          string
		host          string
		configPath    string
		showVersion   bool
	)

	flags := pflag.NewFlagSet("tether-server", pflag.ContinueOnError)
	flags.StringVarP(&workspacePath, "workspace", "w", "", "project directory to serve (required)")
	flags.IntVarP(&port, "port", "p", 0, "loopback port to listen on (required)")
	flags.StringVar(&root, "root", "", "registry root directory (overrides paths.root)")
	flags.StringVar(&host, "host", "", "host name recorded in the registry (default: system hostname)")
	flags.StringVar(&configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("tether-server %s\n", version.Info())
		return nil
	}
	if workspacePath == "" {
		return fmt.Errorf("--workspace is required")
	}
	if port <= 0 {
		return fmt.Errorf("--port is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if root != "" {
		cfg.Paths.Root = root
	}
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			return fmt.Errorf("reading hostname: %w", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	daemon, err := newServerDaemon(serverOptions{
		Workspace: workspacePath,
		Port:      port,
		Host:      host,
		Config:    cfg,
		Tools:     config.DetectTools(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting tether-server",
		"version", version.Info(),
		"workspace", daemon.identity.ProjectPath,
		"port", port,
	)
	return daemon.run(ctx)
}

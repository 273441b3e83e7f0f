// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tether is the command-line client for tether workspaces. It starts a
// client daemon for a project on a remote host and sends it shell,
// index, listing, status, and exit requests.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/tether/cmd/tether/cli"
	"github.com/bureau-foundation/tether/lib/process"
)

func main() {
	if err := run(); err != nil {
		// Commands that already wrote their output (shell passing
		// through a remote status) return an error carrying the code.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return root(streams{out: os.Stdout, err: os.Stderr}).Execute(ctx, os.Args[1:], cli.NewCommandLogger(slog.LevelWarn))
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tether/cmd/tether/cli"
	"github.com/bureau-foundation/tether/lib/config"
	"github.com/bureau-foundation/tether/lib/ipc"
	"github.com/bureau-foundation/tether/lib/process"
	"github.com/bureau-foundation/tether/lib/workspace"
)

type startParams struct {
	workspaceParams
	localDir   string
	daemonPort int
	remotePort int
}

func startCommand(output streams) *cli.Command {
	var params startParams
	return &cli.Command{
		Name:    "start",
		Summary: "Start a client daemon for a project",
		Description: `Start a client daemon for a project on a remote host, unless one is
already running. The daemon runs detached and logs to the workspace's
log file in the registry directory.`,
		Usage: "tether start --host HOST [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("start", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.StringVar(&params.localDir, "local", "", "directory for local shell commands (default: current directory)")
			flagSet.IntVar(&params.daemonPort, "daemon-port", 0, "loopback port for the daemon (default: any free port)")
			flagSet.IntVar(&params.remotePort, "remote-port", 0, "remote end of the tunnel (default: random)")
			return flagSet
		},
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			return runStart(ctx, &params, output, logger)
		},
	}
}

func runStart(ctx context.Context, params *startParams, output streams, logger *slog.Logger) error {
	if params.host == "" {
		return errors.New("--host is required")
	}
	cfg, err := params.loadConfig()
	if err != nil {
		return err
	}
	identity, err := params.identity(cfg)
	if err != nil {
		return err
	}

	if record, ok := workspace.FindDaemon(identity); ok {
		if err := pingDaemon(ctx, cfg, record); err == nil {
			fmt.Fprintf(output.out, "daemon already running at %s (pid %d)\n", record.Address(), record.PID)
			return nil
		}
		if process.Alive(record.PID) {
			return fmt.Errorf("%w: daemon pid %d holds %s but does not answer (see %s)",
				errNoDaemon, record.PID, identity.RecordPath(), identity.LogPath())
		}
		logger.Info("removing stale daemon record", "pid", record.PID)
		if err := workspace.RetractDaemon(identity); err != nil {
			return err
		}
	}

	exited, err := spawnDaemon(cfg, params, identity)
	if err != nil {
		return err
	}

	waitContext, cancel := context.WithTimeout(ctx, cfg.Daemon.ReadyTimeout)
	defer cancel()
	go func() {
		select {
		case <-exited:
			cancel()
		case <-waitContext.Done():
		}
	}()

	record, err := workspace.WaitDaemon(waitContext, identity)
	if err == nil {
		// The record is claimed before the tunnel is verified; an
		// answered Init means the daemon is serving.
		err = pingDaemon(waitContext, cfg, record)
	}
	if err != nil {
		select {
		case <-exited:
			return fmt.Errorf("daemon exited during startup (see %s)", identity.LogPath())
		default:
			return fmt.Errorf("daemon did not become ready: %w (see %s)", err, identity.LogPath())
		}
	}

	fmt.Fprintf(output.out, "daemon for %s on %s listening at %s (pid %d)\n",
		identity.ProjectPath, identity.Host, record.Address(), record.PID)
	return nil
}

// spawnDaemon starts tether-daemon detached from this process group,
// with output appended to the workspace log. The returned channel is
// closed if the daemon exits while this process is still running.
func spawnDaemon(cfg *config.Config, params *startParams, identity workspace.Identity) (<-chan struct{}, error) {
	binary, err := cfg.BinaryPath("tether-daemon")
	if err != nil {
		return nil, err
	}

	localDir := params.localDir
	if localDir == "" {
		if localDir, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	args := []string{
		"--host", identity.Host,
		"--workspace", identity.ProjectPath,
		"--local", localDir,
		"--root", cfg.Paths.Root,
	}
	if params.configPath != "" {
		args = append(args, "--config", params.configPath)
	}
	if params.daemonPort != 0 {
		args = append(args, "--daemon-port", strconv.Itoa(params.daemonPort))
	}
	if params.remotePort != 0 {
		args = append(args, "--remote-port", strconv.Itoa(params.remotePort))
	}

	logFile, err := os.OpenFile(identity.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(binary, args...)
	cmd.Dir = localDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	process.Isolate(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	return exited, nil
}

func pingDaemon(ctx context.Context, cfg *config.Config, record workspace.DaemonRecord) error {
	client := newDaemonClient(cfg, record.Address())
	client.ResponseTimeout = cfg.Daemon.ReadyTimeout
	var response ipc.InitResponse
	return client.Call(ctx, &ipc.InitRequest{Version: ipc.ProtocolVersion}, &response)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tether/cmd/tether/cli"
	"github.com/bureau-foundation/tether/lib/atomicfile"
	"github.com/bureau-foundation/tether/lib/binhash"
	"github.com/bureau-foundation/tether/lib/ipc"
	"github.com/bureau-foundation/tether/lib/version"
)

func shellCommand(output streams) *cli.Command {
	var (
		params    workspaceParams
		remote    bool
		directory string
	)
	return &cli.Command{
		Name:    "shell",
		Summary: "Run a shell command locally or on the remote host",
		Description: `Run a shell command through the daemon and relay its output and exit
status. With --remote the command runs in the project on the remote
host; otherwise it runs in the daemon's local directory.`,
		Usage: "tether shell [--remote] [flags] -- COMMAND [ARGS...]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("shell", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.BoolVarP(&remote, "remote", "r", false, "run on the remote host")
			flagSet.StringVarP(&directory, "dir", "C", "", "directory relative to the project root")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) == 0 {
				return errors.New("no command given")
			}
			conn, err := params.connect()
			if err != nil {
				return err
			}
			var response ipc.ShellResponse
			request := &ipc.ShellRequest{Directory: directory, Args: args, Remote: remote}
			if err := conn.callPayload(ctx, request, &response); err != nil {
				return err
			}
			output.out.Write(response.Stdout)
			output.err.Write(response.Stderr)
			switch {
			case response.Status == 0:
				return nil
			case response.Status < 0:
				return &cli.ExitError{Code: 1}
			default:
				return &cli.ExitError{Code: int(response.Status)}
			}
		},
	}
}

func indexCommand(output streams) *cli.Command {
	var (
		params   workspaceParams
		path     string
		prevHash string
	)
	return &cli.Command{
		Name:    "index",
		Summary: "Build the remote project's file index",
		Usage:   "tether index [--path DIR] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("index", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.StringVar(&path, "path", "", "directory to index, relative to the project root")
			flagSet.StringVar(&prevHash, "since", "", "previous index hash (default: the daemon's current hash)")
			return flagSet
		},
		Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
			request := &ipc.IndexRequest{IndexPath: path}
			if prevHash != "" {
				hash, err := binhash.Parse(prevHash)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				request.PrevHash = hash
			}
			conn, err := params.connect()
			if err != nil {
				return err
			}
			var response ipc.IndexResponse
			if err := conn.call(ctx, request, &response); err != nil {
				return err
			}
			state := "unchanged"
			if response.Changed {
				state = "changed"
			}
			fmt.Fprintf(output.out, "%s %s %d files %s\n",
				binhash.Format(response.Hash), response.IndexFile, response.FileCount, state)
			return nil
		},
	}
}

func lsCommand(output streams) *cli.Command {
	var params workspaceParams
	return &cli.Command{
		Name:    "ls",
		Summary: "List a directory of the remote project",
		Usage:   "tether ls [flags] [PATH]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ls", pflag.ContinueOnError)
			params.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 1 {
				return errors.New("ls takes at most one path")
			}
			request := &ipc.LsRequest{}
			if len(args) == 1 {
				request.LsPath = args[0]
			}
			conn, err := params.connect()
			if err != nil {
				return err
			}
			var response ipc.LsResponse
			if err := conn.call(ctx, request, &response); err != nil {
				return err
			}
			for _, entry := range response.Entries {
				fmt.Fprintln(output.out, entry)
			}
			return nil
		},
	}
}

func getCommand(output streams) *cli.Command {
	var (
		params workspaceParams
		target string
	)
	return &cli.Command{
		Name:    "get",
		Summary: "Fetch a file from the remote project",
		Description: `Fetch one file from the project on the remote host and write it to
stdout. With --output the file is written atomically to a local path
with the remote permissions, and left alone when its contents already
match.`,
		Usage: "tether get [-o FILE] [flags] PATH",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.StringVarP(&target, "output", "o", "", "local file to write instead of stdout")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return errors.New("get takes exactly one path")
			}
			request := &ipc.GetFileRequest{FilePath: args[0]}
			if target != "" {
				if hash, err := binhash.HashFile(target); err == nil {
					request.PrevHash = hash
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			conn, err := params.connect()
			if err != nil {
				return err
			}
			var response ipc.GetFileResponse
			if err := conn.call(ctx, request, &response); err != nil {
				return err
			}
			if target == "" {
				_, err := output.out.Write(response.Contents)
				return err
			}
			if !response.Changed {
				logger.Debug("local copy is current", "path", target, "hash", binhash.Format(response.Hash))
				return nil
			}
			mode := fs.FileMode(response.Mode).Perm()
			if mode == 0 {
				mode = 0o644
			}
			return atomicfile.Write(target, response.Contents, mode)
		},
	}
}

func statusCommand(output streams) *cli.Command {
	var params workspaceParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show the daemon for a project",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			params.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			conn, err := params.connect()
			if err != nil {
				return err
			}
			var response ipc.InitResponse
			if err := conn.call(ctx, &ipc.InitRequest{Version: ipc.ProtocolVersion}, &response); err != nil {
				return err
			}

			record := conn.record
			fmt.Fprintf(output.out, "workspace:  %s\n", response.Workspace)
			fmt.Fprintf(output.out, "host:       %s\n", record.Host)
			fmt.Fprintf(output.out, "daemon:     %s (pid %d)\n", record.Address(), record.PID)
			fmt.Fprintf(output.out, "tunnel:     127.0.0.1:%d -> %s:%d\n", record.LocalPort, record.Host, record.RemotePort)
			fmt.Fprintf(output.out, "index:      %s\n", binhash.Format(response.IndexHash))
			fmt.Fprintf(output.out, "started:    %s\n", time.Unix(record.StartedAt, 0).Format(time.RFC3339))
			fmt.Fprintf(output.out, "version:    %s\n", record.Version)

			if binary, err := conn.config.BinaryPath("tether-daemon"); err == nil {
				stale, err := version.Stale(record.BinaryHash, binary)
				if err != nil {
					logger.Debug("cannot compare daemon binary", "error", err)
				} else if stale {
					fmt.Fprintf(output.out, "note:       %s has changed since the daemon started; restart it to upgrade\n", binary)
				}
			}
			return nil
		},
	}
}

func exitCommand(output streams) *cli.Command {
	var params workspaceParams
	return &cli.Command{
		Name:    "exit",
		Summary: "Stop the daemon for a project",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("exit", pflag.ContinueOnError)
			params.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
			conn, err := params.connect()
			if err != nil {
				return err
			}
			var response ipc.ExitResponse
			if err := conn.callPayload(ctx, &ipc.ExitRequest{}, &response); err != nil {
				return err
			}
			fmt.Fprintf(output.out, "daemon for %s on %s stopped\n", conn.identity.ProjectPath, conn.identity.Host)
			return nil
		},
	}
}

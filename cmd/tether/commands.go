// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tether/cmd/tether/cli"
	"github.com/bureau-foundation/tether/lib/config"
	"github.com/bureau-foundation/tether/lib/ipc"
	"github.com/bureau-foundation/tether/lib/service"
	"github.com/bureau-foundation/tether/lib/version"
	"github.com/bureau-foundation/tether/lib/workspace"
)

// errNoDaemon is the failure reported whenever the CLI cannot reach a
// client daemon.
var errNoDaemon = errors.New("unable to connect to daemon")

type streams struct {
	out io.Writer
	err io.Writer
}

func root(output streams) *cli.Command {
	return &cli.Command{
		Name: "tether",
		Description: `Tether: work on a project that lives on a remote host.

A client daemon on this machine keeps an ssh tunnel to tether-server on
the remote host and relays shell, index, and listing requests to it.`,
		Subcommands: []*cli.Command{
			startCommand(output),
			shellCommand(output),
			indexCommand(output),
			lsCommand(output),
			getCommand(output),
			statusCommand(output),
			exitCommand(output),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Fprintf(output.out, "tether %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{Description: "Start a daemon for the current directory on devbox", Command: "tether start --host devbox"},
			{Description: "Run a command on the remote host", Command: "tether shell --remote -- make test"},
		},
	}
}

// workspaceParams are the flags shared by every command that talks to a
// daemon.
type workspaceParams struct {
	host       string
	project    string
	root       string
	configPath string
}

func (p *workspaceParams) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&p.host, "host", "", "remote host (default: the only host with a daemon for this project)")
	flagSet.StringVarP(&p.project, "workspace", "w", "", "project path (default: current directory)")
	flagSet.StringVar(&p.root, "root", "", "registry root directory (overrides paths.root)")
	flagSet.StringVar(&p.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
}

func (p *workspaceParams) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(p.configPath)
	if err != nil {
		return nil, err
	}
	if p.root != "" {
		cfg.Paths.Root = p.root
	}
	return cfg, nil
}

// projectPath is the project's path on the remote host. The default is
// the local working directory, for projects mirrored at the same path.
func (p *workspaceParams) projectPath() (string, error) {
	if p.project == "" {
		return os.Getwd()
	}
	if !path.IsAbs(p.project) {
		return "", fmt.Errorf("--workspace %q must be an absolute path on the remote host", p.project)
	}
	return p.project, nil
}

// identity resolves the client identity for the flags. Without --host,
// the host is inferred when exactly one host has a daemon record for
// the project.
func (p *workspaceParams) identity(cfg *config.Config) (workspace.Identity, error) {
	project, err := p.projectPath()
	if err != nil {
		return workspace.Identity{}, err
	}
	host := p.host
	if host == "" {
		hosts, err := workspace.DiscoverHosts(cfg.Paths.Root, workspace.RoleClient, project)
		if err != nil {
			return workspace.Identity{}, err
		}
		switch len(hosts) {
		case 0:
			return workspace.Identity{}, fmt.Errorf("%w: no daemon for %s (run 'tether start --host HOST')", errNoDaemon, project)
		case 1:
			host = hosts[0]
		default:
			return workspace.Identity{}, fmt.Errorf("daemons for %s run on several hosts %v; pass --host", project, hosts)
		}
	}
	resolver, err := workspace.NewResolver(cfg.Paths.Root, workspace.RoleClient, host)
	if err != nil {
		return workspace.Identity{}, err
	}
	return resolver.Resolve(project)
}

// connection is a located daemon.
type connection struct {
	config   *config.Config
	identity workspace.Identity
	record   workspace.DaemonRecord
	client   *service.Client
}

func (p *workspaceParams) connect() (*connection, error) {
	cfg, err := p.loadConfig()
	if err != nil {
		return nil, err
	}
	identity, err := p.identity(cfg)
	if err != nil {
		return nil, err
	}
	record, ok := workspace.FindDaemon(identity)
	if !ok {
		return nil, fmt.Errorf("%w: no daemon for %s on %s (run 'tether start')", errNoDaemon, identity.ProjectPath, identity.Host)
	}
	return &connection{
		config:   cfg,
		identity: identity,
		record:   record,
		client:   newDaemonClient(cfg, record.Address()),
	}, nil
}

func newDaemonClient(cfg *config.Config, address string) *service.Client {
	client := service.NewClient(address)
	client.DialTimeout = cfg.Daemon.DialTimeout
	client.ResponseTimeout = cfg.Shell.Timeout + 2*cfg.Daemon.IOTimeout
	client.MaxMessageSize = cfg.Daemon.MaxMessageSize
	return client
}

// call sends request directly, reporting an unreachable daemon as
// errNoDaemon.
func (c *connection) call(ctx context.Context, request, response ipc.Message) error {
	return c.explain(c.client.Call(ctx, request, response))
}

// callPayload sends request wrapped in a PayloadRequest and decodes the
// wrapped reply.
func (c *connection) callPayload(ctx context.Context, request, response ipc.Message) error {
	wrapped, err := ipc.WrapRequest(request)
	if err != nil {
		return err
	}
	var reply ipc.PayloadResponse
	if err := c.call(ctx, wrapped, &reply); err != nil {
		return err
	}
	inner, err := ipc.Unwrap(reply.Command, reply.Body)
	if err != nil {
		return err
	}
	return inner.Decode(response)
}

func (c *connection) explain(err error) error {
	var remote *service.RemoteError
	switch {
	case err == nil:
		return nil
	case service.IsUnavailable(err):
		return fmt.Errorf("%w at %s: %v", errNoDaemon, c.record.Address(), err)
	case errors.As(err, &remote):
		return errors.New(remote.Message)
	default:
		return err
	}
}

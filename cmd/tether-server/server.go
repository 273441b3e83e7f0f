// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/tether/lib/config"
	"github.com/bureau-foundation/tether/lib/index"
	"github.com/bureau-foundation/tether/lib/ipc"
	"github.com/bureau-foundation/tether/lib/netutil"
	"github.com/bureau-foundation/tether/lib/service"
	"github.com/bureau-foundation/tether/lib/shell"
	"github.com/bureau-foundation/tether/lib/version"
	"github.com/bureau-foundation/tether/lib/workspace"
)

// attachPollInterval is how often an attached server checks that the
// server it deferred to still answers.
const attachPollInterval = 5 * time.Second

type serverOptions struct {
	Workspace string
	Port      int
	Host      string
	Config    *config.Config
	Tools     config.Tools
	Logger    *slog.Logger
}

// serverDaemon is the state shared by the server's request handlers.
// The workspace root is fixed at startup; only the record's index hash
// changes afterwards.
type serverDaemon struct {
	identity workspace.Identity
	port     int
	config   *config.Config
	builder  *index.Builder
	runner   *shell.Runner
	logger   *slog.Logger

	mu     sync.Mutex
	record workspace.DaemonRecord
}

func newServerDaemon(options serverOptions) (*serverDaemon, error) {
	projectPath, err := filepath.Abs(options.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace %s: %w", options.Workspace, err)
	}
	info, err := os.Stat(projectPath)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", projectPath)
	}

	resolver, err := workspace.NewResolver(options.Config.Paths.Root, workspace.RoleServer, options.Host)
	if err != nil {
		return nil, err
	}
	identity, err := resolver.Resolve(projectPath)
	if err != nil {
		return nil, err
	}

	return &serverDaemon{
		identity: identity,
		port:     options.Port,
		config:   options.Config,
		builder:  index.NewBuilder(identity.ProjectPath, identity.IndexDir(), options.Tools),
		runner:   newShellRunner(options.Config),
		logger:   options.Logger,
	}, nil
}

// newShellRunner sizes captured output so a ShellResponse carrying both
// streams fits in one frame.
func newShellRunner(cfg *config.Config) *shell.Runner {
	return &shell.Runner{
		Binary:    cfg.Shell.Binary,
		Timeout:   cfg.Shell.Timeout,
		MaxOutput: (cfg.Daemon.MaxMessageSize - 1024) / 2,
	}
}

// run serves until ctx is cancelled or an Exit request arrives. If the
// port is held by a live server for the same workspace (left running by
// an earlier tunnel), run attaches to it instead.
func (d *serverDaemon) run(ctx context.Context) error {
	listener, err := netutil.ListenLoopback(d.port)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return d.attach(ctx, err)
		}
		return err
	}
	return d.serve(ctx, listener)
}

func (d *serverDaemon) serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	binaryHash, _, err := version.SelfHash()
	if err != nil {
		d.logger.Warn("cannot hash own binary", "error", err)
	}

	d.mu.Lock()
	d.record = workspace.DaemonRecord{
		Host:       d.identity.Host,
		Workspace:  d.identity.ProjectPath,
		DaemonPort: netutil.ListenerPort(listener),
		PID:        os.Getpid(),
		StartedAt:  time.Now().Unix(),
		Version:    version.Short(),
		BinaryHash: binaryHash,
	}
	err = workspace.PublishDaemon(d.identity, d.record)
	d.mu.Unlock()
	if err != nil {
		listener.Close()
		return err
	}
	defer d.retract()

	server := service.NewServer(listener, newServerRegistry(), d, service.ServerConfig{
		IOTimeout:      d.config.Daemon.IOTimeout,
		MaxMessageSize: d.config.Daemon.MaxMessageSize,
		OnExit:         cancel,
	}, d.logger)
	return server.Serve(ctx)
}

// retract removes the record unless another server has since replaced
// it.
func (d *serverDaemon) retract() {
	if current, ok := workspace.FindDaemon(d.identity); ok && current.PID != os.Getpid() {
		return
	}
	if err := workspace.RetractDaemon(d.identity); err != nil {
		d.logger.Error("retracting server record", "error", err)
	}
}

// attach keeps this process alive while the server already holding the
// port answers. The ssh session that started this process forwards to
// that server, so exiting would only make the tunnel restart.
func (d *serverDaemon) attach(ctx context.Context, bindErr error) error {
	record, ok := workspace.FindDaemon(d.identity)
	if !ok || record.DaemonPort != d.port {
		return bindErr
	}
	client := d.client(record.Address())
	if err := d.ping(ctx, client); err != nil {
		return fmt.Errorf("%w (holder does not answer: %v)", bindErr, err)
	}

	d.logger.Info("attached to running server", "pid", record.PID, "port", record.DaemonPort)
	ticker := time.NewTicker(attachPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.ping(ctx, client); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("attached server stopped answering: %w", err)
			}
		}
	}
}

func (d *serverDaemon) client(address string) *service.Client {
	client := service.NewClient(address)
	client.DialTimeout = d.config.Daemon.DialTimeout
	client.ResponseTimeout = d.config.Daemon.IOTimeout
	client.MaxMessageSize = d.config.Daemon.MaxMessageSize
	return client
}

func (d *serverDaemon) ping(ctx context.Context, client *service.Client) error {
	var response ipc.InitResponse
	return client.Call(ctx, &ipc.InitRequest{
		Version:   ipc.ProtocolVersion,
		Workspace: d.identity.ProjectPath,
	}, &response)
}

func (d *serverDaemon) indexHash() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record.IndexHash
}

// setIndexHash records hash and republishes the record if it moved.
func (d *serverDaemon) setIndexHash(hash uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.record.IndexHash == hash {
		return
	}
	d.record.IndexHash = hash
	if err := workspace.PublishDaemon(d.identity, d.record); err != nil {
		d.logger.Warn("updating server record", "error", err)
	}
}

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
	"path"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/tether/lib/config"
	"github.com/bureau-foundation/tether/lib/ipc"
	"github.com/bureau-foundation/tether/lib/netutil"
	"github.com/bureau-foundation/tether/lib/process"
	"github.com/bureau-foundation/tether/lib/service"
	"github.com/bureau-foundation/tether/lib/shell"
	"github.com/bureau-foundation/tether/lib/tunnel"
	"github.com/bureau-foundation/tether/lib/version"
	"github.com/bureau-foundation/tether/lib/workspace"
)

// errTunnelUnavailable is returned for remote requests once the tunnel
// has failed for good. The daemon keeps serving local requests.
var errTunnelUnavailable = errors.New("tunnel unavailable")

// verifyRetryInterval spaces Init attempts while the remote server
// starts.
const verifyRetryInterval = 250 * time.Millisecond

type daemonOptions struct {
	Host      string
	Workspace string
	LocalDir  string

	// Zero ports are chosen at startup.
	DaemonPort int
	LocalPort  int
	RemotePort int

	Config *config.Config
	Logger *slog.Logger

	// TunnelOptions are appended to the daemon's own session options.
	TunnelOptions []tunnel.Option
}

// clientDaemon is the state shared by the client daemon's handlers.
type clientDaemon struct {
	options  daemonOptions
	identity workspace.Identity
	config   *config.Config
	runner   *shell.Runner
	registry *ipc.Registry[*clientDaemon]
	logger   *slog.Logger

	// Set before the server starts; read-only afterwards.
	session *tunnel.Session
	remote  *service.Client

	// mu guards record, including the current index hash.
	mu     sync.Mutex
	record workspace.DaemonRecord
}

func newClientDaemon(options daemonOptions) (*clientDaemon, error) {
	// The workspace names a directory on the remote host, so it cannot be
	// resolved against this host's working directory.
	if !path.IsAbs(options.Workspace) {
		return nil, fmt.Errorf("workspace %q must be an absolute path on %s", options.Workspace, options.Host)
	}
	resolver, err := workspace.NewResolver(options.Config.Paths.Root, workspace.RoleClient, options.Host)
	if err != nil {
		return nil, err
	}
	identity, err := resolver.Resolve(options.Workspace)
	if err != nil {
		return nil, err
	}
	return &clientDaemon{
		options:  options,
		identity: identity,
		config:   options.Config,
		runner: &shell.Runner{
			Binary:    options.Config.Shell.Binary,
			Timeout:   options.Config.Shell.Timeout,
			MaxOutput: (options.Config.Daemon.MaxMessageSize - 1024) / 2,
		},
		registry: newClientRegistry(),
		logger:   options.Logger.With("host", options.Host),
	}, nil
}

// run claims the workspace, starts the tunnel, verifies the remote
// server, and serves until ctx is cancelled or an Exit request is
// handled. The record is retracted and the tunnel closed on every path
// out.
func (d *clientDaemon) run(ctx context.Context) error {
	listener, err := netutil.ListenLoopback(d.options.DaemonPort)
	if err != nil {
		return err
	}
	closeListener := true
	defer func() {
		if closeListener {
			listener.Close()
		}
	}()

	localPort, remotePort, err := d.choosePorts()
	if err != nil {
		return err
	}

	binaryHash, _, err := version.SelfHash()
	if err != nil {
		d.logger.Warn("cannot hash own binary", "error", err)
	}
	record := workspace.DaemonRecord{
		Host:       d.identity.Host,
		Workspace:  d.identity.ProjectPath,
		DaemonPort: netutil.ListenerPort(listener),
		LocalPort:  localPort,
		RemotePort: remotePort,
		PID:        os.Getpid(),
		StartedAt:  time.Now().Unix(),
		Version:    version.Short(),
		BinaryHash: binaryHash,
	}
	if err := d.claim(ctx, record); err != nil {
		return err
	}
	defer d.retract()

	session, err := tunnel.New(tunnel.Config{
		Host:             d.options.Host,
		LocalPort:        localPort,
		RemotePort:       remotePort,
		Workspace:        d.identity.ProjectPath,
		SSHBinary:        d.config.Tunnel.SSHBinary,
		SSHArgs:          d.config.Tunnel.SSHArgs,
		RemoteExecutable: d.config.Tunnel.RemoteExecutable,
		GracePeriod:      d.config.Tunnel.GracePeriod,
		RestartDelay:     d.config.Tunnel.RestartDelay,
		StopTimeout:      d.config.Tunnel.StopTimeout,
		MaxRetries:       d.config.Tunnel.MaxRetries,
	}, append([]tunnel.Option{
		tunnel.WithLogger(d.logger),
		tunnel.WithObserver(d.observeTunnel),
	}, d.options.TunnelOptions...)...)
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting tunnel: %w", err)
	}
	d.session = session
	defer func() {
		if err := session.Close(); err != nil {
			d.logger.Error("tunnel ended with error", "error", err)
		}
	}()

	d.remote = service.NewClient(net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)))
	d.remote.DialTimeout = d.config.Daemon.DialTimeout
	d.remote.ResponseTimeout = d.config.Shell.Timeout + d.config.Daemon.IOTimeout
	d.remote.MaxMessageSize = d.config.Daemon.MaxMessageSize

	if err := d.verify(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	server := service.NewServer(listener, d.registry, d, service.ServerConfig{
		IOTimeout:      d.config.Daemon.IOTimeout,
		MaxMessageSize: d.config.Daemon.MaxMessageSize,
		OnExit:         cancel,
	}, d.logger)
	closeListener = false

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(groupContext)
	})
	group.Go(func() error {
		d.watchTunnel(groupContext)
		return nil
	})
	err = group.Wait()

	d.stopRemote()
	d.logger.Info("daemon stopped")
	return err
}

func (d *clientDaemon) choosePorts() (localPort, remotePort int, err error) {
	localPort = d.options.LocalPort
	if localPort == 0 {
		reserved, err := netutil.ListenLoopback(0)
		if err != nil {
			return 0, 0, fmt.Errorf("choosing tunnel port: %w", err)
		}
		localPort = netutil.ListenerPort(reserved)
		reserved.Close()
	}
	remotePort = d.options.RemotePort
	if remotePort == 0 {
		remotePort, err = netutil.RandomPort(d.config.Daemon.PortRangeStart, d.config.Daemon.PortRangeEnd, localPort)
		if err != nil {
			return 0, 0, err
		}
	}
	return localPort, remotePort, nil
}

// claim writes record unless another daemon holds the workspace. A
// record is stale, and replaced, only when its daemon neither answers
// nor exists: a daemon that is still verifying its tunnel does not
// answer yet but keeps the workspace.
func (d *clientDaemon) claim(ctx context.Context, record workspace.DaemonRecord) error {
	err := workspace.ClaimDaemon(d.identity, record)
	if !errors.Is(err, workspace.ErrDaemonExists) {
		if err == nil {
			d.setRecord(record)
		}
		return err
	}

	existing, ok := workspace.FindDaemon(d.identity)
	if ok {
		if pingErr := d.ping(ctx, existing.Address()); pingErr == nil {
			return fmt.Errorf("daemon for %s on %s already running (pid %d): %w",
				d.identity.ProjectPath, d.identity.Host, existing.PID, workspace.ErrDaemonExists)
		}
		if process.Alive(existing.PID) {
			return fmt.Errorf("daemon for %s on %s (pid %d) holds %s but does not answer yet: %w",
				d.identity.ProjectPath, d.identity.Host, existing.PID, d.identity.RecordPath(), workspace.ErrDaemonExists)
		}
		d.logger.Info("replacing stale daemon record", "pid", existing.PID, "port", existing.DaemonPort)
	}

	// Another daemon may have replaced the stale record meanwhile.
	if current, found := workspace.FindDaemon(d.identity); found != ok || (found && !sameDaemon(current, existing)) {
		return fmt.Errorf("daemon record for %s on %s changed while claiming: %w",
			d.identity.ProjectPath, d.identity.Host, workspace.ErrDaemonExists)
	}
	if err := workspace.RetractDaemon(d.identity); err != nil {
		return err
	}
	if err := workspace.ClaimDaemon(d.identity, record); err != nil {
		return err
	}
	d.setRecord(record)
	return nil
}

// sameDaemon reports whether two records were written by the same
// daemon. Daemons in one process share a PID but never a port.
func sameDaemon(a, b workspace.DaemonRecord) bool {
	return a.PID == b.PID && a.DaemonPort == b.DaemonPort && a.StartedAt == b.StartedAt
}

// ownsRecord reports whether the record on disk is still this daemon's.
// Callers hold d.mu.
func (d *clientDaemon) ownsRecord() bool {
	current, ok := workspace.FindDaemon(d.identity)
	return ok && sameDaemon(current, d.record)
}

// retract removes the record unless another daemon has since replaced
// it.
func (d *clientDaemon) retract() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ownsRecord() {
		d.logger.Warn("daemon record was replaced, leaving it in place")
		return
	}
	if err := workspace.RetractDaemon(d.identity); err != nil {
		d.logger.Error("retracting daemon record", "error", err)
	}
}

func (d *clientDaemon) ping(ctx context.Context, address string) error {
	client := service.NewClient(address)
	client.DialTimeout = d.config.Daemon.DialTimeout
	client.ResponseTimeout = d.config.Daemon.IOTimeout
	var response ipc.InitResponse
	return client.Call(ctx, &ipc.InitRequest{Version: ipc.ProtocolVersion}, &response)
}

// verify performs the Init handshake with the remote server, retrying
// while the tunnel comes up.
func (d *clientDaemon) verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.Daemon.ReadyTimeout)
	defer cancel()

	request := &ipc.InitRequest{Version: ipc.ProtocolVersion, Workspace: d.identity.ProjectPath}
	for attempt := 1; ; attempt++ {
		var response ipc.InitResponse
		err := d.remote.Call(ctx, request, &response)
		if err == nil {
			if response.Role != ipc.RoleServerDaemon || response.Version != ipc.ProtocolVersion {
				return fmt.Errorf("remote answered as %s protocol %d, want %s protocol %d",
					response.Role, response.Version, ipc.RoleServerDaemon, ipc.ProtocolVersion)
			}
			d.setIndexHash(response.IndexHash)
			d.logger.Info("remote server verified", "attempts", attempt, "index_hash", response.IndexHash)
			return nil
		}

		var remote *service.RemoteError
		if errors.As(err, &remote) {
			return fmt.Errorf("remote server rejected handshake: %s", remote.Message)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("remote server did not answer within %v: %w", d.config.Daemon.ReadyTimeout, err)
		case <-d.session.Done():
			return fmt.Errorf("tunnel failed before the remote server answered: %w", d.session.Err())
		case <-time.After(verifyRetryInterval):
		}
	}
}

// watchTunnel logs a fatal tunnel failure. The daemon stays up so local
// requests and status keep working.
func (d *clientDaemon) watchTunnel(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-d.session.Done():
		if err := d.session.Err(); err != nil {
			d.logger.Error("tunnel failed, remote requests unavailable", "error", err)
		}
	}
}

func (d *clientDaemon) observeTunnel(transition tunnel.Transition) {
	attributes := []any{
		"from", transition.From.String(),
		"to", transition.To.String(),
		"retries", transition.RetryCount,
	}
	if transition.Err != nil {
		attributes = append(attributes, "error", transition.Err)
	}
	d.logger.Info("tunnel state changed", attributes...)
}

// stopRemote asks the remote server to exit. Best effort: the tunnel
// may already be down.
func (d *clientDaemon) stopRemote() {
	if d.session.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Daemon.IOTimeout)
	defer cancel()
	var response ipc.ExitResponse
	if err := d.remote.Call(ctx, &ipc.ExitRequest{}, &response); err != nil {
		d.logger.Warn("remote server did not acknowledge exit", "error", err)
	}
}

// forward sends request through the tunnel. Errors reported by the
// remote server pass through with their original message.
func (d *clientDaemon) forward(ctx context.Context, request, response ipc.Message) error {
	if err := d.session.Err(); err != nil {
		return fmt.Errorf("%w: %v", errTunnelUnavailable, err)
	}
	err := d.remote.Call(ctx, request, response)
	var remote *service.RemoteError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &remote):
		return errors.New(remote.Message)
	case service.IsUnavailable(err):
		return fmt.Errorf("remote server unreachable (tunnel %v): %w", d.session.Status().State, err)
	default:
		return err
	}
}

func (d *clientDaemon) setRecord(record workspace.DaemonRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record = record
}

func (d *clientDaemon) indexHash() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record.IndexHash
}

// setIndexHash updates the current index hash and persists it to the
// record.
func (d *clientDaemon) setIndexHash(hash uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.record.IndexHash == hash {
		return
	}
	d.record.IndexHash = hash
	if !d.ownsRecord() {
		d.logger.Warn("daemon record was replaced, not updating it")
		return
	}
	if err := workspace.PublishDaemon(d.identity, d.record); err != nil {
		d.logger.Warn("updating daemon record", "error", err)
	}
}

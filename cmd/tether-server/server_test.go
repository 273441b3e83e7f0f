// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/tether/lib/config"
	"github.com/bureau-foundation/tether/lib/ipc"
	"github.com/bureau-foundation/tether/lib/netutil"
	"github.com/bureau-foundation/tether/lib/service"
	"github.com/bureau-foundation/tether/lib/testutil"
	"github.com/bureau-foundation/tether/lib/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type runningServer struct {
	daemon *serverDaemon
	client *service.Client
	port   int
	done   chan error
	cancel context.CancelFunc
}

func newTestDaemon(t *testing.T, project, root string, port int) *serverDaemon {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Root = root
	daemon, err := newServerDaemon(serverOptions{
		Workspace: project,
		Port:      port,
		Host:      "devbox",
		Config:    cfg,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("newServerDaemon: %v", err)
	}
	return daemon
}

func startServer(t *testing.T, project string) *runningServer {
	t.Helper()
	listener, err := netutil.ListenLoopback(0)
	if err != nil {
		t.Fatal(err)
	}
	port := netutil.ListenerPort(listener)
	daemon := newTestDaemon(t, project, t.TempDir(), port)

	ctx, cancel := context.WithCancel(context.Background())
	running := &runningServer{
		daemon: daemon,
		client: daemon.client(listener.Addr().String()),
		port:   port,
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() { running.done <- daemon.serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-running.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	waitContext, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if _, err := workspace.WaitDaemon(waitContext, daemon.identity); err != nil {
		t.Fatalf("server record never appeared: %v", err)
	}
	return running
}

func TestInit(t *testing.T) {
	project := testutil.WorkspaceTree(t, "main.go")
	server := startServer(t, project)
	ctx := context.Background()

	var response ipc.InitResponse
	if err := server.client.Call(ctx, &ipc.InitRequest{Version: ipc.ProtocolVersion, Workspace: project}, &response); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if response.Role != ipc.RoleServerDaemon || response.Workspace != project || response.Version != ipc.ProtocolVersion {
		t.Errorf("InitResponse = %+v", response)
	}

	var remote *service.RemoteError
	err := server.client.Call(ctx, &ipc.InitRequest{Version: ipc.ProtocolVersion + 1}, &response)
	if !errors.As(err, &remote) {
		t.Errorf("Init with wrong version: error = %v, want RemoteError", err)
	}
	err = server.client.Call(ctx, &ipc.InitRequest{Version: ipc.ProtocolVersion, Workspace: "/elsewhere"}, &response)
	if !errors.As(err, &remote) {
		t.Errorf("Init for another workspace: error = %v, want RemoteError", err)
	}
}

func TestShellEchoHi(t *testing.T) {
	server := startServer(t, testutil.WorkspaceTree(t, "main.go"))

	var response ipc.ShellResponse
	err := server.client.Call(context.Background(), &ipc.ShellRequest{Args: []string{"echo", "hi"}}, &response)
	if err != nil {
		t.Fatalf("Shell: %v", err)
	}
	if response.Status != 0 {
		t.Errorf("Status = %d, want 0", response.Status)
	}
	if string(response.Stdout) != "hi\n" {
		t.Errorf("Stdout = %q, want %q", response.Stdout, "hi\n")
	}
}

func TestShellOutputFitsInOneFrame(t *testing.T) {
	server := startServer(t, testutil.WorkspaceTree(t, "main.go"))

	var response ipc.ShellResponse
	request := &ipc.ShellRequest{Args: []string{"head", "-c", "3000000", "/dev/zero"}}
	if err := server.client.Call(context.Background(), request, &response); err != nil {
		t.Fatalf("Shell: %v", err)
	}
	limit := (server.daemon.config.Daemon.MaxMessageSize - 1024) / 2
	if len(response.Stdout) != limit {
		t.Errorf("len(Stdout) = %d, want %d", len(response.Stdout), limit)
	}
}

func TestShellRunsInWorkspaceDirectory(t *testing.T) {
	project := testutil.WorkspaceTree(t, "lib/a.go")
	server := startServer(t, project)

	var response ipc.ShellResponse
	err := server.client.Call(context.Background(), &ipc.ShellRequest{Directory: "lib", Args: []string{"ls"}}, &response)
	if err != nil {
		t.Fatalf("Shell: %v", err)
	}
	if string(response.Stdout) != "a.go\n" {
		t.Errorf("Stdout = %q, want a.go", response.Stdout)
	}

	var remote *service.RemoteError
	err = server.client.Call(context.Background(), &ipc.ShellRequest{Directory: "..", Args: []string{"ls"}}, &response)
	if !errors.As(err, &remote) {
		t.Errorf("Shell outside workspace: error = %v, want RemoteError", err)
	}
}

func TestIndexUpdatesRecord(t *testing.T) {
	server := startServer(t, testutil.WorkspaceTree(t, "main.go", "lib/a.go"))
	ctx := context.Background()

	var first ipc.IndexResponse
	if err := server.client.Call(ctx, &ipc.IndexRequest{}, &first); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if !first.Changed || first.FileCount != 2 {
		t.Errorf("first IndexResponse = %+v", first)
	}
	if _, err := os.Stat(first.IndexFile); err != nil {
		t.Errorf("index file: %v", err)
	}
	record, ok := workspace.FindDaemon(server.daemon.identity)
	if !ok || record.IndexHash != first.Hash {
		t.Errorf("record IndexHash = %x (found %v), want %x", record.IndexHash, ok, first.Hash)
	}

	var second ipc.IndexResponse
	if err := server.client.Call(ctx, &ipc.IndexRequest{PrevHash: first.Hash}, &second); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if second.Changed || second.Hash != first.Hash {
		t.Errorf("second IndexResponse = %+v", second)
	}

	var initResponse ipc.InitResponse
	if err := server.client.Call(ctx, &ipc.InitRequest{Version: ipc.ProtocolVersion}, &initResponse); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if initResponse.IndexHash != first.Hash {
		t.Errorf("Init IndexHash = %x, want %x", initResponse.IndexHash, first.Hash)
	}
}

func TestLs(t *testing.T) {
	server := startServer(t, testutil.WorkspaceTree(t, "main.go", "lib/a.go"))

	var response ipc.LsResponse
	if err := server.client.Call(context.Background(), &ipc.LsRequest{}, &response); err != nil {
		t.Fatalf("Ls: %v", err)
	}
	if len(response.Entries) != 2 || response.Entries[0] != "lib/" || response.Entries[1] != "main.go" {
		t.Errorf("Entries = %v", response.Entries)
	}
}

func TestGetFile(t *testing.T) {
	project := testutil.WorkspaceTree(t, "main.go", "lib/a.go")
	server := startServer(t, project)
	ctx := context.Background()

	var response ipc.GetFileResponse
	if err := server.client.Call(ctx, &ipc.GetFileRequest{FilePath: "lib/a.go"}, &response); err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if response.FilePath != "lib/a.go" || string(response.Contents) != "lib/a.go" || !response.Changed {
		t.Errorf("GetFileResponse = %+v", response)
	}

	var again ipc.GetFileResponse
	if err := server.client.Call(ctx, &ipc.GetFileRequest{FilePath: "lib/a.go", PrevHash: response.Hash}, &again); err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if again.Changed || again.Contents != nil {
		t.Errorf("unchanged GetFileResponse = %+v", again)
	}

	var remote *service.RemoteError
	for _, path := range []string{"../outside", "missing.go", "lib"} {
		err := server.client.Call(ctx, &ipc.GetFileRequest{FilePath: path}, &response)
		if !errors.As(err, &remote) {
			t.Errorf("GetFile(%q): error = %v, want RemoteError", path, err)
		}
	}
}

func TestGetFileTooLargeIsRefused(t *testing.T) {
	project := testutil.WorkspaceTree(t)
	big := make([]byte, 2<<20)
	if err := os.WriteFile(project+"/big.bin", big, 0o644); err != nil {
		t.Fatal(err)
	}
	server := startServer(t, project)

	var response ipc.GetFileResponse
	var remote *service.RemoteError
	err := server.client.Call(context.Background(), &ipc.GetFileRequest{FilePath: "big.bin"}, &response)
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "too large") {
		t.Errorf("GetFile(big.bin): error = %v, want a too large RemoteError", err)
	}
}

func TestMalformedRequestIsDropped(t *testing.T) {
	server := startServer(t, testutil.WorkspaceTree(t, "main.go"))
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(server.port))

	for name, raw := range map[string][]byte{
		"not cbor":      {0xff, 0x00},
		"not an array":  {0x01},
		"unknown tag":   {0x81, 0x18, 0x63},
		"response type": {0x82, 0x0a, 0x00},
	} {
		conn, err := net.Dial("tcp", address)
		if err != nil {
			t.Fatalf("%s: dial: %v", name, err)
		}
		if err := ipc.WriteFrame(conn, raw); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := ipc.ReadFrame(conn, ipc.DefaultMaxFrameSize); !errors.Is(err, io.EOF) {
			t.Errorf("%s: read error = %v, want EOF (no response)", name, err)
		}
		conn.Close()
	}

	var response ipc.ShellResponse
	if err := server.client.Call(context.Background(), &ipc.ShellRequest{Args: []string{"true"}}, &response); err != nil {
		t.Errorf("daemon unavailable after malformed requests: %v", err)
	}
}

func TestExitStopsServerAndRetractsRecord(t *testing.T) {
	server := startServer(t, testutil.WorkspaceTree(t, "main.go"))
	if _, ok := workspace.FindDaemon(server.daemon.identity); !ok {
		t.Fatal("server record not published")
	}

	var response ipc.ExitResponse
	if err := server.client.Call(context.Background(), &ipc.ExitRequest{}, &response); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if err := testutil.RequireReceive(t, server.done, 5*time.Second, "serve did not return after Exit"); err != nil {
		t.Errorf("serve returned %v", err)
	}
	server.done <- nil // let cleanup observe the stop

	if _, ok := workspace.FindDaemon(server.daemon.identity); ok {
		t.Error("record still present after exit")
	}
}

func TestAttachToRunningServer(t *testing.T) {
	project := testutil.WorkspaceTree(t, "main.go")
	server := startServer(t, project)

	second := newTestDaemon(t, project, server.daemon.config.Paths.Root, server.port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- second.run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("attached server returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "attached server did not stop"); err != nil {
		t.Errorf("attached run returned %v", err)
	}
}

func TestPortHeldByStrangerFails(t *testing.T) {
	listener, err := netutil.ListenLoopback(0)
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	daemon := newTestDaemon(t, testutil.WorkspaceTree(t, "main.go"), t.TempDir(), netutil.ListenerPort(listener))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := daemon.run(ctx); err == nil {
		t.Error("run succeeded on a port held by an unrelated listener")
	}
}

func TestNewServerDaemonRejectsMissingWorkspace(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Root = t.TempDir()
	_, err := newServerDaemon(serverOptions{
		Workspace: t.TempDir() + "/absent",
		Port:      50000,
		Host:      "devbox",
		Config:    cfg,
		Logger:    testLogger(),
	})
	if err == nil {
		t.Error("expected error for missing workspace")
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

// WorkspaceTree creates a temporary project directory containing the
// given files (slash-separated, relative to the root). Parent
// directories are created as needed. Each file's content is its own
// relative path, so files are distinguishable when read back.
func WorkspaceTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, relative := range files {
		path := filepath.Join(root, filepath.FromSlash(relative))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating parent of %s: %v", relative, err)
		}
		if err := os.WriteFile(path, []byte(relative), 0o644); err != nil {
			t.Fatalf("writing %s: %v", relative, err)
		}
	}
	return root
}

// FreePort returns a loopback TCP port that was free at the time of the
// call. The listener is closed before returning, so a racing process
// could take it; tests accept that.
func FreePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving loopback port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		t.Fatalf("releasing loopback port: %v", err)
	}
	return port
}

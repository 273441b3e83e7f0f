// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun_Echo(t *testing.T) {
	runner := &Runner{Timeout: 10 * time.Second}

	result, err := runner.Run(context.Background(), t.TempDir(), []string{"echo", "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != 0 {
		t.Errorf("Status = %d, want 0", result.Status)
	}
	if string(result.Stdout) != "hi\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hi\n")
	}
	if len(result.Stderr) != 0 {
		t.Errorf("Stderr = %q, want empty", result.Stderr)
	}
}

func TestRun_StatusAndStderr(t *testing.T) {
	runner := &Runner{Timeout: 10 * time.Second}

	result, err := runner.Run(context.Background(), t.TempDir(), []string{"echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != 3 {
		t.Errorf("Status = %d, want 3", result.Status)
	}
	if string(result.Stderr) != "oops\n" {
		t.Errorf("Stderr = %q, want %q", result.Stderr, "oops\n")
	}
}

func TestRun_Directory(t *testing.T) {
	directory := t.TempDir()
	if err := os.WriteFile(filepath.Join(directory, "marker"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &Runner{Timeout: 10 * time.Second}

	result, err := runner.Run(context.Background(), directory, []string{"ls"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(result.Stdout)) != "marker" {
		t.Errorf("Stdout = %q, want marker", result.Stdout)
	}
}

func TestRun_Timeout(t *testing.T) {
	runner := &Runner{Timeout: 100 * time.Millisecond, GracePeriod: 100 * time.Millisecond}

	start := time.Now()
	_, err := runner.Run(context.Background(), t.TempDir(), []string{"sleep", "30"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timed-out command took %v to return", elapsed)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &Runner{}

	if _, err := runner.Run(ctx, t.TempDir(), []string{"true"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestRun_TruncatesOutput(t *testing.T) {
	runner := &Runner{Timeout: 10 * time.Second, MaxOutput: 4}

	result, err := runner.Run(context.Background(), t.TempDir(), []string{"printf", "abcdefgh"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(result.Stdout) != "abcd" || !result.Truncated {
		t.Errorf("Stdout = %q truncated=%v, want %q truncated", result.Stdout, result.Truncated, "abcd")
	}
}

func TestRun_TruncatesLargeOutput(t *testing.T) {
	runner := &Runner{Timeout: 30 * time.Second, MaxOutput: 1024}

	result, err := runner.Run(context.Background(), t.TempDir(), []string{"head", "-c", "3000000", "/dev/zero"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Stdout) != 1024 || !result.Truncated {
		t.Errorf("len(Stdout) = %d truncated=%v, want 1024 truncated", len(result.Stdout), result.Truncated)
	}
	if result.Status != 0 {
		t.Errorf("Status = %d, want 0", result.Status)
	}
}

func TestRun_Errors(t *testing.T) {
	runner := &Runner{Binary: filepath.Join(t.TempDir(), "no-such-shell")}

	if _, err := runner.Run(context.Background(), t.TempDir(), nil); err == nil {
		t.Error("expected error for empty command")
	}
	if _, err := runner.Run(context.Background(), t.TempDir(), []string{"true"}); err == nil {
		t.Error("expected error for missing shell binary")
	}
}

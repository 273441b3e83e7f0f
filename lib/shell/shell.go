// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shell runs shell requests in a workspace directory with a
// bounded run time and bounded captured output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bureau-foundation/tether/lib/process"
)

// ErrTimeout is returned when a command outlives the runner's timeout.
var ErrTimeout = errors.New("shell command timed out")

// DefaultGracePeriod is the time between SIGTERM and SIGKILL when a
// command is cancelled.
const DefaultGracePeriod = 2 * time.Second

// Result is the outcome of a command that ran to completion.
type Result struct {
	// Status is the exit code, or -1 if the command was killed by a
	// signal.
	Status int
	Stdout []byte
	Stderr []byte

	// Truncated is set when either stream exceeded the output limit.
	Truncated bool
}

// Runner executes commands through a POSIX shell.
type Runner struct {
	// Binary is the shell, invoked as "<Binary> -c <command>".
	Binary string

	// Timeout bounds each command. Zero means no bound beyond ctx.
	Timeout time.Duration

	// GracePeriod is passed to process.GracefulCancel.
	GracePeriod time.Duration

	// MaxOutput caps each captured stream in bytes. Zero means no cap.
	MaxOutput int
}

// Run executes args joined with spaces as one shell command line in
// directory. A command that exits non-zero is not an error; its status
// is in the Result.
func (r *Runner) Run(ctx context.Context, directory string, args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, errors.New("shell request has no command")
	}
	binary := r.Binary
	if binary == "" {
		binary = "sh"
	}
	grace := r.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	commandLine := strings.Join(args, " ")
	cmd := exec.CommandContext(runCtx, binary, "-c", commandLine)
	cmd.Dir = directory
	process.Isolate(cmd)
	release := process.GracefulCancel(cmd, grace)
	defer release()

	stdout := &cappedBuffer{limit: r.MaxOutput}
	stderr := &cappedBuffer{limit: r.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	if runCtx.Err() != nil && ctx.Err() == nil {
		return Result{}, fmt.Errorf("%q after %v: %w", commandLine, r.Timeout, ErrTimeout)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	status, err := process.ExitStatus(runErr)
	if err != nil {
		return Result{}, fmt.Errorf("running %q in %s: %w", commandLine, directory, err)
	}
	return Result{
		Status:    status,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdout.truncated || stderr.truncated,
	}, nil
}

// cappedBuffer keeps the first limit bytes written and discards the
// rest. Writes always report full success so the child never sees
// EPIPE. The buffer is a named field: an embedded bytes.Buffer would
// promote ReadFrom, which io.Copy prefers over Write.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(data []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(data)
	}
	room := b.limit - b.buf.Len()
	if room < len(data) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(data[:room])
		}
		return len(data), nil
	}
	return b.buf.Write(data)
}

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }

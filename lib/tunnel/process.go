// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"errors"
	"fmt"
	"io"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/tether/lib/process"
)

// Process is a running tunnel process.
type Process interface {
	// PID identifies the process (and its process group) in logs.
	PID() int

	// Exited is closed once the process has exited and been reaped.
	Exited() <-chan struct{}

	// ExitError is the result of waiting on the process. Only valid
	// after Exited is closed.
	ExitError() error

	// Signal delivers sig to the process and everything it spawned.
	Signal(sig unix.Signal) error
}

// Spawner starts tunnel processes.
type Spawner interface {
	Spawn(argv []string) (Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(argv []string) (Process, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(argv []string) (Process, error) { return f(argv) }

// ExecSpawner runs tunnel processes with os/exec, each in its own
// process group. The process's stdout and stderr go to Output (discarded
// when nil); for ssh that is the remote daemon's output plus ssh's own
// diagnostics.
type ExecSpawner struct {
	Output io.Writer
}

// Spawn starts argv and begins reaping it in the background.
func (s ExecSpawner) Spawn(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty tunnel command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = s.Output
	cmd.Stderr = s.Output
	process.Isolate(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	child := &execProcess{cmd: cmd, exited: make(chan struct{})}
	go func() {
		child.waitErr = cmd.Wait()
		close(child.exited)
	}()
	return child, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

func (p *execProcess) PID() int                { return p.cmd.Process.Pid }
func (p *execProcess) Exited() <-chan struct{} { return p.exited }
func (p *execProcess) ExitError() error        { return p.waitErr }

func (p *execProcess) Signal(sig unix.Signal) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	return process.SignalGroup(p.cmd.Process.Pid, sig)
}

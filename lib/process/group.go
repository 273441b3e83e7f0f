// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Isolate configures cmd to start in a new process group whose ID is
// the child's PID. Call before Start.
func Isolate(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// SignalGroup delivers signal to every process in the group led by pid.
// A group that no longer exists is not an error.
func SignalGroup(pid int, signal unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid process group leader %d", pid)
	}
	err := unix.Kill(-pid, signal)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("signalling process group %d with %v: %w", pid, signal, err)
	}
	return nil
}

// Alive reports whether a process with pid exists. A process owned by
// another user counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// GracefulCancel installs a Cancel function on cmd that sends SIGTERM to
// the child's process group when the command's context is cancelled,
// then SIGKILL once grace has elapsed. A zero grace kills immediately.
// cmd must also be passed to Isolate.
//
// Call release once Wait has returned. It stops a pending SIGKILL, since
// the group's ID may be reused after the group is gone, and reports
// whether one was pending.
func GracefulCancel(cmd *exec.Cmd, grace time.Duration) (release func() bool) {
	var (
		mu       sync.Mutex
		kill     *time.Timer
		released bool
	)
	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		if grace <= 0 {
			return SignalGroup(pid, unix.SIGKILL)
		}
		if err := SignalGroup(pid, unix.SIGTERM); err != nil {
			return SignalGroup(pid, unix.SIGKILL)
		}
		mu.Lock()
		defer mu.Unlock()
		if !released {
			kill = time.AfterFunc(grace, func() {
				_ = SignalGroup(pid, unix.SIGKILL)
			})
		}
		return nil
	}
	// Wait must not block forever on pipes held open by a grandchild
	// that ignored SIGTERM.
	cmd.WaitDelay = grace + time.Second

	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		released = true
		return kill != nil && kill.Stop()
	}
}

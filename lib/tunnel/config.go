// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Config describes one forwarding tunnel and its restart policy.
type Config struct {
	// Host is the SSH destination (a host name or ssh_config alias).
	Host string

	// LocalPort is bound on the local loopback interface; connections to
	// it are forwarded to RemotePort on the remote host's loopback.
	LocalPort  int
	RemotePort int

	// Workspace is the project path on the remote host, passed to the
	// remote executable.
	Workspace string

	// SSHBinary and SSHArgs form the start of the command line.
	SSHBinary string
	SSHArgs   []string

	// RemoteExecutable starts the server daemon on the remote host.
	RemoteExecutable string

	GracePeriod  time.Duration
	RestartDelay time.Duration
	StopTimeout  time.Duration

	// MaxRetries is the number of consecutive failed runs tolerated.
	// The run after that is not attempted.
	MaxRetries int
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("tunnel host is empty"))
	}
	if !validPort(c.LocalPort) {
		errs = append(errs, fmt.Errorf("tunnel local port %d out of range", c.LocalPort))
	}
	if !validPort(c.RemotePort) {
		errs = append(errs, fmt.Errorf("tunnel remote port %d out of range", c.RemotePort))
	}
	if c.Workspace == "" {
		errs = append(errs, errors.New("tunnel workspace is empty"))
	}
	if c.SSHBinary == "" {
		errs = append(errs, errors.New("tunnel ssh binary is empty"))
	}
	if c.RemoteExecutable == "" {
		errs = append(errs, errors.New("tunnel remote executable is empty"))
	}
	if c.GracePeriod <= 0 || c.RestartDelay < 0 || c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tunnel timings must be positive (grace %v, restart delay %v, stop timeout %v)",
			c.GracePeriod, c.RestartDelay, c.StopTimeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("tunnel max retries %d is negative", c.MaxRetries))
	}
	return errors.Join(errs...)
}

// Command returns the argv of the tunnel process:
//
//	ssh [args...] -o ExitOnForwardFailure=yes -L <local>:localhost:<remote> <host> \
//	    <remote-executable> --workspace <path> --port <remote>
//
// ExitOnForwardFailure makes ssh exit when the forward cannot be
// established, so a taken port surfaces as a failed run instead of a
// live process that forwards nothing.
func (c Config) Command() []string {
	argv := []string{c.SSHBinary}
	argv = append(argv, c.SSHArgs...)
	argv = append(argv,
		"-o", "ExitOnForwardFailure=yes",
		"-L", strconv.Itoa(c.LocalPort)+":localhost:"+strconv.Itoa(c.RemotePort),
		c.Host,
		c.RemoteExecutable,
		"--workspace", c.Workspace,
		"--port", strconv.Itoa(c.RemotePort),
	)
	return argv
}

func validPort(port int) bool { return port > 0 && port <= 65535 }

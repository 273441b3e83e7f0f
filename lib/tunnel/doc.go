// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel supervises the SSH process that forwards a client
// daemon's local port to the server daemon on the remote host.
//
// A [Session] moves through these states:
//
//	Idle -> Starting -> Running -> Stopping -> Idle
//	           |  ^        |
//	           v  |        v
//	         Restarting <--+
//	           |
//	           v
//	         Failed
//
// Start spawns the process synchronously and reports spawn failures to
// the caller. A background monitor then waits on the process. A run that
// survives the grace period enters Running and clears the retry count.
// Every exit that Close did not ask for increments the retry count;
// once it exceeds MaxRetries the session enters Failed, closes Done,
// and reports a [*FatalError] from Err. Otherwise the monitor waits
// RestartDelay and spawns again.
//
// Close always wins over a pending restart: the stop flag is checked
// under the session lock immediately before every spawn. Close sends
// SIGTERM to the tunnel's process group, escalates to SIGKILL after
// StopTimeout, and returns only after the monitor has exited.
package tunnel

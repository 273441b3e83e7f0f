// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the child-process plumbing shared by tether's
// binaries: reporting a fatal error before the logger exists, placing
// children in their own process group, signalling that group, and
// turning a Wait error into an exit status.
//
// Tether children (the SSH tunnel, shell commands, fd) may fork
// helpers of their own. Signalling the group rather than the leader
// means nothing is left holding the tunnel port or the shell's output
// pipes after a stop.
package process

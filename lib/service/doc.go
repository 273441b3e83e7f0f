// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service runs tether's request/response protocol over TCP.
//
// [Server] is the accept loop shared by the client daemon (loopback
// listener for the CLI) and the server daemon (loopback listener reached
// through the tunnel). Every connection carries exactly one exchange:
// the peer writes one frame, the server decodes its envelope, dispatches
// it through an [ipc.Registry], writes at most one response frame, and
// closes. A connection whose bytes do not decode, or whose message type
// the role does not handle, is logged and closed without a response;
// nothing a single connection does can stop the loop.
//
// [Client] is the other side of that exchange: dial, write, half-close,
// read, with a bounded wait at every step. Failures to reach the daemon
// come back as [*TransportError]; a daemon-side handler failure comes
// back as [*RemoteError].
package service

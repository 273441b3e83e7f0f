// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace gives a project directory a stable identity and
// manages the daemon records that let a CLI find the daemon serving it.
//
// An [Identity] is derived from the cleaned absolute project path: its
// Hash is a 64-bit BLAKE3 digest of that path, and its RegistryDir is
// <root>/<role>/workspaces, where role is "client" or "server". The same
// path on the same host always resolves to the same identity, across
// processes and restarts.
//
// Each running daemon owns one [DaemonRecord] file in the registry
// directory, named <host>-<hash>.workspace and CBOR-encoded. The record
// is advisory, not a lock: its presence means "a daemon may be
// running". Writers never expose partial content ([PublishDaemon] uses
// rename, [ClaimDaemon] uses link), and readers treat an absent or
// undecodable file as no daemon at all.
//
// Two CLIs that simultaneously find no daemon may both spawn one. The
// daemon resolves this with [ClaimDaemon]: the first to link its record
// into place wins, the second gets [ErrDaemonExists] and exits before
// serving anything.
package workspace

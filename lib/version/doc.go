// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for tether
// binaries and detects when a running daemon is older than the binary
// installed on disk.
//
// # Build information
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// # Staleness
//
// Daemons record [SelfHash] in their workspace record. [Stale]
// compares that hash against a binary on disk.
package version

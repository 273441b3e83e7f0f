// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package index computes the file index and directory listings a
// daemon serves for its workspace.
//
// An index is the sorted list of regular files under a directory,
// relative to it and slash-separated, one per line. Its hash is the
// 64-bit BLAKE3 digest of that text. [Builder.Build] writes the text
// to <dir>/<hash>.index so the requester can read it from disk, and
// reports whether the hash moved since the caller's previous one.
//
// Listing uses fd when [config.Tools] found it and walks the tree
// otherwise. Both run with ignore files disabled and skip .git, so the
// hash does not depend on which path was taken.
package index

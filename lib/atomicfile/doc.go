// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile writes small files so that a concurrent reader sees
// either the old content or the new content, never a prefix.
//
// [Write] replaces a file: the data goes to a temporary sibling, is
// fsynced, and is renamed over the target. [CreateExclusive] publishes a
// file only if nothing exists at the target yet: the temporary sibling
// is hard-linked into place, and link(2) fails with EEXIST when the
// target is already present. Both sync the parent directory afterwards
// so the directory entry survives a crash.
//
// Temporary files live in the target's directory (rename and link do
// not cross filesystems) and carry a ".tmp-" infix so directory
// watchers can ignore them.
package atomicfile

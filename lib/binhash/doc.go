// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes the 64-bit BLAKE3 digests tether uses for
// workspace identities, index hashes, and directory listing hashes.
//
// A digest is the first eight bytes of the BLAKE3-256 output read as a
// little-endian uint64. Sixty-four bits is enough to detect change and
// to name registry files; collisions are an accepted risk rather than a
// handled case. Digests render as 16 lowercase hex digits.
package binhash

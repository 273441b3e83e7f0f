// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/zeebo/blake3"
)

// Sum64 returns the 64-bit digest of data.
func Sum64(data []byte) uint64 {
	full := blake3.Sum256(data)
	return binary.LittleEndian.Uint64(full[:8])
}

// Digest accumulates input for a 64-bit digest. The zero value is not
// usable; call New.
type Digest struct {
	hasher *blake3.Hasher
}

// New returns an empty Digest.
func New() *Digest {
	return &Digest{hasher: blake3.New()}
}

// Write adds p to the digest. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	return d.hasher.Write(p)
}

// WriteString adds s to the digest.
func (d *Digest) WriteString(s string) (int, error) {
	return d.hasher.Write([]byte(s))
}

// Sum64 returns the digest of everything written so far.
func (d *Digest) Sum64() uint64 {
	full := d.hasher.Sum(nil)
	return binary.LittleEndian.Uint64(full[:8])
}

// HashFile streams the file at path through the digest.
func HashFile(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest := New()
	if _, err := io.Copy(digest, file); err != nil {
		return 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest.Sum64(), nil
}

// Format renders a digest as 16 lowercase hex digits.
func Format(digest uint64) string {
	return fmt.Sprintf("%016x", digest)
}

// Parse is the inverse of Format.
func Parse(text string) (uint64, error) {
	if len(text) != 16 {
		return 0, fmt.Errorf("digest %q is %d characters, want 16", text, len(text))
	}
	digest, err := strconv.ParseUint(text, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing digest %q: %w", text, err)
	}
	return digest, nil
}

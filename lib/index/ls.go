// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"fmt"
	"os"
	"strings"

	"github.com/bureau-foundation/tether/lib/binhash"
)

// Listing is the content of one directory.
type Listing struct {
	Hash    uint64
	Entries []string
	Changed bool
}

// List reads the directory at relative under root. Entries are sorted
// by name and subdirectories carry a trailing slash. Changed compares
// the listing's hash against prevHash; an unchanged listing has nil
// Entries, since the caller already holds them.
func List(root, relative string, prevHash uint64) (Listing, error) {
	directory, err := Within(root, relative)
	if err != nil {
		return Listing{}, err
	}

	dirEntries, err := os.ReadDir(directory)
	if err != nil {
		return Listing{}, fmt.Errorf("listing %s: %w", relative, err)
	}

	entries := make([]string, 0, len(dirEntries))
	for _, entry := range dirEntries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		entries = append(entries, name)
	}

	hash := binhash.Sum64([]byte(strings.Join(entries, "\n")))
	if hash == prevHash {
		return Listing{Hash: hash}, nil
	}
	return Listing{Hash: hash, Entries: entries, Changed: true}, nil
}

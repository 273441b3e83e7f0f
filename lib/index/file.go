// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/tether/lib/binhash"
)

// ErrTooLarge is returned by ReadFile for a file over the size limit.
var ErrTooLarge = errors.New("file too large to fetch")

// File is the content of one workspace file.
type File struct {
	// Path is relative to the workspace root, with forward slashes.
	Path     string
	Hash     uint64
	Contents []byte
	Changed  bool
	Mode     fs.FileMode
}

// ReadFile reads the regular file at relative under root, refusing
// files larger than limit bytes (no limit when limit <= 0). The file is
// opened through an os.Root, so symlinks cannot lead out of the
// workspace. An unchanged file (hash equal to prevHash) has nil
// Contents.
func ReadFile(root, relative string, prevHash uint64, limit int64) (File, error) {
	full, err := Within(root, relative)
	if err != nil {
		return File{}, err
	}
	local, err := filepath.Rel(root, full)
	if err != nil || local == "." {
		return File{}, fmt.Errorf("%q is not a file in the workspace", relative)
	}

	workspaceRoot, err := os.OpenRoot(root)
	if err != nil {
		return File{}, fmt.Errorf("opening workspace %s: %w", root, err)
	}
	defer workspaceRoot.Close()

	file, err := workspaceRoot.Open(local)
	if err != nil {
		return File{}, fmt.Errorf("opening %s: %w", relative, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", relative, err)
	}
	if !info.Mode().IsRegular() {
		return File{}, fmt.Errorf("%s is not a regular file", relative)
	}
	if limit > 0 && info.Size() > limit {
		return File{}, fmt.Errorf("%s is %d bytes, limit %d: %w", relative, info.Size(), limit, ErrTooLarge)
	}

	reader := io.Reader(file)
	if limit > 0 {
		// The file may grow between Stat and the read.
		reader = io.LimitReader(file, limit+1)
	}
	contents, err := io.ReadAll(reader)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", relative, err)
	}
	if limit > 0 && int64(len(contents)) > limit {
		return File{}, fmt.Errorf("%s grew past %d bytes: %w", relative, limit, ErrTooLarge)
	}

	result := File{
		Path: filepath.ToSlash(local),
		Hash: binhash.Sum64(contents),
		Mode: info.Mode().Perm(),
	}
	if result.Hash != prevHash {
		result.Contents = contents
		result.Changed = true
	}
	return result, nil
}

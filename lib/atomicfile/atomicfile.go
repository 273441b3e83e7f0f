// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package atomicfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrExists is returned by CreateExclusive when the target already
// exists.
var ErrExists = errors.New("file already exists")

// tempInfix marks the temporary siblings created by this package.
const tempInfix = ".tmp-"

// Write atomically replaces path with data.
func Write(path string, data []byte, perm fs.FileMode) error {
	temporaryPath, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", filepath.Base(path), err)
	}
	syncDirectory(filepath.Dir(path))
	return nil
}

// CreateExclusive creates path with data only if path does not exist.
// Returns ErrExists (wrapped) if it does. Readers never observe the
// file without its full content.
func CreateExclusive(path string, data []byte, perm fs.FileMode) error {
	temporaryPath, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(temporaryPath)

	if err := os.Link(temporaryPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		return fmt.Errorf("linking %s into place: %w", filepath.Base(path), err)
	}
	syncDirectory(filepath.Dir(path))
	return nil
}

// writeTemp writes data to a fresh temporary sibling of path and fsyncs
// it. The caller owns the returned file.
func writeTemp(path string, data []byte, perm fs.FileMode) (string, error) {
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+tempInfix+"*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file for %s: %w", filepath.Base(path), err)
	}
	temporaryPath := file.Name()

	fail := func(step string, err error) (string, error) {
		file.Close()
		os.Remove(temporaryPath)
		return "", fmt.Errorf("%s temporary file for %s: %w", step, filepath.Base(path), err)
	}
	if err := file.Chmod(perm); err != nil {
		return fail("setting mode of", err)
	}
	if _, err := file.Write(data); err != nil {
		return fail("writing", err)
	}
	if err := file.Sync(); err != nil {
		return fail("syncing", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("closing temporary file for %s: %w", filepath.Base(path), err)
	}
	return temporaryPath, nil
}

// syncDirectory is best-effort: the data is already durable, only the
// directory entry may be lost on crash.
func syncDirectory(directory string) {
	handle, err := os.Open(directory)
	if err != nil {
		return
	}
	handle.Sync()
	handle.Close()
}

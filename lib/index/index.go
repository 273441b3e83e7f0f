// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/tether/lib/atomicfile"
	"github.com/bureau-foundation/tether/lib/binhash"
	"github.com/bureau-foundation/tether/lib/config"
	"github.com/bureau-foundation/tether/lib/process"
)

// ErrOutsideWorkspace is returned for a requested path that does not
// stay within the workspace root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Suffix is the file extension of written index files.
const Suffix = ".index"

// Result describes one Build.
type Result struct {
	Hash      uint64
	File      string
	Changed   bool
	FileCount int
}

// Builder computes indexes of one workspace.
type Builder struct {
	root   string
	outDir string
	finder string
}

// NewBuilder returns a Builder for the tree at root that writes index
// files into outDir.
func NewBuilder(root, outDir string, tools config.Tools) *Builder {
	return &Builder{root: root, outDir: outDir, finder: tools.Finder}
}

// Build indexes the directory at relative (empty for the root). The
// index file is rewritten only when it is missing or the hash differs
// from prevHash.
func (b *Builder) Build(ctx context.Context, relative string, prevHash uint64) (Result, error) {
	directory, err := Within(b.root, relative)
	if err != nil {
		return Result{}, err
	}

	files, err := b.listFiles(ctx, directory)
	if err != nil {
		return Result{}, err
	}

	var content bytes.Buffer
	for _, name := range files {
		content.WriteString(name)
		content.WriteByte('\n')
	}
	hash := binhash.Sum64(content.Bytes())
	result := Result{
		Hash:      hash,
		File:      filepath.Join(b.outDir, binhash.Format(hash)+Suffix),
		Changed:   hash != prevHash,
		FileCount: len(files),
	}

	if !result.Changed {
		if _, err := os.Stat(result.File); err == nil {
			return result, nil
		}
	}
	if err := os.MkdirAll(b.outDir, 0o700); err != nil {
		return Result{}, fmt.Errorf("creating index directory: %w", err)
	}
	if err := atomicfile.Write(result.File, content.Bytes(), 0o600); err != nil {
		return Result{}, fmt.Errorf("writing index: %w", err)
	}
	return result, nil
}

// Within resolves path against root. path may be relative to root or
// absolute; either way the result must not be outside root.
func Within(root, path string) (string, error) {
	if path == "" || path == "." {
		return root, nil
	}
	cleaned := filepath.FromSlash(path)
	if filepath.IsAbs(cleaned) {
		var err error
		if cleaned, err = filepath.Rel(root, cleaned); err != nil {
			return "", fmt.Errorf("%q: %w", path, ErrOutsideWorkspace)
		}
		if cleaned == "." {
			return root, nil
		}
	}
	if !filepath.IsLocal(cleaned) {
		return "", fmt.Errorf("%q: %w", path, ErrOutsideWorkspace)
	}
	return filepath.Join(root, cleaned), nil
}

func (b *Builder) listFiles(ctx context.Context, directory string) ([]string, error) {
	var (
		files []string
		err   error
	)
	if b.finder != "" {
		files, err = findFiles(ctx, b.finder, directory)
	} else {
		files, err = walkFiles(ctx, directory)
	}
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// findFiles lists regular files with fd.
func findFiles(ctx context.Context, finder, directory string) ([]string, error) {
	cmd := exec.CommandContext(ctx, finder,
		"--type", "f", "--hidden", "--no-ignore", "--exclude", ".git",
		"--absolute-path", "--color", "never", ".", directory)
	process.Isolate(cmd)
	release := process.GracefulCancel(cmd, time.Second)
	defer release()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running %s in %s: %w: %s", finder, directory, err, strings.TrimSpace(stderr.String()))
	}

	var files []string
	for line := range strings.Lines(string(output)) {
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		relative, err := filepath.Rel(directory, line)
		if err != nil {
			return nil, fmt.Errorf("relating %s to %s: %w", line, directory, err)
		}
		files = append(files, filepath.ToSlash(relative))
	}
	return files, nil
}

// walkFiles is the fallback when fd is not installed.
func walkFiles(ctx context.Context, directory string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(directory, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Name() == ".git" && path != directory {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(directory, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relative))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", directory, err)
	}
	return files, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/tether/lib/testutil"
)

func TestReadFile(t *testing.T) {
	root := testutil.WorkspaceTree(t, treeFiles...)

	file, err := ReadFile(root, "lib/a.go", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if file.Path != "lib/a.go" || string(file.Contents) != "lib/a.go" || !file.Changed {
		t.Errorf("ReadFile = %+v", file)
	}

	absolute, err := ReadFile(root, filepath.Join(root, "lib", "a.go"), 0, 0)
	if err != nil {
		t.Fatalf("ReadFile(absolute): %v", err)
	}
	if absolute.Path != "lib/a.go" || absolute.Hash != file.Hash {
		t.Errorf("ReadFile(absolute) = %+v, want the same file", absolute)
	}

	again, err := ReadFile(root, "lib/a.go", file.Hash, 0)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if again.Changed || again.Contents != nil || again.Hash != file.Hash {
		t.Errorf("unchanged ReadFile = %+v", again)
	}
}

func TestReadFile_Limit(t *testing.T) {
	root := testutil.WorkspaceTree(t)
	if err := os.WriteFile(filepath.Join(root, "big"), []byte(strings.Repeat("x", 100)), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadFile(root, "big", 0, 99); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ReadFile over limit: error = %v, want ErrTooLarge", err)
	}
	file, err := ReadFile(root, "big", 0, 100)
	if err != nil {
		t.Fatalf("ReadFile at limit: %v", err)
	}
	if len(file.Contents) != 100 {
		t.Errorf("len(Contents) = %d, want 100", len(file.Contents))
	}
}

func TestReadFile_Refused(t *testing.T) {
	root := testutil.WorkspaceTree(t, treeFiles...)
	outside := testutil.WorkspaceTree(t, "secret")
	if err := os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "escape")); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"", ".", "lib", "missing.go", "escape"} {
		if _, err := ReadFile(root, path, 0, 0); err == nil {
			t.Errorf("ReadFile(%q) succeeded", path)
		}
	}
	for _, path := range []string{"../secret", filepath.Join(outside, "secret")} {
		if _, err := ReadFile(root, path, 0, 0); !errors.Is(err, ErrOutsideWorkspace) {
			t.Errorf("ReadFile(%q) error = %v, want ErrOutsideWorkspace", path, err)
		}
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import "os/exec"

// Tools records which optional external programs are installed. An
// empty path means the program is absent and callers use their
// built-in fallback.
type Tools struct {
	// Finder is fd (or fdfind, as Debian packages it).
	Finder string

	// Ripgrep is rg.
	Ripgrep string
}

// DetectTools searches PATH for the optional tools. Daemons call it once
// at startup.
func DetectTools() Tools {
	return Tools{
		Finder:  lookFirst("fd", "fdfind"),
		Ripgrep: lookFirst("rg"),
	}
}

func lookFirst(names ...string) string {
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/tether/lib/binhash"
)

// SelfHash returns the content hash and absolute path of the running
// executable.
func SelfHash() (hash uint64, binaryPath string, err error) {
	binaryPath, err = os.Executable()
	if err != nil {
		return 0, "", fmt.Errorf("resolving executable path: %w", err)
	}
	hash, err = binhash.HashFile(binaryPath)
	if err != nil {
		return 0, "", fmt.Errorf("hashing %s: %w", binaryPath, err)
	}
	return hash, binaryPath, nil
}

// Stale reports whether the binary at path has different content than
// runningHash. A zero runningHash means the daemon did not record one
// and is never stale.
func Stale(runningHash uint64, path string) (bool, error) {
	if runningHash == 0 {
		return false, nil
	}
	installed, err := binhash.HashFile(path)
	if err != nil {
		return false, fmt.Errorf("hashing %s: %w", path, err)
	}
	return installed != runningHash, nil
}

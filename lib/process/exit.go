// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Fatal writes "error: err" to stderr and exits with code 1. Binaries
// call it from main for errors returned by run, where the structured
// logger may not be initialized yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// ExitStatus interprets the error returned by exec.Cmd.Wait or Run. A
// nil error is status 0. A non-zero exit is reported as its status with
// a nil error. A child killed by a signal reports -1 with a nil error,
// matching os.ProcessState.ExitCode. Anything else (the binary was not
// found, the pipes broke) is returned as an error with status -1.
func ExitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}
	return -1, err
}

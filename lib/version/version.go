// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/tether/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

type vcsStamp struct {
	commit string
	dirty  bool
	time   string
}

// vcs reads the VCS settings the go command embeds in main packages.
// It is consulted only when GitCommit was not set with -ldflags.
var vcs = sync.OnceValue(func() vcsStamp {
	var result vcsStamp
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return result
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			result.commit = setting.Value
			if len(result.commit) > 12 {
				result.commit = result.commit[:12]
			}
		case "vcs.modified":
			result.dirty = setting.Value == "true"
		case "vcs.time":
			result.time = setting.Value
		}
	}
	return result
})

// Info returns a one-line version string for --version output.
func Info() string {
	commit, dirty, built := GitCommit, GitDirty == "true", BuildTime
	if commit == "unknown" {
		if stamp := vcs(); stamp.commit != "" {
			commit, dirty = stamp.commit, dirty || stamp.dirty
			if built == "unknown" && stamp.time != "" {
				built = stamp.time
			}
		}
	}
	marker := ""
	if dirty {
		marker = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, commit, marker, built)
}

// Full is Info plus the toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns the version recorded in daemon records and compared
// during the tunnel handshake.
func Short() string {
	return Version
}

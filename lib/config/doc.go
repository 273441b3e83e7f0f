// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads tether's YAML configuration.
//
// The file is named by the --config flag or the TETHER_CONFIG
// environment variable. With neither, [Default] applies. A file only
// needs the keys it changes; everything else keeps its default. Path
// values may reference ${HOME} and ${TETHER_ROOT}.
//
//	paths:
//	  root: ${HOME}/.tether
//	tunnel:
//	  ssh_args: ["-o", "BatchMode=yes"]
//	  max_retries: 5
//	daemon:
//	  io_timeout: 5s
//
// Optional external tools are detected once by [DetectTools] when a
// daemon starts, and the result is passed to whatever needs it.
package config

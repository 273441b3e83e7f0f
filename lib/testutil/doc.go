// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by tether's package tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests fail with a message instead of hanging.
// [WorkspaceTree] builds a throwaway project directory from a list of
// relative file paths. [FreePort] reserves a loopback TCP port.
// [UniqueID] produces distinct host and workspace names within one test
// binary.
//
// Every helper calls t.Fatalf on failure.
package testutil

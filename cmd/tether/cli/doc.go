// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command framework for the tether CLI.
//
// The central type is [Command]: a named command with an optional
// [pflag.FlagSet] factory, nested [Command.Subcommands], and a Run
// function. [Command.Execute] parses flags, routes to subcommands, and
// prints structured help. Unknown command and flag names get a "did you
// mean" suggestion when one is within edit distance 3.
//
// [NewCommandLogger] picks a text or JSON slog handler depending on
// whether stderr is a terminal. [ExitError] lets a command exit non-zero
// after writing its own output, as "tether shell" does to pass through
// the remote command's status.
package cli

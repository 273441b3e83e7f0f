// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for tether's supervision loops.
//
// The tunnel supervisor measures three intervals (the grace period that
// decides whether a run was stable, the delay between restarts, and the
// stop timeout before escalating to SIGKILL). Each of them goes through
// a Clock so the retry policy can be tested without sleeping:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	session := tunnel.Start(ctx, cfg, tunnel.WithClock(c))
//	c.WaitForTimers(1)         // the session armed its grace timer
//	c.Advance(2 * time.Second) // the run is now considered stable
//
// Production code uses Real, which delegates to the time package.
package clock

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package that tether's long-running
// loops depend on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. Unlike After,
	// the timer can be stopped, which releases it from a fake clock's
	// pending set.
	NewTimer(d time.Duration) *Timer

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Timer is a single pending event. Receive from C to observe it.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop cancels the timer. It reports whether the call prevented the
// timer from firing. C is never closed.
func (t *Timer) Stop() bool { return t.stop() }

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests. Time moves only on
// Advance; every After, NewTimer, and Sleep registers a pending event
// that fires once the clock passes its deadline.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingEvent
	changed *sync.Cond
}

type pendingEvent struct {
	deadline time.Time
	channel  chan time.Time
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock frozen at start.
func Fake(start time.Time) *FakeClock {
	clock := &FakeClock{now: start}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a pending event d from now.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.schedule(d).channel
}

// NewTimer registers a stoppable pending event d from now.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	event := c.schedule(d)
	return &Timer{
		C: event.channel,
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if event.stopped || event.fired {
				return false
			}
			event.stopped = true
			c.changed.Broadcast()
			return true
		},
	}
}

// Sleep blocks until the clock is advanced past d from now.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

func (c *FakeClock) schedule(d time.Duration) *pendingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	event := &pendingEvent{
		deadline: c.now.Add(d),
		channel:  make(chan time.Time, 1),
	}
	if d <= 0 {
		event.fired = true
		event.channel <- c.now
		return event
	}
	c.pending = append(c.pending, event)
	c.changed.Broadcast()
	return event
}

// Advance moves the clock forward by d and delivers every pending event
// whose deadline is not after the new time, earliest first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)

	var due, remaining []*pendingEvent
	for _, event := range c.pending {
		switch {
		case event.stopped:
		case event.deadline.After(c.now):
			remaining = append(remaining, event)
		default:
			event.fired = true
			due = append(due, event)
		}
	}
	c.pending = remaining
	now := c.now
	c.changed.Broadcast()
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, event := range due {
		event.channel <- now
	}
}

// WaitForTimers blocks until at least n events are pending. Tests call
// it before Advance so the goroutine under test has armed its timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.countPending() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of events that have been scheduled
// but have neither fired nor been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countPending()
}

func (c *FakeClock) countPending() int {
	count := 0
	for _, event := range c.pending {
		if !event.stopped {
			count++
		}
	}
	return count
}

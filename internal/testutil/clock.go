// Package testutil holds deterministic stand-ins for time and label
// generation, so transaction reports are reproducible in tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a DeterministicClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe clock whose every reading is one
// step after the previous one.
//
// The first call to Now returns the base time.
type DeterministicClock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	calls int64
}

// NewDeterministicClock creates a clock starting at base and advancing by
// step per reading. A zero base means Epoch; a zero step means one second.
func NewDeterministicClock(base time.Time, step time.Duration) *DeterministicClock {
	if base.IsZero() {
		base = Epoch
	}
	if step == 0 {
		step = time.Second
	}
	return &DeterministicClock{base: base.UTC(), step: step}
}

// Now returns the next reading.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many readings were taken.
func (c *DeterministicClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock so the next reading is the base time again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}

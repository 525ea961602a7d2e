package testutil

import (
	"context"
	"sync"
	"time"
)

// FakeClock is a manually controlled clock.
// By default Sleep advances the clock by the requested duration and returns
// immediately. A frozen clock only records sleeps, which lets concurrent
// callers observe the slots they were handed from a single instant.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	frozen bool
	sleeps []time.Duration
}

// NewFakeClock returns a fake clock starting at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// NewFrozenClock returns a fake clock that never advances on Sleep
func NewFrozenClock(start time.Time) *FakeClock {
	return &FakeClock{now: start, frozen: true}
}

// Now implements clock.Clock
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep implements clock.Clock
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if !c.frozen && d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns every duration passed to Sleep, in call order
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

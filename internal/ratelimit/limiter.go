package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"marketrefresh/internal/clock"
)

// Limiter paces request starts for a single upstream endpoint.
// Every call to Wait reserves the next free start slot, so slots handed
// to concurrent callers are at least one interval apart. Each client owns
// its own Limiter.
type Limiter struct {
	// mu orders clock reads with reservations. rate.Limiter rewinds its
	// last-update time when handed an older timestamp.
	mu       sync.Mutex
	limiter  *rate.Limiter
	clock    clock.Clock
	interval time.Duration
}

// New creates a limiter that allows requestsPerSecond request starts per second.
// A non-positive rate disables pacing.
func New(requestsPerSecond float64, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.System{}
	}

	limit := rate.Inf
	var interval time.Duration
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		interval = time.Duration(float64(time.Second) / requestsPerSecond)
	}

	// Burst of 1: the first request starts immediately, every later one
	// waits for its own slot.
	return &Limiter{
		limiter:  rate.NewLimiter(limit, 1),
		clock:    c,
		interval: interval,
	}
}

// Interval returns the minimum spacing between request starts.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until the caller's reserved slot arrives.
// It returns an error if the context is canceled before the slot; the slot
// is handed back in that case.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reservation, _, delay, err := l.reserve()
	if err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}

	if err := l.clock.Sleep(ctx, delay); err != nil {
		l.mu.Lock()
		reservation.CancelAt(l.clock.Now())
		l.mu.Unlock()
		return err
	}
	return nil
}

// reserve takes the next start slot, returning when it was taken and how
// long the caller must wait for it
func (l *Limiter) reserve() (*rate.Reservation, time.Time, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return nil, now, 0, fmt.Errorf("rate limiter cannot grant a request slot")
	}
	return reservation, now, reservation.DelayFrom(now), nil
}

package util

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound requests against the upstream's process-wide
// rate ceiling. Implementations must suspend the caller until capacity is
// available rather than spin. Tests substitute a no-op or instrumented
// limiter.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiter implements Limiter as a token bucket replenished at a fixed
// rate. The bucket holds at most one token, so requests are spaced evenly
// instead of bursting up to the ceiling.
type RateLimiter struct {
	rate     float64 // tokens per second
	tokens   float64
	lastTime time.Time
	mu       sync.Mutex
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a RateLimiter allowing perMinute requests per
// minute. safetyMargin shaves headroom off the ceiling; 0.9 runs at 90%
// of the configured rate. Values outside (0, 1] disable the margin.
func NewRateLimiter(perMinute int, safetyMargin float64) *RateLimiter {
	if safetyMargin <= 0 || safetyMargin > 1 {
		safetyMargin = 1
	}
	return &RateLimiter{
		rate:     float64(perMinute) / 60.0 * safetyMargin,
		tokens:   1, // start with one token available
		lastTime: time.Now(),
	}
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled. An empty bucket suspends the caller for exactly the time
// the deficit takes to refill; the loop only repeats when a concurrent
// waiter claimed the refilled token first.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
		if rl.tokens > 1 {
			rl.tokens = 1
		}
		rl.lastTime = now

		if rl.tokens >= 1 {
			rl.tokens -= 1
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// NopLimiter never blocks. Useful in tests and offline replays.
type NopLimiter struct{}

var _ Limiter = NopLimiter{}

// Wait returns immediately unless the context is already cancelled.
func (NopLimiter) Wait(ctx context.Context) error { return ctx.Err() }

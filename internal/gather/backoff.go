package gather

import (
	"context"
	"fmt"
	"time"

	"tickvault/internal/domain"
)

// Clock abstracts the backoff waits so tests can run retry schedules
// instantly.
type Clock interface {
	// Sleep blocks for d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy controls how transient fetch failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
}

// DefaultRetryPolicy matches the upstream's observed throttling
// behavior: seven attempts, 2s initial delay, gentle 1.3x growth.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 7, BaseDelay: 2 * time.Second, Factor: 1.3}
}

// retryState is the explicit phase of one retried operation. The
// machine only ever moves attempting -> waiting -> attempting, ending
// in succeeded or failed.
type retryState int

const (
	stateAttempting retryState = iota
	stateWaiting
	stateSucceeded
	stateFailed
)

// retrier drives a single operation through the retry state machine.
// Permanent failures and context cancellation move straight to failed;
// transient failures enter waiting until attempts are exhausted.
type retrier struct {
	policy RetryPolicy
	clock  Clock

	state   retryState
	attempt int
	delay   time.Duration
	lastErr error
}

func newRetrier(policy RetryPolicy, clock Clock) *retrier {
	return &retrier{policy: policy, clock: clock, delay: policy.BaseDelay}
}

// do runs op until the machine reaches a terminal state. It returns nil
// on success, the last error otherwise. The number of attempts made is
// left in r.attempt for reporting.
func (r *retrier) do(ctx context.Context, op func() error) error {
	for {
		switch r.state {
		case stateAttempting:
			r.attempt++
			err := op()
			switch {
			case err == nil:
				r.state = stateSucceeded
			case ctx.Err() != nil:
				r.lastErr = ctx.Err()
				r.state = stateFailed
			case domain.IsTransientFetch(err) && r.attempt < r.policy.MaxAttempts:
				r.lastErr = err
				r.state = stateWaiting
			case domain.IsTransientFetch(err):
				r.lastErr = fmt.Errorf("after %d attempts: %w", r.attempt, err)
				r.state = stateFailed
			default:
				r.lastErr = err
				r.state = stateFailed
			}

		case stateWaiting:
			if err := r.clock.Sleep(ctx, r.delay); err != nil {
				r.lastErr = err
				r.state = stateFailed
				continue
			}
			r.delay = time.Duration(float64(r.delay) * r.policy.Factor)
			r.state = stateAttempting

		case stateSucceeded:
			return nil

		case stateFailed:
			return r.lastErr
		}
	}
}

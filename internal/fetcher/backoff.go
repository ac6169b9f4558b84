package fetcher

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// RetryPolicy is the per-transport retry schedule.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// JitterFactor spreads each delay uniformly within +/- that fraction.
	JitterFactor float64
	// Rand returns values in [0,1); nil uses math/rand/v2.
	Rand func() float64
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}
}

// Backoff is the delay after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))

	if p.JitterFactor > 0 {
		rnd := p.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		delay += delay * p.JitterFactor * (2*rnd() - 1)
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryBudget caps the retries a whole run may spend. A nil budget is unlimited.
type RetryBudget struct {
	remaining atomic.Int64
	spent     atomic.Int64
}

// NewRetryBudget returns nil (unlimited) for n <= 0.
func NewRetryBudget(n int) *RetryBudget {
	if n <= 0 {
		return nil
	}
	b := &RetryBudget{}
	b.remaining.Store(int64(n))
	return b
}

// Take consumes one retry; false means the budget is spent.
func (b *RetryBudget) Take() bool {
	if b == nil {
		return true
	}
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			b.spent.Add(1)
			return true
		}
	}
}

// Exhausted reports whether no retries remain.
func (b *RetryBudget) Exhausted() bool {
	return b != nil && b.remaining.Load() <= 0
}

// Spent is the number of retries consumed so far.
func (b *RetryBudget) Spent() int64 {
	if b == nil {
		return 0
	}
	return b.spent.Load()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

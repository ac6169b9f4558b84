package fetcher

import (
	"sync/atomic"
	"time"

	"PMCMirror/internal/domain"
)

// TransitionFunc observes a breaker state change.
type TransitionFunc func(from, to domain.CircuitSnapshot)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	SourceSystem     string
	FailureThreshold int
	CoolDown         time.Duration
	Now              func() time.Time
	OnTransition     TransitionFunc
}

// Breaker guards the primary transport for one source system.
//
// The state is an immutable snapshot swapped with compare-and-swap, so concurrent
// workers never lose a failure increment or a transition. A Breaker is owned by
// whoever builds it and outlives individual runs.
type Breaker struct {
	state        atomic.Pointer[domain.CircuitSnapshot]
	threshold    int
	coolDown     time.Duration
	now          func() time.Time
	onTransition TransitionFunc
	transitions  atomic.Int64
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &Breaker{
		threshold:    cfg.FailureThreshold,
		coolDown:     cfg.CoolDown,
		now:          cfg.Now,
		onTransition: cfg.OnTransition,
	}
	b.state.Store(&domain.CircuitSnapshot{SourceSystem: cfg.SourceSystem, Status: domain.CircuitClosed})
	return b
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() domain.CircuitSnapshot {
	return *b.state.Load()
}

// Transitions counts state changes since the breaker was built.
func (b *Breaker) Transitions() int64 {
	return b.transitions.Load()
}

// Allow reports whether the caller may use the primary transport. probe is true
// for the single caller admitted after the cool-down; everybody else is denied
// until that probe reports back.
func (b *Breaker) Allow() (allowed, probe bool) {
	for {
		cur := b.state.Load()
		switch cur.Status {
		case domain.CircuitClosed:
			return true, false
		case domain.CircuitHalfOpen:
			return false, false
		}

		if b.now().Sub(cur.OpenedAt) < b.coolDown {
			return false, false
		}
		next := *cur
		next.Status = domain.CircuitHalfOpen
		next.Probing = true
		if b.state.CompareAndSwap(cur, &next) {
			b.notify(*cur, next)
			return true, true
		}
	}
}

// Success closes the breaker and clears the failure count.
func (b *Breaker) Success() {
	for {
		cur := b.state.Load()
		if cur.Status == domain.CircuitClosed && cur.ConsecutiveFailures == 0 {
			return
		}
		next := domain.CircuitSnapshot{SourceSystem: cur.SourceSystem, Status: domain.CircuitClosed}
		if b.state.CompareAndSwap(cur, &next) {
			if cur.Status != next.Status {
				b.notify(*cur, next)
			}
			return
		}
	}
}

// Failure records one consecutive failure. The breaker opens when the threshold
// is reached, and a failed probe reopens it with a fresh cool-down.
func (b *Breaker) Failure() {
	for {
		cur := b.state.Load()
		next := *cur
		next.ConsecutiveFailures++
		switch cur.Status {
		case domain.CircuitClosed:
			if next.ConsecutiveFailures >= b.threshold {
				next.Status = domain.CircuitOpen
				next.OpenedAt = b.now()
			}
		case domain.CircuitHalfOpen:
			next.Status = domain.CircuitOpen
			next.OpenedAt = b.now()
			next.Probing = false
		}
		if b.state.CompareAndSwap(cur, &next) {
			if cur.Status != next.Status {
				b.notify(*cur, next)
			}
			return
		}
	}
}

// Abandon returns an unfinished probe. The breaker goes back to open with its
// original timer, so the next caller probes again.
func (b *Breaker) Abandon() {
	for {
		cur := b.state.Load()
		if cur.Status != domain.CircuitHalfOpen {
			return
		}
		next := *cur
		next.Status = domain.CircuitOpen
		next.Probing = false
		if b.state.CompareAndSwap(cur, &next) {
			b.notify(*cur, next)
			return
		}
	}
}

func (b *Breaker) notify(from, to domain.CircuitSnapshot) {
	b.transitions.Add(1)
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}

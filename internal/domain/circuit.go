package domain

import "time"

// CircuitStatus is the state of a per-source circuit breaker.
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half_open"
)

// CircuitSnapshot is an immutable view of a breaker's state.
type CircuitSnapshot struct {
	SourceSystem        string
	Status              CircuitStatus
	ConsecutiveFailures int
	OpenedAt            time.Time
	// Probing is set while the single half-open probe is in flight.
	Probing bool
}

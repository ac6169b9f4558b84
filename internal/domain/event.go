package domain

import "time"

// EventKind names a discrete observability event.
type EventKind string

const (
	EventFetchAttempt      EventKind = "fetch_attempt"
	EventCircuitTransition EventKind = "circuit_transition"
	EventSchemaViolation   EventKind = "schema_violation"
	EventRetraction        EventKind = "retraction_detected"
	EventStaleEntry        EventKind = "stale_entry"
	EventFileRequeued      EventKind = "file_requeued"
)

// FetchOutcome classifies a single fetch attempt.
type FetchOutcome string

const (
	OutcomeSuccess FetchOutcome = "success"
	OutcomeFailure FetchOutcome = "failure"
)

// Event is a self-describing observability record. Only fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	Time       time.Time
	RunID      string
	Path       string
	Transport  string
	Source     IngestionSource
	Outcome    FetchOutcome
	Attempt    int
	Latency    time.Duration
	From       CircuitStatus
	To         CircuitStatus
	DocumentID string
	Detail     string
}

package domain

import "time"

// RunOutcome is the batch-level exit classification.
type RunOutcome string

const (
	RunSucceeded               RunOutcome = "success"
	RunSucceededWithViolations RunOutcome = "success_with_violations"
	RunFailed                  RunOutcome = "failed"
)

// RunReport carries the counts reported for every run, including partial failures.
type RunReport struct {
	RunID              string
	StartedAt          time.Time
	FinishedAt         time.Time
	FilesPlanned       int
	FilesFetched       int
	FilesViaFailover   int
	FilesRequeued      int
	StaleEntries       int
	DocumentsParsed    int
	DocumentsWritten   int
	SchemaViolations   int
	UnresolvedFields   int
	RetractionsFlagged int
	CircuitTransitions int
	Outcome            RunOutcome
}

// Finalize derives the outcome from the counts and the terminal error.
func (r *RunReport) Finalize(err error, now time.Time) {
	r.FinishedAt = now
	switch {
	case err != nil:
		r.Outcome = RunFailed
	case r.SchemaViolations > 0:
		r.Outcome = RunSucceededWithViolations
	default:
		r.Outcome = RunSucceeded
	}
}

// LogArgs flattens the report into slog key/value pairs.
func (r RunReport) LogArgs() []any {
	return []any{
		"run_id", r.RunID,
		"outcome", string(r.Outcome),
		"files_planned", r.FilesPlanned,
		"files_fetched", r.FilesFetched,
		"files_via_failover", r.FilesViaFailover,
		"files_requeued", r.FilesRequeued,
		"stale_entries", r.StaleEntries,
		"documents_parsed", r.DocumentsParsed,
		"documents_written", r.DocumentsWritten,
		"schema_violations", r.SchemaViolations,
		"unresolved_fields", r.UnresolvedFields,
		"retractions_flagged", r.RetractionsFlagged,
		"circuit_transitions", r.CircuitTransitions,
		"duration", r.FinishedAt.Sub(r.StartedAt).String(),
	}
}

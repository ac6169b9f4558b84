package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRetryBudgetExhausted aborts a run once the run-wide retry budget is spent
	// and a file still could not be fetched from either transport.
	ErrRetryBudgetExhausted = errors.New("run retry budget exhausted")
	// ErrMarkConflict reports a lost compare-and-set on the high-water mark.
	ErrMarkConflict = errors.New("high-water mark changed concurrently")
	// ErrNotFound is returned by stores for absent keys.
	ErrNotFound = errors.New("not found")
)

// TransportError is a single failed transport attempt.
type TransportError struct {
	Transport string
	Path      string
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport %s: %v", e.Transport, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure worth retrying.
// Errors that are not TransportErrors are treated as retryable.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return err != nil
}

// ManifestParseError makes the run's work undeterminable.
type ManifestParseError struct {
	Source string
	Line   int
	Reason string
}

func (e *ManifestParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("manifest %s line %d: %s", e.Source, e.Line, e.Reason)
	}
	return fmt.Sprintf("manifest %s: %s", e.Source, e.Reason)
}

// SchemaViolation drops one document; the stream and its Bronze capture survive.
type SchemaViolation struct {
	SourceFile string
	Index      int
	Reason     string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("schema violation in %s document #%d: %s", e.SourceFile, e.Index, e.Reason)
}

// SourceUnavailableError means both transports failed for a file; the file is requeued.
type SourceUnavailableError struct {
	Path string
	Err  error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable for %s: %v", e.Path, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// StaleMarkError flags an entry older than an already captured version of the same path.
type StaleMarkError struct {
	Path     string
	Entry    time.Time
	Captured time.Time
}

func (e *StaleMarkError) Error() string {
	return fmt.Sprintf("stale manifest entry %s: listed %s, already captured %s",
		e.Path, e.Entry.Format(time.RFC3339), e.Captured.Format(time.RFC3339))
}

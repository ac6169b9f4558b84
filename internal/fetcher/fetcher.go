package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

var _ ports.SourceFetcher = (*Fetcher)(nil)

// Deps groups the collaborators of a Fetcher.
type Deps struct {
	Primary  ports.Transport
	Failover ports.Transport
	Breaker  *Breaker
	Policy   RetryPolicy
	Budget   *RetryBudget
	// Limiter paces attempts across all workers; nil disables pacing.
	Limiter         *rate.Limiter
	AttemptTimeout  time.Duration
	MaxPayloadBytes int64
	Sink            ports.EventSink
	Logger          *slog.Logger
	RunID           string
	Now             func() time.Time
	Sleep           func(ctx context.Context, d time.Duration) error
}

// Fetcher retrieves whole source files, preferring the primary transport while
// its breaker allows it and falling back to the failover transport otherwise.
type Fetcher struct {
	deps Deps
}

// New builds a Fetcher. A nil breaker always allows the primary.
func New(deps Deps) *Fetcher {
	if deps.Policy.MaxAttempts < 1 {
		deps.Policy.MaxAttempts = 1
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	return &Fetcher{deps: deps}
}

// ForRun returns a copy bound to one run's identifier and retry budget. The
// breaker and limiter stay shared.
func (f *Fetcher) ForRun(runID string, budget *RetryBudget) *Fetcher {
	deps := f.deps
	deps.RunID = runID
	deps.Budget = budget
	return &Fetcher{deps: deps}
}

// Budget is the retry budget this fetcher draws from.
func (f *Fetcher) Budget() *RetryBudget {
	return f.deps.Budget
}

// Fetch returns the complete payload of path.
//
// Failures after both transports have been tried come back as
// *domain.SourceUnavailableError; when the run's retry budget is spent the error
// also matches domain.ErrRetryBudgetExhausted.
func (f *Fetcher) Fetch(ctx context.Context, path string) (domain.Payload, error) {
	if err := ctx.Err(); err != nil {
		return domain.Payload{}, err
	}

	var primaryErr error
	if f.deps.Primary != nil {
		allowed, probe := true, false
		if f.deps.Breaker != nil {
			allowed, probe = f.deps.Breaker.Allow()
		}

		if allowed {
			attempts := f.deps.Policy.MaxAttempts
			if probe {
				attempts = 1
			}
			data, err := f.withRetries(ctx, f.deps.Primary, domain.SourcePrimary, path, attempts)
			if err == nil {
				f.breakerSuccess()
				return domain.Payload{Path: path, Data: data, Source: domain.SourcePrimary, Transport: f.deps.Primary.Name()}, nil
			}
			if ctx.Err() != nil {
				if probe && f.deps.Breaker != nil {
					f.deps.Breaker.Abandon()
				}
				return domain.Payload{}, ctx.Err()
			}

			if domain.IsRetryable(err) {
				f.breakerFailure()
			} else {
				// The primary answered definitively, so it is reachable.
				f.breakerSuccess()
			}
			primaryErr = err
			f.warn("primary transport failed, using failover", "path", path, "probe", probe, "error", err)
		} else {
			f.debug("circuit open, routing to failover", "path", path)
		}
	}

	if f.deps.Failover == nil {
		if primaryErr == nil {
			primaryErr = errors.New("no transport available")
		}
		return domain.Payload{}, &domain.SourceUnavailableError{Path: path, Err: primaryErr}
	}

	data, err := f.withRetries(ctx, f.deps.Failover, domain.SourceFailover, path, f.deps.Policy.MaxAttempts)
	if err == nil {
		return domain.Payload{Path: path, Data: data, Source: domain.SourceFailover, Transport: f.deps.Failover.Name()}, nil
	}
	if ctx.Err() != nil {
		return domain.Payload{}, ctx.Err()
	}

	if primaryErr != nil {
		err = errors.Join(primaryErr, err)
	}
	return domain.Payload{}, &domain.SourceUnavailableError{Path: path, Err: err}
}

func (f *Fetcher) withRetries(ctx context.Context, t ports.Transport, source domain.IngestionSource, path string, attempts int) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		data, err := f.attempt(ctx, t, source, path, attempt)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !domain.IsRetryable(err) || attempt == attempts {
			break
		}
		if !f.deps.Budget.Take() {
			return nil, fmt.Errorf("%w: %w", domain.ErrRetryBudgetExhausted, err)
		}

		delay := f.deps.Policy.Backoff(attempt)
		f.debug("retrying fetch", "transport", t.Name(), "path", path, "attempt", attempt, "retry_in", delay)
		if err := f.deps.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, t ports.Transport, source domain.IngestionSource, path string, attempt int) ([]byte, error) {
	if f.deps.Limiter != nil {
		if err := f.deps.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	attemptCtx := ctx
	if f.deps.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.deps.AttemptTimeout)
		defer cancel()
	}

	started := f.deps.Now()
	data, err := f.read(attemptCtx, t, path)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = &domain.TransportError{Transport: t.Name(), Path: path, Retryable: true, Err: fmt.Errorf("attempt timed out after %s: %w", f.deps.AttemptTimeout, err)}
	}

	outcome := domain.OutcomeSuccess
	detail := ""
	if err != nil {
		outcome = domain.OutcomeFailure
		detail = err.Error()
	}
	f.emit(ctx, domain.Event{
		Kind:      domain.EventFetchAttempt,
		Path:      path,
		Transport: t.Name(),
		Source:    source,
		Outcome:   outcome,
		Attempt:   attempt,
		Latency:   f.deps.Now().Sub(started),
		Detail:    detail,
	})
	return data, err
}

func (f *Fetcher) read(ctx context.Context, t ports.Transport, path string) ([]byte, error) {
	rc, err := t.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if f.deps.MaxPayloadBytes > 0 {
		r = io.LimitReader(rc, f.deps.MaxPayloadBytes+1)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, &domain.TransportError{Transport: t.Name(), Path: path, Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}
	if f.deps.MaxPayloadBytes > 0 && int64(buf.Len()) > f.deps.MaxPayloadBytes {
		return nil, &domain.TransportError{Transport: t.Name(), Path: path, Retryable: false,
			Err: fmt.Errorf("payload exceeds %d bytes", f.deps.MaxPayloadBytes)}
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) breakerSuccess() {
	if f.deps.Breaker != nil {
		f.deps.Breaker.Success()
	}
}

func (f *Fetcher) breakerFailure() {
	if f.deps.Breaker != nil {
		f.deps.Breaker.Failure()
	}
}

func (f *Fetcher) emit(ctx context.Context, ev domain.Event) {
	if f.deps.Sink == nil {
		return
	}
	ev.Time = f.deps.Now()
	ev.RunID = f.deps.RunID
	f.deps.Sink.Emit(ctx, ev)
}

func (f *Fetcher) warn(msg string, args ...any) {
	if f.deps.Logger != nil {
		f.deps.Logger.Warn(msg, args...)
	}
}

func (f *Fetcher) debug(msg string, args ...any) {
	if f.deps.Logger != nil {
		f.deps.Logger.Debug(msg, args...)
	}
}

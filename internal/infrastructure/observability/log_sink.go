// Package observability turns pipeline events into log lines and metrics.
package observability

import (
	"context"
	"log/slog"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

// LogSink writes every event as one structured log record.
type LogSink struct {
	logger *slog.Logger
}

var _ ports.EventSink = (*LogSink)(nil)

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Emit(ctx context.Context, ev domain.Event) {
	s.logger.Log(ctx, levelOf(ev), string(ev.Kind), attrsOf(ev)...)
}

func levelOf(ev domain.Event) slog.Level {
	switch ev.Kind {
	case domain.EventFetchAttempt:
		if ev.Outcome == domain.OutcomeFailure {
			return slog.LevelWarn
		}
		return slog.LevelDebug
	case domain.EventCircuitTransition, domain.EventSchemaViolation,
		domain.EventStaleEntry, domain.EventFileRequeued:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// attrsOf keeps only the fields that are set.
func attrsOf(ev domain.Event) []any {
	args := []any{"kind", string(ev.Kind)}
	add := func(key, value string) {
		if value != "" {
			args = append(args, key, value)
		}
	}
	add("run_id", ev.RunID)
	add("path", ev.Path)
	add("transport", ev.Transport)
	add("source", string(ev.Source))
	add("outcome", string(ev.Outcome))
	if ev.Attempt > 0 {
		args = append(args, "attempt", ev.Attempt)
	}
	if ev.Latency > 0 {
		args = append(args, "latency", ev.Latency.String())
	}
	add("from", string(ev.From))
	add("to", string(ev.To))
	add("document_id", ev.DocumentID)
	add("detail", ev.Detail)
	return args
}

// Fan forwards each event to every sink in order.
type Fan []ports.EventSink

func (f Fan) Emit(ctx context.Context, ev domain.Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, domain.Event) {}

package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

// Plan is the ordered work queue for one source system.
type Plan struct {
	SourceSystem string
	// Mark is the high-water mark the plan was computed against; nil when none was stored.
	Mark    *time.Time
	Entries []domain.PlannedEntry
	Stale   []*domain.StaleMarkError
}

// Delta returns the entries strictly newer than mark, oldest first.
// A nil mark selects every entry.
func Delta(entries []domain.ManifestEntry, mark *time.Time) []domain.ManifestEntry {
	out := make([]domain.ManifestEntry, 0, len(entries))
	for _, e := range entries {
		if mark == nil || e.LastUpdatedAt.After(*mark) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdatedAt.Before(out[j].LastUpdatedAt)
	})
	return out
}

// TrackerDeps wires the stores the tracker consults.
type TrackerDeps struct {
	Marks  ports.MarkStore
	Bronze ports.BronzeReader
	Silver ports.SilverReader
	Sink   ports.EventSink
	Logger *slog.Logger
	// SweepRetractions re-queues retracted entries at or below the mark.
	SweepRetractions bool
}

// Tracker turns a manifest listing into a work queue against the persisted mark.
type Tracker struct {
	marks  ports.MarkStore
	bronze ports.BronzeReader
	silver ports.SilverReader
	sink   ports.EventSink
	logger *slog.Logger
	sweep  bool
}

// NewTracker builds a tracker; Bronze and Silver readers are optional.
func NewTracker(deps TrackerDeps) *Tracker {
	return &Tracker{
		marks:  deps.Marks,
		bronze: deps.Bronze,
		silver: deps.Silver,
		sink:   deps.Sink,
		logger: deps.Logger,
		sweep:  deps.SweepRetractions,
	}
}

// Plan computes the work queue for entries listed under sourceSystem.
func (t *Tracker) Plan(ctx context.Context, sourceSystem string, entries []domain.ManifestEntry) (Plan, error) {
	plan := Plan{SourceSystem: sourceSystem}

	if t.marks != nil {
		mark, ok, err := t.marks.Get(ctx, sourceSystem)
		if err != nil {
			return plan, fmt.Errorf("load mark %s: %w", sourceSystem, err)
		}
		if ok {
			plan.Mark = &mark
		}
	}

	if t.sweep && plan.Mark != nil && t.silver != nil {
		swept, err := t.retractionSweep(ctx, entries, *plan.Mark)
		if err != nil {
			return plan, err
		}
		plan.Entries = append(plan.Entries, swept...)
	}

	for _, e := range Delta(entries, plan.Mark) {
		planned := domain.PlannedEntry{Entry: e}
		if stale, err := t.checkStale(ctx, e); err != nil {
			return plan, err
		} else if stale != nil {
			planned.Stale = true
			plan.Stale = append(plan.Stale, stale)
			t.warn("stale manifest entry", "path", e.FilePath, "listed", e.LastUpdatedAt, "captured", stale.Captured)
			t.emit(ctx, domain.Event{Kind: domain.EventStaleEntry, Path: e.FilePath, Detail: stale.Error()})
		}
		plan.Entries = append(plan.Entries, planned)
	}

	t.debug("plan computed", "source_system", sourceSystem, "listed", len(entries), "planned", len(plan.Entries), "stale", len(plan.Stale))
	return plan, nil
}

func (t *Tracker) checkStale(ctx context.Context, e domain.ManifestEntry) (*domain.StaleMarkError, error) {
	if t.bronze == nil {
		return nil, nil
	}
	captured, ok, err := t.bronze.LatestSourceTimestamp(ctx, e.FilePath)
	if err != nil {
		return nil, fmt.Errorf("lookup capture %s: %w", e.FilePath, err)
	}
	if !ok || !e.LastUpdatedAt.Before(captured) {
		return nil, nil
	}
	return &domain.StaleMarkError{Path: e.FilePath, Entry: e.LastUpdatedAt, Captured: captured}, nil
}

func (t *Tracker) retractionSweep(ctx context.Context, entries []domain.ManifestEntry, mark time.Time) ([]domain.PlannedEntry, error) {
	var swept []domain.ManifestEntry
	for _, e := range entries {
		id := domain.CanonicalDocumentID(e.AccessionID)
		if !e.Retracted || id == "" || e.LastUpdatedAt.After(mark) {
			continue
		}
		retracted, found, err := t.silver.IsRetracted(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lookup retraction %s: %w", e.AccessionID, err)
		}
		if found && !retracted {
			swept = append(swept, e)
		}
	}
	sort.SliceStable(swept, func(i, j int) bool {
		return swept[i].LastUpdatedAt.Before(swept[j].LastUpdatedAt)
	})

	out := make([]domain.PlannedEntry, 0, len(swept))
	for _, e := range swept {
		t.debug("retraction sweep", "path", e.FilePath, "document_id", e.AccessionID)
		out = append(out, domain.PlannedEntry{Entry: e, Sweep: true})
	}
	return out, nil
}

func (t *Tracker) emit(ctx context.Context, ev domain.Event) {
	if t.sink != nil {
		ev.Time = time.Now().UTC()
		t.sink.Emit(ctx, ev)
	}
}

func (t *Tracker) warn(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Warn(msg, args...)
	}
}

func (t *Tracker) debug(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, args...)
	}
}

package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/fetcher"
	"PMCMirror/internal/gold"
	"PMCMirror/internal/manifest"
	"PMCMirror/internal/parser"
	"PMCMirror/internal/ports"
	"PMCMirror/internal/silver"
)

// Listing is one manifest the pipeline mirrors, tracked under its own mark.
type Listing struct {
	SourceSystem string
	// ManifestPath is read from disk when present; RemoteManifest is fetched otherwise.
	ManifestPath   string
	RemoteManifest string
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Listings    []Listing
	Store       ports.LayerStore
	Fetcher     *fetcher.Fetcher
	Breaker     *fetcher.Breaker
	Tracker     *manifest.Tracker
	Transformer silver.Transformer
	Flattener   *gold.Flattener
	Sink        ports.EventSink
	Logger      *slog.Logger

	FetchWorkers     int
	TransformWorkers int
	// RetryBudget caps retries across one run; 0 means unlimited.
	RetryBudget int

	Now      func() time.Time
	NewRunID func() string
	OpenFile func(name string) (io.ReadCloser, error)
}

// Pipeline mirrors manifest listings into the Bronze, Silver and Gold layers.
type Pipeline struct {
	deps PipelineDeps
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.FetchWorkers < 1 {
		deps.FetchWorkers = 1
	}
	if deps.TransformWorkers < 1 {
		deps.TransformWorkers = 1
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	if deps.OpenFile == nil {
		deps.OpenFile = func(name string) (io.ReadCloser, error) { return os.Open(name) }
	}
	if deps.Flattener == nil {
		deps.Flattener = gold.NewFlattener(nil)
	}
	return &Pipeline{deps: deps}
}

// counters are shared by the fetch and transform pools of one run.
type counters struct {
	planned, fetched, failover, requeued, stale          atomic.Int64
	parsed, written, violations, unresolved, retractions atomic.Int64
}

func (c *counters) fill(r *domain.RunReport) {
	r.FilesPlanned = int(c.planned.Load())
	r.FilesFetched = int(c.fetched.Load())
	r.FilesViaFailover = int(c.failover.Load())
	r.FilesRequeued = int(c.requeued.Load())
	r.StaleEntries = int(c.stale.Load())
	r.DocumentsParsed = int(c.parsed.Load())
	r.DocumentsWritten = int(c.written.Load())
	r.SchemaViolations = int(c.violations.Load())
	r.UnresolvedFields = int(c.unresolved.Load())
	r.RetractionsFlagged = int(c.retractions.Load())
}

// Run executes one incremental batch over every listing. The report is
// returned even when the run fails.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, error) {
	runID := p.deps.NewRunID()
	report := domain.RunReport{RunID: runID, StartedAt: p.now()}
	logger := p.logger().With("run_id", runID)

	var transitionsBefore int64
	if p.deps.Breaker != nil {
		transitionsBefore = p.deps.Breaker.Transitions()
	}

	f := p.deps.Fetcher.ForRun(runID, fetcher.NewRetryBudget(p.deps.RetryBudget))
	var stats counters

	var runErr error
	for _, listing := range p.deps.Listings {
		if err := p.runListing(ctx, logger, f, runID, listing, &stats); err != nil {
			runErr = fmt.Errorf("listing %s: %w", listing.SourceSystem, err)
			break
		}
	}

	stats.fill(&report)
	if p.deps.Breaker != nil {
		report.CircuitTransitions = int(p.deps.Breaker.Transitions() - transitionsBefore)
	}
	report.Finalize(runErr, p.now())

	if runErr != nil {
		logger.Error("run failed", append(report.LogArgs(), "error", runErr)...)
	} else {
		logger.Info("run finished", report.LogArgs()...)
	}
	return report, runErr
}

// Replay re-derives Silver and Gold from every Bronze capture ingested at or
// after since. Nothing is fetched and no mark moves.
func (p *Pipeline) Replay(ctx context.Context, since time.Time) (domain.RunReport, error) {
	runID := p.deps.NewRunID()
	report := domain.RunReport{RunID: runID, StartedAt: p.now()}
	logger := p.logger().With("run_id", runID, "mode", "replay")

	var stats counters
	err := p.deps.Store.Captures(ctx, since, func(c domain.RawCapture) error {
		stats.planned.Add(1)
		if err := p.process(ctx, c, &stats); err != nil {
			return err
		}
		stats.fetched.Add(1)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("replay since %s: %w", since.Format(time.RFC3339), err)
	}

	stats.fill(&report)
	report.Finalize(err, p.now())
	if err != nil {
		logger.Error("replay failed", append(report.LogArgs(), "error", err)...)
	} else {
		logger.Info("replay finished", report.LogArgs()...)
	}
	return report, err
}

type indexedCapture struct {
	index   int
	capture domain.RawCapture
}

func (p *Pipeline) runListing(ctx context.Context, logger *slog.Logger, f *fetcher.Fetcher, runID string, listing Listing, stats *counters) error {
	logger = logger.With("source_system", listing.SourceSystem)

	entries, err := p.loadManifest(ctx, f, listing)
	if err != nil {
		return err
	}

	plan, err := p.deps.Tracker.Plan(ctx, listing.SourceSystem, entries)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	stats.planned.Add(int64(len(plan.Entries)))
	stats.stale.Add(int64(len(plan.Stale)))
	logger.Info("listing planned", "listed", len(entries), "planned", len(plan.Entries), "stale", len(plan.Stale))
	if len(plan.Entries) == 0 {
		return nil
	}

	done := make([]atomic.Bool, len(plan.Entries))
	// Transforms and durable writes outlive cancellation so captured work is flushed.
	flushCtx := context.WithoutCancel(ctx)

	transforms, tctx := errgroup.WithContext(flushCtx)
	queue := make(chan indexedCapture, p.deps.TransformWorkers)
	for range p.deps.TransformWorkers {
		transforms.Go(func() error {
			for item := range queue {
				if err := p.process(tctx, item.capture, stats); err != nil {
					return err
				}
				done[item.index].Store(true)
			}
			return nil
		})
	}

	fetches, fctx := errgroup.WithContext(ctx)
	fetches.SetLimit(p.deps.FetchWorkers)
	for i, planned := range plan.Entries {
		if fctx.Err() != nil {
			break
		}
		fetches.Go(func() error {
			return p.fetchOne(fctx, flushCtx, tctx, f, runID, i, planned, queue, stats)
		})
	}
	fetchErr := fetches.Wait()
	close(queue)
	transformErr := transforms.Wait()

	advanceErr := p.advanceMark(flushCtx, logger, plan, done)

	for i := range plan.Entries {
		if !done[i].Load() {
			stats.requeued.Add(1)
		}
	}

	switch {
	case transformErr != nil:
		return transformErr
	case fetchErr != nil:
		return fetchErr
	case advanceErr != nil:
		return advanceErr
	}
	return ctx.Err()
}

func (p *Pipeline) fetchOne(
	ctx, flushCtx, transformCtx context.Context,
	f *fetcher.Fetcher, runID string, index int, planned domain.PlannedEntry,
	queue chan<- indexedCapture, stats *counters,
) error {
	entry := planned.Entry
	payload, err := f.Fetch(ctx, entry.FilePath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrRetryBudgetExhausted) {
			return err
		}
		p.logger().Warn("file requeued", "path", entry.FilePath, "error", err)
		p.emit(ctx, domain.Event{Kind: domain.EventFileRequeued, RunID: runID, Path: entry.FilePath, Detail: err.Error()})
		return nil
	}

	capture := domain.RawCapture{
		SourceFilePath:     entry.FilePath,
		IngestionTimestamp: p.now().UTC().Truncate(time.Microsecond),
		IngestionSource:    payload.Source,
		RawPayload:         payload.Data,
		Manifest:           domain.MetadataFromEntry(entry),
		RunID:              runID,
	}
	if err := p.deps.Store.Append(flushCtx, capture); err != nil {
		return fmt.Errorf("bronze: %w", err)
	}
	stats.fetched.Add(1)
	if payload.Source == domain.SourceFailover {
		stats.failover.Add(1)
	}

	select {
	case queue <- indexedCapture{index: index, capture: capture}:
		return nil
	case <-transformCtx.Done():
		return context.Cause(transformCtx)
	}
}

// process parses one capture and writes every document it yields to Silver and Gold.
// Only store failures are returned; unreadable payloads count as violations.
func (p *Pipeline) process(ctx context.Context, c domain.RawCapture, stats *counters) error {
	var writeErr error
	err := parser.Members(c.SourceFilePath, bytes.NewReader(c.RawPayload), func(member string, r io.Reader) error {
		stream := parser.NewStream(r, member)
		for stream.Next() {
			p.recordViolations(ctx, c.RunID, stream.Violations(), stats)
			stats.parsed.Add(1)
			if err := p.write(ctx, stream.Document(), c, stats); err != nil {
				writeErr = err
				return err
			}
		}
		p.recordViolations(ctx, c.RunID, stream.Violations(), stats)
		if err := stream.Err(); err != nil {
			p.recordViolations(ctx, c.RunID, []domain.SchemaViolation{{
				SourceFile: member,
				Index:      stream.Seen(),
				Reason:     err.Error(),
			}}, stats)
		}
		return nil
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		p.recordViolations(ctx, c.RunID, []domain.SchemaViolation{{SourceFile: c.SourceFilePath, Reason: err.Error()}}, stats)
	}
	return nil
}

func (p *Pipeline) write(ctx context.Context, doc *domain.ParsedDocument, c domain.RawCapture, stats *counters) error {
	rec, tstats := p.deps.Transformer.Transform(doc, c)
	stats.unresolved.Add(int64(tstats.Unresolved))

	retracted := rec.RetractionStatus == domain.RetractionRetracted
	var wasRetracted bool
	if retracted {
		var err error
		wasRetracted, _, err = p.deps.Store.Silver().IsRetracted(ctx, rec.DocumentID)
		if err != nil {
			return fmt.Errorf("silver: %w", err)
		}
	}

	applied, err := p.deps.Store.Silver().Upsert(ctx, rec)
	if err != nil {
		return fmt.Errorf("silver: %w", err)
	}
	if !applied {
		p.logger().Debug("stale silver write skipped", "document_id", rec.DocumentID, "path", c.SourceFilePath)
		return nil
	}
	if retracted && !wasRetracted {
		stats.retractions.Add(1)
		p.emit(ctx, domain.Event{
			Kind:       domain.EventRetraction,
			RunID:      c.RunID,
			Path:       c.SourceFilePath,
			DocumentID: rec.DocumentID,
		})
	}

	if err := p.deps.Store.Gold().Upsert(ctx, p.deps.Flattener.Flatten(rec)); err != nil {
		return fmt.Errorf("gold: %w", err)
	}
	stats.written.Add(1)
	return nil
}

func (p *Pipeline) recordViolations(ctx context.Context, runID string, vs []domain.SchemaViolation, stats *counters) {
	for _, v := range vs {
		stats.violations.Add(1)
		p.logger().Warn("schema violation", "source", v.SourceFile, "index", v.Index, "reason", v.Reason)
		p.emit(ctx, domain.Event{Kind: domain.EventSchemaViolation, RunID: runID, Path: v.SourceFile, Detail: v.Error()})
	}
}

// advanceMark moves the mark over the longest prefix of fully processed
// timestamps. Entries sharing a timestamp advance together or not at all, and
// swept entries never move it.
func (p *Pipeline) advanceMark(ctx context.Context, logger *slog.Logger, plan manifest.Plan, done []atomic.Bool) error {
	var next *time.Time
	for i := 0; i < len(plan.Entries); {
		if plan.Entries[i].Sweep {
			i++
			continue
		}
		ts := plan.Entries[i].Entry.LastUpdatedAt
		complete := true
		j := i
		for ; j < len(plan.Entries) && plan.Entries[j].Entry.LastUpdatedAt.Equal(ts); j++ {
			if !plan.Entries[j].Sweep && !done[j].Load() {
				complete = false
			}
		}
		if !complete {
			break
		}
		next = &ts
		i = j
	}

	if next == nil || (plan.Mark != nil && !next.After(*plan.Mark)) {
		return nil
	}
	if err := p.deps.Store.Marks().CompareAndSet(ctx, plan.SourceSystem, plan.Mark, *next); err != nil {
		return fmt.Errorf("advance mark: %w", err)
	}
	logger.Info("high-water mark advanced", "mark", next.Format(time.RFC3339))
	return nil
}

func (p *Pipeline) loadManifest(ctx context.Context, f *fetcher.Fetcher, listing Listing) ([]domain.ManifestEntry, error) {
	if listing.ManifestPath != "" {
		file, err := p.deps.OpenFile(listing.ManifestPath)
		switch {
		case err == nil:
			defer file.Close()
			return manifest.ParseListing(file, listing.ManifestPath, listing.SourceSystem)
		case !errors.Is(err, fs.ErrNotExist) || listing.RemoteManifest == "":
			return nil, fmt.Errorf("open manifest %s: %w", listing.ManifestPath, err)
		}
	}
	if listing.RemoteManifest == "" {
		return nil, fmt.Errorf("no manifest configured for %s", listing.SourceSystem)
	}

	payload, err := f.Fetch(ctx, listing.RemoteManifest)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", listing.RemoteManifest, err)
	}
	return manifest.ParseListing(bytes.NewReader(payload.Data), listing.RemoteManifest, listing.SourceSystem)
}

func (p *Pipeline) emit(ctx context.Context, ev domain.Event) {
	if p.deps.Sink == nil {
		return
	}
	ev.Time = p.now().UTC()
	p.deps.Sink.Emit(ctx, ev)
}

func (p *Pipeline) logger() *slog.Logger {
	if p.deps.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.deps.Logger
}

func (p *Pipeline) now() time.Time {
	return p.deps.Now()
}

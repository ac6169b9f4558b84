package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"PMCMirror/internal/config"
	"PMCMirror/internal/domain"
	"PMCMirror/internal/fetcher"
	"PMCMirror/internal/gold"
	"PMCMirror/internal/infrastructure/observability"
	"PMCMirror/internal/infrastructure/scheduler"
	"PMCMirror/internal/infrastructure/storage"
	"PMCMirror/internal/infrastructure/transport"
	"PMCMirror/internal/logging"
	"PMCMirror/internal/manifest"
	"PMCMirror/internal/ports"
	"PMCMirror/internal/silver"
	"PMCMirror/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    ports.LayerStore
	ftp      *transport.FTPTransport
	metrics  *observability.PrometheusSink
	pipeline *usecase.Pipeline
	index    *manifest.IndexScanner
}

// New validates cfg and builds every adapter. Close releases them.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	primary, err := transport.NewS3Transport(ctx, cfg.Sources.S3)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	failover := transport.NewFTPTransport(cfg.Sources.FTP, baseLogger.With("component", "transport.ftp"))

	metrics := observability.NewPrometheusSink()
	sink := observability.Fan{observability.NewLogSink(baseLogger), metrics}

	breaker := fetcher.NewBreaker(fetcher.BreakerConfig{
		SourceSystem:     primary.Name(),
		FailureThreshold: cfg.Circuit.FailureThreshold,
		CoolDown:         cfg.Circuit.CoolDown,
		OnTransition: func(from, to domain.CircuitSnapshot) {
			sink.Emit(context.Background(), domain.Event{
				Kind:      domain.EventCircuitTransition,
				Time:      time.Now().UTC(),
				Transport: primary.Name(),
				From:      from.Status,
				To:        to.Status,
				Detail:    fmt.Sprintf("consecutive_failures=%d", to.ConsecutiveFailures),
			})
		},
	})

	var limiter *rate.Limiter
	if cfg.Fetch.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Fetch.RatePerSecond), 1)
	}

	f := fetcher.New(fetcher.Deps{
		Primary:  primary,
		Failover: failover,
		Breaker:  breaker,
		Policy: fetcher.RetryPolicy{
			MaxAttempts:   cfg.Fetch.MaxAttempts,
			InitialDelay:  cfg.Fetch.InitialBackoff,
			MaxDelay:      cfg.Fetch.MaxBackoff,
			BackoffFactor: cfg.Fetch.BackoffFactor,
			JitterFactor:  cfg.Fetch.Jitter,
		},
		Limiter:         limiter,
		AttemptTimeout:  cfg.Fetch.AttemptTimeout,
		MaxPayloadBytes: cfg.Fetch.MaxPayloadBytes,
		Sink:            sink,
		Logger:          baseLogger.With("component", "fetcher"),
	})

	tracker := manifest.NewTracker(manifest.TrackerDeps{
		Marks:            store.Marks(),
		Bronze:           store,
		Silver:           store.Silver(),
		Sink:             sink,
		Logger:           baseLogger.With("component", "manifest"),
		SweepRetractions: cfg.Compliance.SweepRetractions(),
	})

	listings := make([]usecase.Listing, 0, len(cfg.Listings))
	for _, l := range cfg.Listings {
		listings = append(listings, usecase.Listing{
			SourceSystem:   l.SourceSystem,
			ManifestPath:   l.ManifestPath,
			RemoteManifest: l.RemoteManifest,
		})
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Listings:         listings,
		Store:            store,
		Fetcher:          f,
		Breaker:          breaker,
		Tracker:          tracker,
		Transformer:      silver.New(),
		Flattener:        gold.NewFlattener(cfg.Compliance.CommercialLicenses),
		Sink:             sink,
		Logger:           baseLogger.With("component", "pipeline"),
		FetchWorkers:     cfg.Fetch.Workers,
		TransformWorkers: cfg.Transform.Workers,
		RetryBudget:      cfg.Fetch.RunRetryBudget,
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		ftp:      failover,
		metrics:  metrics,
		pipeline: pipeline,
		index:    manifest.NewIndexScanner(nil, baseLogger.With("component", "index")),
	}, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (ports.LayerStore, error) {
	if cfg.Driver == "memory" {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open layer store: %w", err)
	}
	return store, nil
}

// Run performs one incremental batch.
func (a *Application) Run(ctx context.Context) (domain.RunReport, error) {
	return a.pipeline.Run(ctx)
}

// Watch runs a batch now and then every scheduler interval until ctx ends.
func (a *Application) Watch(ctx context.Context) error {
	driver := scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, a.cfg.Scheduler.Location())
	jobs := usecase.NewScheduler(driver, a.pipeline, a.logger)
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("watching listings", "interval", a.cfg.Scheduler.Interval.String())

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err := jobs.Stop(stopCtx)
	a.logger.Info("watch stopped", append(jobs.LastReport().LogArgs(), "skipped_ticks", jobs.Skipped())...)
	return err
}

// Replay re-derives Silver and Gold from Bronze captures ingested since the given time.
func (a *Application) Replay(ctx context.Context, since time.Time) (domain.RunReport, error) {
	return a.pipeline.Replay(ctx, since)
}

// Discover lists the manifest files advertised by every configured index.
func (a *Application) Discover(ctx context.Context) (map[string][]manifest.IndexEntry, error) {
	out := make(map[string][]manifest.IndexEntry)
	for _, l := range a.cfg.Listings {
		if l.IndexURL == "" {
			continue
		}
		entries, err := a.index.Discover(ctx, l.IndexURL)
		if err != nil {
			return out, fmt.Errorf("discover %s: %w", l.SourceSystem, err)
		}
		out[l.SourceSystem] = entries
	}
	return out, nil
}

// ServeMetrics exposes Prometheus metrics on metrics.addr until ctx ends.
// It returns immediately when no address is configured.
func (a *Application) ServeMetrics(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.logger.Info("serving metrics", "addr", a.cfg.Metrics.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Close releases the store and the FTP connection.
func (a *Application) Close() error {
	return errors.Join(a.ftp.Close(), a.store.Close())
}

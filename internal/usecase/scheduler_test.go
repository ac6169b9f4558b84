package usecase

import (
	"context"
	"testing"
	"time"

	"PMCMirror/internal/domain"
)

type manualDriver struct {
	job     func(time.Time)
	stopped bool
}

func (d *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return nil
}

func (d *manualDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

func TestSchedulerRunsPipelineOnTick(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.primary.put("oa_comm/xml/PMC1.xml", articles("PMC1"))
	h.setManifest(listing(manifestRow{path: "oa_comm/xml/PMC1.xml", accession: "PMC1", updated: "2024-01-01 10:00:00"}))

	driver := &manualDriver{}
	s := NewScheduler(driver, h.pipeline(), nil)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	driver.job(time.Now())

	report := s.LastReport()
	if report.Outcome != domain.RunSucceeded || report.FilesFetched != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	driver.job(time.Now())
	if got := s.LastReport().FilesPlanned; got != 0 {
		t.Fatalf("second tick should find nothing new, planned %d", got)
	}

	if err := s.Stop(ctx); err != nil || !driver.stopped {
		t.Fatalf("Stop: %v stopped=%v", err, driver.stopped)
	}
}

func TestSchedulerSkipsOverlappingTick(t *testing.T) {
	t.Parallel()

	driver := &manualDriver{}
	s := NewScheduler(driver, newHarness().pipeline(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.running.Store(true)
	driver.job(time.Now())
	if s.Skipped() != 1 {
		t.Fatalf("expected one skipped tick, got %d", s.Skipped())
	}
	if s.LastReport().RunID != "" {
		t.Fatalf("skipped tick must not run the pipeline: %+v", s.LastReport())
	}
}

func TestSchedulerWithoutDriverIsNoop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

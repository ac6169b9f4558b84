package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIntervalSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	fired := make(chan struct{}, 16)
	s := NewIntervalScheduler(5*time.Millisecond, time.UTC)

	if err := s.Start(context.Background(), func(time.Time) {
		runs.Add(1)
		select {
		case fired <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("job fired %d times before timeout", runs.Load())
		}
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("job kept running after Stop")
	}
}

func TestIntervalSchedulerStopsOnContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewIntervalScheduler(time.Hour, nil)
	started := make(chan time.Time, 1)
	if err := s.Start(ctx, func(t time.Time) { started <- t }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	trigger := <-started
	if trigger.Location() != time.UTC {
		t.Fatalf("trigger must be reported in UTC, got %v", trigger.Location())
	}

	done := s.Done()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestIntervalSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()

	if err := NewIntervalScheduler(time.Second, nil).Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

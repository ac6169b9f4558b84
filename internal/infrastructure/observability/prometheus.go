package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

const namespace = "pmc_mirror"

// PrometheusSink counts events on a private registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	fetchAttempts      *prometheus.CounterVec
	fetchLatency       *prometheus.HistogramVec
	circuitTransitions *prometheus.CounterVec
	schemaViolations   prometheus.Counter
	retractions        prometheus.Counter
	staleEntries       prometheus.Counter
	requeued           prometheus.Counter
}

var _ ports.EventSink = (*PrometheusSink)(nil)

func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Fetch attempts by transport and outcome.",
		}, []string{"transport", "outcome"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of single fetch attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"transport"}),
		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Primary circuit breaker transitions by target state.",
		}, []string{"to"}),
		schemaViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_violations_total",
			Help:      "Documents dropped for missing mandatory fields.",
		}),
		retractions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retractions_detected_total",
			Help:      "Documents newly flagged as retracted.",
		}),
		staleEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_manifest_entries_total",
			Help:      "Manifest entries older than an existing Bronze capture.",
		}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_requeued_total",
			Help:      "Files left above the mark for the next run.",
		}),
	}
	s.registry.MustRegister(
		s.fetchAttempts, s.fetchLatency, s.circuitTransitions,
		s.schemaViolations, s.retractions, s.staleEntries, s.requeued,
	)
	return s
}

func (s *PrometheusSink) Emit(_ context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventFetchAttempt:
		s.fetchAttempts.WithLabelValues(ev.Transport, string(ev.Outcome)).Inc()
		s.fetchLatency.WithLabelValues(ev.Transport).Observe(ev.Latency.Seconds())
	case domain.EventCircuitTransition:
		s.circuitTransitions.WithLabelValues(string(ev.To)).Inc()
	case domain.EventSchemaViolation:
		s.schemaViolations.Inc()
	case domain.EventRetraction:
		s.retractions.Inc()
	case domain.EventStaleEntry:
		s.staleEntries.Inc()
	case domain.EventFileRequeued:
		s.requeued.Inc()
	}
}

// Handler exposes the registry in the Prometheus text format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

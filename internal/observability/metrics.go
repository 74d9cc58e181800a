package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors shared across the store,
// query engine, sweeper and event publisher, matching the teacher's
// repositoryMetrics shape generalised beyond one repository.
type Metrics struct {
	WriterRetries   prometheus.Counter
	WriterAborted   prometheus.Counter
	QueryDuration   *prometheus.HistogramVec
	QuerySlow       prometheus.Counter
	SweeperUnlocked prometheus.Counter
	SweeperErrors   prometheus.Counter
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     prometheus.Counter
	CacheErrors     prometheus.Counter
}

// NewMetrics registers the core's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WriterRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_writer_retries_total",
			Help: "Writer-transaction retries due to transient store conflicts.",
		}),
		WriterAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_writer_aborted_total",
			Help: "Writer transactions that exhausted their retry budget.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskcore_query_duration_seconds",
			Help:    "Query Engine operation latency by operation name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		QuerySlow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_query_slow_total",
			Help: "Queries that exceeded the configured slow-log threshold.",
		}),
		SweeperUnlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_sweeper_unlocked_total",
			Help: "Tasks auto-unlocked by the stale sweeper.",
		}),
		SweeperErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_sweeper_errors_total",
			Help: "Per-task sweeper failures that did not abort the run.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskcore_events_published_total",
			Help: "Events accepted by the Event Publisher, by type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskcore_events_dropped_total",
			Help: "Events dropped from the bounded outgoing queue, by type.",
		}, []string{"type"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskcore_cache_hits_total",
			Help: "Query Engine cache hits, by tier (l1 or l2).",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_cache_misses_total",
			Help: "Query Engine cache lookups that missed both tiers.",
		}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_cache_errors_total",
			Help: "Cache operations that failed against the L2 backend.",
		}),
	}
	reg.MustRegister(
		m.WriterRetries, m.WriterAborted, m.QueryDuration, m.QuerySlow,
		m.SweeperUnlocked, m.SweeperErrors, m.EventsPublished, m.EventsDropped,
		m.CacheHits, m.CacheMisses, m.CacheErrors,
	)
	return m
}

// ObserveQuery records latency for a named query operation and bumps the
// slow-log counter if it exceeded threshold.
func (m *Metrics) ObserveQuery(ctx context.Context, operation string, threshold time.Duration, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	m.QueryDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if elapsed > threshold {
		m.QuerySlow.Inc()
	}
	return err
}

// StartSpanFunc mirrors the teacher's tracer seam: a function that starts a
// span and returns a derived context plus an End func. See tracing.go for
// the OpenTelemetry-backed implementation; call sites take this type so
// tracing stays optional without branching.
type StartSpanFunc func(ctx context.Context, name string) (context.Context, func())

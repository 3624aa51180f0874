// Package metrics provides Prometheus instrumentation for the progression
// and leaderboard services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns a private registry and every collector registered on it.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry
	withRuntime      bool

	submissions        *prometheus.CounterVec
	submissionDuration prometheus.Histogram
	cacheRequests      *prometheus.CounterVec
	invalidations      prometheus.Counter
	invalidatedKeys    prometheus.Counter
	snapshotRuns       *prometheus.CounterVec
	snapshotLastUnix   prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom buckets, in seconds, for latency metrics.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry registers every collector on registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(m *Manager) {
		m.withRuntime = true
	}
}

// NewManager creates a metrics manager on a fresh registry unless one is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "arcade",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	if m.withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "scores",
		Name:      "submissions_total",
		Help:      "Score submissions by outcome",
	}, []string{"outcome"})

	m.submissionDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "scores",
		Name:      "submission_duration_seconds",
		Help:      "Time spent processing a score submission",
		Buckets:   m.histogramBuckets,
	})

	m.cacheRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "leaderboard",
		Name:      "cache_requests_total",
		Help:      "Leaderboard page reads by window and cache result",
	}, []string{"window", "result"})

	m.invalidations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "leaderboard",
		Name:      "invalidations_total",
		Help:      "Leaderboard cache invalidations",
	})

	m.invalidatedKeys = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "leaderboard",
		Name:      "invalidated_keys_total",
		Help:      "Cache keys removed by invalidations",
	})

	m.snapshotRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "leaderboard",
		Name:      "snapshot_runs_total",
		Help:      "Snapshot runs by result",
	}, []string{"result"})

	m.snapshotLastUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "leaderboard",
		Name:      "snapshot_last_success_unix",
		Help:      "Unix time of the last successful snapshot",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})
}

// SubmissionObserved records one submission outcome and its latency.
func (m *Manager) SubmissionObserved(outcome string, elapsed time.Duration) {
	m.submissions.WithLabelValues(outcome).Inc()
	m.submissionDuration.Observe(elapsed.Seconds())
}

// CacheRequest records a leaderboard page read.
func (m *Manager) CacheRequest(window domain.Window, result string) {
	m.cacheRequests.WithLabelValues(string(window), result).Inc()
}

// CacheInvalidated records an invalidation that removed deleted keys.
func (m *Manager) CacheInvalidated(deleted int64) {
	m.invalidations.Inc()
	m.invalidatedKeys.Add(float64(deleted))
}

// SnapshotCompleted records the result of a snapshot run.
func (m *Manager) SnapshotCompleted(err error) {
	if err != nil {
		m.snapshotRuns.WithLabelValues("error").Inc()
		return
	}
	m.snapshotRuns.WithLabelValues("ok").Inc()
	m.snapshotLastUnix.SetToCurrentTime()
}

// HTTPObserved records one served HTTP request.
func (m *Manager) HTTPObserved(route, method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Package metrics exposes Prometheus metrics for the reviewer bot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Election outcomes.
const (
	OutcomeAssigned    = "assigned"
	OutcomeDryRun      = "dry_run"
	OutcomeNoCandidate = "no_candidate"
	OutcomeSkipped     = "skipped"
	OutcomeError       = "error"
)

// selectionBuckets span a cached lookup up to a cold multi-page history fetch.
var selectionBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30} //nolint:gochecknoglobals // default buckets

// Manager owns the bot's metrics and the registry they live in.
type Manager struct {
	registry         *prometheus.Registry
	elections        *prometheus.CounterVec
	events           *prometheus.CounterVec
	apiErrors        *prometheus.CounterVec
	selection        prometheus.Histogram
	lastSweep        prometheus.Gauge
	namespace        string
	subsystem        string
	histogramBuckets []float64
}

// NewManager creates and registers the metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fair_reviewer",
		subsystem:        "bot",
		histogramBuckets: selectionBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.elections = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "elections_total",
		Help:      "Reviewer elections by outcome",
	}, []string{"outcome"})
	m.events = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_total",
		Help:      "Pull request events received by source",
	}, []string{"source"})
	m.apiErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "github_errors_total",
		Help:      "Failed GitHub calls by operation",
	}, []string{"operation"})
	m.selection = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "selection_duration_seconds",
		Help:      "Time to fetch history and rank reviewers for one pull request",
		Buckets:   m.histogramBuckets,
	})
	m.lastSweep = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_sweep_timestamp_seconds",
		Help:      "Unix time of the last completed sweep",
	})
	return m
}

// Election counts one election with the given outcome.
func (m *Manager) Election(outcome string) {
	m.elections.WithLabelValues(outcome).Inc()
}

// Event counts one pull request event from source ("sprinkler", "sweep", "api").
func (m *Manager) Event(source string) {
	m.events.WithLabelValues(source).Inc()
}

// APIError counts a failed GitHub call.
func (m *Manager) APIError(operation string) {
	m.apiErrors.WithLabelValues(operation).Inc()
}

// ObserveSelection records how long a selection took.
func (m *Manager) ObserveSelection(d time.Duration) {
	m.selection.Observe(d.Seconds())
}

// SweepCompleted records the time a sweep finished.
func (m *Manager) SweepCompleted(at time.Time) {
	m.lastSweep.Set(float64(at.Unix()))
}

// Registry returns the registry the metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics collects per-run Prometheus metrics and exports them in
// the node_exporter textfile format.
package metrics

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fixhunt/internal/backends"
	"fixhunt/internal/errors"
	"fixhunt/internal/fixchain"
)

const namespace = "fixhunt"

// Metrics holds every collector of one run on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// QueriesTotal counts backend queries by backend, kind and status code
	QueriesTotal *prometheus.CounterVec
	// QueryDuration measures backend query latency by backend and kind
	QueryDuration *prometheus.HistogramVec
	// CommitsScanned counts commits streamed back by the backend
	CommitsScanned *prometheus.CounterVec
	// EventsTotal counts reported events by kind
	EventsTotal *prometheus.CounterVec
	// ChainDepth observes the depth of every FixedBy event
	ChainDepth prometheus.Histogram
	// RunDuration is the wall time of the last run
	RunDuration prometheus.Gauge
	// RunTimestamp is when the last run finished
	RunTimestamp prometheus.Gauge
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_queries_total",
			Help:      "History queries by backend, query kind and result code",
		}, []string{"backend", "kind", "status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_query_duration_seconds",
			Help:      "History query latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"backend", "kind"}),
		CommitsScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_commits_scanned_total",
			Help:      "Commits returned by history queries before matching",
		}, []string{"backend", "kind"}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Reported events by kind",
		}, []string{"kind"}),
		ChainDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fix_chain_depth",
			Help:      "Depth of reported fixes",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		RunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_last_finished_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
}

// ObserveQuery implements backends.QueryObserver
func (m *Metrics) ObserveQuery(backend backends.BackendID, kind backends.QueryKind, err error, elapsed time.Duration, commits int) {
	status := "ok"
	switch {
	case err == nil:
	case stderrors.Is(err, context.Canceled):
		status = "cancelled"
	default:
		status = string(errors.CodeOf(err))
	}
	m.QueriesTotal.WithLabelValues(string(backend), string(kind), status).Inc()
	m.QueryDuration.WithLabelValues(string(backend), string(kind)).Observe(elapsed.Seconds())
	m.CommitsScanned.WithLabelValues(string(backend), string(kind)).Add(float64(commits))
}

// Report implements fixchain.Reporter
func (m *Metrics) Report(ev fixchain.Event) error {
	m.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind == fixchain.FixedBy {
		m.ChainDepth.Observe(float64(ev.Depth))
	}
	return nil
}

// Finish records the run summary
func (m *Metrics) Finish(summary *fixchain.Summary, now time.Time) {
	if summary != nil {
		m.RunDuration.Set(summary.Elapsed.Seconds())
	}
	m.RunTimestamp.Set(float64(now.Unix()))
}

// WriteTextfile writes the registry to path in the textfile collector format
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

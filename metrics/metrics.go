// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors, registered against a single
// registry so tests can use isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	ScansStarted    prometheus.Counter
	ScansCompleted  prometheus.Counter
	ColumnsScanned  prometheus.Counter
	ColumnsErrored  prometheus.Counter
	Classifications *prometheus.CounterVec
	IssuesOpened    prometheus.Counter
	IssuesResolved  prometheus.Counter
	ScanDuration    prometheus.Histogram
	SampleFailures  prometheus.Counter
}

// New creates and registers the engine's collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ScansStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "piiguard_scans_started_total",
			Help: "Number of scans started.",
		}),
		ScansCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "piiguard_scans_completed_total",
			Help: "Number of scans completed.",
		}),
		ColumnsScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "piiguard_columns_scanned_total",
			Help: "Number of columns evaluated across all scans.",
		}),
		ColumnsErrored: factory.NewCounter(prometheus.CounterOpts{
			Name: "piiguard_columns_errored_total",
			Help: "Number of columns whose commit failed during a scan.",
		}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "piiguard_classifications_total",
			Help: "Classification changes by kind.",
		}, []string{"kind"}),
		IssuesOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "piiguard_issues_opened_total",
			Help: "Number of classification issues opened.",
		}),
		IssuesResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "piiguard_issues_resolved_total",
			Help: "Number of classification issues resolved.",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "piiguard_scan_duration_seconds",
			Help:    "Wall-clock duration of scans.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		SampleFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "piiguard_sample_failures_total",
			Help: "Number of failed content sampling attempts.",
		}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

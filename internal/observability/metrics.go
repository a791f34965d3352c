// Package observability provides Prometheus metrics for the indexer.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bidindex"

// Metrics holds every metric the service exports.
type Metrics struct {
	registry *prometheus.Registry

	// Queue metrics
	JobsEnqueued *prometheus.CounterVec
	JobsFinished *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	JobsInFlight *prometheus.GaugeVec
	JobsReaped   *prometheus.CounterVec
	QueueDepth   *prometheus.GaugeVec

	// Fan-out metrics
	FanoutPages        prometheus.Counter
	FanoutRowsInserted prometheus.Counter
	FanoutOrdersMissed prometheus.Counter

	// Flag metrics
	FlagUpdates      *prometheus.CounterVec
	ReindexRequested *prometheus.CounterVec

	// Archive metrics
	ArchivedJobs prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics on a fresh registry. Each call is
// independent, so tests can build as many as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		JobsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Jobs pushed onto a queue, by payload kind",
		}, []string{"queue", "kind"}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "job_attempts_total",
			Help:      "Job attempts by outcome (completed, retried, failed)",
		}, []string{"queue", "outcome"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Duration of a single job attempt",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"queue"}),
		JobsInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Attempts currently running in this process",
		}, []string{"queue"}),
		JobsReaped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "leases_reaped_total",
			Help:      "Expired job leases reclaimed from dead workers",
		}, []string{"queue"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs",
			Help:      "Jobs per queue and state, sampled periodically",
		}, []string{"queue", "state"}),

		FanoutPages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "pages_total",
			Help:      "Token-set pages materialized",
		}),
		FanoutRowsInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "rows_inserted_total",
			Help:      "User received bid rows inserted",
		}),
		FanoutOrdersMissed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "orders_missing_total",
			Help:      "Fan-out jobs whose order no longer exists",
		}),

		FlagUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flag",
			Name:      "updates_total",
			Help:      "Token flag updates by result (changed, unchanged)",
		}, []string{"result"}),
		ReindexRequested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flag",
			Name:      "reindex_requested_total",
			Help:      "Metadata reindex jobs requested, by method",
		}, []string{"method"}),

		ArchivedJobs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "jobs_total",
			Help:      "Failed job records written to object storage",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Package metrics exposes the Prometheus collectors for the invoice
// generation engine.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector bundles the engine's Prometheus metrics
type Collector struct {
	registry *prometheus.Registry

	InvoicesGenerated *prometheus.CounterVec
	InvoicesFailed    *prometheus.CounterVec
	ParseErrors       *prometheus.CounterVec
	DiscrepanciesSeen prometheus.Counter
	LockWaitSeconds   prometheus.Histogram
	LockTimeouts      prometheus.Counter
	BatchesConsumed   prometheus.Counter
	JobsRunning       prometheus.Gauge
	JobDuration       *prometheus.HistogramVec
}

// NewCollector creates and registers the engine collectors
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		InvoicesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_generated_total",
			Help:      "Invoices successfully registered with the external provider",
		}, []string{"tenant_id"}),
		InvoicesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_failed_total",
			Help:      "Per-item invoice generation failures",
		}, []string{"tenant_id", "reason"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Document sections that failed extraction",
		}, []string{"format"}),
		DiscrepanciesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discrepancies_total",
			Help:      "Declared-vs-computed total mismatches beyond tolerance",
		}),
		LockWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for folio locks",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Folio lock acquisitions that exhausted retries",
		}),
		BatchesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_consumed_total",
			Help:      "Batches deleted after a generation run",
		}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "async_jobs_running",
			Help:      "Async jobs currently executing",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "async_job_duration_seconds",
			Help:      "Async job execution time by kind",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"kind"}),
	}

	registry.MustRegister(
		c.InvoicesGenerated,
		c.InvoicesFailed,
		c.ParseErrors,
		c.DiscrepanciesSeen,
		c.LockWaitSeconds,
		c.LockTimeouts,
		c.BatchesConsumed,
		c.JobsRunning,
		c.JobDuration,
	)

	return c
}

// ObserveLockWait records a lock acquisition wait
func (c *Collector) ObserveLockWait(d time.Duration) {
	c.LockWaitSeconds.Observe(d.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP endpoint. It blocks until the server exits.
func (c *Collector) Serve(host string, port int, path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())

	addr := fmt.Sprintf("%s:%d", host, port)
	logger.Info("Metrics endpoint listening", zap.String("addr", addr), zap.String("path", path))
	return http.ListenAndServe(addr, mux)
}

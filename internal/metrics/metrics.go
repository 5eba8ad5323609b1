// Package metrics exposes Prometheus counters, a latency histogram, and
// residue/drain gauges for the completion pipeline.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for the completion pipeline.
type Collector struct {
	completionsSucceeded prometheus.Counter
	completionsFailed    prometheus.Counter
	flowUpdatesSent      prometheus.Counter
	jobErrorsHandled     prometheus.Counter

	processingLatency prometheus.Histogram

	sameWorkerResidue prometheus.Gauge
	drainActive       prometheus.Gauge
	lastProcessingMs  prometheus.Gauge
}

// NewCollector creates and registers a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		completionsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobresultproc_completions_succeeded_total",
			Help: "Total number of job completions processed successfully",
		}),
		completionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobresultproc_completions_failed_total",
			Help: "Total number of job completions processed as failures",
		}),
		flowUpdatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobresultproc_flow_updates_total",
			Help: "Total number of flow status updates sent",
		}),
		jobErrorsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobresultproc_job_errors_handled_total",
			Help: "Total number of job-error handler invocations",
		}),
		processingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobresultproc_completion_processing_seconds",
			Help:    "Time to process one completion end to end",
			Buckets: prometheus.DefBuckets,
		}),
		sameWorkerResidue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobresultproc_same_worker_residue",
			Help: "Current size of the same-worker queue",
		}),
		drainActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobresultproc_drain_active",
			Help: "1 while the receiver is draining after a kill-pill, 0 otherwise",
		}),
		lastProcessingMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobresultproc_last_processing_duration_ms",
			Help: "Duration of the most recently processed completion, in milliseconds",
		}),
	}

	prometheus.MustRegister(
		c.completionsSucceeded,
		c.completionsFailed,
		c.flowUpdatesSent,
		c.jobErrorsHandled,
		c.processingLatency,
		c.sameWorkerResidue,
		c.drainActive,
		c.lastProcessingMs,
	)

	return c
}

// RecordCompletion records one processed completion with its outcome and
// processing latency.
func (c *Collector) RecordCompletion(success bool, latencySeconds float64) {
	if success {
		c.completionsSucceeded.Inc()
	} else {
		c.completionsFailed.Inc()
	}
	c.processingLatency.Observe(latencySeconds)
	c.lastProcessingMs.Set(latencySeconds * 1000)
}

// RecordFlowUpdate records one flow status update dispatch.
func (c *Collector) RecordFlowUpdate() {
	c.flowUpdatesSent.Inc()
}

// RecordJobError records one job-error handler invocation.
func (c *Collector) RecordJobError() {
	c.jobErrorsHandled.Inc()
}

// SetSameWorkerResidue reports the current same-worker queue size.
func (c *Collector) SetSameWorkerResidue(size int64) {
	c.sameWorkerResidue.Set(float64(size))
}

// SetDraining reports whether the receiver is currently draining.
func (c *Collector) SetDraining(draining bool) {
	if draining {
		c.drainActive.Set(1)
	} else {
		c.drainActive.Set(0)
	}
}

// StartServer starts the Prometheus metrics HTTP server on the given
// port. Blocks until the server exits.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}

// Package metrics exposes Prometheus instrumentation for the HTTP API,
// the job runner and the NVR client.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Job runner metrics
	JobsTotal      *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobsInProgress prometheus.Gauge

	// NVR export metrics
	DownloadBytes    prometheus.Counter
	ExportStallTotal prometheus.Counter
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exacqman_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exacqman_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exacqman_jobs_total",
			Help: "Total number of processed jobs",
		}, []string{"type", "status"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exacqman_job_duration_seconds",
			Help:    "Job duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"type", "status"}),

		JobsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exacqman_jobs_in_progress",
			Help: "Number of jobs currently running",
		}),

		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exacqman_download_bytes_total",
			Help: "Total bytes downloaded from the NVR",
		}),

		ExportStallTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exacqman_export_stalls_total",
			Help: "Total number of exports abandoned after stalling",
		}),
	}

	// Register metrics with the default registry
	registerMetrics(m)

	// Store as global instance
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	// Try to register each metric, ignore if already registered
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.JobsTotal)
	registerOrGet(m.JobDuration)
	registerOrGet(m.JobsInProgress)
	registerOrGet(m.DownloadBytes)
	registerOrGet(m.ExportStallTotal)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		// If already registered, return the existing collector
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

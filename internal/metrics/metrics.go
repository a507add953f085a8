// ============================================================================
// Rawbatch Metrics - Prometheus Conversion Metrics
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose conversion-run metrics in Prometheus format.
//
// Metric set:
//   Counters:
//     rawbatch_folders_completed_total  - folders converted successfully
//     rawbatch_folders_failed_total     - folder attempts that failed
//     rawbatch_files_completed_total    - RAW files in completed folders
//     rawbatch_retry_rounds_total       - retry rounds executed
//     rawbatch_profiles_skipped_total   - worker profiles dropped for budget
//   Histogram:
//     rawbatch_folder_duration_seconds  - wall time per folder attempt
//   Gauges:
//     rawbatch_workers_active           - renderer instances currently running
//     rawbatch_folders_pending          - folders not yet dispatched
//
// Exposed through /metrics when the metrics server is enabled in config.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus instruments for one process.
type Collector struct {
	foldersCompleted prometheus.Counter
	foldersFailed    prometheus.Counter
	filesCompleted   prometheus.Counter
	retryRounds      prometheus.Counter
	profilesSkipped  prometheus.Counter

	folderDuration prometheus.Histogram

	workersActive  prometheus.Gauge
	foldersPending prometheus.Gauge
}

// NewCollector creates and registers the collector with the default
// registerer. A process should create exactly one; a second registration
// panics (tests reset prometheus.DefaultRegisterer instead).
func NewCollector() *Collector {
	c := &Collector{
		foldersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawbatch_folders_completed_total",
			Help: "Total number of folders converted successfully",
		}),
		foldersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawbatch_folders_failed_total",
			Help: "Total number of failed folder conversion attempts",
		}),
		filesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawbatch_files_completed_total",
			Help: "Total number of RAW files in successfully converted folders",
		}),
		retryRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawbatch_retry_rounds_total",
			Help: "Total number of retry rounds executed",
		}),
		profilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawbatch_profiles_skipped_total",
			Help: "Total number of worker profiles skipped for lack of thread budget",
		}),
		folderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "rawbatch_folder_duration_seconds",
			Help: "Wall time of one folder conversion attempt in seconds",
			// Renderer runs are minutes, not milliseconds.
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rawbatch_workers_active",
			Help: "Renderer instances currently running",
		}),
		foldersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rawbatch_folders_pending",
			Help: "Folders queued but not yet dispatched",
		}),
	}

	prometheus.MustRegister(c.foldersCompleted)
	prometheus.MustRegister(c.foldersFailed)
	prometheus.MustRegister(c.filesCompleted)
	prometheus.MustRegister(c.retryRounds)
	prometheus.MustRegister(c.profilesSkipped)
	prometheus.MustRegister(c.folderDuration)
	prometheus.MustRegister(c.workersActive)
	prometheus.MustRegister(c.foldersPending)

	return c
}

// RecordCompleted records one successful folder attempt.
func (c *Collector) RecordCompleted(durationSeconds float64, fileCount int) {
	c.foldersCompleted.Inc()
	c.filesCompleted.Add(float64(fileCount))
	c.folderDuration.Observe(durationSeconds)
}

// RecordFailed records one failed folder attempt.
func (c *Collector) RecordFailed(durationSeconds float64) {
	c.foldersFailed.Inc()
	c.folderDuration.Observe(durationSeconds)
}

// RecordRetryRound records one retry round over the remaining failed set.
func (c *Collector) RecordRetryRound() {
	c.retryRounds.Inc()
}

// RecordProfilesSkipped records profiles the generator could not fit.
func (c *Collector) RecordProfilesSkipped(n int) {
	if n > 0 {
		c.profilesSkipped.Add(float64(n))
	}
}

// WorkerStarted / WorkerDone track the in-flight renderer instance gauge.
func (c *Collector) WorkerStarted() { c.workersActive.Inc() }
func (c *Collector) WorkerDone()    { c.workersActive.Dec() }

// SetPending sets the not-yet-dispatched folder gauge.
func (c *Collector) SetPending(n int) {
	c.foldersPending.Set(float64(n))
}

// StartServer starts the Prometheus metrics HTTP server. Blocks; run it in a
// goroutine.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}

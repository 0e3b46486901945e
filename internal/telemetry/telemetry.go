// Package telemetry exposes Prometheus metrics for the scheduler and
// workers, grounded on hdrp/internal/metrics/prometheus.go's
// promauto-registered vectors, re-homed from HDRP's claims-extraction
// domain to operator dispatch/repeat/store-write events.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_job_dispatches_total",
			Help: "Total number of operator jobs dispatched to a worker",
		},
		[]string{"operator_id"},
	)

	workerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governor_worker_duration_seconds",
			Help:    "Wall-clock duration of a single operator run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operator_id", "status"},
	)

	repeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_operator_repeats_total",
			Help: "Total number of completed repeats per operator",
		},
		[]string{"operator_id"},
	)

	storeWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_store_writes_total",
			Help: "Total number of SharedStore writes by key",
		},
		[]string{"key"},
	)

	schedulerCycle = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governor_scheduler_cycle_seconds",
			Help:    "Duration of one recurse() cycle of the scheduler",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"mode"},
	)

	runErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_run_errors_total",
			Help: "Total number of fatal run errors by kind",
		},
		[]string{"kind"},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "governor_active_runs",
			Help: "Current number of in-flight controller runs",
		},
	)
)

// RecordJobDispatch increments the dispatch counter for an operator.
func RecordJobDispatch(operatorID string) {
	jobDispatches.WithLabelValues(operatorID).Inc()
}

// RecordWorkerDuration records how long a single run of operatorID took.
func RecordWorkerDuration(operatorID string, durationSeconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	workerDuration.WithLabelValues(operatorID, status).Observe(durationSeconds)
}

// RecordRepeat increments the completed-repeat counter for an operator.
func RecordRepeat(operatorID string) {
	repeats.WithLabelValues(operatorID).Inc()
}

// RecordStoreWrite increments the SharedStore write counter for key.
func RecordStoreWrite(key string) {
	storeWrites.WithLabelValues(key).Inc()
}

// RecordSchedulerCycle records the duration of one recurse() cycle.
func RecordSchedulerCycle(mode string, durationSeconds float64) {
	schedulerCycle.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordRunError increments the fatal-error counter for kind (one of
// the spec.md §7 error kinds).
func RecordRunError(kind string) {
	runErrors.WithLabelValues(kind).Inc()
}

// IncrementActiveRuns/DecrementActiveRuns track in-flight controller runs.
func IncrementActiveRuns() { activeRuns.Inc() }
func DecrementActiveRuns() { activeRuns.Dec() }

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ApplicationsTotal counts tracked applications by whether they are
	// currently quarantined (empty project id).
	ApplicationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deploytrigger_applications_total",
			Help: "Total number of tracked applications by quarantine status",
		},
		[]string{"quarantined"},
	)

	ApplicationsWithOutstandingChangeTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deploytrigger_applications_outstanding_change_total",
			Help: "Total number of applications with a stashed outstanding change",
		},
	)

	ApplicationsQuarantinedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deploytrigger_applications_quarantined_total",
			Help: "Total number of times an application was quarantined after a build-service rejection",
		},
	)

	// Sweep metrics (triggering engine, §4.G).
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deploytrigger_sweep_duration_seconds",
			Help:    "Time taken for one ready-jobs sweep across all applications",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deploytrigger_sweeps_total",
			Help: "Total number of sweeps completed",
		},
	)

	JobsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploytrigger_jobs_triggered_total",
			Help: "Total number of jobs triggered by job type and trigger reason",
		},
		[]string{"job_type", "reason"},
	)

	JobsPlannedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploytrigger_jobs_planned_total",
			Help: "Total number of candidate jobs the planner emitted, by job type",
		},
		[]string{"job_type"},
	)

	// Reconciler metrics (§4.H).
	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploytrigger_reconciliations_total",
			Help: "Total number of job-completion reports processed, by outcome",
		},
		[]string{"outcome"},
	)

	JobStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deploytrigger_job_status",
			Help: "Whether the most recent completion of a job type was a success (1) or failure (0)",
		},
		[]string{"application_id", "job_type"},
	)

	// External-change API metrics (§4.I).
	ChangesTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deploytrigger_changes_triggered_total",
			Help: "Total number of external change-trigger requests accepted",
		},
	)

	ChangeConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deploytrigger_change_conflicts_total",
			Help: "Total number of change-trigger requests rejected due to a change already in progress",
		},
	)

	ChangesCanceledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deploytrigger_changes_canceled_total",
			Help: "Total number of change-cancellation requests processed",
		},
	)

	// HTTP ingress metrics.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploytrigger_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deploytrigger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Build-service client metrics.
	BuildServiceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploytrigger_build_service_requests_total",
			Help: "Total number of build-service requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ApplicationsTotal)
	prometheus.MustRegister(ApplicationsWithOutstandingChangeTotal)
	prometheus.MustRegister(ApplicationsQuarantinedTotal)

	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SweepsTotal)
	prometheus.MustRegister(JobsTriggeredTotal)
	prometheus.MustRegister(JobsPlannedTotal)

	prometheus.MustRegister(ReconciliationsTotal)
	prometheus.MustRegister(JobStatus)

	prometheus.MustRegister(ChangesTriggeredTotal)
	prometheus.MustRegister(ChangeConflictsTotal)
	prometheus.MustRegister(ChangesCanceledTotal)

	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)

	prometheus.MustRegister(BuildServiceRequestsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

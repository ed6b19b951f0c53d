/*
Package metrics provides Prometheus metrics collection and exposition for the
deployment trigger.

The metrics package defines and registers every deploytrigger metric using the
Prometheus client library, giving observability into application quarantine
status, sweep cadence, job dispatch and reconciliation outcomes, and the
HTTP-facing completion webhook. Metrics are exposed via an HTTP endpoint for
scraping by Prometheus servers.

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered in init()
  - Thread-safe for concurrent updates from the triggering engine,
    reconciler, and HTTP server, which all run on their own goroutines

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: applications_total (by quarantine status), job_status
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: sweeps_total, jobs_triggered_total, change_conflicts_total
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Examples: sweep_duration_seconds, http_request_duration_seconds
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to a histogram (or histogram vec)

Collector:
  - A ticker that periodically re-derives gauge values from the
    application repository (quarantine counts, outstanding-change counts,
    per-job-type status), complementing the counters the triggering engine
    and reconciler update inline as events occur

# Metrics Catalog

Application Metrics:

deploytrigger_applications_total{quarantined}:
  - Type: Gauge
  - Description: Tracked applications by quarantine status (project id
    cleared after a build-service rejection)
  - Labels: quarantined ("true"/"false")

deploytrigger_applications_outstanding_change_total:
  - Type: Gauge
  - Description: Applications with a stashed outstanding change awaiting
    the current change to finish

deploytrigger_applications_quarantined_total:
  - Type: Counter
  - Description: Total times an application was quarantined after a
    build-service UnknownJob/IllegalJob rejection

Sweep Metrics (triggering engine, §4.G):

deploytrigger_sweep_duration_seconds:
  - Type: Histogram
  - Description: Time taken for one ready-jobs sweep across all
    applications

deploytrigger_sweeps_total:
  - Type: Counter
  - Description: Total number of sweeps completed

deploytrigger_jobs_triggered_total{job_type, reason}:
  - Type: Counter
  - Description: Jobs successfully dispatched, by job type and trigger
    reason (fresh/retry)
  - Labels: job_type, reason

deploytrigger_jobs_planned_total{job_type}:
  - Type: Counter
  - Description: Candidate jobs the planner emitted, by job type

Reconciliation Metrics (§4.H):

deploytrigger_reconciliations_total{outcome}:
  - Type: Counter
  - Description: Job-completion reports processed, by outcome
    (applied/unknown_application/invariant_violation/error)
  - Labels: outcome

deploytrigger_job_status{application_id, job_type}:
  - Type: Gauge
  - Description: Whether the most recent completion of a job type was a
    success (1) or failure (0)
  - Labels: application_id, job_type

External-Change API Metrics (§4.I):

deploytrigger_changes_triggered_total:
  - Type: Counter
  - Description: External change-trigger requests accepted

deploytrigger_change_conflicts_total:
  - Type: Counter
  - Description: Change-trigger requests rejected because a healthy
    change was already in progress

deploytrigger_changes_canceled_total:
  - Type: Counter
  - Description: Change-cancellation requests processed

HTTP Ingress Metrics:

deploytrigger_http_requests_total{route, status}:
  - Type: Counter
  - Description: HTTP requests by route and status text
  - Labels: route, status

deploytrigger_http_request_duration_seconds{route}:
  - Type: Histogram
  - Description: HTTP request duration by route
  - Labels: route

Build-Service Client Metrics:

deploytrigger_build_service_requests_total{operation, outcome}:
  - Type: Counter
  - Description: Build-service requests by operation (trigger/stateOf)
    and outcome
  - Labels: operation, outcome

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/deploytrigger/pkg/metrics"

	metrics.ApplicationsTotal.WithLabelValues("true").Set(3)
	metrics.ApplicationsWithOutstandingChangeTotal.Set(1)

Updating Counter Metrics:

	metrics.SweepsTotal.Inc()
	metrics.JobsTriggeredTotal.WithLabelValues("systemTest", "retry").Inc()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... handle request ...
	timer.ObserveDurationVec(metrics.HTTPRequestDuration, "completions")

Exposing the endpoint:

	mux.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/trigger: sweep duration, jobs-planned, jobs-triggered, quarantine
    counters
  - pkg/reconcile: reconciliation-outcome counters
  - Collector: the job-status gauge, republished from the repository
  - pkg/changeapi: change-triggered/conflict/canceled counters
  - pkg/httpapi: request count and duration by route
  - Prometheus: scrapes /metrics

The build-service request counter is registered, but no package
increments it.

# Design Patterns

Package Init Registration:
  - All metrics registered in init()
  - MustRegister panics on duplicate registration, so a double-import
    bug surfaces immediately rather than silently dropping a metric

Label Discipline:
  - Labels are bounded (job type, route, outcome, quarantine status) —
    application id appears only on the per-application job_status gauge,
    never on a counter, to keep cardinality proportional to the fleet
    size rather than to event volume

Timer Pattern:
  - Create a Timer at operation start, observe on return (often via
    defer) to a histogram or histogram vec

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics

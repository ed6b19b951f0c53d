package reconcile

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/deploytrigger/pkg/apprepo"
	"github.com/cuemby/deploytrigger/pkg/changecalc"
	"github.com/cuemby/deploytrigger/pkg/clock"
	"github.com/cuemby/deploytrigger/pkg/log"
	"github.com/cuemby/deploytrigger/pkg/metrics"
	"github.com/cuemby/deploytrigger/pkg/types"
	"github.com/cuemby/deploytrigger/pkg/versions"
)

// ErrInvariantViolation is returned when a completion report references a
// job that was never triggered — the invariant that every completion has a
// matching prior trigger has been broken somewhere upstream, and the
// reconciler fails fast rather than guessing at a fabricated trigger.
var ErrInvariantViolation = errors.New("reconcile: completion for a job with no lastTriggered record")

// Reconciler is the completion reconciler (§4.H).
type Reconciler struct {
	Repo   apprepo.Repository
	Clock  clock.Clock
	System types.PlatformVersion

	logger zerolog.Logger
}

// New builds a Reconciler.
func New(repo apprepo.Repository, clk clock.Clock, system types.PlatformVersion) *Reconciler {
	return &Reconciler{
		Repo:   repo,
		Clock:  clk,
		System: system,
		logger: log.WithComponent("reconcile"),
	}
}

// NotifyOfCompletion is the sole entry point: a build-service webhook calls
// this with the report of one job's completion. Unknown applications are
// logged and dropped (§7: UnknownApplication propagates; the reconciler
// itself logs and drops rather than erroring the webhook handler).
func (r *Reconciler) NotifyOfCompletion(report types.JobReport) error {
	_, ok, err := r.Repo.Get(report.ApplicationID)
	if err != nil {
		return fmt.Errorf("reconcile: look up application %q: %w", report.ApplicationID, err)
	}
	if !ok {
		r.logger.Warn().Str("application_id", report.ApplicationID).Msg("completion report for unknown application, dropping")
		metrics.ReconciliationsTotal.WithLabelValues("unknown_application").Inc()
		return nil
	}

	err = r.Repo.LockOrThrow(report.ApplicationID, func(app types.Application) (types.Application, error) {
		if report.JobType.IsComponent() {
			return r.applyComponentCompletion(app, report)
		}
		return r.applyJobCompletion(app, report)
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrInvariantViolation) {
			outcome = "invariant_violation"
		}
		metrics.ReconciliationsTotal.WithLabelValues(outcome).Inc()
		return err
	}

	metrics.ReconciliationsTotal.WithLabelValues("applied").Inc()
	return nil
}

// applyComponentCompletion handles report.JobType == component: a
// successful build produces a new application version that is either
// folded into the current change (if acceptNewApplicationVersion holds) or
// stashed as the outstanding change to be picked up later.
func (r *Reconciler) applyComponentCompletion(app types.Application, report types.JobReport) (types.Application, error) {
	now := r.Clock.Now()
	appVersion := types.ApplicationVersionFrom(report.SourceRevision, report.BuildNumber)

	v := versions.From(app.CurrentChange, app, nil, r.System)
	run := types.JobRun{
		Platform:    v.TargetPlatform,
		Application: appVersion,
		Reason:      "component build completion",
		At:          now,
		BuildNumber: report.BuildNumber,
		Error:       report.Error,
	}

	status, _ := app.Jobs.StatusOf(types.JobTypeComponent())
	status.LastTriggered = &run
	status.LastCompleted = &run
	if report.Error == nil {
		status.LastSuccess = &run
		status.FirstFailing = nil
		status.LastError = nil
	} else {
		if status.FirstFailing == nil {
			status.FirstFailing = &now
		}
		status.LastError = report.Error
	}
	app.Jobs = app.Jobs.WithStatus(types.JobTypeComponent(), status)

	if report.Error == nil {
		if acceptNewApplicationVersion(app) {
			app.CurrentChange = app.CurrentChange.With(appVersion)
			app.OutstandingChange = nil
		} else {
			outstanding := types.ChangeOfApplication(appVersion)
			app.OutstandingChange = &outstanding
		}
	}

	app.CurrentChange = changecalc.RemainingChange(app)
	return app, nil
}

// acceptNewApplicationVersion decides whether a freshly built application
// version can be folded straight into the current change: either it's
// already chasing an application change (stacking is safe), or the
// application has job failures (so accepting the fix takes priority), or
// there is no platform change in flight to disturb.
func acceptNewApplicationVersion(app types.Application) bool {
	if app.CurrentChange.Application != nil {
		return true
	}
	if app.HasJobFailures() {
		return true
	}
	return app.CurrentChange.Platform == nil
}

// applyJobCompletion handles every non-component job type: it requires a
// prior lastTriggered record (mandatory; its absence is an invariant
// violation), records the completion, and recomputes the residual change.
func (r *Reconciler) applyJobCompletion(app types.Application, report types.JobReport) (types.Application, error) {
	status, ok := app.Jobs.StatusOf(report.JobType)
	if !ok || status.LastTriggered == nil {
		return app, fmt.Errorf("application %q job %q: %w", app.ID, report.JobType, ErrInvariantViolation)
	}

	now := r.Clock.Now()
	run := types.JobRun{
		Platform:          status.LastTriggered.Platform,
		Application:       status.LastTriggered.Application,
		SourcePlatform:    status.LastTriggered.SourcePlatform,
		SourceApplication: status.LastTriggered.SourceApplication,
		Reason:            status.LastTriggered.Reason,
		At:                now,
		BuildNumber:       report.BuildNumber,
		Error:             report.Error,
	}

	status.LastCompleted = &run
	if report.Error == nil {
		status.LastSuccess = &run
		status.FirstFailing = nil
		status.LastError = nil
	} else {
		if status.FirstFailing == nil {
			status.FirstFailing = &now
		}
		status.LastError = report.Error
	}
	app.Jobs = app.Jobs.WithStatus(report.JobType, status)

	if report.JobType.IsProduction() && report.Error == nil {
		zone := report.JobType.Zone
		app.Deployments[zone.String()] = types.Deployment{
			PlatformVersion:    run.Platform,
			ApplicationVersion: run.Application,
			Timestamp:          now,
		}
	}

	app.CurrentChange = changecalc.RemainingChange(app)
	return app, nil
}

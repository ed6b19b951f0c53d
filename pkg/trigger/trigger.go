// Package trigger implements the triggering engine (component G of the
// specification): it pools the ready-jobs planner's output across every
// application, obeys the global rate limit for capacity-constrained job
// types, and drives the build service, persisting the resulting
// lastTriggered record under the owning application's lock.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/deploytrigger/pkg/apprepo"
	"github.com/cuemby/deploytrigger/pkg/buildsvc"
	"github.com/cuemby/deploytrigger/pkg/changecalc"
	"github.com/cuemby/deploytrigger/pkg/clock"
	"github.com/cuemby/deploytrigger/pkg/log"
	"github.com/cuemby/deploytrigger/pkg/metrics"
	"github.com/cuemby/deploytrigger/pkg/planner"
	"github.com/cuemby/deploytrigger/pkg/types"
	"github.com/cuemby/deploytrigger/pkg/versions"
	"github.com/rs/zerolog"
)

// Engine is the triggering engine.
type Engine struct {
	Repo   apprepo.Repository
	Build  buildsvc.Service
	Clock  clock.Clock
	System types.PlatformVersion

	// MaxConcurrency bounds how many applications are swept in parallel
	// (§9: "a simple worker pool or concurrent-iteration primitive
	// suffices"). Zero means unbounded (errgroup.SetLimit is not called).
	MaxConcurrency int

	logger zerolog.Logger
}

// New builds an Engine. Call it once per process; Engine is safe for
// concurrent use across sweeps.
func New(repo apprepo.Repository, build buildsvc.Service, clk clock.Clock, system types.PlatformVersion, maxConcurrency int) *Engine {
	return &Engine{
		Repo:           repo,
		Build:          build,
		Clock:          clk,
		System:         system,
		MaxConcurrency: maxConcurrency,
		logger:         log.WithComponent("trigger"),
	}
}

// TriggerReadyJobs runs one sweep: plans every application concurrently,
// pools the candidates into the capacity-constrained lane (test jobs,
// rate-limited to one trigger per job type per pass) and the production
// lane (every eligible candidate, in step order, per application), and
// dispatches both. It returns the number of jobs successfully triggered.
// One application's failure is caught, logged, and never aborts the sweep
// for the others (§7).
func (e *Engine) TriggerReadyJobs(ctx context.Context) (int, error) {
	apps, err := e.Repo.AsList()
	if err != nil {
		return 0, fmt.Errorf("list applications: %w", err)
	}

	now := e.Clock.Now()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

	candidatesByApp := make([][]planner.Candidate, len(apps))

	var g errgroup.Group
	if e.MaxConcurrency > 0 {
		g.SetLimit(e.MaxConcurrency)
	}
	for i, app := range apps {
		i, app := i, app
		g.Go(func() error {
			candidatesByApp[i] = planner.Plan(app, now, e.System)
			return nil
		})
	}
	// Planning never fails (it's pure), so the error return is unused, but
	// errgroup is still the right primitive: it bounds concurrency for us.
	_ = g.Wait()

	var testCandidates []planner.Candidate
	productionByApp := make(map[string][]planner.Candidate)
	for _, cs := range candidatesByApp {
		for _, c := range cs {
			metrics.JobsPlannedTotal.WithLabelValues(c.JobType.String()).Inc()
			if c.JobType.IsTest() {
				testCandidates = append(testCandidates, c)
			} else {
				productionByApp[c.ApplicationID] = append(productionByApp[c.ApplicationID], c)
			}
		}
	}

	triggered := 0
	triggered += e.triggerCapacityConstrained(ctx, testCandidates)
	for _, app := range apps {
		cs := productionByApp[app.ID]
		if len(cs) == 0 {
			continue
		}
		triggered += e.triggerProductionLane(ctx, app.ID, cs)
	}

	return triggered, nil
}

// triggerCapacityConstrained sorts candidates by (isRetry,
// upgradesApplication) descending, then availableSince ascending, groups by
// job type, and triggers at most one per job type.
func (e *Engine) triggerCapacityConstrained(ctx context.Context, candidates []planner.Candidate) int {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.IsRetry != b.IsRetry {
			return a.IsRetry
		}
		if a.UpgradesApplication != b.UpgradesApplication {
			return a.UpgradesApplication
		}
		return a.AvailableSince.Before(b.AvailableSince)
	})

	seenJobType := make(map[string]bool)
	triggered := 0
	for _, c := range candidates {
		key := c.JobType.String()
		if seenJobType[key] {
			continue
		}
		seenJobType[key] = true
		if e.trigger(ctx, c) {
			triggered++
		}
	}
	return triggered
}

// triggerProductionLane triggers every eligible candidate for one
// application, in the order given. The planner emits candidates in step
// order and pooling keeps that order, so no sorting happens here.
func (e *Engine) triggerProductionLane(ctx context.Context, _ string, candidates []planner.Candidate) int {
	triggered := 0
	for _, c := range candidates {
		if e.trigger(ctx, c) {
			triggered++
		}
	}
	return triggered
}

// trigger dispatches one candidate to the build service and, on success,
// records lastTriggered under the owning application's lock. On
// UnknownJob/IllegalJob it quarantines the application by clearing its
// project id. On a transient failure it logs at warn and returns false so
// the caller moves on.
func (e *Engine) trigger(ctx context.Context, c planner.Candidate) bool {
	app, err := e.Repo.Require(c.ApplicationID)
	if err != nil {
		e.logger.Warn().Err(err).Str("application_id", c.ApplicationID).Msg("application vanished between plan and trigger")
		return false
	}
	if app.ProjectID == "" {
		return false // quarantined
	}

	job := buildsvc.BuildJob{
		ApplicationID: c.ApplicationID,
		ProjectID:     app.ProjectID,
		JobName:       buildsvc.JobName(c.JobType),
		JobID:         uuid.NewString(),
	}

	err = e.Build.Trigger(ctx, job)
	if err != nil {
		return e.handleTriggerError(c, err)
	}

	metrics.JobsTriggeredTotal.WithLabelValues(c.JobType.String(), reasonKind(c)).Inc()

	at := e.Clock.Now()
	runRecord := types.JobRun{
		Platform:          c.Versions.TargetPlatform,
		Application:       c.Versions.TargetApplication,
		SourcePlatform:    c.Versions.SourcePlatform,
		SourceApplication: c.Versions.SourceApplication,
		Reason:            c.Reason,
		At:                at,
	}

	lockErr := e.Repo.LockOrThrow(c.ApplicationID, func(a types.Application) (types.Application, error) {
		status, _ := a.Jobs.StatusOf(c.JobType)
		status.LastTriggered = &runRecord
		a.Jobs = a.Jobs.WithStatus(c.JobType, status)
		return a, nil
	})
	if lockErr != nil {
		e.logger.Error().Err(lockErr).Str("application_id", c.ApplicationID).Str("job_type", c.JobType.String()).Msg("failed to persist lastTriggered")
		return false
	}
	return true
}

func (e *Engine) handleTriggerError(c planner.Candidate, err error) bool {
	if errors.Is(err, buildsvc.ErrNotFound) || errors.Is(err, buildsvc.ErrIllegalArgument) {
		e.logger.Warn().Err(err).Str("application_id", c.ApplicationID).Str("job_type", c.JobType.String()).Msg("quarantining application: build service rejected job")
		metrics.ApplicationsQuarantinedTotal.Inc()
		quarantineErr := e.Repo.LockIfPresent(c.ApplicationID, func(a types.Application) (types.Application, error) {
			a.ProjectID = ""
			return a, nil
		})
		if quarantineErr != nil {
			e.logger.Error().Err(quarantineErr).Msg("failed to quarantine application")
		}
		return false
	}

	e.logger.Warn().Err(err).Str("application_id", c.ApplicationID).Str("job_type", c.JobType.String()).Msg("transient build service failure")
	return false
}

// ForceTrigger bypasses readiness entirely (§4.G). For a component job it
// dispatches directly. For a production job on untested versions, it first
// synthesizes the required test-job triggers, then triggers the production
// job; it returns every job type it dispatched.
func (e *Engine) ForceTrigger(ctx context.Context, applicationID string, jobType types.JobType, user string) ([]types.JobType, error) {
	app, err := e.Repo.Require(applicationID)
	if err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("force-triggered by %s", user)
	var dispatched []types.JobType

	if jobType.IsComponent() {
		v := versions.From(app.CurrentChange, app, nil, e.System)
		c := planner.Candidate{ApplicationID: applicationID, JobType: jobType, Versions: v, Reason: reason, AvailableSince: e.Clock.Now()}
		if e.trigger(ctx, c) {
			dispatched = append(dispatched, jobType)
		}
		return dispatched, nil
	}

	deployment, hasDeployment := app.DeploymentFor(jobType)
	var deploymentArg *types.Deployment
	if hasDeployment {
		deploymentArg = &deployment
	}
	v := versions.From(app.CurrentChange, app, deploymentArg, e.System)

	if jobType.IsProduction() && !changecalc.IsTested(app, v) {
		for _, testJob := range []types.JobType{types.JobTypeSystemTest(), types.JobTypeStagingTest()} {
			c := planner.Candidate{ApplicationID: applicationID, JobType: testJob, Versions: v, Reason: reason, AvailableSince: e.Clock.Now()}
			if e.trigger(ctx, c) {
				dispatched = append(dispatched, testJob)
			}
		}
	}

	c := planner.Candidate{ApplicationID: applicationID, JobType: jobType, Versions: v, Reason: reason, AvailableSince: e.Clock.Now()}
	if e.trigger(ctx, c) {
		dispatched = append(dispatched, jobType)
	}
	return dispatched, nil
}

func reasonKind(c planner.Candidate) string {
	if c.IsRetry {
		return "retry"
	}
	return "fresh"
}

// Package changeapi implements the external-change API (component I of the
// specification): the entry points an operator or an upstream system uses
// to start, cancel, or force-trigger a change, and to inspect what the
// planner would do right now. Every mutating operation runs under the
// owning application's lock via pkg/apprepo.
package changeapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/deploytrigger/pkg/apprepo"
	"github.com/cuemby/deploytrigger/pkg/clock"
	"github.com/cuemby/deploytrigger/pkg/metrics"
	"github.com/cuemby/deploytrigger/pkg/planner"
	"github.com/cuemby/deploytrigger/pkg/trigger"
	"github.com/cuemby/deploytrigger/pkg/types"
)

// ErrChangeConflict is returned by TriggerChange when a healthy change
// (one with no job failures) is already in progress for the application.
var ErrChangeConflict = errors.New("changeapi: a change is already in progress")

// API is the external-change API.
type API struct {
	Repo    apprepo.Repository
	Trigger *trigger.Engine
	Clock   clock.Clock
	System  types.PlatformVersion
}

// New builds an API.
func New(repo apprepo.Repository, eng *trigger.Engine, clk clock.Clock, system types.PlatformVersion) *API {
	return &API{Repo: repo, Trigger: eng, Clock: clk, System: system}
}

// TriggerChange sets id's current change to change. It fails with
// ErrChangeConflict if a change is already in progress and the application
// has no job failures (the pipeline is healthy — don't disturb it). If
// change carries an application version, the outstanding change is cleared
// (triggerChange always takes priority over whatever was stashed).
func (a *API) TriggerChange(id string, change types.Change) error {
	err := a.Repo.LockOrThrow(id, func(app types.Application) (types.Application, error) {
		if app.CurrentChange.IsPresent() && !app.HasJobFailures() {
			return app, ErrChangeConflict
		}
		app.CurrentChange = change
		if change.Application != nil {
			app.OutstandingChange = nil
		}
		return app, nil
	})
	if err != nil {
		if errors.Is(err, ErrChangeConflict) {
			metrics.ChangeConflictsTotal.Inc()
		}
		return err
	}
	metrics.ChangesTriggeredTotal.Inc()
	return nil
}

// CancelChange clears id's current change, or reduces it to its
// application-only portion when keepApplicationChange is set (an operator
// aborting a platform rollout without losing an in-flight app deploy).
func (a *API) CancelChange(id string, keepApplicationChange bool) error {
	err := a.Repo.LockOrThrow(id, func(app types.Application) (types.Application, error) {
		if keepApplicationChange {
			app.CurrentChange = app.CurrentChange.ApplicationOnly()
		} else {
			app.CurrentChange = types.EmptyChange
		}
		return app, nil
	})
	if err != nil {
		return err
	}
	metrics.ChangesCanceledTotal.Inc()
	return nil
}

// ForceTrigger bypasses readiness and dispatches jobType for id directly,
// synthesizing any required test triggers first. See pkg/trigger for the
// dispatch semantics.
func (a *API) ForceTrigger(id string, jobType types.JobType, user string) ([]types.JobType, error) {
	return a.Trigger.ForceTrigger(context.Background(), id, jobType, user)
}

// JobsToRun returns a diagnostic snapshot of every candidate the planner
// would currently emit for id, keyed by job type string.
func (a *API) JobsToRun(id string) (map[string][]planner.Candidate, error) {
	app, err := a.Repo.Require(id)
	if err != nil {
		return nil, fmt.Errorf("changeapi: jobs to run for %q: %w", id, err)
	}

	candidates := planner.Plan(app, a.Clock.Now(), a.System)
	byType := make(map[string][]planner.Candidate, len(candidates))
	for _, c := range candidates {
		key := c.JobType.String()
		byType[key] = append(byType[key], c)
	}
	return byType, nil
}

// Package changecalc implements the change calculus (component D of the
// specification): the small set of pure predicates that decide whether a
// proposed change is an upgrade or a downgrade relative to what is
// currently deployed, whether a job's target versions are already live,
// whether an application's tests have passed against those versions, and
// what portion of a change is still outstanding once some zones have
// caught up. Every function here is a pure read over Application state —
// none of them touch the repository, the clock, or the build service.
package changecalc

import (
	"strings"

	"github.com/cuemby/deploytrigger/pkg/types"
	"github.com/cuemby/deploytrigger/pkg/versions"
)

// IsUpgrade reports whether change moves at least one axis it sets strictly
// forward relative to deployment and no axis backward; an axis it sets to
// the deployed value counts as neither. A change with no present axis is
// never an upgrade; a change that moves any axis backward is a downgrade,
// not an upgrade (see IsDowngrade).
func IsUpgrade(change types.Change, deployment types.Deployment) bool {
	if !change.IsPresent() {
		return false
	}
	forward := false
	if change.Platform != nil {
		if change.Platform.Less(deployment.PlatformVersion) {
			return false
		}
		if deployment.PlatformVersion.Less(*change.Platform) {
			forward = true
		}
	}
	if change.Application != nil {
		if change.Application.Less(deployment.ApplicationVersion) {
			return false
		}
		if deployment.ApplicationVersion.Less(*change.Application) {
			forward = true
		}
	}
	return forward
}

// IsDowngrade reports whether change moves any axis it sets strictly
// backward relative to deployment. Downgrade protection blocks the whole
// change on a single backward axis, e.g. platform=8.0 deployed and a
// change targeting platform=7.0.
func IsDowngrade(change types.Change, deployment types.Deployment) bool {
	if change.Platform != nil && change.Platform.Less(deployment.PlatformVersion) {
		return true
	}
	if change.Application != nil && change.Application.Less(deployment.ApplicationVersion) {
		return true
	}
	return false
}

// IsComplete reports whether jobType is already satisfied for change: either
// its own last success already targets the Versions change implies, or — for
// a production job — the zone already has a deployment, change is not an
// upgrade of it, and the application's full current change is a downgrade
// (so the zone is correctly left alone rather than rolled back). The empty
// change is complete for every job.
func IsComplete(change types.Change, app types.Application, jobType types.JobType, systemPlatformVersion types.PlatformVersion) bool {
	if !change.IsPresent() {
		return true
	}
	deployment, hasDeployment := app.DeploymentFor(jobType)
	var deploymentArg *types.Deployment
	if hasDeployment {
		deploymentArg = &deployment
	}
	v := versions.From(change, app, deploymentArg, systemPlatformVersion)

	if status, ok := app.Jobs.StatusOf(jobType); ok && status.LastSuccess != nil && v.TargetsMatch(*status.LastSuccess) {
		return true
	}

	if jobType.IsProduction() && hasDeployment && !IsUpgrade(change, deployment) && IsDowngrade(app.CurrentChange, deployment) {
		return true
	}

	return false
}

// IsTested reports whether the application's test suites have already
// passed against the versions a job is about to target, or whether some
// production job has already been triggered with these exact versions
// (already-tested proof by progression). Applications whose spec declares
// no tests are vacuously tested.
func IsTested(app types.Application, v versions.Versions) bool {
	if !app.Spec.HasTests {
		return true
	}

	system, ok := app.Jobs.StatusOf(types.JobTypeSystemTest())
	systemPassed := ok && system.LastSuccess != nil && v.TargetsMatch(*system.LastSuccess)

	staging, ok := app.Jobs.StatusOf(types.JobTypeStagingTest())
	stagingPassed := ok && staging.LastSuccess != nil && v.TargetsMatch(*staging.LastSuccess) && v.SourcesMatchIfPresent(*staging.LastSuccess)

	if systemPassed && stagingPassed {
		return true
	}

	return alreadyTriggeredInProduction(app, v)
}

func alreadyTriggeredInProduction(app types.Application, v versions.Versions) bool {
	for key, status := range app.Jobs.Statuses {
		if !strings.HasPrefix(key, "prod.") {
			continue
		}
		if status.LastTriggered != nil && v.TargetsMatch(*status.LastTriggered) {
			return true
		}
	}
	return false
}

// RemainingChange recomputes app.CurrentChange down to the axes that have
// not yet reached every deployed zone. An axis drops out once all known
// deployments agree with it. With no deployments yet, an axis stays
// outstanding when the spec declares zone steps; when it declares none, the
// test jobs stand in for production and the axis drops out once both
// declared tests last succeeded with it. Called by the reconciler after
// each completion.
func RemainingChange(app types.Application) types.Change {
	change := app.CurrentChange
	if !change.IsPresent() {
		return types.EmptyChange
	}

	result := types.EmptyChange
	if change.Platform != nil {
		if !allDeploymentsMatchPlatform(app, *change.Platform) {
			p := *change.Platform
			result.Platform = &p
		}
	}
	if change.Application != nil {
		if !allDeploymentsMatchApplication(app, *change.Application) {
			a := *change.Application
			result.Application = &a
		}
	}
	return result
}

func allDeploymentsMatchPlatform(app types.Application, target types.PlatformVersion) bool {
	if len(app.Deployments) == 0 {
		// A spec with no zone steps at all (a test-only pipeline) never
		// reports a deployment, so its test jobs decide instead. A spec
		// that does declare zones but hasn't heard from any of them yet is
		// still outstanding.
		return !hasZoneSteps(app.Spec) && testJobsReached(app, func(r types.JobRun) bool { return r.Platform.Equal(target) })
	}
	for _, d := range app.Deployments {
		if !d.PlatformVersion.Equal(target) {
			return false
		}
	}
	return true
}

func allDeploymentsMatchApplication(app types.Application, target types.ApplicationVersion) bool {
	if len(app.Deployments) == 0 {
		return !hasZoneSteps(app.Spec) && testJobsReached(app, func(r types.JobRun) bool { return r.Application.Equal(target) })
	}
	for _, d := range app.Deployments {
		if !d.ApplicationVersion.Equal(target) {
			return false
		}
	}
	return true
}

// testJobsReached reports whether both declared test jobs last succeeded
// with a run that reached accepts; a spec without tests has none to wait for.
func testJobsReached(app types.Application, reached func(types.JobRun) bool) bool {
	if !app.Spec.HasTests {
		return true
	}
	for _, jt := range []types.JobType{types.JobTypeSystemTest(), types.JobTypeStagingTest()} {
		status, ok := app.Jobs.StatusOf(jt)
		if !ok || status.LastSuccess == nil || !reached(*status.LastSuccess) {
			return false
		}
	}
	return true
}

// hasZoneSteps reports whether spec declares any step that eventually
// produces a zone deployment, recursing into parallel groups.
func hasZoneSteps(spec types.DeploymentSpec) bool {
	var walk func(steps []types.Step) bool
	walk = func(steps []types.Step) bool {
		for _, s := range steps {
			switch s.Kind {
			case types.StepZone:
				return true
			case types.StepParallel:
				if walk(s.Parallel) {
					return true
				}
			}
		}
		return false
	}
	return walk(spec.Steps)
}

package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/deploytrigger/pkg/types"
)

func zoneSpec() types.DeploymentSpec {
	return types.DeploymentSpec{
		HasTests: true,
		Steps: []types.Step{
			{Kind: types.StepZone, Zone: types.Zone{Env: "prod", Region: "us-east-1"}},
		},
	}
}

func platform(v string) types.PlatformVersion { return types.PlatformVersion{Value: v} }

func newApp(change types.Change) types.Application {
	return types.Application{
		ID:            "app1",
		Spec:          zoneSpec(),
		CurrentChange: change,
		Jobs:          types.NewDeploymentJobs(),
		Deployments:   map[string]types.Deployment{},
		ProjectID:     "proj1",
	}
}

func run(platformV types.PlatformVersion, appV types.ApplicationVersion, at time.Time) *types.JobRun {
	return &types.JobRun{Platform: platformV, Application: appV, At: at}
}

// TestFreshUpgradeWalksOneJobAtATime reproduces the literal scenario from
// §8: systemTest, then stagingTest, then the production zone, then nothing,
// each exactly once per tick.
func TestFreshUpgradeWalksOneJobAtATime(t *testing.T) {
	change := types.Change{Platform: ptr(platform("7.3"))}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	system := platform("7.3")

	app := newApp(change)
	candidates := Plan(app, t0, system)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.JobTypeSystemTest(), candidates[0].JobType)
	assert.Equal(t, "7.3", candidates[0].Versions.TargetPlatform.Value)
	assert.True(t, candidates[0].Versions.TargetApplication.Empty())

	// systemTest succeeds at t0+5m.
	t1 := t0.Add(5 * time.Minute)
	app.Jobs = app.Jobs.WithStatus(types.JobTypeSystemTest(), types.JobStatus{
		LastTriggered: run(platform("7.3"), types.UnknownApplicationVersion, t0),
		LastCompleted: run(platform("7.3"), types.UnknownApplicationVersion, t1),
		LastSuccess:   run(platform("7.3"), types.UnknownApplicationVersion, t1),
	})
	candidates = Plan(app, t1, system)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.JobTypeStagingTest(), candidates[0].JobType)

	// stagingTest succeeds at t0+10m.
	t2 := t0.Add(10 * time.Minute)
	app.Jobs = app.Jobs.WithStatus(types.JobTypeStagingTest(), types.JobStatus{
		LastTriggered: run(platform("7.3"), types.UnknownApplicationVersion, t1),
		LastCompleted: run(platform("7.3"), types.UnknownApplicationVersion, t2),
		LastSuccess:   run(platform("7.3"), types.UnknownApplicationVersion, t2),
	})
	candidates = Plan(app, t2, system)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.KindProduction, candidates[0].JobType.Kind)
	assert.Equal(t, "us-east-1", candidates[0].JobType.Zone.Region)

	// production succeeds at t0+15m.
	t3 := t0.Add(15 * time.Minute)
	app.Deployments["prod.us-east-1"] = types.Deployment{
		PlatformVersion:    platform("7.3"),
		ApplicationVersion: types.UnknownApplicationVersion,
		Timestamp:          t3,
	}
	app.Jobs = app.Jobs.WithStatus(types.JobTypeProduction(types.Zone{Env: "prod", Region: "us-east-1"}), types.JobStatus{
		LastTriggered: run(platform("7.3"), types.UnknownApplicationVersion, t2),
		LastCompleted: run(platform("7.3"), types.UnknownApplicationVersion, t3),
		LastSuccess:   run(platform("7.3"), types.UnknownApplicationVersion, t3),
	})
	app.CurrentChange = types.EmptyChange // reconciler would have emptied it by now
	candidates = Plan(app, t3, system)
	assert.Empty(t, candidates)
}

// TestOutOfCapacityRetryWindow reproduces §8 scenario 2: a test job that
// failed with outOfCapacity may not retry before 60s, and must retry after.
func TestOutOfCapacityRetryWindow(t *testing.T) {
	change := types.Change{Platform: ptr(platform("7.3"))}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	system := platform("7.3")
	errKind := types.ErrorOutOfCapacity

	app := newApp(change)
	failedAt := t0
	app.Jobs = app.Jobs.WithStatus(types.JobTypeSystemTest(), types.JobStatus{
		LastTriggered: run(platform("7.3"), types.UnknownApplicationVersion, t0.Add(-time.Minute)),
		LastCompleted: &types.JobRun{Platform: platform("7.3"), Application: types.UnknownApplicationVersion, At: failedAt, Error: &errKind},
		FirstFailing:  &failedAt,
		LastError:     &errKind,
	})

	at45s := t0.Add(45 * time.Second)
	candidates := Plan(app, at45s, system)
	assert.Empty(t, candidates, "must not retry before the 1-minute out-of-capacity cooldown elapses")

	at61s := t0.Add(61 * time.Second)
	candidates = Plan(app, at61s, system)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.JobTypeSystemTest(), candidates[0].JobType)
	assert.True(t, candidates[0].IsRetry)
}

// TestNoCandidateWhileJobIsRunning asserts invariant 4 (§8): no job is
// emitted while IsRunning holds for it.
func TestNoCandidateWhileJobIsRunning(t *testing.T) {
	change := types.Change{Platform: ptr(platform("7.3"))}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	system := platform("7.3")

	app := newApp(change)
	app.Jobs = app.Jobs.WithStatus(types.JobTypeSystemTest(), types.JobStatus{
		// Different target than the current change, so this isn't
		// skipped via "already triggered with these versions" — it must
		// be the IsRunning guard that suppresses the candidate.
		LastTriggered: run(platform("7.2"), types.UnknownApplicationVersion, t0.Add(-time.Minute)),
	})

	candidates := Plan(app, t0, system)
	assert.Empty(t, candidates)
}

// TestBaselineTestsWhenNoChangeInFlight ensures tests keep running even
// with an empty current change, and stop once both have passed.
func TestBaselineTestsWhenNoChangeInFlight(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	system := platform("7.3")

	app := newApp(types.EmptyChange)
	candidates := Plan(app, t0, system)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.JobTypeSystemTest(), candidates[0].JobType)
	assert.Equal(t, "keep tests green", candidates[0].Reason)

	t1 := t0.Add(time.Minute)
	app.Jobs = app.Jobs.WithStatus(types.JobTypeSystemTest(), types.JobStatus{
		LastSuccess: run(platform("7.3"), types.UnknownApplicationVersion, t1),
	})
	app.Jobs = app.Jobs.WithStatus(types.JobTypeStagingTest(), types.JobStatus{
		LastSuccess: run(platform("7.3"), types.UnknownApplicationVersion, t1),
	})
	candidates = Plan(app, t1, system)
	assert.Empty(t, candidates)
}

// TestDowngradeProtectionSuppressesProduction reproduces §8 scenario 3: a
// zone already ahead of the change in progress is never rolled back.
func TestDowngradeProtectionSuppressesProduction(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	system := platform("7.0")
	zone := types.Zone{Env: "prod", Region: "us-east-1"}

	app := newApp(types.Change{Platform: ptr(platform("7.0"))})
	app.Deployments[zone.String()] = types.Deployment{
		PlatformVersion:    platform("8.0"),
		ApplicationVersion: types.UnknownApplicationVersion,
		Timestamp:          t0.Add(-time.Hour),
	}
	app.Jobs = app.Jobs.WithStatus(types.JobTypeSystemTest(), types.JobStatus{
		LastSuccess: run(platform("7.0"), types.UnknownApplicationVersion, t0.Add(-time.Minute)),
	})
	app.Jobs = app.Jobs.WithStatus(types.JobTypeStagingTest(), types.JobStatus{
		LastSuccess: run(platform("7.0"), types.UnknownApplicationVersion, t0.Add(-time.Minute)),
	})

	candidates := Plan(app, t0, system)
	assert.Empty(t, candidates, "a zone ahead of the in-progress change must not be touched")
}

func ptr[T any](v T) *T { return &v }

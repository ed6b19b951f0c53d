package changecalc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/deploytrigger/pkg/types"
	"github.com/cuemby/deploytrigger/pkg/versions"
)

func platform(v string) types.PlatformVersion { return types.PlatformVersion{Value: v} }
func appver(build int) types.ApplicationVersion {
	return types.ApplicationVersion{SourceRevision: "rev", BuildNumber: build}
}

func TestIsUpgrade(t *testing.T) {
	deployed := types.Deployment{PlatformVersion: platform("7.0"), ApplicationVersion: appver(10)}

	assert.True(t, IsUpgrade(types.ChangeOfPlatform(platform("8.0")), deployed))
	assert.False(t, IsUpgrade(types.ChangeOfPlatform(platform("7.0")), deployed), "equal is not an upgrade")
	assert.False(t, IsUpgrade(types.EmptyChange, deployed))
}

func TestIsDowngradeBlocksWholeChange(t *testing.T) {
	deployed := types.Deployment{PlatformVersion: platform("8.0"), ApplicationVersion: appver(10)}
	change := types.ChangeOfPlatform(platform("7.0"))

	assert.True(t, IsDowngrade(change, deployed))
	assert.False(t, IsUpgrade(change, deployed))
}

func TestIsDowngradeMixedAxes(t *testing.T) {
	deployed := types.Deployment{PlatformVersion: platform("7.0"), ApplicationVersion: appver(10)}
	change := types.ChangeOfPlatform(platform("8.0")).With(appver(5))

	assert.True(t, IsDowngrade(change, deployed), "application axis moved backward")
}

func TestIsCompleteMatchesLastSuccess(t *testing.T) {
	zone := types.Zone{Env: "prod", Region: "us-east-1"}
	jt := types.JobTypeProduction(zone)
	app := types.Application{ID: "a1", Jobs: types.NewDeploymentJobs()}

	assert.False(t, IsComplete(types.ChangeOfPlatform(platform("7.0")), app, jt, platform("7.0")), "no deployment, no prior success")

	app.Deployments = map[string]types.Deployment{
		zone.String(): {PlatformVersion: platform("7.0"), ApplicationVersion: appver(10)},
	}
	success := types.JobRun{Platform: platform("7.0"), Application: appver(10)}
	app.Jobs = app.Jobs.WithStatus(jt, types.JobStatus{LastSuccess: &success, LastCompleted: &success})

	assert.True(t, IsComplete(types.ChangeOfPlatform(platform("7.0")), app, jt, platform("7.0")))
	assert.False(t, IsComplete(types.ChangeOfPlatform(platform("8.0")), app, jt, platform("7.0")))
}

func TestIsCompleteDowngradeRollbackLeavesZoneAlone(t *testing.T) {
	zone := types.Zone{Env: "prod", Region: "us-east-1"}
	jt := types.JobTypeProduction(zone)
	deployment := types.Deployment{PlatformVersion: platform("8.0"), ApplicationVersion: appver(10)}
	app := types.Application{
		ID:            "a1",
		Jobs:          types.NewDeploymentJobs(),
		Deployments:   map[string]types.Deployment{zone.String(): deployment},
		CurrentChange: types.ChangeOfPlatform(platform("7.0")), // rolling back to an older platform
	}

	// The change targets platform 7.0, older than the 8.0 already deployed:
	// not an upgrade of this zone, and the application's current change is a
	// downgrade of it, so the zone is treated as already complete.
	assert.True(t, IsComplete(types.ChangeOfPlatform(platform("7.0")), app, jt, platform("7.0")))
}

func TestIsTestedVacuousWithoutTests(t *testing.T) {
	app := types.Application{Spec: types.DeploymentSpec{HasTests: false}, Jobs: types.NewDeploymentJobs()}
	require.True(t, IsTested(app, versions.Versions{}))
}

func TestIsTestedRequiresMatchingTargets(t *testing.T) {
	v := versions.Versions{TargetPlatform: platform("7.0"), TargetApplication: appver(10)}
	jobs := types.NewDeploymentJobs()
	app := types.Application{Spec: types.DeploymentSpec{HasTests: true}, Jobs: jobs}

	assert.False(t, IsTested(app, v), "no test runs at all")

	passing := types.JobRun{Platform: platform("7.0"), Application: appver(10)}
	jobs = jobs.WithStatus(types.JobTypeSystemTest(), types.JobStatus{LastSuccess: &passing, LastCompleted: &passing})
	jobs = jobs.WithStatus(types.JobTypeStagingTest(), types.JobStatus{LastSuccess: &passing, LastCompleted: &passing})
	app.Jobs = jobs
	assert.True(t, IsTested(app, v))

	stale := types.JobRun{Platform: platform("6.0"), Application: appver(9)}
	jobs = jobs.WithStatus(types.JobTypeStagingTest(), types.JobStatus{LastSuccess: &stale, LastCompleted: &stale})
	app.Jobs = jobs
	assert.False(t, IsTested(app, v), "staging test passed against an older version")
}

func TestRemainingChangeDropsSatisfiedAxes(t *testing.T) {
	target := platform("8.0")
	app := types.Application{
		CurrentChange: types.ChangeOfPlatform(target).With(appver(11)),
		Deployments: map[string]types.Deployment{
			"prod.us-east-1": {PlatformVersion: target, ApplicationVersion: appver(11)},
			"prod.eu-west-1": {PlatformVersion: platform("7.0"), ApplicationVersion: appver(11)},
		},
	}

	remaining := RemainingChange(app)
	require.NotNil(t, remaining.Platform, "one zone still on the old platform version")
	assert.Nil(t, remaining.Application, "every zone already has the target application version")
}

func TestRemainingChangeEmptyWhenNoChangeInProgress(t *testing.T) {
	app := types.Application{CurrentChange: types.EmptyChange}
	assert.Equal(t, types.EmptyChange, RemainingChange(app))
}

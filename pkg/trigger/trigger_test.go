package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/deploytrigger/pkg/apprepo"
	"github.com/cuemby/deploytrigger/pkg/buildsvc"
	"github.com/cuemby/deploytrigger/pkg/clock"
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

func ptr[T any](v T) *T { return &v }

func newApp(id string, change types.Change) types.Application {
	return types.Application{
		ID:            id,
		Spec:          zoneSpec(),
		CurrentChange: change,
		Jobs:          types.NewDeploymentJobs(),
		Deployments:   map[string]types.Deployment{},
		ProjectID:     "proj1",
	}
}

func TestTriggerReadyJobsDispatchesSystemTestForFreshChange(t *testing.T) {
	repo := apprepo.NewMemory()
	app := newApp("app1", types.Change{Platform: ptr(platform("7.3"))})
	require.NoError(t, repo.Store(app))

	build := buildsvc.NewFake()
	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	eng := New(repo, build, clk, platform("7.3"), 4)
	n, err := eng.TriggerReadyJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, build.Count("systemTest"))

	stored, err := repo.Require("app1")
	require.NoError(t, err)
	status, ok := stored.Jobs.StatusOf(types.JobTypeSystemTest())
	require.True(t, ok)
	require.NotNil(t, status.LastTriggered)
	assert.Equal(t, "7.3", status.LastTriggered.Platform.Value)
}

func TestTriggerQuarantinesOnIllegalArgument(t *testing.T) {
	repo := apprepo.NewMemory()
	app := newApp("app1", types.Change{Platform: ptr(platform("7.3"))})
	require.NoError(t, repo.Store(app))

	build := buildsvc.NewFake()
	build.IllegalArgument["systemTest"] = true
	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	eng := New(repo, build, clk, platform("7.3"), 4)
	n, err := eng.TriggerReadyJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stored, err := repo.Require("app1")
	require.NoError(t, err)
	assert.Empty(t, stored.ProjectID, "application should be quarantined")
}

func TestTriggerSkipsQuarantinedApplications(t *testing.T) {
	repo := apprepo.NewMemory()
	app := newApp("app1", types.Change{Platform: ptr(platform("7.3"))})
	app.ProjectID = ""
	require.NoError(t, repo.Store(app))

	build := buildsvc.NewFake()
	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	eng := New(repo, build, clk, platform("7.3"), 4)
	n, err := eng.TriggerReadyJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, build.Triggered)
}

func TestCapacityConstrainedLaneOnlyOnePerJobTypePerSweep(t *testing.T) {
	repo := apprepo.NewMemory()
	app1 := newApp("app1", types.Change{Platform: ptr(platform("7.3"))})
	app2 := newApp("app2", types.Change{Platform: ptr(platform("7.3"))})
	require.NoError(t, repo.Store(app1))
	require.NoError(t, repo.Store(app2))

	build := buildsvc.NewFake()
	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	eng := New(repo, build, clk, platform("7.3"), 4)
	n, err := eng.TriggerReadyJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only one systemTest may dispatch per sweep across all applications")
	assert.Equal(t, 1, build.Count("systemTest"))
}

func TestForceTriggerSynthesizesTestsBeforeUntestedProduction(t *testing.T) {
	repo := apprepo.NewMemory()
	app := newApp("app1", types.EmptyChange)
	require.NoError(t, repo.Store(app))

	build := buildsvc.NewFake()
	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	eng := New(repo, build, clk, platform("7.3"), 4)
	dispatched, err := eng.ForceTrigger(context.Background(), "app1", types.JobTypeProduction(types.Zone{Env: "prod", Region: "us-east-1"}), "operator")
	require.NoError(t, err)
	require.Len(t, dispatched, 3)
	assert.Equal(t, types.JobTypeSystemTest(), dispatched[0])
	assert.Equal(t, types.JobTypeStagingTest(), dispatched[1])
	assert.Equal(t, types.KindProduction, dispatched[2].Kind)
}

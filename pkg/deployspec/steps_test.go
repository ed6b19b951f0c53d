package deployspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/deploytrigger/pkg/types"
)

func zone(env, region string) types.Zone { return types.Zone{Env: env, Region: region} }

func TestToJobsZoneAndParallel(t *testing.T) {
	z1, z2 := zone("prod", "us-east-1"), zone("prod", "eu-west-1")
	step := types.Step{Kind: types.StepParallel, Parallel: []types.Step{
		{Kind: types.StepZone, Zone: z1},
		{Kind: types.StepZone, Zone: z2},
	}}

	jobs := ToJobs(step)
	require.Len(t, jobs, 2)
	assert.Equal(t, types.JobTypeProduction(z1), jobs[0])
	assert.Equal(t, types.JobTypeProduction(z2), jobs[1])
}

func TestToJobsDelayIsEmpty(t *testing.T) {
	assert.Empty(t, ToJobs(types.Step{Kind: types.StepDelay, Delay: time.Hour}))
}

func TestTestJobsRespectsHasTests(t *testing.T) {
	assert.Nil(t, TestJobs(types.DeploymentSpec{HasTests: false}))
	assert.Equal(t,
		[]types.JobType{types.JobTypeSystemTest(), types.JobTypeStagingTest()},
		TestJobs(types.DeploymentSpec{HasTests: true}),
	)
}

func TestCompletedAtDelayWaitsUntilElapsed(t *testing.T) {
	now := time.Now()
	predecessor := now.Add(-time.Hour)
	step := types.Step{Kind: types.StepDelay, Delay: 2 * time.Hour}

	_, ok := CompletedAt(step, predecessor, true, nil, now)
	assert.False(t, ok, "delay has not elapsed yet")

	step.Delay = 30 * time.Minute
	at, ok := CompletedAt(step, predecessor, true, nil, now)
	require.True(t, ok)
	assert.Equal(t, predecessor.Add(30*time.Minute), at)
}

func TestCompletedAtZoneRequiresAllJobsComplete(t *testing.T) {
	z := zone("prod", "us-east-1")
	step := types.Step{Kind: types.StepZone, Zone: z}
	now := time.Now()

	_, ok := CompletedAt(step, time.Time{}, false, func(types.JobType) (time.Time, bool) {
		return time.Time{}, false
	}, now)
	assert.False(t, ok)

	completed := now.Add(-time.Minute)
	at, ok := CompletedAt(step, time.Time{}, false, func(jt types.JobType) (time.Time, bool) {
		return completed, true
	}, now)
	require.True(t, ok)
	assert.Equal(t, completed, at)
}

func TestParseManifest(t *testing.T) {
	doc := []byte(`
hasTests: true
steps:
  - zone:
      env: staging
  - delay: 30m
  - parallel:
      - zone:
          env: prod
          region: us-east-1
      - zone:
          env: prod
          region: eu-west-1
blocks:
  - start: 2026-12-24T00:00:00Z
    end: 2026-12-26T00:00:00Z
    kind: platform
`)
	spec, err := Parse(doc)
	require.NoError(t, err)
	assert.True(t, spec.HasTests)
	require.Len(t, spec.Steps, 3)
	assert.Equal(t, types.StepZone, spec.Steps[0].Kind)
	assert.Equal(t, types.StepDelay, spec.Steps[1].Kind)
	assert.Equal(t, 30*time.Minute, spec.Steps[1].Delay)
	require.Len(t, spec.Steps[2].Parallel, 2)
	require.Len(t, spec.Blocks, 1)
	assert.Equal(t, "platform", spec.Blocks[0].Kind)
}

func TestParseManifestRejectsNonZoneParallelMembers(t *testing.T) {
	doc := []byte(`
steps:
  - parallel:
      - delay: 5m
`)
	_, err := Parse(doc)
	assert.Error(t, err)
}

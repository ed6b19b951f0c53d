package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/deploytrigger/pkg/types"
)

func at(base time.Time, d time.Duration) time.Time { return base.Add(d) }

func TestMayTriggerNoPriorStatus(t *testing.T) {
	assert.True(t, MayTrigger(types.JobStatus{}, false, time.Now()))
}

func TestMayTriggerSuccessNewerThanFailure(t *testing.T) {
	now := time.Now()
	failure := now.Add(-time.Hour)
	success := now.Add(-time.Minute)
	status := types.JobStatus{
		LastCompleted: &types.JobRun{At: failure},
		LastSuccess:   &types.JobRun{At: success},
	}
	assert.True(t, MayTrigger(status, false, now))
}

func TestMayTriggerTightRetryWindowBoundary(t *testing.T) {
	now := time.Now()
	firstFailing := now.Add(-59 * time.Second)
	status := types.JobStatus{
		LastCompleted: &types.JobRun{At: now.Add(-30 * time.Second)},
		FirstFailing:  &firstFailing,
		LastError:     errptr(types.ErrorDeploymentFailure),
	}
	assert.True(t, MayTrigger(status, false, now), "59s within the 1-minute tight window")

	firstFailing61 := now.Add(-61 * time.Second)
	status.FirstFailing = &firstFailing61
	status.LastCompleted = &types.JobRun{At: now.Add(-61 * time.Second)}
	assert.False(t, MayTrigger(status, false, now), "61s past the tight window, still under the 10-minute recent-failure cooldown")
}

func TestMayTriggerOutOfCapacityTestJobFastPath(t *testing.T) {
	now := time.Now()
	firstFailing := now.Add(-2 * time.Hour)
	lastCompleted := now.Add(-61 * time.Second)
	status := types.JobStatus{
		LastCompleted: &types.JobRun{At: lastCompleted},
		FirstFailing:  &firstFailing,
		LastError:     errptr(types.ErrorOutOfCapacity),
	}
	assert.True(t, MayTrigger(status, true, now), "test job, outOfCapacity, completed over a minute ago")
	assert.False(t, MayTrigger(status, false, now), "non-test job does not get the outOfCapacity fast path")
}

func TestMayTriggerRecentFailureWindow(t *testing.T) {
	now := time.Now()
	firstFailing := now.Add(-30 * time.Minute)

	tooSoon := types.JobStatus{
		LastCompleted: &types.JobRun{At: now.Add(-9 * time.Minute)},
		FirstFailing:  &firstFailing,
		LastError:     errptr(types.ErrorTestFailure),
	}
	assert.False(t, MayTrigger(tooSoon, false, now))

	longEnough := types.JobStatus{
		LastCompleted: &types.JobRun{At: now.Add(-10 * time.Minute)},
		FirstFailing:  &firstFailing,
		LastError:     errptr(types.ErrorTestFailure),
	}
	assert.True(t, MayTrigger(longEnough, false, now))
}

func TestMayTriggerDefaultCooldown(t *testing.T) {
	now := time.Now()
	firstFailing := now.Add(-3 * time.Hour)

	tooSoon := types.JobStatus{
		LastCompleted: &types.JobRun{At: now.Add(-119 * time.Minute)},
		FirstFailing:  &firstFailing,
		LastError:     errptr(types.ErrorDeploymentFailure),
	}
	assert.False(t, MayTrigger(tooSoon, false, now))

	longEnough := types.JobStatus{
		LastCompleted: &types.JobRun{At: now.Add(-2 * time.Hour)},
		FirstFailing:  &firstFailing,
		LastError:     errptr(types.ErrorDeploymentFailure),
	}
	assert.True(t, MayTrigger(longEnough, false, now))
}

func TestIsRunningTimeoutBoundary(t *testing.T) {
	now := time.Now()
	triggered := now.Add(-(12*time.Hour - time.Minute))
	status := types.JobStatus{LastTriggered: &types.JobRun{At: triggered}}
	assert.True(t, IsRunning(status, ProductionJobTimeout, now), "11h59m since trigger, still within the 12h horizon")

	triggeredPast := now.Add(-(12*time.Hour + time.Minute))
	status.LastTriggered = &types.JobRun{At: triggeredPast}
	assert.False(t, IsRunning(status, ProductionJobTimeout, now), "12h01m since trigger, presumed dead")
}

func TestIsRunningFalseWhenCompletedAfterTrigger(t *testing.T) {
	now := time.Now()
	status := types.JobStatus{
		LastTriggered: &types.JobRun{At: now.Add(-time.Hour)},
		LastCompleted: &types.JobRun{At: now.Add(-time.Minute)},
	}
	assert.False(t, IsRunning(status, ProductionJobTimeout, now))
}

func TestBlockedCoversKindAndWindow(t *testing.T) {
	now := time.Now()
	spec := types.DeploymentSpec{
		Blocks: []types.BlockWindow{
			{Start: now.Add(-time.Hour), End: now.Add(time.Hour), Kind: "platform"},
		},
	}
	assert.True(t, Blocked(spec, "platform", now))
	assert.False(t, Blocked(spec, "application", now), "window only covers platform changes")
	assert.False(t, Blocked(spec, "platform", now.Add(2*time.Hour)), "window has elapsed")
}

func errptr(e types.ErrorKind) *types.ErrorKind { return &e }

// Package retry implements the retry policy (component E of the
// specification): given a job's status and the current instant, decide
// whether the job may be triggered again, and whether a deployment spec's
// block windows forbid it regardless.
package retry

import (
	"time"

	"github.com/cuemby/deploytrigger/pkg/types"
)

const (
	tightRetryWindow      = time.Minute
	outOfCapacityCooldown = time.Minute
	recentFailureWindow   = time.Hour
	recentFailureCooldown = 10 * time.Minute
	defaultCooldown       = 2 * time.Hour
)

// MayTrigger reports whether a job with this status may be triggered at t,
// independent of any block window. isTestJob narrows the outOfCapacity fast
// path to test jobs only, per the specification.
func MayTrigger(status types.JobStatus, isTestJob bool, t time.Time) bool {
	if status.LastCompleted == nil {
		return true
	}
	if status.LastSuccess != nil && !status.LastSuccess.At.Before(status.LastCompleted.At) {
		return true
	}
	// The out-of-capacity regime takes precedence over the tight retry
	// window: a fresh outOfCapacity failure sets firstFailing to (almost)
	// the same instant as lastCompleted, so checking the tight window
	// first would let a test job retry within seconds of an OOC failure —
	// exactly the retry §8 forbids ("Out-of-capacity test retry at +59s:
	// not allowed").
	if isTestJob && status.IsOutOfCapacity() {
		return !t.Before(status.LastCompleted.At.Add(outOfCapacityCooldown))
	}
	if status.FirstFailing != nil && t.Sub(*status.FirstFailing) <= tightRetryWindow {
		return true
	}
	if status.FirstFailing != nil && t.Sub(*status.FirstFailing) <= recentFailureWindow {
		return !t.Before(status.LastCompleted.At.Add(recentFailureCooldown))
	}
	return !t.Before(status.LastCompleted.At.Add(defaultCooldown))
}

// Blocked reports whether the deployment spec declares a block window
// covering t for the given change kind ("platform" or "application"). Block
// windows never delay an in-progress test of an already-deployed change —
// callers should not call Blocked for that case.
func Blocked(spec types.DeploymentSpec, kind string, t time.Time) bool {
	for _, b := range spec.Blocks {
		if b.Covers(t, kind) {
			return true
		}
	}
	return false
}

// IsRunning reports whether a job is still considered in flight at t:
// triggered more recently than it completed, and within timeoutHorizon of
// its trigger instant. Once past the horizon the job is presumed dead and
// may be re-triggered.
func IsRunning(status types.JobStatus, timeoutHorizon time.Duration, t time.Time) bool {
	if status.LastTriggered == nil {
		return false
	}
	if status.LastCompleted != nil && !status.LastTriggered.At.After(status.LastCompleted.At) {
		return false
	}
	return t.Before(status.LastTriggered.At.Add(timeoutHorizon))
}

// ProductionJobTimeout is the horizon used for production and component
// jobs running in the main system.
const ProductionJobTimeout = 12 * time.Hour

// AuxiliaryJobTimeout is the horizon used elsewhere (test jobs, and
// component builds outside the main system).
const AuxiliaryJobTimeout = time.Hour

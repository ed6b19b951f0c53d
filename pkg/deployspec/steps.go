package deployspec

import (
	"time"

	"github.com/cuemby/deploytrigger/pkg/types"
)

// Production returns the ordered sequence of steps that produce production
// jobs: zone, delay, and parallel-group nodes, in declared order. Explicit
// test-stage nodes are dropped here — test readiness is computed
// separately from completedAt and the baseline "keep tests green" pass,
// never folded into the production walk.
func Production(spec types.DeploymentSpec) []types.Step {
	steps := make([]types.Step, 0, len(spec.Steps))
	for _, s := range spec.Steps {
		if s.Kind == types.StepTest {
			continue
		}
		steps = append(steps, s)
	}
	return steps
}

// TestJobs returns the fixed ordered test-job pair the spec declares, or
// nil if the spec has no tests.
func TestJobs(spec types.DeploymentSpec) []types.JobType {
	if !spec.HasTests {
		return nil
	}
	return []types.JobType{types.JobTypeSystemTest(), types.JobTypeStagingTest()}
}

// ToJobs returns the job types a single step yields: a delay step yields
// none, a zone step yields its one production job, and a parallel group
// yields its members' jobs in declared order.
func ToJobs(step types.Step) []types.JobType {
	switch step.Kind {
	case types.StepZone:
		return []types.JobType{types.JobTypeProduction(step.Zone)}
	case types.StepParallel:
		jobs := make([]types.JobType, 0, len(step.Parallel))
		for _, member := range step.Parallel {
			jobs = append(jobs, ToJobs(member)...)
		}
		return jobs
	case types.StepTest:
		return []types.JobType{types.JobTypeSystemTest(), types.JobTypeStagingTest()}
	default: // StepDelay
		return nil
	}
}

// CompletedAt returns a step's completion time given a lookup of each job
// type's last-completed instant, or (zero, false) if the step has not
// completed. A job-carrying step completes when every member job has
// completed; a delay step completes predecessorCompletedAt+delay once that
// instant is not in the future relative to now.
func CompletedAt(step types.Step, predecessorCompletedAt time.Time, predecessorKnown bool, lastCompletedOf func(types.JobType) (time.Time, bool), now time.Time) (time.Time, bool) {
	if step.Kind == types.StepDelay {
		if !predecessorKnown {
			return time.Time{}, false
		}
		at := predecessorCompletedAt.Add(step.Delay)
		if at.After(now) {
			return time.Time{}, false
		}
		return at, true
	}

	jobs := ToJobs(step)
	if len(jobs) == 0 {
		return time.Time{}, false
	}

	var max time.Time
	for _, jt := range jobs {
		completedAt, ok := lastCompletedOf(jt)
		if !ok {
			return time.Time{}, false
		}
		if completedAt.After(max) {
			max = completedAt
		}
	}
	return max, true
}

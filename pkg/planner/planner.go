// Package planner implements the ready-jobs planner (component F of the
// specification): for one application, produce the list of jobs currently
// eligible to run, given its current change, its deployment pipeline, and
// the completion state recorded against it. The planner is pure and
// CPU-only — it reads a snapshot of an Application and a clock reading and
// returns candidates; it never touches the repository, the lock, or the
// build service.
package planner

import (
	"fmt"
	"time"

	"github.com/cuemby/deploytrigger/pkg/changecalc"
	"github.com/cuemby/deploytrigger/pkg/deployspec"
	"github.com/cuemby/deploytrigger/pkg/retry"
	"github.com/cuemby/deploytrigger/pkg/types"
	"github.com/cuemby/deploytrigger/pkg/versions"
)

// Candidate is one job the planner judges ready to trigger.
type Candidate struct {
	ApplicationID string
	JobType       types.JobType
	Versions      versions.Versions
	Reason        string
	// AvailableSince is the instant from which this candidate has been
	// eligible — best-effort, used only to break ties in the triggering
	// engine's capacity-constrained lane (§4.G, §9 open question).
	AvailableSince time.Time
	// IsRetry marks a candidate that is re-running after a prior
	// completion, as opposed to a fresh first attempt.
	IsRetry bool
	// UpgradesApplication marks a candidate whose versions carry an
	// application-version change, used as the secondary sort key in the
	// capacity-constrained lane.
	UpgradesApplication bool
}

// Plan computes the candidate jobs for app at instant now, given the
// system's current platform version (used by versions.From when a zone has
// no change-supplied platform of its own).
func Plan(app types.Application, now time.Time, systemPlatformVersion types.PlatformVersion) []Candidate {
	p := &planState{
		app:     app,
		now:     now,
		system:  systemPlatformVersion,
		results: nil,
	}

	change := app.CurrentChange
	if change.IsPresent() {
		p.walkProduction(change)
	}

	if !p.testsQueuedOrFrozen {
		p.emitBaselineTests()
	}

	return p.results
}

type planState struct {
	app     types.Application
	now     time.Time
	system  types.PlatformVersion
	results []Candidate

	testsQueuedOrFrozen bool
}

func (p *planState) walkProduction(change types.Change) {
	completedAt, completedKnown := p.initialCompletedAt()

	for _, step := range deployspec.Production(p.app.Spec) {
		jobs := deployspec.ToJobs(step)

		if len(jobs) == 0 {
			// Delay step: advance completedAt by the delay once it has
			// elapsed; otherwise the pipeline is stalled here and
			// downstream steps cannot start.
			if completedKnown {
				at := completedAt.Add(step.Delay)
				if !at.After(p.now) {
					completedAt, completedKnown = at, true
					continue
				}
			}
			completedKnown = false
			continue
		}

		remaining := p.remainingJobs(change, jobs)
		if len(remaining) == 0 {
			completedAt, completedKnown = p.maxLastCompleted(jobs)
			continue
		}

		for _, jt := range remaining {
			p.considerRemaining(change, jt, completedAt, completedKnown)
		}
		completedKnown = false
	}
}

// initialCompletedAt computes completedAt = max(lastSuccess.At for
// systemTest, stagingTest).
func (p *planState) initialCompletedAt() (time.Time, bool) {
	var at time.Time
	known := false
	for _, jt := range []types.JobType{types.JobTypeSystemTest(), types.JobTypeStagingTest()} {
		status, ok := p.app.Jobs.StatusOf(jt)
		if !ok || status.LastSuccess == nil {
			continue
		}
		if !known || status.LastSuccess.At.After(at) {
			at = status.LastSuccess.At
		}
		known = true
	}
	return at, known
}

func (p *planState) maxLastCompleted(jobs []types.JobType) (time.Time, bool) {
	var at time.Time
	known := false
	for _, jt := range jobs {
		status, ok := p.app.Jobs.StatusOf(jt)
		if !ok || status.LastCompleted == nil {
			return time.Time{}, false
		}
		if !known || status.LastCompleted.At.After(at) {
			at = status.LastCompleted.At
		}
		known = true
	}
	return at, known
}

func (p *planState) remainingJobs(change types.Change, jobs []types.JobType) []types.JobType {
	var remaining []types.JobType
	for _, jt := range jobs {
		if !changecalc.IsComplete(change, p.app, jt, p.system) {
			remaining = append(remaining, jt)
		}
	}
	return remaining
}

func (p *planState) considerRemaining(change types.Change, jt types.JobType, completedAt time.Time, completedKnown bool) {
	deployment, hasDeployment := p.app.DeploymentFor(jt)
	var deploymentArg *types.Deployment
	if hasDeployment {
		deploymentArg = &deployment
	}
	v := versions.From(change, p.app, deploymentArg, p.system)

	if changecalc.IsTested(p.app, v) {
		p.testsQueuedOrFrozen = true

		status, _ := p.app.Jobs.StatusOf(jt)
		if alreadyTriggeredWith(status, v) && inFlight(status) {
			// Still in flight with exactly these versions: nothing new to
			// emit, and the test lane stays frozen for this pass. Once the
			// job has completed (success or failure) it falls through to
			// the eligible() check below, so a failed run is still subject
			// to the retry policy (component E) instead of being silenced
			// forever just because its target versions haven't changed.
			return
		}
		if !completedKnown {
			return
		}
		if !p.eligible(jt, status, isBlockKind(change)) {
			return
		}
		p.results = append(p.results, Candidate{
			ApplicationID:       p.app.ID,
			JobType:             jt,
			Versions:            v,
			Reason:              reasonFor(jt),
			AvailableSince:      availableSince(completedAt, completedKnown, p.now),
			IsRetry:             status.LastCompleted != nil,
			UpgradesApplication: v.TargetApplication != types.UnknownApplicationVersion && change.Application != nil,
		})
		return
	}

	if p.testsQueuedOrFrozen {
		return
	}
	p.testsQueuedOrFrozen = true
	p.emitTestsFor(v, availableSince(completedAt, completedKnown, p.now))
}

// emitTestsFor emits at most one test trigger per pass: systemTest gates
// stagingTest, so stagingTest is only considered once systemTest has
// already passed against these exact versions. This keeps a single sweep
// from dispatching both tests for a brand-new change at once, matching the
// worked example in §8 (one systemTest trigger, then — once it reports
// success — one stagingTest trigger).
func (p *planState) emitTestsFor(v versions.Versions, since time.Time) {
	p.emitTestsForReason(v, since, "test change before production")
}

func (p *planState) emitTestsForReason(v versions.Versions, since time.Time, reason string) {
	systemStatus, _ := p.app.Jobs.StatusOf(types.JobTypeSystemTest())
	systemPassed := systemStatus.LastSuccess != nil && v.TargetsMatch(*systemStatus.LastSuccess)

	if !systemPassed {
		if alreadyTriggeredWith(systemStatus, v) && inFlight(systemStatus) {
			return
		}
		if !p.eligible(types.JobTypeSystemTest(), systemStatus, "") {
			return
		}
		p.results = append(p.results, Candidate{
			ApplicationID:  p.app.ID,
			JobType:        types.JobTypeSystemTest(),
			Versions:       v,
			Reason:         reason,
			AvailableSince: since,
			IsRetry:        systemStatus.LastCompleted != nil,
		})
		return
	}

	stagingStatus, _ := p.app.Jobs.StatusOf(types.JobTypeStagingTest())
	stagingPassed := stagingStatus.LastSuccess != nil &&
		v.TargetsMatch(*stagingStatus.LastSuccess) &&
		v.SourcesMatchIfPresent(*stagingStatus.LastSuccess)
	if stagingPassed || (alreadyTriggeredWith(stagingStatus, v) && inFlight(stagingStatus)) {
		return
	}
	if !p.eligible(types.JobTypeStagingTest(), stagingStatus, "") {
		return
	}
	p.results = append(p.results, Candidate{
		ApplicationID:  p.app.ID,
		JobType:        types.JobTypeStagingTest(),
		Versions:       v,
		Reason:         reason,
		AvailableSince: since,
		IsRetry:        stagingStatus.LastCompleted != nil,
	})
}

func (p *planState) emitBaselineTests() {
	if !p.app.Spec.HasTests {
		return
	}
	v := versions.From(types.EmptyChange, p.app, nil, p.system)
	p.emitTestsForReason(v, p.now, "keep tests green")
}

// eligible applies the retry policy, the running-job guard, and (for
// production jobs) the deployment spec's block windows.
func (p *planState) eligible(jt types.JobType, status types.JobStatus, blockKind string) bool {
	horizon := retry.AuxiliaryJobTimeout
	if jt.IsProduction() || jt.IsComponent() {
		horizon = retry.ProductionJobTimeout
	}
	if retry.IsRunning(status, horizon, p.now) {
		return false
	}
	if !retry.MayTrigger(status, jt.IsTest(), p.now) {
		return false
	}
	if jt.IsProduction() && blockKind != "" && retry.Blocked(p.app.Spec, blockKind, p.now) {
		return false
	}
	return true
}

func reasonFor(jt types.JobType) string {
	if jt.IsTest() {
		return "test change before production"
	}
	return fmt.Sprintf("deploy change to %s", jt)
}

func alreadyTriggeredWith(status types.JobStatus, v versions.Versions) bool {
	return status.LastTriggered != nil && v.TargetsMatch(*status.LastTriggered)
}

// inFlight reports whether a job is still running its most recent trigger
// (no completion recorded for it yet), independent of any timeout horizon.
// It is the plain "has this run finished" half of retry.IsRunning, used
// here only to decide whether "already triggered with these versions"
// should suppress a candidate outright or fall through to the retry
// policy — a completed run, successful or not, is never still in flight.
func inFlight(status types.JobStatus) bool {
	if status.LastTriggered == nil {
		return false
	}
	return status.LastCompleted == nil || status.LastTriggered.At.After(status.LastCompleted.At)
}

func availableSince(completedAt time.Time, known bool, now time.Time) time.Time {
	if known {
		return completedAt
	}
	return now
}

// isBlockKind names which block-window kind a production trigger for change
// should be checked against: "platform" or "application" (or "" for an
// empty change). A change that sets only one axis is checked against that
// axis; a change setting both is checked against "platform" only (the
// stricter of the two in practice, since platform upgrades are
// system-wide), so an "application" window does not block it.
func isBlockKind(change types.Change) string {
	switch {
	case change.Platform != nil && change.Application != nil:
		return "platform"
	case change.Platform != nil:
		return "platform"
	case change.Application != nil:
		return "application"
	default:
		return ""
	}
}

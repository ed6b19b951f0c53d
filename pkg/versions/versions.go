// Package versions builds the concrete {target, source?} version pair a
// single job run targets (component A of the specification). Construction
// is purely functional: given a Change, the owning Application, the
// deployment already living in the job's zone (if any), and the system's
// current platform version, it derives what the job should be triggered
// with and what it is migrating away from.
package versions

import "github.com/cuemby/deploytrigger/pkg/types"

// Versions is the concrete version pair one job run targets.
type Versions struct {
	TargetPlatform    types.PlatformVersion
	TargetApplication types.ApplicationVersion
	SourcePlatform    *types.PlatformVersion
	SourceApplication *types.ApplicationVersion
}

// From constructs the Versions a job should run with.
//
//   - target platform = change.Platform, or the zone's existing deployment,
//     or the system's current platform version.
//   - target application = change.Application, or the zone's existing
//     deployment, or the application's last successfully built version.
//   - sources are the pre-change deployed values, carried only when they
//     differ from the computed targets (so an unchanged axis reports no
//     source at all).
func From(change types.Change, app types.Application, existingDeployment *types.Deployment, systemPlatformVersion types.PlatformVersion) Versions {
	targetPlatform := systemPlatformVersion
	if existingDeployment != nil {
		targetPlatform = existingDeployment.PlatformVersion
	}
	if change.Platform != nil {
		targetPlatform = *change.Platform
	}

	targetApplication := lastBuiltApplicationVersion(app)
	if existingDeployment != nil {
		targetApplication = existingDeployment.ApplicationVersion
	}
	if change.Application != nil {
		targetApplication = *change.Application
	}

	v := Versions{TargetPlatform: targetPlatform, TargetApplication: targetApplication}

	if existingDeployment != nil {
		if !existingDeployment.PlatformVersion.Equal(targetPlatform) {
			p := existingDeployment.PlatformVersion
			v.SourcePlatform = &p
		}
		if !existingDeployment.ApplicationVersion.Equal(targetApplication) {
			a := existingDeployment.ApplicationVersion
			v.SourceApplication = &a
		}
	}

	return v
}

func lastBuiltApplicationVersion(app types.Application) types.ApplicationVersion {
	status, ok := app.Jobs.StatusOf(types.JobTypeComponent())
	if !ok || status.LastSuccess == nil {
		return types.UnknownApplicationVersion
	}
	return status.LastSuccess.Application
}

// TargetsMatch reports whether a prior job run's targets are the same
// versions this Versions describes.
func (v Versions) TargetsMatch(run types.JobRun) bool {
	return v.TargetPlatform.Equal(run.Platform) && v.TargetApplication.Equal(run.Application)
}

// SourcesMatchIfPresent reports whether a prior job run's sources agree with
// this Versions' sources, treating "absent on both sides" as a match.
func (v Versions) SourcesMatchIfPresent(run types.JobRun) bool {
	if !optionalPlatformEqual(v.SourcePlatform, run.SourcePlatform) {
		return false
	}
	return optionalApplicationEqual(v.SourceApplication, run.SourceApplication)
}

func optionalPlatformEqual(a, b *types.PlatformVersion) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func optionalApplicationEqual(a, b *types.ApplicationVersion) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Equal reports whether two Versions target and source the same values.
// (The planner's "already triggered with these Versions" check compares
// targets only, via TargetsMatch.)
func (v Versions) Equal(o Versions) bool {
	if !v.TargetPlatform.Equal(o.TargetPlatform) || !v.TargetApplication.Equal(o.TargetApplication) {
		return false
	}
	if !optionalPlatformEqual(v.SourcePlatform, o.SourcePlatform) {
		return false
	}
	return optionalApplicationEqual(v.SourceApplication, o.SourceApplication)
}

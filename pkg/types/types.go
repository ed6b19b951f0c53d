// Package types holds the core value types shared by every component of the
// deployment trigger: the application aggregate, its declared Change, the
// job taxonomy, and the records the triggering engine and reconciler
// exchange. None of these types carry behavior that touches the build
// service or the application repository — they are plain values, equality
// and construction helpers only.
package types

import (
	"strconv"
	"strings"
	"time"
)

// PlatformVersion is supplied by the system controller as a dotted numeric
// string (e.g. "7.3"); the trigger never constructs one, only compares and
// stores them.
type PlatformVersion struct {
	Value string
}

// Empty reports whether v is the zero PlatformVersion.
func (v PlatformVersion) Empty() bool { return v.Value == "" }

func (v PlatformVersion) Equal(o PlatformVersion) bool { return v.Value == o.Value }

// Less reports whether v is strictly older than o, comparing dotted numeric
// components left to right (missing trailing components are treated as 0).
// A non-numeric component falls back to a plain string comparison of the
// whole value so that unparsable tokens still order consistently rather
// than panicking.
func (v PlatformVersion) Less(o PlatformVersion) bool {
	vp, vok := parseDottedVersion(v.Value)
	op, ook := parseDottedVersion(o.Value)
	if !vok || !ook {
		return v.Value < o.Value
	}
	n := len(vp)
	if len(op) > n {
		n = len(op)
	}
	for i := 0; i < n; i++ {
		var a, b int
		if i < len(vp) {
			a = vp[i]
		}
		if i < len(op) {
			b = op[i]
		}
		if a != b {
			return a < b
		}
	}
	return false
}

func parseDottedVersion(s string) ([]int, bool) {
	if s == "" {
		return nil, false
	}
	parts := strings.Split(s, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// ApplicationVersion is an opaque, comparable token produced by a successful
// component (build) job: a source revision paired with a build number.
type ApplicationVersion struct {
	SourceRevision string
	BuildNumber    int
}

// UnknownApplicationVersion is the sentinel used when no application
// version is known yet (e.g. a production job's Versions before any
// component build has ever succeeded).
var UnknownApplicationVersion = ApplicationVersion{SourceRevision: "", BuildNumber: 0}

func (v ApplicationVersion) Empty() bool { return v == UnknownApplicationVersion }

func (v ApplicationVersion) Equal(o ApplicationVersion) bool { return v == o }

// Less reports whether v is strictly older than o. Build numbers are
// monotonically assigned by the build system, so ordering by build number
// alone is sufficient regardless of source revision.
func (v ApplicationVersion) Less(o ApplicationVersion) bool { return v.BuildNumber < o.BuildNumber }

// ApplicationVersionFrom builds an ApplicationVersion from a component job's
// completion report.
func ApplicationVersionFrom(sourceRevision string, buildNumber int) ApplicationVersion {
	return ApplicationVersion{SourceRevision: sourceRevision, BuildNumber: buildNumber}
}

// Change is the tagged pair of optional versions an application is migrating
// towards. An empty Change (both fields absent) means no migration is in
// progress. All operations are pure; Change is never mutated in place.
type Change struct {
	Platform      *PlatformVersion
	Application   *ApplicationVersion
}

// EmptyChange is the zero-value Change, i.e. "no migration in progress".
var EmptyChange = Change{}

// ChangeOfApplication builds a Change carrying only an application version.
func ChangeOfApplication(v ApplicationVersion) Change {
	return Change{Application: &v}
}

// ChangeOfPlatform builds a Change carrying only a platform version.
func ChangeOfPlatform(v PlatformVersion) Change {
	return Change{Platform: &v}
}

// With returns a copy of c with the application version set to v.
func (c Change) With(v ApplicationVersion) Change {
	c.Application = &v
	return c
}

// WithPlatform returns a copy of c with the platform version set to v.
func (c Change) WithPlatform(v PlatformVersion) Change {
	c.Platform = &v
	return c
}

// WithoutPlatform returns a copy of c with the platform component cleared.
func (c Change) WithoutPlatform() Change {
	c.Platform = nil
	return c
}

// WithoutApplication returns a copy of c with the application component
// cleared.
func (c Change) WithoutApplication() Change {
	c.Application = nil
	return c
}

// IsPresent reports whether the change carries any migration at all.
func (c Change) IsPresent() bool {
	return c.Platform != nil || c.Application != nil
}

// ApplicationOnly returns the change stripped down to its application
// component, used by cancelChange(id, keepApplicationChange=true).
func (c Change) ApplicationOnly() Change {
	if c.Application == nil {
		return EmptyChange
	}
	return Change{Application: c.Application}
}

// Deployment is what is currently deployed in a given zone.
type Deployment struct {
	PlatformVersion    PlatformVersion
	ApplicationVersion ApplicationVersion
	Timestamp          time.Time
}

// Zone names a target environment (env + region) that can host a
// deployment, e.g. {Env: "prod", Region: "us-east-1"}.
type Zone struct {
	Env    string
	Region string
}

func (z Zone) String() string {
	if z.Region == "" {
		return z.Env
	}
	return z.Env + "." + z.Region
}

// JobType is drawn from a closed enumeration partitioned into component
// (build), test (systemTest, stagingTest), and one production job per zone.
type JobType struct {
	// Kind is "component", "systemTest", "stagingTest", or "production".
	Kind string
	// Zone is set only when Kind == "production".
	Zone Zone
}

const (
	KindComponent   = "component"
	KindSystemTest  = "systemTest"
	KindStagingTest = "stagingTest"
	KindProduction  = "production"
)

func JobTypeComponent() JobType   { return JobType{Kind: KindComponent} }
func JobTypeSystemTest() JobType  { return JobType{Kind: KindSystemTest} }
func JobTypeStagingTest() JobType { return JobType{Kind: KindStagingTest} }
func JobTypeProduction(z Zone) JobType {
	return JobType{Kind: KindProduction, Zone: z}
}

func (j JobType) IsTest() bool       { return j.Kind == KindSystemTest || j.Kind == KindStagingTest }
func (j JobType) IsProduction() bool { return j.Kind == KindProduction }
func (j JobType) IsComponent() bool  { return j.Kind == KindComponent }

func (j JobType) Equal(o JobType) bool { return j.Kind == o.Kind && j.Zone == o.Zone }

// String renders the canonical job name used as BuildJob.JobName.
func (j JobType) String() string {
	if j.Kind == KindProduction {
		return "prod." + j.Zone.String()
	}
	return j.Kind
}

// ErrorKind enumerates the production-relevant error classes a job
// completion can report.
type ErrorKind string

const (
	ErrorOutOfCapacity    ErrorKind = "outOfCapacity"
	ErrorTestFailure      ErrorKind = "testFailure"
	ErrorDeploymentFailure ErrorKind = "deploymentFailure"
	ErrorUnknown          ErrorKind = "unknown"
)

// JobStatus is the per (application, job type) history the retry policy and
// the change calculus read from.
type JobStatus struct {
	LastTriggered *JobRun
	LastCompleted *JobRun
	LastSuccess   *JobRun
	FirstFailing  *time.Time
	LastError     *ErrorKind
}

// IsSuccess reports whether the last completed run succeeded.
func (s JobStatus) IsSuccess() bool {
	return s.LastCompleted != nil && s.LastError == nil
}

// IsOutOfCapacity reports whether the last completion failed specifically
// with an out-of-capacity error.
func (s JobStatus) IsOutOfCapacity() bool {
	return s.LastError != nil && *s.LastError == ErrorOutOfCapacity
}

// JobRun is an immutable record of one triggering or completion.
type JobRun struct {
	Platform           PlatformVersion
	Application        ApplicationVersion
	SourcePlatform     *PlatformVersion
	SourceApplication  *ApplicationVersion
	Reason             string
	At                 time.Time
	// BuildNumber and Error are populated once the run completes.
	BuildNumber int
	Error       *ErrorKind
}

// JobReport is the ingress record produced by the build service.
type JobReport struct {
	ApplicationID  string
	ProjectID      string
	JobType        JobType
	BuildNumber    int
	SourceRevision string
	Error          *ErrorKind
}

// DeploymentJobs is the per-application map of job statuses keyed by job
// type's canonical string form (JobType isn't comparable-as-map-key across
// packages cleanly because of the embedded Zone, so callers key on String()).
type DeploymentJobs struct {
	Statuses map[string]JobStatus
}

func NewDeploymentJobs() DeploymentJobs {
	return DeploymentJobs{Statuses: make(map[string]JobStatus)}
}

func (d DeploymentJobs) StatusOf(jt JobType) (JobStatus, bool) {
	s, ok := d.Statuses[jt.String()]
	return s, ok
}

func (d DeploymentJobs) WithStatus(jt JobType, s JobStatus) DeploymentJobs {
	next := make(map[string]JobStatus, len(d.Statuses)+1)
	for k, v := range d.Statuses {
		next[k] = v
	}
	next[jt.String()] = s
	return DeploymentJobs{Statuses: next}
}

// Application is the aggregate root the whole trigger operates on.
type Application struct {
	ID               string
	Spec             DeploymentSpec
	CurrentChange    Change
	OutstandingChange *Change
	Jobs             DeploymentJobs
	Deployments      map[string]Deployment // keyed by Zone.String()
	ProjectID        string                 // cleared to quarantine the application
}

// DeploymentFor returns the live deployment in the zone a job type targets,
// or the zero value if none exists yet (and ok=false). Non-production job
// types never have a deployment.
func (a Application) DeploymentFor(jt JobType) (Deployment, bool) {
	if !jt.IsProduction() {
		return Deployment{}, false
	}
	d, ok := a.Deployments[jt.Zone.String()]
	return d, ok
}

// HasJobFailures reports whether any job on this application last failed.
func (a Application) HasJobFailures() bool {
	for _, s := range a.Jobs.Statuses {
		if s.LastCompleted != nil && !s.IsSuccess() {
			return true
		}
	}
	return false
}

// DeploymentSpec is the parsed pipeline tree: an ordered list of steps. See
// pkg/deployspec for the node kinds and the flattening logic that turns this
// into job types (§4.C of the specification).
type DeploymentSpec struct {
	HasTests bool
	Steps    []Step
	Blocks   []BlockWindow
}

// StepKind enumerates the node kinds a deployment pipeline step can be.
type StepKind string

const (
	StepTest     StepKind = "test"
	StepDelay    StepKind = "delay"
	StepZone     StepKind = "zone"
	StepParallel StepKind = "parallel"
)

// Step is one node of the flattened pipeline tree.
type Step struct {
	Kind     StepKind
	Delay    time.Duration // only for StepDelay
	Zone     Zone          // only for StepZone
	Parallel []Step        // only for StepParallel; members are StepZone nodes
}

// BlockWindow names a timespan during which changes of some kind must not
// advance.
type BlockWindow struct {
	Start time.Time
	End   time.Time
	// Kind is "platform", "application", or "" for any change.
	Kind string
}

// Covers reports whether t falls within the window and applies to the given
// change-kind ("platform" or "application").
func (b BlockWindow) Covers(t time.Time, kind string) bool {
	if b.Kind != "" && b.Kind != kind {
		return false
	}
	return !t.Before(b.Start) && t.Before(b.End)
}

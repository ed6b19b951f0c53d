// Package buildsvc is the narrow interface the trigger consumes from the
// external build service (§6): dispatch a job, poll its state. The trigger
// never runs jobs itself — this package only describes the shape of the
// collaborator it calls out to.
package buildsvc

import (
	"context"
	"errors"

	"github.com/cuemby/deploytrigger/pkg/types"
)

// BuildJob names one dispatch: the application, its project id in the
// build service, and the canonical job name.
type BuildJob struct {
	ApplicationID string
	ProjectID     string
	JobName       string
	// JobID is a client-generated key the build service can de-duplicate
	// on. The triggering engine generates a fresh one for every dispatch
	// attempt, so a later sweep that dispatches the same job again (for
	// example after a timed-out call) sends a different JobID and is not
	// de-duplicated against the earlier call.
	JobID string
}

// State is the build service's reported state for a job, used to detect
// overlap between a believed-dead job and one still actually running.
type State string

const (
	StateIdle    State = "idle"
	StateQueued  State = "queued"
	StateRunning State = "running"
)

// Sentinel error kinds (§7). ErrNotFound and ErrIllegalArgument are the
// permanent failures that cause the triggering engine to quarantine an
// application; ErrTransient is a retryable failure the sweep logs and
// moves past.
var (
	ErrNotFound        = errors.New("build service: unknown job")
	ErrIllegalArgument = errors.New("build service: illegal to trigger")
	ErrTransient       = errors.New("build service: transient failure")
)

// Service is the build-service client the triggering engine calls.
type Service interface {
	// Trigger dispatches buildJob. It returns ErrNotFound or
	// ErrIllegalArgument (wrapped) when the job or project id is invalid,
	// ErrTransient (wrapped) for a retryable failure, or a JobType-carrying
	// JobRun reason string is the caller's concern, not this interface's.
	Trigger(ctx context.Context, job BuildJob) error
	// StateOf polls the build service for a job's current state.
	StateOf(ctx context.Context, job BuildJob) (State, error)
}

// JobName renders jt the way the build service names jobs. Kept here
// (rather than reusing JobType.String() directly at call sites) so the
// wire naming convention has exactly one place to change.
func JobName(jt types.JobType) string { return jt.String() }

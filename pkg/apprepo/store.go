package apprepo

import (
	"errors"
	"time"

	"github.com/cuemby/deploytrigger/pkg/types"
)

// ErrNotFound is wrapped into the error Require and LockOrThrow return when
// the id is unknown; Get reports an unknown id with ok=false and a nil
// error instead. Callers that need to distinguish "no such application"
// from other failures should use errors.Is.
var ErrNotFound = errors.New("application not found")

// MutateFunc is the callback a locked section runs: it receives the current
// Application value and returns the value to persist. Returning an error
// aborts the mutation — nothing is persisted, but the lock is still
// released.
type MutateFunc func(app types.Application) (types.Application, error)

// Repository is the application repository (§6): the sole concurrency
// boundary of the trigger. Every mutation to an Application happens inside
// LockOrThrow or LockIfPresent, which acquire the per-application lock,
// hand the callback the current value, persist whatever it returns, and
// release the lock on every exit path, normal return or error.
type Repository interface {
	// Get returns the application, or ok=false if the id is unknown.
	Get(id string) (types.Application, bool, error)
	// Require returns the application, or ErrNotFound if the id is unknown.
	Require(id string) (types.Application, error)
	// AsList returns every known application, in no particular order.
	AsList() ([]types.Application, error)

	// LockOrThrow acquires id's lock, requires the application to exist,
	// runs fn, persists its result, and releases the lock. It returns
	// ErrNotFound (wrapped) if the application does not exist.
	LockOrThrow(id string, fn MutateFunc) error
	// LockIfPresent acquires id's lock and runs fn only if the application
	// exists; it is a silent no-op (err == nil) for an unknown id, used by
	// entry points that log-and-drop on unknown applications (the
	// reconciler's notifyOfCompletion).
	LockIfPresent(id string, fn MutateFunc) error

	// Store persists app directly. Only valid when called from within a
	// Lock* callback, or during test/seed setup before any concurrent
	// access begins.
	Store(app types.Application) error

	// Prune ages out job statuses whose LastCompleted is older than
	// olderThan, across every application, as of now. It does not touch
	// LastTriggered/LastSuccess/FirstFailing bookkeeping needed by an
	// in-flight job, only statuses that have been quiescent for the full
	// TTL.
	Prune(olderThan time.Duration, now time.Time) error
}

package apprepo

import (
	"time"

	"github.com/cuemby/deploytrigger/pkg/types"
)

// pruneApplication ages out job statuses whose LastCompleted is older than
// olderThan. Grounded on jobmanager.go's "age out completed/failed/skipped
// jobs older than 1 day" sweep: this is bookkeeping, not a core invariant —
// it never touches a status still within its retention window or one
// triggered again since its last completion (a job still in flight), and an
// aged-out status reverts to "no prior status" (retry.MayTrigger treats
// that as immediately eligible, same as a job that has never run).
func pruneApplication(app types.Application, olderThan time.Duration, now time.Time) types.Application {
	cutoff := now.Add(-olderThan)
	next := make(map[string]types.JobStatus, len(app.Jobs.Statuses))
	for key, status := range app.Jobs.Statuses {
		if status.LastCompleted != nil && status.LastCompleted.At.Before(cutoff) &&
			(status.LastTriggered == nil || !status.LastTriggered.At.After(status.LastCompleted.At)) {
			continue
		}
		next[key] = status
	}
	app.Jobs = types.DeploymentJobs{Statuses: next}
	return app
}

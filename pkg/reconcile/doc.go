// Package reconcile implements the completion reconciler (component H of
// the specification): the single entry point a build-service webhook calls
// with a job-completion report. Under the owning application's lock it
// updates job status, advances or accepts a new application version, and
// recomputes the residual change — this is how an application's current
// change eventually becomes empty and the application is considered
// up to date.
package reconcile

// Package planner implements the ready-jobs planner (component F of the
// specification). Given one application's current change, its flattened
// deployment pipeline (pkg/deployspec), and its job statuses, Plan walks
// the production steps in order, finds the first step with incomplete
// jobs, and emits either a production trigger (if those jobs are already
// tested and eligible per the retry policy) or the next test trigger (if
// not): systemTest first, stagingTest only once systemTest has passed
// against the same versions. When nothing in the pipeline needs a test run,
// it falls back to a
// baseline "keep tests green" pass so tests still run even with no change
// in flight.
package planner

// Package deployspec implements deployment steps (component C of the
// specification). A DeploymentSpec is a parsed pipeline tree of test,
// delay, zone, and parallel-group nodes; this package flattens that tree
// into the ordered production() step sequence and the fixed testJobs()
// pair, turns a step into the job types it yields, computes each step's
// completion time, and loads the tree itself from a YAML manifest.
package deployspec

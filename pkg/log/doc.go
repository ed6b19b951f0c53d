/*
Package log provides structured logging for the deployment trigger using
zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, a configurable level, and helper functions for
common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all deploytrigger packages
  - Thread-safe for concurrent use by the triggering engine, the
    reconciler, the change API, and the HTTP server, which all run on
    their own goroutines

Log Levels:
  - Debug: Detailed planner/reconciler decisions
  - Info: General informational messages (sweep summaries, triggers)
  - Warn: Warning messages (potential issues, e.g. quarantine)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: add a component name ("planner", "trigger",
    "reconcile", "changeapi", "httpapi") to all logs from a subsystem
  - WithApplicationID: add the application ID under consideration
  - WithJobType: add the job type a log line concerns

# Usage

Initializing the Logger:

	import "github.com/cuemby/deploytrigger/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("deploy trigger starting")
	log.Debug("sweep starting")
	log.Warn("application quarantined")
	log.Error("build service request failed")
	log.Fatal("cannot start without a job status store") // exits process

Structured Logging:

	log.Logger.Info().
		Str("application_id", app.ID).
		Str("job_type", jt.String()).
		Msg("job triggered")

	log.Logger.Error().
		Err(err).
		Str("application_id", app.ID).
		Msg("reconciliation failed")

Component Loggers:

	// Create a component-specific logger
	plannerLog := log.WithComponent("planner")
	plannerLog.Debug().Str("application_id", app.ID).Msg("plan computed")

	// Multiple context fields
	jobLog := log.WithComponent("trigger").
		With().Str("application_id", app.ID).
		Str("job_type", jt.String()).Logger()
	jobLog.Info().Msg("job triggered")
	jobLog.Error().Err(err).Msg("trigger failed")

Context Logger Helpers:

	// Application-specific logs
	appLog := log.WithApplicationID("checkout-service")
	appLog.Info().Msg("change accepted")

	// Job-type-specific logs
	jtLog := log.WithJobType(types.JobTypeProduction(types.Zone{Env: "prod", Region: "us-east-1"}).String())
	jtLog.Info().Msg("production job dispatched")

Complete Example:

	package main

	import (
		"errors"
		"os"

		"github.com/cuemby/deploytrigger/pkg/log"
	)

	func main() {
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("deploy trigger starting")

		sweepLog := log.WithComponent("trigger")
		sweepLog.Info().
			Int("applications", 42).
			Msg("sweep completed")

		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "buildsvc").
			Msg("failed to reach build service")

		log.Info("deploy trigger stopped")
	}

# Integration Points

This package integrates with:

  - pkg/trigger: logs quarantines, transient dispatch failures, and failed
    lastTriggered writes
  - pkg/reconcile: logs completion reports dropped for unknown applications
  - pkg/httpapi: logs completion reports that failed to reconcile
  - cmd/deploytrigger: initializes the logger from command-line flags at
    startup and logs server lifecycle, sweep results, and prune failures

pkg/changeapi and pkg/buildsvc do not log.

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing a logger through
    every call

Context Logger Pattern:
  - Create child loggers with context fields (component, application
    ID, job type)
  - Pass context loggers down into the planner/trigger/reconcile call
    chain instead of re-adding fields at every call site

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err) rather than string
    concatenation
  - Enables log aggregation and querying by application ID, job type,
    or outcome

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log

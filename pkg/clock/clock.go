// Package clock provides the single source of time the trigger consults.
// Every component that reasons about "now" — the retry policy, the planner,
// the reconciler — takes a Clock instead of calling time.Now() directly, so
// tests can pin time exactly as the specification's boundary scenarios
// require (firstFailing+59s vs +61s, job timeouts at 11h59m vs 12h01m).
package clock

import "time"

// Clock is the minimal time source the trigger depends on.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock, backed by time.Now.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed is a Clock that always returns the same instant, for tests that want
// a stable "now" without advancing it.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time { return f.At }

// Mutable is a Clock a test can advance explicitly, for scenarios that walk
// through a sequence of ticks separated by known durations.
type Mutable struct {
	at time.Time
}

func NewMutable(at time.Time) *Mutable {
	return &Mutable{at: at}
}

func (m *Mutable) Now() time.Time { return m.at }

func (m *Mutable) Advance(d time.Duration) {
	m.at = m.at.Add(d)
}

func (m *Mutable) Set(at time.Time) {
	m.at = at
}

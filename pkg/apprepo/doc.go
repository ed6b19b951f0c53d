// Package apprepo is the application repository — the sole concurrency
// boundary of the trigger. Every mutation to an Application happens inside
// LockOrThrow or LockIfPresent, which acquire a per-application lock, hand
// the caller the current value, persist whatever it returns, and release
// the lock on every exit path, normal return or error.
package apprepo

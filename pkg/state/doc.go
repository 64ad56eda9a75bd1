// Package state implements the reactive state primitives that back live-UI
// synchronization: Cells (named, session-scoped value containers with change
// notification), Computeds (derived, per-session cached values), and the
// process-wide cell Registry used for bulk per-session operations.
//
// Cells are shared mutable state accessed concurrently from many session
// goroutines. All mutating operations are safe under cross-session
// concurrency; per-key atomicity is provided by sharded concurrent maps.
package state

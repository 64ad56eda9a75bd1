// Package session manages per-connection identity and the outbound side of
// live-UI synchronization: each Session owns a pending-update map flushed to
// its channel after a short debounce window, and the Registry owns session
// lifetimes, cascading cell cleanup on removal and best-effort broadcast.
package session

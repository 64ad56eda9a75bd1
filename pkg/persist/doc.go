// Package persist writes cell values to durable storage with a debounce,
// and restores them when a session reconnects.
//
// A Store is a flat key/value backend; Memory, SQL, Redis, and S3
// implementations are provided. An Adapter watches one cell and saves
// its per-session values after a quiet period, coalescing rapid writes
// into one store operation. A Manager groups the adapters of an
// application so a server can restore, cancel, or delete all persisted
// state for a session in one call.
package persist

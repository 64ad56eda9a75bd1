package state

import "sync/atomic"

// subIDCounter is the source of unique subscription IDs.
// Atomic so subscription from concurrent goroutines needs no lock.
var subIDCounter uint64

// nextSubID returns the next unique subscription ID.
// IDs are monotonically increasing and never reused.
func nextSubID() uint64 {
	return atomic.AddUint64(&subIDCounter, 1)
}

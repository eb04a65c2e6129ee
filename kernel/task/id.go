package task

import "sync/atomic"

// ID uniquely identifies a task for the lifetime of the kernel. IDs are never
// reused, even after the task they refer to has been destroyed.
type ID uint64

var lastID uint64

// NewID returns a fresh task ID. Values are unique and increase
// monotonically; the first ID handed out is 1.
func NewID() ID {
	return ID(atomic.AddUint64(&lastID, 1))
}

// LastID returns the most recently generated ID or 0 if no ID has been
// generated yet.
func LastID() ID {
	return ID(atomic.LoadUint64(&lastID))
}

// Package sync provides the busy-waiting locks used by the scheduler core.
// None of the primitives in this package ever put the caller to sleep so they
// are safe to use from interrupt context.
package sync

import (
	"gophersmp/kernel/cpu"
	"sync/atomic"
)

var (
	// relaxFn is invoked on each failed acquisition attempt. Tests replace
	// it with runtime.Gosched.
	relaxFn = cpu.Pause
)

// Spinlock implements a lock where each core trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the caller. Any attempt to
// re-acquire a lock already held by the caller will cause a deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		for atomic.LoadUint32(&l.state) != 0 {
			relaxFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other cores to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Held returns true if the lock is currently acquired by someone.
func (l *Spinlock) Held() bool {
	return atomic.LoadUint32(&l.state) != 0
}

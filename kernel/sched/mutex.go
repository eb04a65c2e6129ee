package sched

import "gophersmp/kernel/sync"

// Mutex is a sleeping lock. Contended Lock calls put the caller on a wait
// queue instead of spinning, so a Mutex may be held across blocking
// operations but must never be used from interrupt context.
type Mutex struct {
	lock    sync.Spinlock
	waiters *WaitQueue
	free    func() bool
}

// NewMutex creates an unlocked mutex whose waiters are scheduled by s.
func NewMutex(s *Scheduler) *Mutex {
	m := &Mutex{waiters: NewWaitQueue(s)}
	m.free = func() bool { return !m.lock.Held() }
	return m
}

// TryLock acquires the mutex if it is free and reports whether it did.
func (m *Mutex) TryLock() bool {
	return m.lock.TryToAcquire()
}

// Lock acquires the mutex, sleeping while it is held by another task.
func (m *Mutex) Lock() {
	for !m.lock.TryToAcquire() {
		m.waiters.SleepUnless(m.free)
	}
}

// Unlock releases the mutex and wakes the longest waiting task.
func (m *Mutex) Unlock() {
	m.lock.Release()
	m.waiters.WakeUpSomeone()
}

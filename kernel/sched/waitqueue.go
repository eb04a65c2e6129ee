package sched

import (
	"gophersmp/kernel/sync"
	"gophersmp/kernel/task"
)

// WaitQueue is a FIFO of tasks waiting for some condition. It does not know
// what the condition is; whoever makes it true calls WakeUpSomeone.
type WaitQueue struct {
	s     *Scheduler
	lock  sync.IRQSpinlock
	tasks []*task.Task
}

// NewWaitQueue creates an empty wait queue whose sleepers are scheduled by s.
func NewWaitQueue(s *Scheduler) *WaitQueue {
	q := &WaitQueue{s: s}
	q.lock.Init(s.hw)
	return q
}

// Sleep blocks the calling task until another task wakes it up.
func (q *WaitQueue) Sleep() {
	q.SleepUnless(nil)
}

// SleepUnless blocks the calling task unless cond, evaluated after the task
// has been queued, returns true. Because a waker that runs after the task is
// queued always finds it, testing the condition here cannot miss a wakeup.
func (q *WaitQueue) SleepUnless(cond func() bool) {
	flags := q.s.hw.DisableInterrupts()
	t := q.s.CurrentTask()

	lockFlags := q.lock.Acquire()
	q.tasks = append(q.tasks, t)
	err := t.ChangeState(task.Blocked)
	q.lock.Release(lockFlags)
	if err != nil {
		q.s.Fatal(err)
	}

	if cond != nil && cond() {
		q.s.resume(t)
	} else {
		q.s.Schedule()
	}
	q.s.hw.RestoreInterrupts(flags)

	q.remove(t.ID())
}

// remove drops every entry for id. A task that left the queue through
// WakeUpSomeone has no entry left and remove is a no-op.
func (q *WaitQueue) remove(id task.ID) {
	flags := q.lock.Acquire()
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if t.ID() != id {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = kept
	q.lock.Release(flags)
}

// WakeUpSomeone pops tasks from the head of the queue until it finds one that
// is still Blocked, queues it on the run list and returns it. Entries that
// were already woken through another path are discarded.
func (q *WaitQueue) WakeUpSomeone() (*task.Task, bool) {
	flags := q.lock.Acquire()
	defer q.lock.Release(flags)

	for len(q.tasks) != 0 {
		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]

		if q.s.Wake(t) {
			return t, true
		}
	}
	return nil, false
}

// Len returns the number of queued entries.
func (q *WaitQueue) Len() int {
	flags := q.lock.Acquire()
	n := len(q.tasks)
	q.lock.Release(flags)
	return n
}

// Empty returns true if no task is queued.
func (q *WaitQueue) Empty() bool {
	return q.Len() == 0
}

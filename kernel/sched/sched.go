// Package sched implements the round-robin SMP scheduler, wait queues and
// the sleeping mutex built on top of them.
package sched

import (
	"gophersmp/kernel"
	"gophersmp/kernel/apic"
	"gophersmp/kernel/gate"
	"gophersmp/kernel/hal"
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/preempt"
	"gophersmp/kernel/smp"
	"gophersmp/kernel/sync"
	"gophersmp/kernel/task"
)

// DefaultQuantum is the number of timer ticks a task may run before it is
// preempted in favor of the next ready task.
const DefaultQuantum = 20

var (
	panicFn = kfmt.Panic

	errNoCurrentTask   = &kernel.Error{Module: "sched", Message: "no task associated with this core"}
	errNoTask          = &kernel.Error{Module: "sched", Message: "no task to run"}
	errAlreadyAdmitted = &kernel.Error{Module: "sched", Message: "task admitted twice"}
	errReentrant       = &kernel.Error{Module: "sched", Message: "schedule called while switching"}
	errAtomic          = &kernel.Error{Module: "sched", Message: "schedule called with preemption disabled"}
	errStillRunning    = &kernel.Error{Module: "sched", Message: "schedule called by a running task"}
	errYieldState      = &kernel.Error{Module: "sched", Message: "yield called by a task that is not running"}
	errIdleExit        = &kernel.Error{Module: "sched", Message: "idle task cannot exit"}
	errExitReturned    = &kernel.Error{Module: "sched", Message: "exited task was resumed"}
	errEngaged         = &kernel.Error{Module: "sched", Message: "core already engaged"}
	errEngageReturned  = &kernel.Error{Module: "sched", Message: "jump to first task returned"}
)

// Config holds the tunables of the scheduler.
type Config struct {
	// Quantum is the number of timer ticks a task runs before being
	// preempted. Values below 1 select DefaultQuantum.
	Quantum int
}

// core is the scheduler state owned by a single core. It is only accessed by
// its own core with interrupts masked.
type core struct {
	current *task.Task
	idle    *task.Task

	// prev is the task this core is switching away from. The incoming
	// side clears its onCPU flag once the switch has completed.
	prev *task.Task

	ticksLeft  int
	inSchedule bool
}

// Scheduler tracks the tasks admitted to run and decides which one each core
// executes. Ready tasks wait in a single FIFO run list shared by all cores.
// A task is appended when it becomes Ready and leaves the list when a core
// picks it, so tasks run in the order they became ready. Running, Blocked and
// idle tasks are never in the list.
type Scheduler struct {
	cfg     Config
	hw      hal.Platform
	reg     *task.Registry
	pc      *preempt.Control
	builder task.ContextBuilder

	cores  smp.PerCore[core]
	online smp.Mask

	runLock sync.IRQSpinlock
	runList []*task.Task
}

// New creates a scheduler. The scheduler registers its switch completion hook
// with hw so that freshly built contexts finish the switch that started them.
func New(cfg Config, hw hal.Platform, reg *task.Registry, pc *preempt.Control, builder task.ContextBuilder) *Scheduler {
	if cfg.Quantum < 1 {
		cfg.Quantum = DefaultQuantum
	}

	s := &Scheduler{
		cfg:     cfg,
		hw:      hw,
		reg:     reg,
		pc:      pc,
		builder: builder,
	}
	s.runLock.Init(hw)
	hw.OnContextStart(s.finishSwitch)
	return s
}

// AddTask admits a task in the Created state to the tail of the run list. It
// can be called from any core. Admitting a task twice is fatal.
func (s *Scheduler) AddTask(t *task.Task) {
	if !s.enqueue(t, task.Created) {
		s.Fatal(errAlreadyAdmitted)
	}
}

// Wake makes a Blocked task Ready and queues it behind the tasks that are
// already waiting to run. It returns false if t was not Blocked, for example
// because another waker got to it first.
func (s *Scheduler) Wake(t *task.Task) bool {
	return s.enqueue(t, task.Blocked)
}

// enqueue moves t from state from to Ready and appends it to the run list.
// It returns false and leaves t untouched if t was not in state from.
func (s *Scheduler) enqueue(t *task.Task, from task.State) bool {
	flags := s.runLock.Acquire()
	ok := t.CompareAndSwapState(from, task.Ready)
	if ok {
		s.runList = append(s.runList, t)
	}
	s.runLock.Release(flags)
	return ok
}

// RemoveTask excludes a task from future scheduling decisions.
func (s *Scheduler) RemoveTask(id task.ID) {
	flags := s.runLock.Acquire()
	for i, t := range s.runList {
		if t.ID() == id {
			s.unlinkAt(i)
			break
		}
	}
	s.runLock.Release(flags)
}

// unlink drops t from the run list. It must be called with runLock held.
func (s *Scheduler) unlink(t *task.Task) {
	for i, queued := range s.runList {
		if queued == t {
			s.unlinkAt(i)
			return
		}
	}
}

func (s *Scheduler) unlinkAt(i int) {
	copy(s.runList[i:], s.runList[i+1:])
	s.runList[len(s.runList)-1] = nil
	s.runList = s.runList[:len(s.runList)-1]
}

// Runnable returns the number of Ready tasks waiting in the run list.
func (s *Scheduler) Runnable() int {
	flags := s.runLock.Acquire()
	n := len(s.runList)
	s.runLock.Release(flags)
	return n
}

// CurrentTask returns the task running on the calling core. Calling it on a
// core that has not been engaged is fatal.
func (s *Scheduler) CurrentTask() *task.Task {
	flags := s.hw.DisableInterrupts()
	t := s.cores.Of(s.hw.CoreID()).current
	s.hw.RestoreInterrupts(flags)

	if t == nil {
		s.Fatal(errNoCurrentTask)
	}
	return t
}

// IsIdle returns true if t is the idle task of some core.
func (s *Scheduler) IsIdle(t *task.Task) bool {
	var idle bool
	s.online.ForEach(func(id int) {
		idle = idle || s.cores.Of(id).idle == t
	})
	return idle
}

// Online returns the set of cores that have been engaged.
func (s *Scheduler) Online() *smp.Mask {
	return &s.online
}

// Lookup returns the registered task with the given ID.
func (s *Scheduler) Lookup(id task.ID) (*task.Task, bool) {
	return s.reg.Get(id)
}

// Destroy permanently removes a terminated task whose context is no longer in
// use. See task.Registry.Destroy for the failure modes.
func (s *Scheduler) Destroy(id task.ID) *kernel.Error {
	return s.reg.Destroy(id, s.RemoveTask)
}

// Fatal stops every core after reporting err.
func (s *Scheduler) Fatal(err *kernel.Error) {
	s.hw.DisableInterrupts()
	s.hw.SendIPI(apic.Others(), apic.Fixed, uint8(gate.Halt))
	panicFn(err)
}

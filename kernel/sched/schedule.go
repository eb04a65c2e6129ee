package sched

import (
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/task"
)

// Schedule switches the calling core to the next task. The calling task must
// already have left the Running state: Ready and queued if it yielded,
// Blocked if it went to sleep or Terminated if it exited. A yielding task
// keeps running if no other task is ready; otherwise the core falls back to
// its idle task.
//
// Schedule returns when the calling task is switched back in, possibly on a
// different core.
func (s *Scheduler) Schedule() {
	flags := s.hw.DisableInterrupts()
	c := s.cores.Of(s.hw.CoreID())

	prev := c.current
	switch {
	case c.inSchedule:
		s.Fatal(errReentrant)
	case !s.pc.Enabled():
		s.Fatal(errAtomic)
	case prev == nil:
		s.Fatal(errNoCurrentTask)
	case prev.State() == task.Running:
		s.Fatal(errStillRunning)
	}

	c.inSchedule = true
	s.pc.Disable()

	next := s.pick(c, prev)
	if next == prev {
		c.inSchedule = false
		s.pc.Enable()
		s.hw.RestoreInterrupts(flags)
		return
	}

	kfmt.Debugf("[sched] core %d: switch %d -> %d\n", s.hw.CoreID(), uint64(prev.ID()), uint64(next.ID()))

	c.prev = prev
	c.current = next
	prev.Context().Switch(next.Context())

	// Back on some core; complete the switch that resumed us.
	s.finishSwitch()
	s.hw.RestoreInterrupts(flags)
}

// pick selects the task the core should run next and marks it Running and
// loaded. The head of the run list wins; entries still loaded on a core that
// is switching away from them are skipped. A preempted prev keeps the core
// when nothing else is ready. It must be called with interrupts masked.
func (s *Scheduler) pick(c *core, prev *task.Task) *task.Task {
	flags := s.runLock.Acquire()
	for i, t := range s.runList {
		if t.OnCPU() || !t.CompareAndSwapState(task.Ready, task.Running) {
			continue
		}

		s.unlinkAt(i)
		s.runLock.Release(flags)
		t.SetOnCPU(true)
		return t
	}

	if prev != nil && prev != c.idle && prev.CompareAndSwapState(task.Ready, task.Running) {
		s.unlink(prev)
		s.runLock.Release(flags)
		return prev
	}
	s.runLock.Release(flags)

	if c.idle == nil || !c.idle.CompareAndSwapState(task.Ready, task.Running) {
		s.Fatal(errNoTask)
		return nil
	}
	c.idle.SetOnCPU(true)
	return c.idle
}

// resume puts the calling task, which left Running without switching away,
// back into the Running state. An entry queued by a waker in the meantime is
// dropped from the run list.
func (s *Scheduler) resume(t *task.Task) {
	flags := s.runLock.Acquire()
	if !t.CompareAndSwapState(task.Blocked, task.Ready) {
		s.unlink(t)
	}
	ok := t.CompareAndSwapState(task.Ready, task.Running)
	s.runLock.Release(flags)

	if !ok {
		s.Fatal(errYieldState)
	}
}

// finishSwitch runs on the incoming side of every switch, either right after
// Context.Switch returns or, for contexts that have never run, from the
// context start hook. Once it returns, the outgoing task's context has been
// fully saved and another core may load it.
func (s *Scheduler) finishSwitch() {
	c := s.cores.Of(s.hw.CoreID())
	if prev := c.prev; prev != nil {
		c.prev = nil
		prev.SetOnCPU(false)
	}

	c.ticksLeft = s.cfg.Quantum
	c.inSchedule = false
	s.pc.Enable()
}

// EngageCPU creates the idle task of the calling core, marks the core online
// and jumps into the first task it can run. It never returns.
func (s *Scheduler) EngageCPU() {
	s.hw.DisableInterrupts()
	id := s.hw.CoreID()
	c := s.cores.Of(id)
	if c.idle != nil {
		s.Fatal(errEngaged)
		return
	}

	idle := task.NewKernel(s.builder, s.idle)
	idle.ChangeState(task.Ready)
	s.reg.Insert(idle)
	c.idle = idle
	s.online.Set(id)

	// The jump is completed by finishSwitch like any other switch.
	c.inSchedule = true
	s.pc.Disable()

	next := s.pick(c, nil)
	c.current = next
	kfmt.Printf("[sched] core %d engaged: idle task %d, first task %d\n", id, uint64(idle.ID()), uint64(next.ID()))

	next.Context().Jump()
	s.Fatal(errEngageReturned)
}

// idle is the body of every core's idle task.
func (s *Scheduler) idle() {
	for {
		s.hw.EnableInterrupts()
		s.hw.WaitForInterrupt()
	}
}

// TimerTick is invoked by the timer interrupt handler. It charges the tick to
// the running task and yields the core once the task's quantum is exhausted.
// An idle core yields on every tick so newly admitted tasks start promptly.
// Ticks arriving while preemption is disabled only consume the quantum; the
// first tick after preemption is re-enabled performs the switch.
func (s *Scheduler) TimerTick() {
	s.hw.SendEOI()

	c := s.cores.Of(s.hw.CoreID())
	if c.current == nil || c.inSchedule {
		return
	}

	if c.ticksLeft > 0 {
		c.ticksLeft--
	}

	if (c.ticksLeft == 0 || c.current == c.idle) && s.pc.Enabled() {
		s.Yield()
	}
}

// Yield gives up the rest of the calling task's quantum and queues the task
// behind every task that is already ready. It does nothing if preemption is
// disabled on the calling core.
func (s *Scheduler) Yield() {
	if !s.pc.Enabled() {
		kfmt.Debugf("[sched] core %d: yield with preemption disabled\n", s.hw.CoreID())
		return
	}

	flags := s.hw.DisableInterrupts()
	t := s.CurrentTask()

	var ok bool
	if t == s.cores.Of(s.hw.CoreID()).idle {
		ok = t.CompareAndSwapState(task.Running, task.Ready)
	} else {
		ok = s.enqueue(t, task.Running)
	}
	if !ok {
		s.Fatal(errYieldState)
	}
	s.Schedule()
	s.hw.RestoreInterrupts(flags)
}

// Exit terminates the calling task with the given exit code. The task stays
// registered until another task destroys it. Exit never returns.
func (s *Scheduler) Exit(code int) {
	s.hw.DisableInterrupts()
	t := s.CurrentTask()
	if t == s.cores.Of(s.hw.CoreID()).idle {
		s.Fatal(errIdleExit)
	}

	t.SetExitCode(code)
	if err := t.ChangeState(task.Terminated); err != nil {
		s.Fatal(err)
	}
	kfmt.Debugf("[sched] task %d exited with code %d\n", uint64(t.ID()), code)

	s.Schedule()
	s.Fatal(errExitReturned)
}

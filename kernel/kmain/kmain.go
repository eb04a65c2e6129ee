// Package kmain brings up the scheduler core: it parses the command line,
// builds the kernel context shared by every core and engages the cores.
package kmain

import (
	"gophersmp/kernel"
	"gophersmp/kernel/bootopt"
	"gophersmp/kernel/gate"
	"gophersmp/kernel/hal"
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/mm/tlb"
	"gophersmp/kernel/preempt"
	"gophersmp/kernel/sched"
	"gophersmp/kernel/syscall"
	"gophersmp/kernel/task"
)

var errUnhandledInterrupt = &kernel.Error{Module: "kmain", Message: "unhandled interrupt"}

// Kernel is the state shared by every core once bring-up completes.
type Kernel struct {
	Options  bootopt.Options
	HW       hal.Platform
	Registry *task.Registry
	Preempt  *preempt.Control
	Sched    *sched.Scheduler
	TLB      *tlb.Coherence

	builder task.ContextBuilder
}

// New parses cmdline, builds the kernel context on top of hw and registers
// the timer, halt and TLB shootdown handlers in gates. Any other vector
// dumps the interrupted registers and halts every core. It must run on the
// bootstrap core before any core is engaged.
func New(cmdline string, hw hal.Platform, builder task.ContextBuilder, gates *gate.Table) (*Kernel, *kernel.Error) {
	opts, err := bootopt.Parse(cmdline)
	if err != nil {
		return nil, err
	}
	kfmt.SetDebug(opts.Debug)

	k := &Kernel{
		Options:  opts,
		HW:       hw,
		Registry: task.NewRegistry(hw),
		Preempt:  preempt.New(hw),
		builder:  builder,
	}
	k.Sched = sched.New(sched.Config{Quantum: opts.Quantum}, hw, k.Registry, k.Preempt, builder)
	k.TLB = tlb.New(hw, k.Preempt, k.Sched, opts.TLBAck)

	k.TLB.Install(gates)
	gates.Handle(gate.Timer, k.handleTimer)
	gates.Handle(gate.Halt, k.handleHalt)
	gates.HandleUnhandled(k.handleUnhandled)

	kfmt.Printf("[kmain] scheduler ready: %s\n", opts.String())
	return k, nil
}

// Spawn creates a task running entry within as, registers it and admits it
// to the run list.
func (k *Kernel) Spawn(as task.AddressSpace, entry uintptr) *task.Task {
	return k.admit(task.New(k.builder, as, entry, k.Options.Stack))
}

// SpawnKernel creates a kernel task running fn and admits it to the run
// list.
func (k *Kernel) SpawnKernel(fn func()) *task.Task {
	return k.admit(task.NewKernel(k.builder, fn))
}

func (k *Kernel) admit(t *task.Task) *task.Task {
	k.Registry.Insert(t)
	k.Sched.AddTask(t)
	kfmt.Debugf("[kmain] task %d admitted\n", uint64(t.ID()))
	return t
}

// Syscall runs a task system call on behalf of the calling task.
func (k *Kernel) Syscall(nr syscall.Number, arg uint64) int64 {
	return syscall.Dispatch(k.Sched, nr, arg)
}

// EngageCPU hands the calling core to the scheduler. Cores beyond the
// smp.cores limit idle with interrupts enabled until they are halted. It
// never returns.
func (k *Kernel) EngageCPU() {
	if id := k.HW.CoreID(); k.Options.Cores > 0 && id >= k.Options.Cores {
		kfmt.Printf("[kmain] core %d parked\n", id)
		for {
			k.HW.EnableInterrupts()
			k.HW.WaitForInterrupt()
		}
	}

	k.Sched.EngageCPU()
}

func (k *Kernel) handleTimer(_ *gate.Registers) {
	k.Sched.TimerTick()
}

func (k *Kernel) handleHalt(_ *gate.Registers) {
	k.HW.SendEOI()
	k.HW.Halt()
}

func (k *Kernel) handleUnhandled(regs *gate.Registers) {
	gate.ReportUnhandled(gate.InterruptNumber(regs.Info), regs)
	k.Sched.Fatal(errUnhandledInterrupt)
}

// Package task defines the schedulable unit of the kernel, the generator of
// task IDs and the registry that owns every live task.
package task

import (
	"gophersmp/kernel"
	"sync/atomic"
)

// Context is the architecture-specific execution state of a task: its saved
// registers and kernel stack.
type Context interface {
	// Switch saves the state of the calling context and resumes next. It
	// returns when some core switches back to the calling context.
	Switch(next Context)

	// Jump abandons the calling (boot) execution flow and resumes the
	// context. It never returns.
	Jump()

	// Release frees the resources of a context that will never run again.
	Release()
}

// AddressSpace is the paging structure a task runs under.
type AddressSpace interface {
	// PageRoot returns the physical address loaded into CR3 when the task
	// is switched in.
	PageRoot() uintptr
}

// ContextBuilder creates execution contexts.
type ContextBuilder interface {
	// Build creates a context that starts executing at entry within as,
	// using the stack region [base-size, base).
	Build(as AddressSpace, entry, base, size uintptr) Context

	// BuildKernel creates a context that runs fn on a kernel stack in the
	// kernel address space.
	BuildKernel(fn func()) Context
}

// StackSpec describes the placement of a task's stack.
type StackSpec struct {
	Base uintptr
	Size uintptr
}

// DefaultStack is used for tasks unless overridden at boot.
var DefaultStack = StackSpec{
	Base: 0x00007FFFFFFF0000,
	Size: 64 * 1024,
}

// Task is a schedulable unit. A Task is shared by pointer between the
// registry, the run list, at most one wait queue and the per-core current
// slot; its identity never changes and only its state is mutated.
type Task struct {
	id    ID
	state uint32
	onCPU uint32

	exitCode int32

	ctx Context
	as  AddressSpace
}

// New creates a task in the Created state that starts executing at entry
// within as.
func New(b ContextBuilder, as AddressSpace, entry uintptr, stack StackSpec) *Task {
	return &Task{
		id:  NewID(),
		ctx: b.Build(as, entry, stack.Base, stack.Size),
		as:  as,
	}
}

// NewKernel creates a task in the Created state that runs fn in the kernel
// address space.
func NewKernel(b ContextBuilder, fn func()) *Task {
	return &Task{
		id:  NewID(),
		ctx: b.BuildKernel(fn),
	}
}

// ID returns the task's ID.
func (t *Task) ID() ID { return t.id }

// Context returns the task's execution context.
func (t *Task) Context() Context { return t.ctx }

// AddressSpace returns the address space the task runs under or nil for
// kernel tasks.
func (t *Task) AddressSpace() AddressSpace { return t.as }

// State returns a snapshot of the task's state. Unless the caller is the only
// party that can change it, the value may be stale by the time it is used.
func (t *Task) State() State {
	return State(atomic.LoadUint32(&t.state))
}

// ChangeState moves the task to state to. It fails with ErrInvalidTransition
// if the current state has no edge leading to to.
func (t *Task) ChangeState(to State) *kernel.Error {
	for {
		from := t.State()
		if !CanTransition(from, to) {
			return ErrInvalidTransition
		}

		if atomic.CompareAndSwapUint32(&t.state, uint32(from), uint32(to)) {
			return nil
		}
	}
}

// CompareAndSwapState atomically moves the task from state from to state to.
// It returns false if the task is not in state from or if the edge is not
// part of the state machine.
func (t *Task) CompareAndSwapState(from, to State) bool {
	return CanTransition(from, to) &&
		atomic.CompareAndSwapUint32(&t.state, uint32(from), uint32(to))
}

// OnCPU returns true while the task's context is loaded on a core or is still
// being saved by the core that switched away from it.
func (t *Task) OnCPU() bool {
	return atomic.LoadUint32(&t.onCPU) != 0
}

// SetOnCPU updates the flag reported by OnCPU.
func (t *Task) SetOnCPU(on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&t.onCPU, v)
}

// ExitCode returns the code passed to exit by a terminated task.
func (t *Task) ExitCode() int {
	return int(atomic.LoadInt32(&t.exitCode))
}

// SetExitCode records the task's exit code.
func (t *Task) SetExitCode(code int) {
	atomic.StoreInt32(&t.exitCode, int32(code))
}

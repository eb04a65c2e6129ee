// Package preempt implements the per-core counters that gate involuntary
// rescheduling.
package preempt

import (
	"gophersmp/kernel"
	"gophersmp/kernel/cpu"
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/smp"
)

var (
	panicFn = kfmt.Panic

	errUnbalanced = &kernel.Error{Module: "preempt", Message: "Enable called more often than Disable"}
)

// Platform is the subset of hal.Platform required by Control.
type Platform interface {
	CoreID() int
	DisableInterrupts() cpu.Flags
	RestoreInterrupts(cpu.Flags)
}

// Control holds one preemption counter per core. A core is preemptible while
// its counter is zero. Each counter is only ever touched by its own core, with
// interrupts masked so that a handler interrupting the update cannot observe
// a torn value.
type Control struct {
	hw       Platform
	counters smp.PerCore[uint32]
}

// New creates a Control with every core preemptible.
func New(hw Platform) *Control {
	return &Control{hw: hw}
}

// Disable prevents the calling core from being preempted until a matching
// Enable call. Calls nest.
func (c *Control) Disable() {
	flags := c.hw.DisableInterrupts()
	*c.counters.Of(c.hw.CoreID())++
	c.hw.RestoreInterrupts(flags)
}

// Enable undoes one Disable call. Calling Enable on a preemptible core is a
// fatal bug.
func (c *Control) Enable() {
	flags := c.hw.DisableInterrupts()
	counter := c.counters.Of(c.hw.CoreID())
	if *counter == 0 {
		c.hw.RestoreInterrupts(flags)
		panicFn(errUnbalanced)
		return
	}
	*counter--
	c.hw.RestoreInterrupts(flags)
}

// Enabled returns true if the calling core may be preempted.
func (c *Control) Enabled() bool {
	return c.Count() == 0
}

// Count returns the nesting depth of the calling core's counter.
func (c *Control) Count() uint32 {
	flags := c.hw.DisableInterrupts()
	n := *c.counters.Of(c.hw.CoreID())
	c.hw.RestoreInterrupts(flags)
	return n
}

// Without runs fn with preemption disabled on the calling core.
func (c *Control) Without(fn func()) {
	c.Disable()
	defer c.Enable()
	fn()
}

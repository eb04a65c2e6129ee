// Package hal describes the per-core hardware surface consumed by the
// scheduler core and provides its implementation for bare-metal amd64.
package hal

import (
	"gophersmp/kernel/apic"
	"gophersmp/kernel/cpu"
)

// Platform exposes the operations the scheduler, the preemption counters and
// the TLB coherence protocol need from the core they are running on. Every
// method acts on the calling core only.
type Platform interface {
	// CoreID returns a dense index in [0, smp.MaxCores) identifying the
	// calling core.
	CoreID() int

	// DisableInterrupts masks interrupts and returns the previous state.
	DisableInterrupts() cpu.Flags

	// RestoreInterrupts restores a state returned by DisableInterrupts.
	RestoreInterrupts(cpu.Flags)

	// EnableInterrupts unmasks interrupts on the calling core.
	EnableInterrupts()

	// InterruptsEnabled returns true if the calling core accepts
	// interrupts.
	InterruptsEnabled() bool

	// WaitForInterrupt enables interrupts and idles the core until the
	// next interrupt has been serviced.
	WaitForInterrupt()

	// Halt stops the calling core for good.
	Halt()

	// Relax is called on every iteration of a busy-wait loop.
	Relax()

	// InvalidatePage drops the local TLB entry for a virtual address.
	InvalidatePage(virtAddr uintptr)

	// ReloadPageRoot reloads the active page root, flushing every
	// non-global TLB entry of the calling core.
	ReloadPageRoot()

	// SendIPI delivers vector to the cores selected by dest.
	SendIPI(dest apic.Destination, priority apic.Priority, vector uint8)

	// SendEOI acknowledges the interrupt being serviced.
	SendEOI()

	// OnContextStart registers fn to be called on a freshly built
	// execution context before its entry point runs, with interrupts
	// masked.
	OnContextStart(fn func())
}

var (
	// Hardware primitives used by Native; replaced by tests.
	apicIDFn        = apic.ID
	sendIPIFn       = apic.SendIPI
	sendEOIFn       = apic.SendEOI
	flagsFn         = cpu.ReadFlags
	disableFn       = cpu.DisableInterrupts
	enableFn        = cpu.EnableInterrupts
	waitFn          = cpu.WaitForInterrupt
	haltFn          = cpu.Halt
	pauseFn         = cpu.Pause
	flushTLBEntryFn = cpu.FlushTLBEntry
	flushTLBFn      = cpu.FlushTLB
)

// Native implements Platform on top of the amd64 instructions exposed by
// package cpu and the local APIC. Core IDs are the local APIC IDs, which the
// firmware is expected to assign densely starting from 0.
type Native struct {
	contextStart func()
}

// CoreID returns the APIC ID of the calling core.
func (*Native) CoreID() int { return int(apicIDFn()) }

// DisableInterrupts masks interrupts and returns the previous RFLAGS value.
func (*Native) DisableInterrupts() cpu.Flags {
	flags := flagsFn()
	disableFn()
	return flags
}

// RestoreInterrupts re-enables interrupts if flags has IF set.
func (*Native) RestoreInterrupts(flags cpu.Flags) {
	if flags.InterruptsEnabled() {
		enableFn()
	}
}

// EnableInterrupts executes STI.
func (*Native) EnableInterrupts() { enableFn() }

// InterruptsEnabled inspects the IF bit of RFLAGS.
func (*Native) InterruptsEnabled() bool { return flagsFn().InterruptsEnabled() }

// WaitForInterrupt executes STI; HLT.
func (*Native) WaitForInterrupt() { waitFn() }

// Halt executes CLI; HLT.
func (*Native) Halt() { haltFn() }

// Relax executes PAUSE.
func (*Native) Relax() { pauseFn() }

// InvalidatePage executes INVLPG.
func (*Native) InvalidatePage(virtAddr uintptr) { flushTLBEntryFn(virtAddr) }

// ReloadPageRoot writes CR3 back to itself.
func (*Native) ReloadPageRoot() { flushTLBFn() }

// SendIPI programs the local APIC ICR.
func (*Native) SendIPI(dest apic.Destination, priority apic.Priority, vector uint8) {
	sendIPIFn(dest, priority, vector)
}

// SendEOI writes the local APIC EOI register.
func (*Native) SendEOI() { sendEOIFn() }

// OnContextStart registers the hook run by ContextStarted.
func (n *Native) OnContextStart(fn func()) { n.contextStart = fn }

// ContextStarted is called by the context entry trampoline the first time a
// new execution context is switched in.
func (n *Native) ContextStarted() {
	if n.contextStart != nil {
		n.contextStart()
	}
}

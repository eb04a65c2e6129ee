// Package cpu exposes the amd64 instructions used by the scheduler core:
// interrupt flag manipulation, halting, spin-wait hints and TLB maintenance.
package cpu

// Flags is a snapshot of the RFLAGS register.
type Flags uint64

// FlagIF is the interrupt-enable bit of RFLAGS.
const FlagIF Flags = 1 << 9

// InterruptsEnabled returns true if the IF bit of f is set.
func (f Flags) InterruptsEnabled() bool {
	return f&FlagIF != 0
}

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// ReadFlags returns the current contents of the RFLAGS register.
func ReadFlags() Flags

// Halt masks interrupts and stops instruction execution. It never returns.
func Halt()

// WaitForInterrupt enables interrupts and halts the core until the next
// interrupt arrives.
func WaitForInterrupt()

// Pause hints the core that it is executing a spin-wait loop.
func Pause()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

func switchPDT(pdtPhysAddr uintptr)

func activePDT() uintptr

// FlushTLB reloads CR3 with its current value, dropping every cached
// translation that is not marked as global.
func FlushTLB() {
	switchPDT(activePDT())
}

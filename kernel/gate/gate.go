// Package gate defines the interrupt vectors used by the scheduler core and a
// table that routes incoming interrupts to their handlers.
package gate

import (
	"gophersmp/kernel"
	"gophersmp/kernel/kfmt"
	"io"
)

var (
	panicFn = kfmt.Panic

	errUnhandled = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}
)

// Registers contains a snapshot of the register values saved by the
// interrupt entry stub.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info holds the exception code for exceptions or the vector number
	// for hardware interrupts and IPIs.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x RCX = %16x\n", r.RAX, r.RBX, r.RCX)
	kfmt.Fprintf(w, "RDX = %16x RSI = %16x RDI = %16x\n", r.RDX, r.RSI, r.RDI)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x R10 = %16x\n", r.R8, r.R9, r.R10)
	kfmt.Fprintf(w, "R11 = %16x R12 = %16x R13 = %16x\n", r.R11, r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x RBP = %16x\n", r.R14, r.R15, r.RBP)
	kfmt.Fprintf(w, "RIP = %16x RSP = %16x RFL = %16x\n", r.RIP, r.RSP, r.RFlags)
	kfmt.Fprintf(w, "CS  = %4x SS  = %4x INFO = %x\n", r.CS, r.SS, r.Info)
}

// InterruptNumber describes an x86 interrupt vector.
type InterruptNumber uint8

const (
	// DoubleFault occurs when an exception is raised while the CPU is
	// trying to deliver another one.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page table entry is not present
	// or when a privilege or RW protection check fails.
	PageFaultException = InterruptNumber(14)

	// Timer is raised by the local APIC timer on every scheduler tick.
	Timer = InterruptNumber(0x20)

	// TLBShootdown is the IPI vector reserved for cross-core TLB
	// invalidation requests.
	TLBShootdown = InterruptNumber(0x7F)

	// Halt is the IPI vector broadcast by a core that hit an unrecoverable
	// error; receivers stop executing.
	Halt = InterruptNumber(0xFE)
)

// String returns a short name for well-known vectors.
func (n InterruptNumber) String() string {
	switch n {
	case DoubleFault:
		return "double-fault"
	case GPFException:
		return "gpf"
	case PageFaultException:
		return "page-fault"
	case Timer:
		return "timer"
	case TLBShootdown:
		return "tlb-shootdown"
	case Halt:
		return "halt"
	default:
		return "irq"
	}
}

// Handler services an interrupt. Handlers run with interrupts masked on the
// local core; they must not block or allocate memory.
type Handler func(*Registers)

// Table maps interrupt vectors to handlers. The architecture entry stubs
// route every vector through Dispatch.
type Table struct {
	handlers  [256]Handler
	unhandled Handler
}

// Handle installs fn as the handler for vector num, replacing any previous
// handler.
func (t *Table) Handle(num InterruptNumber, fn Handler) {
	t.handlers[num] = fn
}

// HandleUnhandled installs fn as the handler for every vector that has no
// handler of its own. The handler must not return to the interrupted code.
func (t *Table) HandleUnhandled(fn Handler) {
	t.unhandled = fn
}

// Dispatch invokes the handler registered for num and reports whether one
// was found. A vector without a handler is fatal: it is passed to the
// unhandled handler or, if none is installed, reported and followed by a
// kernel panic.
func (t *Table) Dispatch(num InterruptNumber, regs *Registers) bool {
	regs.Info = uint64(num)

	fn := t.handlers[num]
	switch {
	case fn != nil:
		fn(regs)
		return true
	case t.unhandled != nil:
		t.unhandled(regs)
	default:
		ReportUnhandled(num, regs)
		panicFn(errUnhandled)
	}
	return false
}

// ReportUnhandled prints the vector and the register snapshot of an
// interrupt that no handler claimed.
func ReportUnhandled(num InterruptNumber, regs *Registers) {
	kfmt.Printf("\nunhandled %s interrupt (vector %d)\n", num.String(), uint8(num))
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())
}

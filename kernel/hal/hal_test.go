package hal

import (
	"gophersmp/kernel/apic"
	"gophersmp/kernel/cpu"
	"testing"
)

var _ Platform = (*Native)(nil)

func TestNativeInterruptMasking(t *testing.T) {
	defer func() {
		flagsFn = cpu.ReadFlags
		disableFn = cpu.DisableInterrupts
		enableFn = cpu.EnableInterrupts
	}()

	var (
		flags   = cpu.FlagIF
		enabled int
		hw      Native
	)
	flagsFn = func() cpu.Flags { return flags }
	disableFn = func() { flags &^= cpu.FlagIF }
	enableFn = func() {
		enabled++
		flags |= cpu.FlagIF
	}

	outer := hw.DisableInterrupts()
	inner := hw.DisableInterrupts()
	if hw.InterruptsEnabled() {
		t.Fatal("expected interrupts to be masked")
	}

	hw.RestoreInterrupts(inner)
	if hw.InterruptsEnabled() || enabled != 0 {
		t.Fatal("expected restoring the inner state to keep interrupts masked")
	}

	hw.RestoreInterrupts(outer)
	if !hw.InterruptsEnabled() || enabled != 1 {
		t.Fatal("expected restoring the outer state to enable interrupts")
	}
}

func TestNativeDelegation(t *testing.T) {
	defer func() {
		apicIDFn = apic.ID
		sendIPIFn = apic.SendIPI
		sendEOIFn = apic.SendEOI
		flushTLBEntryFn = cpu.FlushTLBEntry
		flushTLBFn = cpu.FlushTLB
		pauseFn = cpu.Pause
	}()

	var (
		hw        Native
		ipiVector uint8
		ipiDest   apic.Destination
		eois      int
		flushed   uintptr
		reloads   int
		pauses    int
		started   int
	)

	apicIDFn = func() uint8 { return 2 }
	sendIPIFn = func(dest apic.Destination, _ apic.Priority, vector uint8) {
		ipiDest, ipiVector = dest, vector
	}
	sendEOIFn = func() { eois++ }
	flushTLBEntryFn = func(addr uintptr) { flushed = addr }
	flushTLBFn = func() { reloads++ }
	pauseFn = func() { pauses++ }

	if got := hw.CoreID(); got != 2 {
		t.Errorf("expected CoreID to return 2; got %d", got)
	}

	hw.SendIPI(apic.Others(), apic.Fixed, 0x7F)
	if ipiVector != 0x7F || ipiDest.Shorthand() != apic.ToOthers {
		t.Errorf("expected IPI 0x7F to other cores; got 0x%x to shorthand %d", ipiVector, ipiDest.Shorthand())
	}

	hw.SendEOI()
	hw.InvalidatePage(0x1000)
	hw.ReloadPageRoot()
	hw.Relax()

	if eois != 1 || flushed != 0x1000 || reloads != 1 || pauses != 1 {
		t.Errorf("unexpected primitive calls: eoi=%d invlpg=0x%x reload=%d pause=%d", eois, flushed, reloads, pauses)
	}

	hw.ContextStarted()
	hw.OnContextStart(func() { started++ })
	hw.ContextStarted()
	if started != 1 {
		t.Errorf("expected the context start hook to run once; ran %d times", started)
	}
}

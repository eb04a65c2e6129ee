package tlb

import (
	"gophersmp/kernel/apic"
	"gophersmp/kernel/cpu"
	"gophersmp/kernel/gate"
	"gophersmp/kernel/preempt"
	"gophersmp/kernel/smp"
	"testing"
)

// fakePlatform models a set of cores driven from a single goroutine. Calls
// act on the core selected by the core field.
type fakePlatform struct {
	core    int
	masked  [smp.MaxCores]bool
	reloads [smp.MaxCores]int
	eois    [smp.MaxCores]int
	invlpg  []uintptr
	ipis    []uint8

	// onRelax runs whenever the issuer spins.
	onRelax func()
}

func (p *fakePlatform) CoreID() int { return p.core }
func (p *fakePlatform) DisableInterrupts() cpu.Flags {
	var prev cpu.Flags
	if !p.masked[p.core] {
		prev = cpu.FlagIF
	}
	p.masked[p.core] = true
	return prev
}
func (p *fakePlatform) RestoreInterrupts(f cpu.Flags) {
	if f.InterruptsEnabled() {
		p.masked[p.core] = false
	}
}
func (p *fakePlatform) EnableInterrupts()               { p.masked[p.core] = false }
func (p *fakePlatform) InterruptsEnabled() bool         { return !p.masked[p.core] }
func (p *fakePlatform) WaitForInterrupt()               {}
func (p *fakePlatform) Halt()                           {}
func (p *fakePlatform) InvalidatePage(virtAddr uintptr) { p.invlpg = append(p.invlpg, virtAddr) }
func (p *fakePlatform) ReloadPageRoot()                 { p.reloads[p.core]++ }
func (p *fakePlatform) SendEOI()                        { p.eois[p.core]++ }
func (p *fakePlatform) OnContextStart(func())           {}
func (p *fakePlatform) SendIPI(_ apic.Destination, _ apic.Priority, vector uint8) {
	p.ipis = append(p.ipis, vector)
}
func (p *fakePlatform) Relax() {
	if p.onRelax != nil {
		p.onRelax()
	}
}

type fakeCores struct {
	mask smp.Mask
}

func (c *fakeCores) Online() *smp.Mask { return &c.mask }

func setup(ack bool, online ...int) (*fakePlatform, *Coherence, *gate.Table) {
	var (
		hw    = &fakePlatform{}
		cores = &fakeCores{}
		gates = &gate.Table{}
	)

	for _, core := range online {
		cores.mask.Set(core)
	}

	c := New(hw, preempt.New(hw), cores, ack)
	c.Install(gates)
	return hw, c, gates
}

// runOn executes fn as if it were running on core.
func runOn(hw *fakePlatform, core int, fn func()) {
	prev := hw.core
	hw.core = core
	fn()
	hw.core = prev
}

func TestLocalOperations(t *testing.T) {
	hw, c, _ := setup(true, 0)

	c.Invalidate(0x1000)
	c.Flush()

	if len(hw.invlpg) != 1 || hw.invlpg[0] != 0x1000 || hw.reloads[0] != 1 {
		t.Fatalf("unexpected local TLB operations: invlpg=%v reloads=%d", hw.invlpg, hw.reloads[0])
	}
}

func TestShootdownSingleCore(t *testing.T) {
	hw, c, _ := setup(true, 0)

	c.Shootdown(0x2000)

	if len(hw.ipis) != 0 {
		t.Fatalf("expected no IPI when no other core is online; got %v", hw.ipis)
	}

	if len(hw.invlpg) != 1 || hw.invlpg[0] != 0x2000 {
		t.Fatalf("expected local invalidation of 0x2000; got %v", hw.invlpg)
	}
}

func TestShootdownWaitsForAcknowledgment(t *testing.T) {
	hw, c, gates := setup(true, 0, 1, 2)

	var (
		regs   gate.Registers
		spins  int
		target = 1
	)

	// Each time the issuer spins, the next remote core handles the IPI.
	hw.onRelax = func() {
		spins++
		if target > 2 {
			t.Fatal("issuer kept spinning after every core acknowledged")
		}
		runOn(hw, target, func() {
			gates.Dispatch(gate.TLBShootdown, &regs)
		})
		target++
	}

	c.Shootdown(0x3000)

	if len(hw.ipis) != 1 || hw.ipis[0] != uint8(gate.TLBShootdown) {
		t.Fatalf("expected a single shootdown IPI; got %v", hw.ipis)
	}

	if spins != 2 {
		t.Fatalf("expected issuer to wait for 2 acknowledgments; spun %d times", spins)
	}

	for core := 1; core <= 2; core++ {
		if hw.reloads[core] != 1 || hw.eois[core] != 1 {
			t.Errorf("core %d: expected one page root reload and one EOI; got %d/%d", core, hw.reloads[core], hw.eois[core])
		}
		if c.Pending(core) {
			t.Errorf("core %d: expected no pending requests", core)
		}
	}

	if hw.reloads[0] != 0 {
		t.Error("expected the issuer to only invalidate the single page locally")
	}
}

func TestShootdownWithoutAcknowledgment(t *testing.T) {
	hw, c, gates := setup(false, 0, 1)
	hw.onRelax = func() { t.Fatal("expected fire-and-forget shootdown not to spin") }

	c.Shootdown(0x4000)

	if !c.Pending(1) {
		t.Fatal("expected core 1 to have a pending request")
	}

	var regs gate.Registers
	runOn(hw, 1, func() { gates.Dispatch(gate.TLBShootdown, &regs) })

	if c.Pending(1) || hw.reloads[1] != 1 {
		t.Fatal("expected the handler to complete the pending request")
	}
}

func TestShootdownServicesOwnRequestsWhileSpinning(t *testing.T) {
	hw, c, gates := setup(true, 0, 1)

	var regs gate.Registers

	// Core 1 issued a shootdown of its own that targets core 0 and is
	// spinning with interrupts masked; it only acknowledges ours after its
	// request has been serviced.
	runOn(hw, 1, func() {
		hw.DisableInterrupts()
		c.gens.Of(0).requested++
	})

	hw.onRelax = func() {
		if c.Pending(0) {
			t.Fatal("expected issuer to service its own pending request before spinning")
		}
		runOn(hw, 1, func() { gates.Dispatch(gate.TLBShootdown, &regs) })
	}

	c.Shootdown(0x5000)

	if hw.reloads[0] != 1 {
		t.Fatalf("expected the issuer to reload its page root once; got %d", hw.reloads[0])
	}
}

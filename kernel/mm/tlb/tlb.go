// Package tlb keeps the translation caches of all cores coherent after the
// paging structures shared between them change.
package tlb

import (
	"gophersmp/kernel/apic"
	"gophersmp/kernel/gate"
	"gophersmp/kernel/hal"
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/preempt"
	"gophersmp/kernel/smp"
	"sync/atomic"
)

// Cores reports which cores are running and may therefore cache
// translations.
type Cores interface {
	Online() *smp.Mask
}

// generations tracks shootdown requests addressed to one core. Issuers bump
// requested; the core's handler copies the value it observed into completed
// after flushing its TLB.
type generations struct {
	requested uint64
	completed uint64
}

// Coherence implements the shootdown protocol. A core that changes a mapping
// which other cores may have cached calls Shootdown; every other online core
// reloads its page root from the TLBShootdown IPI handler.
type Coherence struct {
	hw    hal.Platform
	pc    *preempt.Control
	cores Cores
	ack   bool

	gens smp.PerCore[generations]
}

// New creates the shootdown state. When ack is false, Shootdown returns as
// soon as the IPI has been sent, leaving a window where remote cores may
// still use stale translations.
func New(hw hal.Platform, pc *preempt.Control, cores Cores, ack bool) *Coherence {
	return &Coherence{hw: hw, pc: pc, cores: cores, ack: ack}
}

// Install registers the shootdown handler on gate.TLBShootdown.
func (c *Coherence) Install(gates *gate.Table) {
	gates.Handle(gate.TLBShootdown, c.handleShootdown)
}

// Invalidate drops the calling core's cached translation for virtAddr.
func (c *Coherence) Invalidate(virtAddr uintptr) {
	c.hw.InvalidatePage(virtAddr)
}

// Flush drops every non-global translation cached by the calling core.
func (c *Coherence) Flush() {
	c.hw.ReloadPageRoot()
}

// Shootdown invalidates virtAddr on the calling core and asks every other
// online core to flush its TLB. Unless acknowledgments are disabled it
// returns only after every targeted core has flushed.
//
// Shootdown spins with preemption disabled but leaves interrupts as the
// caller set them. It must not be called while holding an IRQSpinlock that a
// targeted core may be spinning on with interrupts masked: that core never
// takes the IPI and the wait never ends.
func (c *Coherence) Shootdown(virtAddr uintptr) {
	c.pc.Disable()
	defer c.pc.Enable()

	self := c.hw.CoreID()
	c.hw.InvalidatePage(virtAddr)

	var (
		want    [smp.MaxCores]uint64
		targets int
		online  = c.cores.Online()
	)

	for core := 0; core < smp.MaxCores; core++ {
		if core == self || !online.Has(core) {
			continue
		}
		want[core] = atomic.AddUint64(&c.gens.Of(core).requested, 1)
		targets++
	}

	if targets == 0 {
		return
	}

	c.hw.SendIPI(apic.Others(), apic.Fixed, uint8(gate.TLBShootdown))
	kfmt.Debugf("[tlb] core %d: shootdown of 0x%x sent to %d cores\n", self, virtAddr, targets)

	if !c.ack {
		return
	}

	for core := 0; core < smp.MaxCores; core++ {
		if want[core] == 0 {
			continue
		}

		gen := c.gens.Of(core)
		for atomic.LoadUint64(&gen.completed) < want[core] {
			// Another core may be spinning on a shootdown of its own
			// and waiting for us to flush.
			c.servicePending(self)
			c.hw.Relax()
		}
	}
}

// Pending returns true if core has shootdown requests it has not completed.
func (c *Coherence) Pending(core int) bool {
	gen := c.gens.Of(core)
	return atomic.LoadUint64(&gen.completed) < atomic.LoadUint64(&gen.requested)
}

func (c *Coherence) servicePending(self int) {
	if !c.Pending(self) {
		return
	}

	flags := c.hw.DisableInterrupts()
	c.service()
	c.hw.RestoreInterrupts(flags)
}

// service flushes the local TLB and publishes the request generation it
// covers. It runs with interrupts masked and does not allocate.
func (c *Coherence) service() {
	gen := c.gens.Of(c.hw.CoreID())
	requested := atomic.LoadUint64(&gen.requested)

	c.hw.ReloadPageRoot()

	if requested > atomic.LoadUint64(&gen.completed) {
		atomic.StoreUint64(&gen.completed, requested)
	}
}

func (c *Coherence) handleShootdown(_ *gate.Registers) {
	c.service()
	c.hw.SendEOI()
}

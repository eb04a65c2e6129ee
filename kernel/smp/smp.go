// Package smp provides the building blocks for per-core state: a bitmask of
// cores and a fixed array of cache-line padded per-core slots.
package smp

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// MaxCores is the maximum number of cores supported by the kernel.
const MaxCores = 64

// Mask is a set of core IDs. All operations are atomic so a mask can be
// shared between cores.
type Mask struct {
	bits uint64
}

// Set adds core to the mask.
func (m *Mask) Set(core int) {
	bit := uint64(1) << uint(core)
	for {
		old := atomic.LoadUint64(&m.bits)
		if old&bit != 0 || atomic.CompareAndSwapUint64(&m.bits, old, old|bit) {
			return
		}
	}
}

// Clear removes core from the mask.
func (m *Mask) Clear(core int) {
	bit := uint64(1) << uint(core)
	for {
		old := atomic.LoadUint64(&m.bits)
		if old&bit == 0 || atomic.CompareAndSwapUint64(&m.bits, old, old&^bit) {
			return
		}
	}
}

// Has returns true if core belongs to the mask.
func (m *Mask) Has(core int) bool {
	return atomic.LoadUint64(&m.bits)&(uint64(1)<<uint(core)) != 0
}

// Count returns the number of cores in the mask.
func (m *Mask) Count() int {
	return bits.OnesCount64(atomic.LoadUint64(&m.bits))
}

// ForEach invokes fn for every core in a snapshot of the mask, in ascending
// order.
func (m *Mask) ForEach(fn func(core int)) {
	for set := atomic.LoadUint64(&m.bits); set != 0; set &= set - 1 {
		fn(bits.TrailingZeros64(set))
	}
}

// PerCore holds one T per core. Each slot is padded to a cache line so that
// updates on one core never invalidate the line holding another core's slot.
type PerCore[T any] struct {
	slots [MaxCores]struct {
		val T
		_   cpu.CacheLinePad
	}
}

// Of returns the slot owned by core.
func (p *PerCore[T]) Of(core int) *T {
	return &p.slots[core].val
}

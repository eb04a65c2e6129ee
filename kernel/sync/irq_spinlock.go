package sync

import (
	"gophersmp/kernel/cpu"
	"sync/atomic"
)

// IRQMasker is the subset of the per-core hardware surface required by
// IRQSpinlock.
type IRQMasker interface {
	// DisableInterrupts masks interrupts on the calling core and returns
	// the previous interrupt state.
	DisableInterrupts() cpu.Flags

	// RestoreInterrupts restores a state returned by DisableInterrupts.
	RestoreInterrupts(cpu.Flags)

	// Relax is called while spinning on a contended lock.
	Relax()
}

// IRQSpinlock is a spinlock that masks interrupts on the owning core for the
// duration of the critical section. It protects state that is shared between
// cores and is also reachable from interrupt handlers: an interrupt arriving
// on the owning core can never try to re-acquire the lock and deadlock.
//
// The zero value is not usable; Init must be called first.
type IRQSpinlock struct {
	state uint32
	hw    IRQMasker
}

// Init binds the lock to the hardware surface used for masking interrupts.
func (l *IRQSpinlock) Init(hw IRQMasker) {
	l.hw = hw
}

// Acquire masks interrupts and spins until the lock is acquired. The returned
// flags must be passed to the matching Release call.
func (l *IRQSpinlock) Acquire() cpu.Flags {
	flags := l.hw.DisableInterrupts()
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		for atomic.LoadUint32(&l.state) != 0 {
			l.hw.Relax()
		}
	}
	return flags
}

// Release unlocks l and restores the interrupt state captured by Acquire.
func (l *IRQSpinlock) Release(flags cpu.Flags) {
	atomic.StoreUint32(&l.state, 0)
	l.hw.RestoreInterrupts(flags)
}

// Held returns true if the lock is currently acquired by someone.
func (l *IRQSpinlock) Held() bool {
	return atomic.LoadUint32(&l.state) != 0
}

// Package machine simulates a multicore amd64 machine on the host so that
// the scheduler core can run and be tested without hardware.
//
// The simulation is deterministic: exactly one goroutine executes simulated
// code at any time. Task contexts are goroutines that hand a baton to each
// other on context switches and at safepoints, where the current core also
// takes interrupts and yields to the next core in round-robin order.
package machine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"gophersmp/kernel/apic"
	"gophersmp/kernel/cpu"
	"gophersmp/kernel/gate"
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/smp"
)

var (
	// ErrHalted is returned by Run when a core executes Halt, usually as
	// a result of a kernel panic.
	ErrHalted = errors.New("machine: core halted")

	// ErrStepBudget is returned by Run when the simulation exceeds
	// Config.MaxSteps safepoints.
	ErrStepBudget = errors.New("machine: step budget exhausted")

	// ErrContextReturned is returned by Run when the entry point of a
	// context returns instead of exiting through the scheduler.
	ErrContextReturned = errors.New("machine: context entry point returned")

	// ErrUnknownEntry is returned by Run when a context built for an
	// entry point that was not registered with Program is started.
	ErrUnknownEntry = errors.New("machine: unknown entry point")

	installHaltOnce sync.Once
)

const (
	defaultMaxSteps = 200000

	// programBase is the entry address handed out for the first program.
	programBase = uintptr(0x400000)
)

// haltSignal unwinds the goroutine of a halted core.
type haltSignal struct{}

// Config describes the simulated machine.
type Config struct {
	// Cores is the number of cores; defaults to 1.
	Cores int `yaml:"cores"`

	// TickEvery is the number of safepoints a core executes between timer
	// interrupts; defaults to 1.
	TickEvery int `yaml:"tick_every"`

	// MaxSteps bounds the number of safepoints; defaults to 200000.
	MaxSteps int `yaml:"max_steps"`

	// StopWhenIdle ends the simulation successfully once every core has
	// been idling for a full round.
	StopWhenIdle bool `yaml:"stop_when_idle"`
}

type core struct {
	id      int
	booted  bool
	irqOff  bool
	running *Context

	pending   []gate.InterruptNumber
	ticks     int
	tickDue   bool
	forceTick bool
	eois      int

	pageRoot uintptr
	tlb      map[uintptr]struct{}
}

// Machine is a simulated multicore machine. It implements hal.Platform for
// the core currently executing and task.ContextBuilder for its contexts.
type Machine struct {
	cfg   Config
	gates *gate.Table
	cores []*core

	cur       int
	steps     int
	idleRun   int
	startHook func()
	boot      func(core int)
	programs  []func()

	stop     chan struct{}
	stopOnce sync.Once
	err      error
	wg       sync.WaitGroup
}

// New creates a machine. Kernel panics raised while it runs unwind the
// panicking core instead of executing HLT.
func New(cfg Config) *Machine {
	if cfg.Cores < 1 {
		cfg.Cores = 1
	}
	if cfg.Cores > smp.MaxCores {
		cfg.Cores = smp.MaxCores
	}
	if cfg.TickEvery < 1 {
		cfg.TickEvery = 1
	}
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = defaultMaxSteps
	}

	installHaltOnce.Do(func() {
		kfmt.SetHaltFunc(func() { panic(haltSignal{}) })
	})

	m := &Machine{
		cfg:   cfg,
		gates: &gate.Table{},
		stop:  make(chan struct{}),
	}
	for i := 0; i < cfg.Cores; i++ {
		m.cores = append(m.cores, &core{id: i, tlb: make(map[uintptr]struct{})})
	}
	return m
}

// Gates returns the interrupt table consulted when delivering interrupts.
func (m *Machine) Gates() *gate.Table { return m.gates }

// Cores returns the number of simulated cores.
func (m *Machine) Cores() int { return len(m.cores) }

// Steps returns the number of safepoints executed so far.
func (m *Machine) Steps() int { return m.steps }

// Run boots the machine by invoking boot on each core, starting with core 0.
// Other cores are booted the first time the baton reaches them. boot is
// expected to engage the scheduler and never return. Run returns when the
// simulation stops: nil after Stop or an idle stop, otherwise the reason the
// simulation was aborted.
func (m *Machine) Run(boot func(core int)) error {
	m.boot = boot
	m.cur = 0
	m.resume(m.bootCore(m.cores[0]))

	<-m.stop
	m.wg.Wait()
	return m.err
}

// Stop ends the simulation successfully. It must be called from simulated
// code and does not return.
func (m *Machine) Stop() {
	m.fail(nil)
	runtime.Goexit()
}

// Safepoint marks a point where simulated code may be interrupted. The
// calling core takes any pending interrupts and the next core gets to run.
func (m *Machine) Safepoint() {
	m.idleRun = 0
	m.safepoint()
}

func (m *Machine) safepoint() {
	m.steps++
	if m.steps > m.cfg.MaxSteps {
		m.fail(ErrStepBudget)
		runtime.Goexit()
	}

	m.rotate()
	m.deliver()
}

// rotate hands the baton to the next core and waits until it comes back.
func (m *Machine) rotate() {
	if len(m.cores) == 1 {
		return
	}

	self := m.core().running
	next := m.cores[(m.cur+1)%len(m.cores)]
	if !next.booted {
		m.bootCore(next)
	}

	m.cur = next.id
	m.resume(next.running)
	m.park(self)
}

// deliver dispatches the pending interrupts of the current core while its
// interrupts are enabled.
func (m *Machine) deliver() {
	c := m.core()
	if c.ticks++; c.ticks >= m.cfg.TickEvery || c.forceTick {
		c.ticks, c.forceTick, c.tickDue = 0, false, true
	}

	for {
		// A handler may switch contexts; re-read the core each time.
		c = m.core()
		if c.irqOff {
			return
		}

		var vector gate.InterruptNumber
		switch {
		case len(c.pending) != 0:
			vector = c.pending[0]
			c.pending = c.pending[1:]
		case c.tickDue:
			vector, c.tickDue = gate.Timer, false
		default:
			return
		}

		m.interrupt(vector)
	}
}

func (m *Machine) interrupt(vector gate.InterruptNumber) {
	var regs gate.Registers

	m.core().irqOff = true
	m.gates.Dispatch(vector, &regs)
	m.core().irqOff = false
}

func (m *Machine) core() *core { return m.cores[m.cur] }

func (m *Machine) bootCore(c *core) *Context {
	id := c.id
	ctx := m.newContext(func() { m.boot(id) })
	ctx.bootstrap = true
	c.running = ctx
	c.booted = true
	return ctx
}

func (m *Machine) fail(err error) {
	m.stopOnce.Do(func() {
		m.err = err
		close(m.stop)
	})
}

func (m *Machine) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}

	if _, ok := r.(haltSignal); ok {
		m.fail(ErrHalted)
		return
	}
	m.fail(fmt.Errorf("machine: core %d: panic: %v", m.cur, r))
}

// CoreID returns the ID of the core holding the baton.
func (m *Machine) CoreID() int { return m.cur }

// DisableInterrupts masks interrupts on the current core.
func (m *Machine) DisableInterrupts() cpu.Flags {
	c := m.core()
	var flags cpu.Flags
	if !c.irqOff {
		flags = cpu.FlagIF
	}
	c.irqOff = true
	return flags
}

// RestoreInterrupts restores a state returned by DisableInterrupts.
func (m *Machine) RestoreInterrupts(flags cpu.Flags) {
	if flags.InterruptsEnabled() {
		m.core().irqOff = false
	}
}

// EnableInterrupts unmasks interrupts on the current core. Pending
// interrupts are taken at the next safepoint.
func (m *Machine) EnableInterrupts() { m.core().irqOff = false }

// InterruptsEnabled reports the interrupt state of the current core.
func (m *Machine) InterruptsEnabled() bool { return !m.core().irqOff }

// WaitForInterrupt idles the current core until its next timer tick.
func (m *Machine) WaitForInterrupt() {
	c := m.core()
	c.irqOff = false
	c.forceTick = true

	m.idleRun++
	if m.cfg.StopWhenIdle && m.idleRun >= 4*len(m.cores) {
		m.fail(nil)
		runtime.Goexit()
	}
	m.safepoint()
}

// Halt stops the whole simulation with ErrHalted.
func (m *Machine) Halt() { panic(haltSignal{}) }

// Relax lets the other cores make progress while the current one spins.
func (m *Machine) Relax() { m.Safepoint() }

// InvalidatePage drops virtAddr from the current core's TLB.
func (m *Machine) InvalidatePage(virtAddr uintptr) { delete(m.core().tlb, virtAddr) }

// ReloadPageRoot empties the current core's TLB.
func (m *Machine) ReloadPageRoot() { clear(m.core().tlb) }

// SendIPI queues vector on every core selected by dest. IPIs are taken at the
// receivers' next safepoint with interrupts enabled.
func (m *Machine) SendIPI(dest apic.Destination, _ apic.Priority, vector uint8) {
	for _, c := range m.cores {
		var hit bool
		switch dest.Shorthand() {
		case apic.ToSelf:
			hit = c.id == m.cur
		case apic.ToAll:
			hit = true
		case apic.ToOthers:
			hit = c.id != m.cur
		default:
			hit = c.id == int(dest.Core())
		}

		if hit {
			c.pending = append(c.pending, gate.InterruptNumber(vector))
		}
	}
}

// SendEOI acknowledges an interrupt on the current core.
func (m *Machine) SendEOI() { m.core().eois++ }

// OnContextStart registers the hook run by every task context before its
// entry point.
func (m *Machine) OnContextStart(fn func()) { m.startHook = fn }

// Touch records a translation for virtAddr in the current core's TLB, as if
// simulated code had accessed it.
func (m *Machine) Touch(virtAddr uintptr) { m.core().tlb[virtAddr] = struct{}{} }

// Cached returns true if core holds a translation for virtAddr. It may be
// called from simulated code or after Run returns.
func (m *Machine) Cached(core int, virtAddr uintptr) bool {
	_, ok := m.cores[core].tlb[virtAddr]
	return ok
}

// PageRoot returns the page root loaded on core.
func (m *Machine) PageRoot(core int) uintptr { return m.cores[core].pageRoot }

// PendingIPIs returns the number of interrupts queued on core.
func (m *Machine) PendingIPIs(core int) int { return len(m.cores[core].pending) }

// EOIs returns the number of interrupts acknowledged by core.
func (m *Machine) EOIs(core int) int { return m.cores[core].eois }

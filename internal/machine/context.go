package machine

import (
	"runtime"

	"gophersmp/kernel/task"
)

// Context is a simulated execution context backed by a goroutine. The
// goroutine is started the first time the context is switched to and parks
// whenever the context is switched away from.
type Context struct {
	m  *Machine
	fn func()

	pageRoot   uintptr
	stackBase  uintptr
	stackSize  uintptr
	bootstrap  bool
	started    bool
	released   bool
	wake, dead chan struct{}
}

func (m *Machine) newContext(fn func()) *Context {
	return &Context{
		m:    m,
		fn:   fn,
		wake: make(chan struct{}, 1),
		dead: make(chan struct{}),
	}
}

// Program registers fn as a user program and returns the entry address to
// pass to Build.
func (m *Machine) Program(fn func()) uintptr {
	m.programs = append(m.programs, fn)
	return programBase + uintptr(len(m.programs)-1)*0x1000
}

// Build creates a context that runs the program registered at entry within
// as. The stack placement is recorded but not used.
func (m *Machine) Build(as task.AddressSpace, entry, base, size uintptr) task.Context {
	var fn func()
	if idx := int((entry - programBase) / 0x1000); entry >= programBase && (entry-programBase)%0x1000 == 0 && idx < len(m.programs) {
		fn = m.programs[idx]
	} else {
		fn = func() {
			m.fail(ErrUnknownEntry)
			runtime.Goexit()
		}
	}

	ctx := m.newContext(fn)
	ctx.stackBase, ctx.stackSize = base, size
	if as != nil {
		ctx.pageRoot = as.PageRoot()
	}
	return ctx
}

// BuildKernel creates a context that runs fn in the kernel address space.
func (m *Machine) BuildKernel(fn func()) task.Context {
	return m.newContext(fn)
}

// Switch parks the calling context and resumes next on the current core.
func (c *Context) Switch(next task.Context) {
	n := next.(*Context)
	c.m.load(n)
	c.m.resume(n)
	c.m.park(c)
}

// Jump resumes c on the current core and retires the calling goroutine.
func (c *Context) Jump() {
	c.m.load(c)
	c.m.resume(c)

	<-c.m.stop
	runtime.Goexit()
}

// Release frees the context. A parked goroutine backing it exits.
func (c *Context) Release() {
	if c.released {
		return
	}
	c.released = true
	close(c.dead)
}

// Released returns true once Release has been called.
func (c *Context) Released() bool { return c.released }

// Stack returns the stack placement passed to Build.
func (c *Context) Stack() (base, size uintptr) { return c.stackBase, c.stackSize }

// load makes ctx the running context of the current core and switches to its
// address space. Changing the page root drops every cached translation.
func (m *Machine) load(ctx *Context) {
	core := m.core()
	core.running = ctx
	if ctx.pageRoot != 0 && ctx.pageRoot != core.pageRoot {
		core.pageRoot = ctx.pageRoot
		clear(core.tlb)
	}
}

// resume hands the baton to ctx.
func (m *Machine) resume(ctx *Context) {
	if !ctx.started {
		ctx.started = true
		m.wg.Add(1)
		go ctx.run()
		return
	}
	ctx.wake <- struct{}{}
}

// park blocks the calling goroutine until ctx is resumed. It never returns
// if the context is released or the simulation stops.
func (m *Machine) park(ctx *Context) {
	select {
	case <-ctx.wake:
	case <-ctx.dead:
		runtime.Goexit()
	case <-m.stop:
		runtime.Goexit()
	}
}

func (c *Context) run() {
	defer c.m.wg.Done()
	defer c.m.recoverPanic()

	if !c.bootstrap {
		if hook := c.m.startHook; hook != nil {
			hook()
		}
		c.m.core().irqOff = false
	}

	c.fn()
	c.m.fail(ErrContextReturned)
}

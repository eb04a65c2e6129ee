package task

import (
	"gophersmp/kernel"
	"gophersmp/kernel/sync"
)

var (
	// ErrTaskNotFound is returned when an ID does not match a registered
	// task.
	ErrTaskNotFound = &kernel.Error{Module: "task", Message: "task not found"}

	// ErrTaskInUse is returned when destroying a task that has not
	// terminated or whose context is still loaded on a core.
	ErrTaskInUse = &kernel.Error{Module: "task", Message: "task in use"}
)

// Registry owns every live task. Any core may look up any task by ID.
type Registry struct {
	lock  sync.IRQSpinlock
	tasks map[ID]*Task
}

// NewRegistry creates an empty registry whose lock masks interrupts through
// hw.
func NewRegistry(hw sync.IRQMasker) *Registry {
	r := &Registry{tasks: make(map[ID]*Task)}
	r.lock.Init(hw)
	return r
}

// Insert registers t.
func (r *Registry) Insert(t *Task) {
	flags := r.lock.Acquire()
	r.tasks[t.id] = t
	r.lock.Release(flags)
}

// Get looks up a task by ID.
func (r *Registry) Get(id ID) (*Task, bool) {
	flags := r.lock.Acquire()
	t, ok := r.tasks[id]
	r.lock.Release(flags)
	return t, ok
}

// Remove unconditionally drops the entry for id. Callers other than Destroy
// must make sure that nothing references the task's context anymore.
func (r *Registry) Remove(id ID) {
	flags := r.lock.Acquire()
	delete(r.tasks, id)
	r.lock.Release(flags)
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	flags := r.lock.Acquire()
	n := len(r.tasks)
	r.lock.Release(flags)
	return n
}

// Range calls fn for every registered task in no particular order. fn runs
// without the registry lock held and must not assume the task is still
// registered.
func (r *Registry) Range(fn func(*Task)) {
	flags := r.lock.Acquire()
	snapshot := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		snapshot = append(snapshot, t)
	}
	r.lock.Release(flags)

	for _, t := range snapshot {
		fn(t)
	}
}

// Destroy permanently removes a terminated task. It fails with
// ErrTaskNotFound if id is unknown and with ErrTaskInUse if the task has not
// terminated or if a core has not finished switching away from it. On
// success, unregister is invoked to drop any scheduler references, the entry
// is removed and the task's context is released.
func (r *Registry) Destroy(id ID, unregister func(ID)) *kernel.Error {
	flags := r.lock.Acquire()
	t, ok := r.tasks[id]
	switch {
	case !ok:
		r.lock.Release(flags)
		return ErrTaskNotFound
	case t.State() != Terminated || t.OnCPU():
		r.lock.Release(flags)
		return ErrTaskInUse
	}
	delete(r.tasks, id)
	r.lock.Release(flags)

	if unregister != nil {
		unregister(id)
	}
	t.ctx.Release()
	return nil
}

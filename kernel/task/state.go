package task

import "gophersmp/kernel"

// State describes where a task is in its lifecycle.
type State uint32

// The possible task states.
const (
	Created State = iota
	Ready
	Running
	Blocked
	Terminated
)

var (
	// ErrInvalidTransition is returned when a state change does not follow
	// one of the edges of the task state machine.
	ErrInvalidTransition = &kernel.Error{Module: "task", Message: "invalid state transition"}
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// CanTransition returns true if a task in state from may move to state to.
// Terminated is absorbing.
func CanTransition(from, to State) bool {
	switch from {
	case Created:
		return to == Ready
	case Ready:
		return to == Running
	case Running:
		return to == Ready || to == Blocked || to == Terminated
	case Blocked:
		return to == Ready
	default:
		return false
	}
}

package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. Error paths may run in
// interrupt context or before the allocator is usable so they must never
// allocate; errors.New is therefore not an option.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error prefixed by its module name in the same
// "[module] message" form used by the kernel log.
func (e *Error) String() string {
	if e == nil {
		return "<nil>"
	}
	return "[" + e.Module + "] " + e.Message
}

// Package syscall exposes the task operations of the scheduler to user
// space. Results are returned in a single register: non-negative values are
// successful results, negated Errno values report failures.
package syscall

import (
	"gophersmp/kernel"
	"gophersmp/kernel/task"
)

// Number identifies a system call.
type Number uint64

// Task system calls.
const (
	TaskExit    Number = 0
	TaskID      Number = 1
	TaskYield   Number = 3
	TaskDestroy Number = 24
)

// Errno is an error code returned to user space.
type Errno int64

// Error codes shared by every system call.
const (
	NoSuchSyscall   Errno = 1
	InvalidArgument Errno = 2
	TaskNotFound    Errno = 3
	TaskInUse       Errno = 4
)

// Result returns the register value that reports e.
func (e Errno) Result() int64 {
	return -int64(e)
}

// ErrnoOf maps a kernel error to the code reported to user space. It returns
// 0 for a nil error.
func ErrnoOf(err *kernel.Error) Errno {
	switch err {
	case nil:
		return 0
	case task.ErrTaskNotFound:
		return TaskNotFound
	case task.ErrTaskInUse:
		return TaskInUse
	default:
		return InvalidArgument
	}
}

// Scheduler is the subset of sched.Scheduler used by the task system calls.
type Scheduler interface {
	CurrentTask() *task.Task
	Yield()
	Exit(code int)
	Destroy(id task.ID) *kernel.Error
}

// Dispatch runs system call nr with argument arg on behalf of the calling
// task. TaskExit does not return.
func Dispatch(s Scheduler, nr Number, arg uint64) int64 {
	switch nr {
	case TaskExit:
		s.Exit(int(int32(arg)))
		return 0
	case TaskID:
		return int64(s.CurrentTask().ID())
	case TaskYield:
		s.Yield()
		return 0
	case TaskDestroy:
		if arg == 0 {
			return InvalidArgument.Result()
		}
		if err := s.Destroy(task.ID(arg)); err != nil {
			return ErrnoOf(err).Result()
		}
		return 0
	default:
		return NoSuchSyscall.Result()
	}
}

package kfmt

import (
	"gophersmp/kernel"
	"gophersmp/kernel/cpu"
	"sync/atomic"
)

var (
	haltFn atomic.Value

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

func init() {
	haltFn.Store(cpu.Halt)
}

// SetHaltFunc replaces the function that Panic invokes after printing the
// panic banner and returns the previous one. The kernel installs a function
// that also stops every other core; hosted builds install one that unwinds
// the simulated core instead of executing HLT.
func SetHaltFunc(fn func()) func() {
	return haltFn.Swap(fn).(func())
}

// Panic prints the supplied error (if not nil) and halts the calling core.
// The halt function installed by the kernel never returns.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	outputLock.Acquire()
	fprintf(outputSink, "\n-----------------------------------\n")
	if err != nil {
		fprintf(outputSink, "[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	fprintf(outputSink, "*** kernel panic: system halted ***")
	fprintf(outputSink, "\n-----------------------------------\n")
	outputLock.Release()

	haltFn.Load().(func())()
}

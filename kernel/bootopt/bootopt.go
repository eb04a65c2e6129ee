// Package bootopt parses the scheduler-related options of the kernel command
// line.
//
// The command line is a list of whitespace-separated key=value pairs; values
// may be quoted. Recognized keys:
//
//	smp.cores=N          engage at most N cores (0 engages every core)
//	sched.quantum=N      timer ticks per scheduling quantum
//	task.stack=SIZE      task stack size, e.g. 64KB
//	task.stackbase=ADDR  top of the task stack region
//	tlb.ack=BOOL         wait for remote cores to acknowledge TLB shootdowns
//	log=LEVEL            "debug" enables debug output, "info" disables it
package bootopt

import (
	"gophersmp/kernel"
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/sched"
	"gophersmp/kernel/smp"
	"gophersmp/kernel/task"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"
)

const pageSize = 4096

var (
	errSyntax   = &kernel.Error{Module: "bootopt", Message: "malformed command line"}
	errBadValue = &kernel.Error{Module: "bootopt", Message: "invalid option value"}
)

// Options holds the parsed command line.
type Options struct {
	Cores   int
	Quantum int
	Stack   task.StackSpec
	TLBAck  bool
	Debug   bool

	// Unknown collects the arguments that are not scheduler options so
	// they can be handed to other subsystems.
	Unknown []string
}

// Defaults returns the options used when the command line is empty.
func Defaults() Options {
	return Options{
		Quantum: sched.DefaultQuantum,
		Stack:   task.DefaultStack,
		TLBAck:  true,
	}
}

// Parse parses cmdline on top of Defaults.
func Parse(cmdline string) (Options, *kernel.Error) {
	opts := Defaults()

	args, err := shlex.Split(cmdline)
	if err != nil {
		return opts, errSyntax
	}

	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			opts.Unknown = append(opts.Unknown, arg)
			continue
		}

		var ok bool
		switch key {
		case "smp.cores":
			opts.Cores, ok = parseInt(value, 0, smp.MaxCores)
		case "sched.quantum":
			opts.Quantum, ok = parseInt(value, 1, 1<<20)
		case "task.stack":
			opts.Stack.Size, ok = parseSize(value)
		case "task.stackbase":
			opts.Stack.Base, ok = parseAddr(value)
		case "tlb.ack":
			var perr error
			opts.TLBAck, perr = strconv.ParseBool(value)
			ok = perr == nil
		case "log":
			switch value {
			case "debug":
				opts.Debug, ok = true, true
			case "info":
				opts.Debug, ok = false, true
			}
		default:
			opts.Unknown = append(opts.Unknown, arg)
			continue
		}

		if !ok {
			kfmt.Printf("[bootopt] invalid value for %s: %s\n", key, value)
			return opts, errBadValue
		}
	}

	return opts, nil
}

func parseInt(value string, min, max int) (int, bool) {
	n, err := strconv.Atoi(value)
	if err != nil || n < min || n > max {
		return 0, false
	}
	return n, true
}

// parseSize accepts sizes such as 64KB or 1MB. The result must be a non-zero
// multiple of the page size.
func parseSize(value string) (uintptr, bool) {
	size, err := bytesize.Parse(value)
	if err != nil || size <= 0 || uint64(size)%pageSize != 0 {
		return 0, false
	}
	return uintptr(size), true
}

// parseAddr accepts a page-aligned address in any base understood by
// strconv.ParseUint.
func parseAddr(value string) (uintptr, bool) {
	addr, err := strconv.ParseUint(value, 0, 64)
	if err != nil || addr == 0 || addr%pageSize != 0 {
		return 0, false
	}
	return uintptr(addr), true
}

// String renders the options in command line form.
func (o Options) String() string {
	var sb strings.Builder
	sb.WriteString("smp.cores=" + strconv.Itoa(o.Cores))
	sb.WriteString(" sched.quantum=" + strconv.Itoa(o.Quantum))
	sb.WriteString(" task.stack=" + bytesize.New(float64(o.Stack.Size)).String())
	sb.WriteString(" task.stackbase=0x" + strconv.FormatUint(uint64(o.Stack.Base), 16))
	sb.WriteString(" tlb.ack=" + strconv.FormatBool(o.TLBAck))
	if o.Debug {
		sb.WriteString(" log=debug")
	} else {
		sb.WriteString(" log=info")
	}
	return sb.String()
}

// Package kfmt implements the kernel's logging primitives: an allocation-free
// Printf that is safe to call from interrupt context, an early ring buffer
// that captures output until a sink is attached, and Panic.
package kfmt

import (
	"gophersmp/kernel/sync"
	"io"
	"sync/atomic"
	"unsafe"
)

// numBufSize is the size of the scratch buffer used for formatting numbers.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	digits          = "0123456789abcdef"

	// numBuf and oneByte are shared scratch buffers; outputLock
	// serializes access to them as well as to the output sink.
	numBuf  [numBufSize]byte
	oneByte [1]byte

	// outputLock keeps lines emitted by different cores from interleaving.
	outputLock sync.Spinlock

	// earlyBuf captures output while outputSink is nil.
	earlyBuf ringBuffer

	outputSink io.Writer

	debugEnabled uint32
)

// SetOutputSink redirects Printf output to w. Any output buffered while no
// sink was attached is flushed to w first. Passing nil re-enables buffering.
func SetOutputSink(w io.Writer) {
	outputLock.Acquire()
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyBuf)
	}
	outputLock.Release()
}

// GetOutputSink returns the active output sink. A nil sink selects the early
// ring buffer when passed to Fprintf.
func GetOutputSink() io.Writer {
	outputLock.Acquire()
	w := outputSink
	outputLock.Release()
	return w
}

// SetDebug toggles the output of Debugf.
func SetDebug(enabled bool) {
	var v uint32
	if enabled {
		v = 1
	}
	atomic.StoreUint32(&debugEnabled, v)
}

// DebugEnabled returns true if Debugf output is enabled.
func DebugEnabled() bool {
	return atomic.LoadUint32(&debugEnabled) == 1
}

// Printf formats its arguments according to format and writes the result to
// the active output sink (or the early ring buffer if no sink is attached).
// It never allocates memory and can therefore be called from interrupt
// handlers.
//
// The supported verbs are a subset of the ones recognized by fmt.Printf:
//
//	%s  string or []byte
//	%d  integer, base 10
//	%x  integer, base 16 with lower-case letters
//	%o  integer, base 8
//	%t  boolean
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
//
// Argument errors are reported inline: (MISSING) for verbs without an
// argument, %!(WRONGTYPE) for mismatched arguments, %!(NOVERB) for a dangling
// '%' and %!(EXTRA) for each unused argument.
func Printf(format string, args ...interface{}) {
	outputLock.Acquire()
	fprintf(outputSink, format, args...)
	outputLock.Release()
}

// Debugf behaves like Printf but only produces output if debugging has been
// enabled via SetDebug.
func Debugf(format string, args ...interface{}) {
	if !DebugEnabled() {
		return
	}
	Printf(format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	outputLock.Acquire()
	fprintf(w, format, args...)
	outputLock.Release()
}

func fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			write(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 's', 'd', 'x', 'o', 't':
		default:
			write(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			write(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 's':
			fmtString(w, arg, width)
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 't':
			fmtBool(w, arg)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		write(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		write(w, errWrongArgType)
	case b:
		write(w, trueValue)
	default:
		write(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		pad(w, ' ', width-len(s))
		// Slicing the string into a []byte would allocate.
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		pad(w, ' ', width-len(s))
		write(w, s)
	default:
		write(w, errWrongArgType)
	}
}

func pad(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt writes v in the requested base. All built-in integer types are
// supported.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		mag uint64
		neg bool
	)

	switch n := v.(type) {
	case uint8:
		mag = uint64(n)
	case uint16:
		mag = uint64(n)
	case uint32:
		mag = uint64(n)
	case uint64:
		mag = n
	case uint:
		mag = uint64(n)
	case uintptr:
		mag = uint64(n)
	case int8:
		mag, neg = signed(int64(n))
	case int16:
		mag, neg = signed(int64(n))
	case int32:
		mag, neg = signed(int64(n))
	case int64:
		mag, neg = signed(n)
	case int:
		mag, neg = signed(int64(n))
	default:
		write(w, errWrongArgType)
		return
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	// Fill numBuf from the right.
	pos := numBufSize
	for {
		pos--
		numBuf[pos] = digits[mag%base]
		mag /= base
		if mag == 0 || pos == 1 {
			break
		}
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Base-10 numbers keep the sign next to the first digit; zero-padded
	// numbers put it before the padding.
	if neg && padCh == ' ' {
		pos--
		numBuf[pos] = '-'
	}
	for numBufSize-pos < width && pos > 1 {
		pos--
		numBuf[pos] = padCh
	}
	if neg && padCh == '0' {
		pos--
		numBuf[pos] = '-'
	}

	write(w, numBuf[pos:])
}

func signed(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, b byte) {
	oneByte[0] = b
	write(w, oneByte[:])
}

// write hides p from escape analysis. Without it, passing p to the unknown
// io.Writer makes the compiler move every Printf argument to the heap.
func write(w io.Writer, p []byte) {
	realWrite(w, noEscape(unsafe.Pointer(&p)))
}

func realWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
		return
	}
	earlyBuf.Write(p)
}

// noEscape hides a pointer from escape analysis. Copied from runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

// Package apic drives the local APIC of the calling core: inter-processor
// interrupts, end-of-interrupt signalling and core identification.
package apic

import (
	"gophersmp/kernel/cpu"
	"sync/atomic"
	"unsafe"
)

// DefaultBase is the physical address where the local APIC registers are
// mapped after reset.
const DefaultBase = uintptr(0xFEE00000)

// Register offsets from the APIC base.
const (
	regID       = 0x20
	regEOI      = 0xB0
	regSpurious = 0xF0
	regICRLow   = 0x300
	regICRHigh  = 0x310
)

const (
	icrDeliveryPending = 1 << 12
	icrLevelAssert     = 1 << 14
	icrShorthandShift  = 18
	icrDestShift       = 24

	spuriousEnable = 1 << 8
	spuriousVector = 0xFF
)

var (
	base = DefaultBase

	// relaxFn is invoked while waiting for an IPI to be accepted.
	relaxFn = cpu.Pause
)

// SetBase changes the address used to access the local APIC registers. It is
// called once the register page has been mapped into the kernel's address
// space.
func SetBase(addr uintptr) {
	base = addr
}

// Shorthand selects a group of cores without naming each one.
type Shorthand uint8

// The shorthand values understood by the ICR.
const (
	NoShorthand Shorthand = iota
	ToSelf
	ToAll
	ToOthers
)

// Destination identifies the cores that should receive an IPI.
type Destination struct {
	shorthand Shorthand
	core      uint8
}

// Core returns a destination that targets the core with the given APIC ID.
func Core(id uint8) Destination { return Destination{core: id} }

// All returns a destination that targets every core, including the sender.
func All() Destination { return Destination{shorthand: ToAll} }

// Others returns a destination that targets every core except the sender.
func Others() Destination { return Destination{shorthand: ToOthers} }

// Self returns a destination that targets the sending core only.
func Self() Destination { return Destination{shorthand: ToSelf} }

// Shorthand returns the group selected by d.
func (d Destination) Shorthand() Shorthand { return d.shorthand }

// Core returns the APIC ID targeted by d. It is only meaningful when
// Shorthand returns NoShorthand.
func (d Destination) Core() uint8 { return d.core }

// Priority is the delivery mode of an IPI.
type Priority uint8

// Supported delivery modes.
const (
	Fixed Priority = iota
	Low
	SMI
)

// SendIPI asks the local APIC to deliver vector to dest and waits until the
// APIC has accepted the request.
func SendIPI(dest Destination, priority Priority, vector uint8) {
	write(regICRHigh, uint32(dest.core)<<icrDestShift)
	write(regICRLow, uint32(vector)|
		uint32(priority&0x7)<<8|
		icrLevelAssert|
		uint32(dest.shorthand)<<icrShorthandShift,
	)

	for read(regICRLow)&icrDeliveryPending != 0 {
		relaxFn()
	}
}

// SendEOI signals the end of the interrupt currently being serviced.
func SendEOI() {
	write(regEOI, 0)
}

// ID returns the APIC ID of the calling core.
func ID() uint8 {
	return uint8(read(regID) >> 24)
}

// Enable software-enables the local APIC and routes spurious interrupts to
// the last vector.
func Enable() {
	write(regSpurious, read(regSpurious)|spuriousEnable|spuriousVector)
}

func read(offset uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(base + offset)))
}

func write(offset uintptr, value uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(base+offset)), value)
}

package apic

import (
	"testing"
	"unsafe"
)

// mockRegisters points the package at a fake register page and returns an
// accessor for the 32-bit register at a given offset.
func mockRegisters(t *testing.T) func(offset uintptr) *uint32 {
	page := make([]uint32, 0x400/4)
	SetBase(uintptr(unsafe.Pointer(&page[0])))
	t.Cleanup(func() { SetBase(DefaultBase) })

	return func(offset uintptr) *uint32 {
		return &page[offset/4]
	}
}

func TestSendIPI(t *testing.T) {
	reg := mockRegisters(t)

	specs := []struct {
		dest    Destination
		prio    Priority
		vector  uint8
		expLow  uint32
		expHigh uint32
	}{
		{Core(3), Fixed, 0x20, 0x20 | icrLevelAssert, 3 << 24},
		{Others(), Fixed, 0x7F, 0x7F | icrLevelAssert | 3<<18, 0},
		{All(), Low, 0xFE, 0xFE | 1<<8 | icrLevelAssert | 2<<18, 0},
		{Self(), SMI, 0x10, 0x10 | 2<<8 | icrLevelAssert | 1<<18, 0},
	}

	for specIndex, spec := range specs {
		SendIPI(spec.dest, spec.prio, spec.vector)

		if got := *reg(regICRLow); got != spec.expLow {
			t.Errorf("[spec %d] expected ICR low to be 0x%x; got 0x%x", specIndex, spec.expLow, got)
		}
		if got := *reg(regICRHigh); got != spec.expHigh {
			t.Errorf("[spec %d] expected ICR high to be 0x%x; got 0x%x", specIndex, spec.expHigh, got)
		}
	}
}

func TestDestination(t *testing.T) {
	if d := Core(5); d.Shorthand() != NoShorthand || d.Core() != 5 {
		t.Errorf("expected Core(5) to target APIC ID 5 without shorthand; got %d/%d", d.Shorthand(), d.Core())
	}

	for specIndex, spec := range []struct {
		dest Destination
		exp  Shorthand
	}{
		{Self(), ToSelf},
		{All(), ToAll},
		{Others(), ToOthers},
	} {
		if got := spec.dest.Shorthand(); got != spec.exp {
			t.Errorf("[spec %d] expected shorthand %d; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestEOIAndID(t *testing.T) {
	reg := mockRegisters(t)

	*reg(regEOI) = 0xdead
	SendEOI()
	if got := *reg(regEOI); got != 0 {
		t.Errorf("expected EOI register to be written with 0; got 0x%x", got)
	}

	*reg(regID) = 7 << 24
	if got := ID(); got != 7 {
		t.Errorf("expected ID to return 7; got %d", got)
	}

	Enable()
	if got := *reg(regSpurious); got != spuriousEnable|spuriousVector {
		t.Errorf("expected spurious vector register to be 0x%x; got 0x%x", spuriousEnable|spuriousVector, got)
	}
}

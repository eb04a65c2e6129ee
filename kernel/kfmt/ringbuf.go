package kfmt

import "io"

// earlyBufSize is the capacity of the buffer that holds Printf output
// produced before an output sink is attached. It must be a power of 2.
const earlyBufSize = 4096

// ringBuffer keeps the most recent earlyBufSize bytes written to it. When it
// fills up, the oldest bytes are overwritten and counted as dropped.
type ringBuffer struct {
	buffer         [earlyBufSize]byte
	rIndex, wIndex int
	dropped        int
}

// Write appends p to the buffer, overwriting the oldest unread data if needed.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (earlyBufSize - 1)
		if rb.wIndex == rb.rIndex {
			rb.rIndex = (rb.rIndex + 1) & (earlyBufSize - 1)
			rb.dropped++
		}
	}

	return len(p), nil
}

// Read drains up to len(p) unread bytes into p and returns io.EOF once the
// buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		// Unread data wraps around; return the tail segment first.
		end = earlyBufSize
	}

	n := copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & (earlyBufSize - 1)
	return n, nil
}

// Len returns the number of unread bytes.
func (rb *ringBuffer) Len() int {
	return (rb.wIndex - rb.rIndex) & (earlyBufSize - 1)
}

package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	expStr := "core 0: engaged; core 1: engaged"

	specs := []struct {
		name  string
		start int
	}{
		{"contiguous", 0},
		{"wraps around", earlyBufSize - 5},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			var rb ringBuffer
			rb.rIndex, rb.wIndex = spec.start, spec.start

			n, err := rb.Write([]byte(expStr))
			if err != nil {
				t.Fatal(err)
			}

			if n != len(expStr) {
				t.Fatalf("expected to write %d bytes; wrote %d", len(expStr), n)
			}

			if got := rb.Len(); got != len(expStr) {
				t.Fatalf("expected Len to return %d; got %d", len(expStr), got)
			}

			if got := readInSmallChunks(&rb); got != expStr {
				t.Fatalf("expected to read %q; got %q", expStr, got)
			}

			if got := rb.Len(); got != 0 {
				t.Fatalf("expected drained buffer to be empty; Len returned %d", got)
			}
		})
	}
}

func TestRingBufferOverwritesOldestData(t *testing.T) {
	var rb ringBuffer

	rb.Write([]byte(strings.Repeat("x", earlyBufSize)))
	rb.Write([]byte("tail"))

	if exp := 5; rb.dropped != exp {
		t.Fatalf("expected %d dropped bytes; got %d", exp, rb.dropped)
	}

	var buf bytes.Buffer
	io.Copy(&buf, &rb)

	got := buf.String()
	if exp := earlyBufSize - 1; len(got) != exp {
		t.Fatalf("expected to read %d bytes; got %d", exp, len(got))
	}

	if !strings.HasSuffix(got, "xtail") {
		t.Fatalf("expected output to end with the latest write; got %q", got[len(got)-10:])
	}
}

func readInSmallChunks(r io.Reader) string {
	var (
		buf   bytes.Buffer
		chunk = make([]byte, 3)
	)

	for {
		n, err := r.Read(chunk)
		if err == io.EOF {
			break
		}
		buf.Write(chunk[:n])
	}
	return buf.String()
}

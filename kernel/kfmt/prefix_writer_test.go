package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		inputs []string
		exp    string
	}{
		{
			[]string{""},
			"",
		},
		{
			[]string{"\n"},
			"cpu0: \n",
		},
		{
			[]string{"engaged"},
			"cpu0: engaged",
		},
		{
			[]string{"engaged\n"},
			"cpu0: engaged\n",
		},
		{
			[]string{"\nidle\nswitch 1 -> 2\ntick"},
			"cpu0: \ncpu0: idle\ncpu0: switch 1 -> 2\ncpu0: tick",
		},
		{
			[]string{"partial ", "line\n", "next\n"},
			"cpu0: partial line\ncpu0: next\n",
		},
	}

	for specIndex, spec := range specs {
		var (
			buf bytes.Buffer
			w   = PrefixWriter{Sink: &buf, Prefix: []byte("cpu0: ")}
		)

		for _, input := range spec.inputs {
			wrote, err := w.Write([]byte(input))
			if err != nil {
				t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			}

			if wrote != len(input) {
				t.Errorf("[spec %d] expected writer to write %d bytes; wrote %d", specIndex, len(input), wrote)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterErrors(t *testing.T) {
	expErr := errors.New("write failed")

	for specIndex, input := range []string{"no line break", "\nmany\nline\nbreaks"} {
		w := PrefixWriter{Sink: failingWriter{expErr}, Prefix: []byte("cpu0: ")}
		if _, err := w.Write([]byte(input)); err != expErr {
			t.Errorf("[spec %d] expected error: %v; got %v", specIndex, expErr, err)
		}
	}
}

type failingWriter struct {
	err error
}

func (w failingWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}

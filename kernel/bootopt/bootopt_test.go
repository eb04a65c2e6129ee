package bootopt

import (
	"bytes"
	"gophersmp/kernel"
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/sched"
	"gophersmp/kernel/task"
	"reflect"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}

	exp := Options{Quantum: sched.DefaultQuantum, Stack: task.DefaultStack, TLBAck: true}
	if !reflect.DeepEqual(opts, exp) {
		t.Fatalf("expected defaults %+v; got %+v", exp, opts)
	}
}

func TestParse(t *testing.T) {
	opts, err := Parse(`root=/dev/sda1 smp.cores=4 sched.quantum=5 task.stack=128KB task.stackbase=0x0000_7FFF_0000_0000 tlb.ack=false log=debug console="ttyS0 115200" quiet`)
	if err != nil {
		t.Fatal(err)
	}

	exp := Options{
		Cores:   4,
		Quantum: 5,
		Stack:   task.StackSpec{Base: 0x00007FFF00000000, Size: 128 * 1024},
		TLBAck:  false,
		Debug:   true,
		Unknown: []string{"root=/dev/sda1", "console=ttyS0 115200", "quiet"},
	}

	if !reflect.DeepEqual(opts, exp) {
		t.Fatalf("expected %+v; got %+v", exp, opts)
	}
}

func TestParseErrors(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	specs := []struct {
		cmdline string
		expErr  *kernel.Error
	}{
		{`console="ttyS0`, errSyntax},
		{"smp.cores=65", errBadValue},
		{"smp.cores=-1", errBadValue},
		{"sched.quantum=0", errBadValue},
		{"sched.quantum=many", errBadValue},
		{"task.stack=1000B", errBadValue},
		{"task.stack=big", errBadValue},
		{"task.stackbase=0x1001", errBadValue},
		{"task.stackbase=0", errBadValue},
		{"tlb.ack=maybe", errBadValue},
		{"log=trace", errBadValue},
	}

	for specIndex, spec := range specs {
		buf.Reset()

		_, err := Parse(spec.cmdline)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}

		if spec.expErr == errBadValue && !strings.Contains(buf.String(), "[bootopt] invalid value for") {
			t.Errorf("[spec %d] expected the offending option to be logged; got %q", specIndex, buf.String())
		}
	}
}

func TestOptionsString(t *testing.T) {
	opts := Defaults()
	opts.Cores = 2
	opts.Debug = true

	got := opts.String()
	for _, exp := range []string{"smp.cores=2", "sched.quantum=20", "task.stack=", "task.stackbase=0x7fffffff0000", "tlb.ack=true", "log=debug"} {
		if !strings.Contains(got, exp) {
			t.Errorf("expected %q to contain %q", got, exp)
		}
	}
}

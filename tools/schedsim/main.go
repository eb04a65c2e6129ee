// Command schedsim runs the scheduler on a simulated multicore machine and
// prints what every task did. Workloads are described in YAML:
//
//	scenarios:
//	  - name: ping-pong
//	    machine: {cores: 2, tick_every: 1}
//	    cmdline: "sched.quantum=4 tlb.ack=true"
//	    tasks:
//	      - name: ping
//	        repeat: 3
//	        steps: [{wake: pong}, {sleep: ping}]
//	      - name: pong
//	        repeat: 3
//	        steps: [{sleep: pong}, {wake: ping}]
//
// Every scenario runs until all cores idle. Scenarios run concurrently.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gophersmp/kernel/kfmt"

	"github.com/mattn/go-colorable"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[schedsim] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	verbose := flag.Bool("v", false, "forward kernel log output to the console")
	noColor := flag.Bool("no-color", false, "disable colored output")
	parallel := flag.Int("j", 4, "the number of scenarios to simulate concurrently")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: schedsim [flags] workload.yml\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		exit(errors.New("missing workload file"))
	}

	w, err := LoadFile(flag.Arg(0))
	if err != nil {
		exit(err)
	}

	var out io.Writer = colorable.NewColorableStdout()
	if *noColor {
		out = colorable.NewNonColorable(os.Stdout)
	}

	if *verbose {
		kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: colorable.NewColorableStderr(), Prefix: []byte("kernel: ")})
	} else {
		kfmt.SetOutputSink(io.Discard)
	}

	reports, err := runAll(context.Background(), w.Scenarios, *parallel)
	if err != nil {
		exit(err)
	}

	var failed int
	for _, r := range reports {
		r.Print(out)
		if r.Err != nil {
			failed++
		}
	}

	if failed != 0 {
		exit(fmt.Errorf("%d of %d scenarios failed", failed, len(reports)))
	}
}

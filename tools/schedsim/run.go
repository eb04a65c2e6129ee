package main

import (
	"context"
	"fmt"
	"io"

	"gophersmp/internal/machine"
	"gophersmp/kernel/bootopt"
	"gophersmp/kernel/kfmt"
	"gophersmp/kernel/kmain"
	"gophersmp/kernel/sched"
	"gophersmp/kernel/task"

	"github.com/inhies/go-bytesize"
	"golang.org/x/sync/errgroup"
)

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"

	// userSpaceStride separates the page roots handed to user tasks.
	userSpaceStride = 0x100000
)

// addressSpace is the address space of a simulated user task.
type addressSpace uintptr

func (as addressSpace) PageRoot() uintptr { return uintptr(as) }

// Report is the outcome of a simulated scenario.
type Report struct {
	Scenario string
	Cores    int
	Options  bootopt.Options
	Steps    int

	// Err is set if the simulation was aborted.
	Err error

	Tasks []TaskReport
}

// TaskReport is the final state and execution history of a task.
type TaskReport struct {
	Name     string
	ID       task.ID
	State    task.State
	ExitCode int
	User     bool
	Stack    task.StackSpec
	History  []string
}

// runAll simulates every scenario, running up to parallel simulations at a
// time. Reports are returned in scenario order.
func runAll(ctx context.Context, scenarios []Scenario, parallel int) ([]*Report, error) {
	reports := make([]*Report, len(scenarios))

	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}

	for i, sc := range scenarios {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			r, err := runScenario(sc)
			if err != nil {
				return fmt.Errorf("scenario %q: %w", sc.Name, err)
			}
			reports[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// runScenario boots a kernel on a fresh simulated machine, admits the
// scenario's tasks and runs until every core idles. An error is only
// returned if the kernel cannot be brought up; simulation failures are
// recorded in the report.
func runScenario(sc Scenario) (*Report, error) {
	cfg := sc.Machine
	cfg.StopWhenIdle = true

	m := machine.New(cfg)
	k, kerr := kmain.New(sc.Cmdline, m, m, m.Gates())
	if kerr != nil {
		return nil, kerr
	}

	sim := &simulation{
		k:       k,
		m:       m,
		queues:  make(map[string]*sched.WaitQueue),
		mutexes: make(map[string]*sched.Mutex),
	}

	r := &Report{
		Scenario: sc.Name,
		Cores:    m.Cores(),
		Options:  k.Options,
		Tasks:    make([]TaskReport, len(sc.Tasks)),
	}

	tasks := make([]*task.Task, len(sc.Tasks))
	for i, ts := range sc.Tasks {
		tr := &r.Tasks[i]
		tr.Name, tr.User = ts.Name, ts.User

		body := func() { sim.execute(ts, tr) }
		if ts.User {
			as := addressSpace(uintptr(i+1) * userSpaceStride)
			tasks[i] = k.Spawn(as, m.Program(body))
			tr.Stack = k.Options.Stack
		} else {
			tasks[i] = k.SpawnKernel(body)
		}
	}

	r.Err = m.Run(func(int) { k.EngageCPU() })
	r.Steps = m.Steps()

	for i, t := range tasks {
		tr := &r.Tasks[i]
		tr.ID, tr.State, tr.ExitCode = t.ID(), t.State(), t.ExitCode()
	}

	return r, nil
}

// simulation holds the kernel objects shared by the tasks of a scenario.
// Wait queues and mutexes are created the first time a step names them.
type simulation struct {
	k       *kmain.Kernel
	m       *machine.Machine
	queues  map[string]*sched.WaitQueue
	mutexes map[string]*sched.Mutex
}

func (sim *simulation) queue(name string) *sched.WaitQueue {
	q, ok := sim.queues[name]
	if !ok {
		q = sched.NewWaitQueue(sim.k.Sched)
		sim.queues[name] = q
	}
	return q
}

func (sim *simulation) mutex(name string) *sched.Mutex {
	mu, ok := sim.mutexes[name]
	if !ok {
		mu = sched.NewMutex(sim.k.Sched)
		sim.mutexes[name] = mu
	}
	return mu
}

// execute runs the steps of ts on behalf of the calling task. A task that
// runs out of steps exits with code 0.
func (sim *simulation) execute(ts TaskSpec, tr *TaskReport) {
	for round := 0; round <= ts.Repeat; round++ {
		for _, step := range ts.Steps {
			tr.History = append(tr.History, fmt.Sprintf("core %d: %s", sim.m.CoreID(), step.String()))
			sim.step(step, tr)
		}
	}

	sim.k.Sched.Exit(0)
}

func (sim *simulation) step(step Step, tr *TaskReport) {
	switch {
	case step.Work > 0:
		for i := 0; i < step.Work; i++ {
			sim.m.Safepoint()
		}
	case step.Yield:
		sim.k.Sched.Yield()
	case step.Sleep != "":
		sim.queue(step.Sleep).Sleep()
	case step.Wake != "":
		if t, ok := sim.queue(step.Wake).WakeUpSomeone(); ok {
			tr.History = append(tr.History, fmt.Sprintf("  woke task %d", uint64(t.ID())))
		}
	case step.Lock != "":
		sim.mutex(step.Lock).Lock()
	case step.Unlock != "":
		sim.mutex(step.Unlock).Unlock()
	case step.Map != 0:
		addr := uintptr(step.Map)
		sim.m.Touch(addr)
		sim.k.TLB.Shootdown(addr)
	case step.Exit != nil:
		sim.k.Sched.Exit(*step.Exit)
	}
}

// Print writes a human readable version of the report to w.
func (r *Report) Print(w io.Writer) {
	color, status := colorGreen, "ok"
	if r.Err != nil {
		color, status = colorRed, r.Err.Error()
	}

	fmt.Fprintf(w, "%s== %s: %s%s\n", color, r.Scenario, status, colorReset)
	fmt.Fprintf(w, "   %d cores, %d steps, %s\n", r.Cores, r.Steps, r.Options.String())

	pw := &kfmt.PrefixWriter{Sink: w, Prefix: []byte("   | ")}
	for _, tr := range r.Tasks {
		fmt.Fprintf(w, "   task %s (id %d): %s, exit code %d", tr.Name, uint64(tr.ID), tr.State.String(), tr.ExitCode)
		if tr.User {
			fmt.Fprintf(w, ", %s stack at 0x%x", bytesize.New(float64(tr.Stack.Size)).String(), tr.Stack.Base)
		}
		fmt.Fprintln(w)

		for _, line := range tr.History {
			fmt.Fprintln(pw, line)
		}
	}
}

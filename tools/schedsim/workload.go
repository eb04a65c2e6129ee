package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gophersmp/internal/machine"

	"gopkg.in/yaml.v2"
)

// Workload is the top-level document of a workload file.
type Workload struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Scenario describes one simulation: the machine, the kernel command line
// and the tasks admitted before the cores are engaged.
type Scenario struct {
	Name    string         `yaml:"name"`
	Machine machine.Config `yaml:"machine"`
	Cmdline string         `yaml:"cmdline"`
	Tasks   []TaskSpec     `yaml:"tasks"`
}

// TaskSpec describes a task as a list of steps. User tasks run as programs
// in their own address space; the others run as kernel tasks.
type TaskSpec struct {
	Name   string `yaml:"name"`
	User   bool   `yaml:"user"`
	Repeat int    `yaml:"repeat"`
	Steps  []Step `yaml:"steps"`
}

// Step is a single action of a task. Exactly one field must be set.
type Step struct {
	Work   int    `yaml:"work"`
	Yield  bool   `yaml:"yield"`
	Sleep  string `yaml:"sleep"`
	Wake   string `yaml:"wake"`
	Lock   string `yaml:"lock"`
	Unlock string `yaml:"unlock"`
	Map    uint64 `yaml:"map"`
	Exit   *int   `yaml:"exit"`
}

func (s Step) actions() int {
	var n int
	for _, set := range []bool{s.Work > 0, s.Yield, s.Sleep != "", s.Wake != "", s.Lock != "", s.Unlock != "", s.Map != 0, s.Exit != nil} {
		if set {
			n++
		}
	}
	return n
}

func (s Step) String() string {
	switch {
	case s.Work > 0:
		return "work " + strconv.Itoa(s.Work)
	case s.Yield:
		return "yield"
	case s.Sleep != "":
		return "sleep on " + s.Sleep
	case s.Wake != "":
		return "wake " + s.Wake
	case s.Lock != "":
		return "lock " + s.Lock
	case s.Unlock != "":
		return "unlock " + s.Unlock
	case s.Map != 0:
		return "map 0x" + strconv.FormatUint(s.Map, 16)
	case s.Exit != nil:
		return "exit " + strconv.Itoa(*s.Exit)
	default:
		return "nop"
	}
}

// LoadFile reads and validates a workload file.
func LoadFile(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a workload document.
func Parse(data []byte) (*Workload, error) {
	var w Workload
	if err := yaml.UnmarshalStrict(data, &w); err != nil {
		return nil, err
	}

	if len(w.Scenarios) == 0 {
		return nil, errors.New("workload defines no scenarios")
	}

	seen := make(map[string]bool)
	for i, sc := range w.Scenarios {
		if sc.Name == "" {
			return nil, fmt.Errorf("scenario %d: missing name", i)
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("scenario %q: duplicate name", sc.Name)
		}
		seen[sc.Name] = true

		if err := sc.validate(); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
	}

	return &w, nil
}

func (sc Scenario) validate() error {
	if len(sc.Tasks) == 0 {
		return errors.New("no tasks")
	}

	for i, ts := range sc.Tasks {
		if ts.Name == "" {
			return fmt.Errorf("task %d: missing name", i)
		}
		if ts.Repeat < 0 {
			return fmt.Errorf("task %q: negative repeat count", ts.Name)
		}
		for j, step := range ts.Steps {
			if n := step.actions(); n != 1 {
				return fmt.Errorf("task %q: step %d: expected exactly one action; got %d", ts.Name, j, n)
			}
		}
	}

	return nil
}

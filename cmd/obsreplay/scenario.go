package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	observable "github.com/goliatone/go-observable"
	"github.com/goliatone/go-observable/pkg/hoststate"
)

// Scenario is one replay file: initial data, optional computed fields, and
// execution windows of mutations. Each window becomes at most one commit.
type Scenario struct {
	Name     string          `yaml:"name"`
	Engine   string          `yaml:"engine"`
	Data     map[string]any  `yaml:"data"`
	Computed []ComputedDecl  `yaml:"computed"`
	Windows  [][]Step        `yaml:"windows"`
	Expect   [][]ExpectEntry `yaml:"expect"`
}

type ComputedDecl struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// Step is one mutation. Path names a field or index for set, and the target
// sequence for every sequence operation.
type Step struct {
	Op    string `yaml:"op"`
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
	Args  []any  `yaml:"args"`
	Start int    `yaml:"start"`
	Count *int   `yaml:"count"`
}

type ExpectEntry struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// Commit is what one flush delivered, with the rendered host state around it.
type Commit struct {
	Entries []observable.Entry
	Patch   observable.PatchMap
	Before  []byte
	After   []byte
	Err     error
}

func loadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read %q: %w", path, err)
	}
	return parseScenario(raw)
}

func parseScenario(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	data, err := plain(sc.Data)
	if err != nil {
		return nil, fmt.Errorf("scenario %q data: %w", sc.Name, err)
	}
	sc.Data, _ = data.(map[string]any)
	if sc.Data == nil {
		sc.Data = map[string]any{}
	}
	for w, window := range sc.Windows {
		for s := range window {
			step := &sc.Windows[w][s]
			if !knownOp(step.Op) {
				return nil, fmt.Errorf("scenario %q window %d: unknown op %q", sc.Name, w, step.Op)
			}
			if step.Value, err = plain(step.Value); err != nil {
				return nil, err
			}
			for i := range step.Args {
				if step.Args[i], err = plain(step.Args[i]); err != nil {
					return nil, err
				}
			}
		}
	}
	for c := range sc.Expect {
		for i := range sc.Expect[c] {
			if sc.Expect[c][i].Value, err = plain(sc.Expect[c][i].Value); err != nil {
				return nil, err
			}
		}
	}
	return &sc, nil
}

// plain converts decoded YAML into the JSON data model so scenario values
// compare equal to committed values.
func plain(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func knownOp(op string) bool {
	switch op {
	case "set", "push", "pop", "shift", "unshift", "splice", "sort", "reverse":
		return true
	}
	return false
}

func (sc *Scenario) options() ([]observable.Option, error) {
	var opts []observable.Option
	switch sc.Engine {
	case "", "expr":
	case "cel":
		opts = append(opts, observable.WithEvaluator(observable.NewCELEvaluator()))
	default:
		return nil, fmt.Errorf("scenario %q: unknown engine %q", sc.Name, sc.Engine)
	}
	for _, c := range sc.Computed {
		opts = append(opts, observable.WithComputed(c.Name, c.Expr))
	}
	return opts, nil
}

// replay runs every window of sc against a fresh instance whose sink is a
// host state document, and returns one Commit per flush.
func replay(sc *Scenario) ([]Commit, error) {
	opts, err := sc.options()
	if err != nil {
		return nil, err
	}
	data, err := plain(sc.Data)
	if err != nil {
		return nil, err
	}
	own, _ := data.(map[string]any)

	var (
		commits []Commit
		doc     *hoststate.Document
	)
	sink := observable.CommitFunc(func(ctx context.Context, patch observable.PatchMap) error {
		before := doc.JSON()
		err := doc.Commit(ctx, patch)
		commits = append(commits, Commit{
			Entries: patch.Entries(),
			Patch:   patch,
			Before:  before,
			After:   doc.JSON(),
			Err:     err,
		})
		return err
	})

	inst, err := observable.New(own, sink, opts...)
	if err != nil {
		return nil, err
	}
	if doc, err = hoststate.New(inst.Snapshot()); err != nil {
		return nil, err
	}

	for w, window := range sc.Windows {
		var stepErr error
		err := inst.Dispatch(func() {
			for _, step := range window {
				if err := apply(inst, step); err != nil {
					stepErr = fmt.Errorf("window %d: %s %s: %w", w, step.Op, step.Path, err)
					return
				}
			}
		})
		if err := errors.Join(stepErr, err); err != nil {
			return commits, err
		}
	}
	return commits, nil
}

func apply(inst *observable.Instance, step Step) error {
	if step.Op == "set" {
		return inst.Set(step.Path, step.Value)
	}
	v, ok := inst.Get(step.Path)
	if !ok {
		return fmt.Errorf("no value at %q", step.Path)
	}
	seq, ok := v.(*observable.Seq)
	if !ok {
		return fmt.Errorf("value at %q is not a sequence", step.Path)
	}
	var err error
	switch step.Op {
	case "push":
		_, err = seq.Push(step.Args...)
	case "pop":
		seq.Pop()
	case "shift":
		seq.Shift()
	case "unshift":
		_, err = seq.Unshift(step.Args...)
	case "splice":
		count := seq.Len()
		if step.Count != nil {
			count = *step.Count
		}
		_, err = seq.Splice(step.Start, count, step.Args...)
	case "sort":
		seq.Sort(nil)
	case "reverse":
		seq.Reverse()
	}
	return err
}

// check compares the commits against the scenario's expectations.
func (sc *Scenario) check(commits []Commit) error {
	if len(sc.Expect) != len(commits) {
		return fmt.Errorf("expected %d commits, got %d", len(sc.Expect), len(commits))
	}
	for c, want := range sc.Expect {
		got := commits[c].Entries
		if len(want) != len(got) {
			return fmt.Errorf("commit %d: expected %d entries, got %s", c+1, len(want), commits[c].Patch)
		}
		for i := range want {
			if want[i].Path != got[i].Path {
				return fmt.Errorf("commit %d entry %d: expected path %q, got %q", c+1, i, want[i].Path, got[i].Path)
			}
			wantJSON, _ := json.Marshal(want[i].Value)
			gotJSON, _ := json.Marshal(got[i].Value)
			if string(wantJSON) != string(gotJSON) {
				return fmt.Errorf("commit %d %s: expected %s, got %s", c+1, got[i].Path, wantJSON, gotJSON)
			}
		}
	}
	return nil
}

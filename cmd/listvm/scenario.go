package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chazu/listvm/journal"
	"github.com/chazu/listvm/pkg/bytecode"
	"github.com/chazu/listvm/pkg/reference"
	"github.com/chazu/listvm/pkg/validator"
	"github.com/chazu/listvm/vm"
)

// Scenario is a sequence of list states rendered one pass each.
//
//	key: id
//	children: items     # optional nested loop over this property
//	child-key: sku
//	passes:
//	  - [{id: a}, {id: b}]
//	  - [{id: b}, {id: a}]
type Scenario struct {
	Key      string  `yaml:"key"`
	Children string  `yaml:"children"`
	ChildKey string  `yaml:"child-key"`
	Passes   [][]any `yaml:"passes"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario decodes a scenario. The key path defaults to @identity and
// the nested key path to the outer one.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if len(s.Passes) == 0 {
		return nil, errors.New("scenario has no passes")
	}
	if s.Key == "" {
		s.Key = "@identity"
	}
	if s.ChildKey == "" {
		s.ChildKey = s.Key
	}
	return &s, nil
}

// Program assembles the loop the scenario renders.
func (s *Scenario) Program() (*bytecode.Chunk, error) {
	a := bytecode.NewAssembler()
	var body func(*bytecode.Assembler)
	if s.Children != "" {
		body = func(a *bytecode.Assembler) {
			// [iter value memo] -> [iter memo value value]
			a.Op(bytecode.OpSwap)
			a.Op(bytecode.OpDup)
			a.Each(s.ChildKey, func(a *bytecode.Assembler) {
				a.Op(bytecode.OpSwap)
				a.GetProperty(s.Children)
			}, nil, nil)
			a.Op(bytecode.OpSwap)
		}
	}
	a.Each(s.Key, func(a *bytecode.Assembler) { a.Arg("items") }, body, nil)
	a.Op(bytecode.OpReturn)
	return a.Finish()
}

// liveSet is the continuation factory used by the CLI. It only tracks how
// many continuations are alive.
type liveSet struct {
	n int
}

type liveItem struct {
	set *liveSet
}

func (l *liveSet) Create(site vm.Site, key string, memo, value reference.Reference) (vm.Continuation, error) {
	l.n++
	return &liveItem{set: l}, nil
}

func (i *liveItem) Update(memo, value reference.Reference) error { return nil }

func (i *liveItem) Teardown() error {
	i.set.n--
	return nil
}

// LoadProgram reads an LVBC file. The program must take exactly one
// argument, the list each pass renders.
func LoadProgram(path string) (*bytecode.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	chunk, err := bytecode.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if chunk.ArgCount != 1 {
		return nil, fmt.Errorf("%s: program takes %d arguments, want 1", path, chunk.ArgCount)
	}
	return chunk, nil
}

// WriteProgram writes the scenario's program to path in LVBC form.
func WriteProgram(path string, s *Scenario) error {
	chunk, err := s.Program()
	if err != nil {
		return err
	}
	data, err := chunk.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Runner renders scenarios and reports every pass.
type Runner struct {
	Out     io.Writer
	Color   bool
	Disasm  bool
	Options vm.Options
	Store   *journal.Store  // optional
	Program *bytecode.Chunk // optional; replaces the scenario's own program
}

// Run renders every pass of s. Passes that fail with a usage error are
// reported and the run continues; fatal errors stop it. The returned run
// id names the passes saved to the store.
func (r *Runner) Run(ctx context.Context, s *Scenario) (string, error) {
	chunk := r.Program
	if chunk == nil {
		var err error
		if chunk, err = s.Program(); err != nil {
			return "", err
		}
	}
	if r.Disasm {
		fmt.Fprintln(r.Out, chunk.DisassembleWithName("scenario"))
	}

	live := &liveSet{}
	rec := journal.NewRecorder()
	opts := r.Options
	opts.Factory = live
	opts.Observer = rec
	machine, err := vm.New(chunk, opts)
	if err != nil {
		return "", err
	}

	runID := journal.NewRunID()
	if r.Store != nil {
		if err := r.Store.SaveProgram(runID, chunk); err != nil {
			return "", err
		}
	}
	items := reference.NewList(validator.NewArena())
	for _, state := range s.Passes {
		items.Replace(state)
		rec.BeginPass()
		renderErr := machine.Render(ctx, items)
		p := rec.EndPass(renderErr)

		r.printPass(p)
		fmt.Fprintf(r.Out, "  live: %d\n", live.n)

		if r.Store != nil {
			if err := r.Store.SavePass(runID, p); err != nil {
				return runID, err
			}
		}
		if renderErr != nil && (vm.IsFatal(renderErr) || ctx.Err() != nil) {
			return runID, renderErr
		}
	}

	if err := machine.Destroy(); err != nil {
		return runID, fmt.Errorf("destroy: %w", err)
	}
	return runID, nil
}

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiCyan  = "\x1b[36m"
	ansiBold  = "\x1b[1m"
)

var eventGlyph = map[journal.EventKind]string{
	journal.EventCreate:   "+",
	journal.EventUpdate:   "~",
	journal.EventMove:     ">",
	journal.EventTeardown: "-",
}

var eventColor = map[journal.EventKind]string{
	journal.EventCreate:   ansiGreen,
	journal.EventMove:     ansiCyan,
	journal.EventTeardown: ansiRed,
}

func (r *Runner) paint(color, s string) string {
	if !r.Color || color == "" {
		return s
	}
	return color + s + ansiReset
}

func (r *Runner) printPass(p *journal.Pass) {
	fmt.Fprintln(r.Out, r.paint(ansiBold, fmt.Sprintf("pass %d", p.Seq)))
	for _, e := range p.Events {
		line := fmt.Sprintf("  %s %s %q", eventGlyph[e.Kind], e.Site, e.Key)
		fmt.Fprintln(r.Out, r.paint(eventColor[e.Kind], line))
	}
	for _, st := range p.Sites {
		fmt.Fprintf(r.Out, "  %s: %d keys (+%d ~%d >%d -%d)\n",
			st.Site, len(st.Keys), st.Created, st.Updated, st.Moved, st.TornDown)
	}
	if p.Error != "" {
		fmt.Fprintln(r.Out, r.paint(ansiRed, "  error: "+p.Error))
	}
}

// Replay prints a stored run.
func (r *Runner) Replay(runID string) error {
	if r.Store == nil {
		return errors.New("no journal database configured")
	}
	passes, err := r.Store.LoadRun(runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if r.Disasm {
		chunk, err := r.Store.LoadProgram(runID)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		fmt.Fprintln(r.Out, chunk.DisassembleWithName(runID))
	}
	for _, p := range passes {
		r.printPass(p)
	}
	return nil
}

// ListRuns prints one line per stored run with its pass counts.
func (r *Runner) ListRuns() error {
	if r.Store == nil {
		return errors.New("no journal database configured")
	}
	runs, err := r.Store.Runs()
	if err != nil {
		return err
	}
	for _, run := range runs {
		line := fmt.Sprintf("%s  passes %d  failed %d", run.ID, run.Passes, run.Failed)
		if run.Failed > 0 {
			line = r.paint(ansiRed, line)
		}
		fmt.Fprintln(r.Out, line)
	}
	return nil
}

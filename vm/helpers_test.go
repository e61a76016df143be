package vm

import (
	"context"
	"testing"

	"github.com/chazu/listvm/pkg/bytecode"
	"github.com/chazu/listvm/pkg/reference"
	"github.com/chazu/listvm/pkg/validator"
)

// ---------------------------------------------------------------------------
// Recording collaborators
// ---------------------------------------------------------------------------

// recorder is a ContinuationFactory whose continuations log every call as
// "create k", "update k" or "teardown k".
type recorder struct {
	ops []string

	// optional hooks
	failCreate   map[string]error
	failUpdate   map[string]error
	failTeardown map[string]error
	onCreate     func(key string)
}

type recordedItem struct {
	r     *recorder
	site  Site
	key   string
	memo  reference.Reference
	value reference.Reference
}

func (r *recorder) Create(site Site, key string, memo, value reference.Reference) (Continuation, error) {
	if err := r.failCreate[key]; err != nil {
		return nil, err
	}
	r.ops = append(r.ops, "create "+key)
	if r.onCreate != nil {
		r.onCreate(key)
	}
	return &recordedItem{r: r, site: site, key: key, memo: memo, value: value}, nil
}

func (c *recordedItem) Update(memo, value reference.Reference) error {
	if err := c.r.failUpdate[c.key]; err != nil {
		return err
	}
	c.r.ops = append(c.r.ops, "update "+c.key)
	c.memo, c.value = memo, value
	return nil
}

func (c *recordedItem) Teardown() error {
	c.r.ops = append(c.r.ops, "teardown "+c.key)
	return c.r.failTeardown[c.key]
}

// take returns the operations logged since the last call.
func (r *recorder) take() []string {
	ops := r.ops
	r.ops = nil
	return ops
}

// statsObserver keeps the reconcile stats of every closed loop.
type statsObserver struct {
	nopObserver
	stats []ReconcileStats
	sites []Site
}

func (o *statsObserver) OnReconcile(site Site, stats ReconcileStats) {
	o.sites = append(o.sites, site)
	o.stats = append(o.stats, stats)
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

func assemble(t *testing.T, build func(a *bytecode.Assembler)) *bytecode.Chunk {
	t.Helper()
	a := bytecode.NewAssembler()
	build(a)
	a.Op(bytecode.OpReturn)
	c, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return c
}

// eachProgram renders {{#each items key=keyPath}}.
func eachProgram(t *testing.T, keyPath string) *bytecode.Chunk {
	return assemble(t, func(a *bytecode.Assembler) {
		a.Each(keyPath, func(a *bytecode.Assembler) { a.Arg("items") }, nil, nil)
	})
}

// nestedProgram renders each group keyed by id and, inside it, each of the
// group's children keyed by id.
func nestedProgram(t *testing.T) *bytecode.Chunk {
	return assemble(t, func(a *bytecode.Assembler) {
		a.Each("id", func(a *bytecode.Assembler) { a.Arg("groups") }, func(a *bytecode.Assembler) {
			a.Op(bytecode.OpSwap)
			a.Op(bytecode.OpDup)
			a.Each("id", func(a *bytecode.Assembler) {
				a.Op(bytecode.OpSwap)
				a.GetProperty("children")
			}, nil, nil)
			a.Op(bytecode.OpSwap)
		}, nil)
	})
}

func newVM(t *testing.T, chunk *bytecode.Chunk, opts Options) (*VM, *recorder) {
	t.Helper()
	r := &recorder{}
	if opts.Factory == nil {
		opts.Factory = r
	}
	v, err := New(chunk, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v, r
}

// keyed builds items of the form {key: k, v: i}.
func keyed(keys ...string) []any {
	items := make([]any, len(keys))
	for i, k := range keys {
		items[i] = map[string]any{"key": k, "v": i}
	}
	return items
}

func ids(keys ...string) []any {
	items := make([]any, len(keys))
	for i, k := range keys {
		items[i] = map[string]any{"id": k}
	}
	return items
}

func group(id string, children ...string) any {
	return map[string]any{"id": id, "children": ids(children...)}
}

func mustRender(t *testing.T, v *VM, args ...reference.Reference) {
	t.Helper()
	if err := v.Render(context.Background(), args...); err != nil {
		t.Fatalf("Render pass %d: %v", v.Passes(), err)
	}
}

func newList(items []any) *reference.List {
	return reference.NewList(validator.NewArena(), items...)
}

func rootScope(t *testing.T, v *VM) *ListScope {
	t.Helper()
	sites := v.Root().Sites()
	if len(sites) != 1 {
		t.Fatalf("root holds %d loop sites, want 1", len(sites))
	}
	return v.Root().scopes[sites[0].Start]
}

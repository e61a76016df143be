package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/listvm/pkg/bytecode"
	"github.com/chazu/listvm/pkg/reference"
)

// ---------------------------------------------------------------------------
// Keyed reconciliation
// ---------------------------------------------------------------------------

func TestRenderEndToEndOrder(t *testing.T) {
	v, r := newVM(t, eachProgram(t, "key"), Options{})
	list := newList([]any{
		map[string]any{"key": "x", "v": 1},
		map[string]any{"key": "y", "v": 2},
	})

	mustRender(t, v, list)
	if diff := cmp.Diff([]string{"create x", "create y"}, r.take()); diff != "" {
		t.Fatalf("pass 1 (-want +got):\n%s", diff)
	}

	list.Replace([]any{
		map[string]any{"key": "y", "v": 2},
		map[string]any{"key": "z", "v": 3},
	})
	mustRender(t, v, list)

	// Creates and updates in iteration order, teardowns at loop close.
	want := []string{"update y", "create z", "teardown x"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("pass 2 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"y", "z"}, rootScope(t, v).Keys()); diff != "" {
		t.Errorf("committed keys (-want +got):\n%s", diff)
	}
}

func TestRenderTeardownCompleteness(t *testing.T) {
	v, r := newVM(t, eachProgram(t, "key"), Options{})
	list := newList(keyed("b", "c", "x"))
	mustRender(t, v, list)
	r.take()

	list.Replace(keyed("x", "y"))
	mustRender(t, v, list)

	want := []string{"update x", "create y", "teardown b", "teardown c"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRenderIdempotent(t *testing.T) {
	obs := &statsObserver{}
	v, r := newVM(t, eachProgram(t, "key"), Options{Observer: obs})
	list := newList(keyed("a", "b", "c"))

	mustRender(t, v, list)
	r.take()
	mustRender(t, v, list)

	want := []string{"update a", "update b", "update c"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if len(obs.stats) != 2 {
		t.Fatalf("reconciled %d times, want 2", len(obs.stats))
	}
	first, second := obs.stats[0], obs.stats[1]
	if diff := cmp.Diff(first.Keys, second.Keys); diff != "" {
		t.Errorf("key sequence changed (-first +second):\n%s", diff)
	}
	if second.Created != 0 || second.TornDown != 0 || second.Moved != 0 {
		t.Errorf("second pass stats = %+v, want updates only", second)
	}
}

func TestRenderReorderReusesContinuations(t *testing.T) {
	obs := &statsObserver{}
	v, r := newVM(t, eachProgram(t, "key"), Options{Observer: obs})
	list := newList(keyed("a", "b", "c"))
	mustRender(t, v, list)
	before, _ := rootScope(t, v).Item("a")
	r.take()

	list.Move(0, 2) // b c a
	mustRender(t, v, list)

	want := []string{"update b", "update c", "update a"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	after, _ := rootScope(t, v).Item("a")
	if before.cont != after.cont {
		t.Error("continuation for a was replaced")
	}
	if got := after.Memo.Value(); got != 2 {
		t.Errorf("memo for a = %v, want 2", got)
	}

	stats := obs.stats[len(obs.stats)-1]
	if stats.Moved != 1 {
		t.Errorf("Moved = %d, want 1", stats.Moved)
	}
	if diff := cmp.Diff([]string{"a"}, stats.MovedKeys); diff != "" {
		t.Errorf("MovedKeys (-want +got):\n%s", diff)
	}
}

func TestRenderEmptyListDestroysSite(t *testing.T) {
	v, r := newVM(t, eachProgram(t, "key"), Options{})
	list := newList(keyed("a", "b"))
	mustRender(t, v, list)
	r.take()

	list.Replace(nil)
	mustRender(t, v, list)
	if diff := cmp.Diff([]string{"teardown a", "teardown b"}, r.take()); diff != "" {
		t.Errorf("emptied (-want +got):\n%s", diff)
	}
	if n := len(v.Root().Sites()); n != 0 {
		t.Errorf("root holds %d loop sites after emptying, want 0", n)
	}

	list.Append(keyed("a")...)
	mustRender(t, v, list)
	if diff := cmp.Diff([]string{"create a"}, r.take()); diff != "" {
		t.Errorf("refilled (-want +got):\n%s", diff)
	}
}

func TestRenderPlainSlice(t *testing.T) {
	v, r := newVM(t, eachProgram(t, reference.KeyPrimitive), Options{})
	mustRender(t, v, reference.Const([]string{"a", "b"}))
	mustRender(t, v, reference.Const([]string{"b"}))

	want := []string{"create a", "create b", "update b", "teardown a"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRenderIndexKeys(t *testing.T) {
	v, r := newVM(t, eachProgram(t, reference.KeyIndex), Options{})
	list := newList(keyed("a", "b", "c"))
	mustRender(t, v, list)
	r.take()

	list.RemoveAt(0)
	mustRender(t, v, list)

	// Position keys: the last position disappears whatever was removed.
	want := []string{"update 0", "update 1", "teardown 2"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRenderValueAndMemoReachContinuation(t *testing.T) {
	var got []any
	r := &recorder{}
	factory := FactoryFunc(func(site Site, key string, memo, value reference.Reference) (Continuation, error) {
		got = append(got, memo.Value(), reference.Lookup(value.Value(), "v"))
		return r.Create(site, key, memo, value)
	})
	v, _ := newVM(t, eachProgram(t, "key"), Options{Factory: factory})
	mustRender(t, v, newList(keyed("p", "q")))

	if diff := cmp.Diff([]any{0, 0, 1, 1}, got); diff != "" {
		t.Errorf("memo/value pairs (-want +got):\n%s", diff)
	}
}

// ---------------------------------------------------------------------------
// Nested loops
// ---------------------------------------------------------------------------

func TestRenderNestedLoops(t *testing.T) {
	obs := &statsObserver{}
	v, r := newVM(t, nestedProgram(t), Options{Observer: obs})
	groups := newList([]any{group("g1", "a", "b"), group("g2", "c")})

	mustRender(t, v, groups)
	want := []string{"create g1", "create a", "create b", "create g2", "create c"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Fatalf("pass 1 (-want +got):\n%s", diff)
	}

	groups.Replace([]any{group("g1", "b")})
	mustRender(t, v, groups)

	// a goes when g1's inner loop closes; c goes before its owner g2.
	want = []string{"update g1", "update b", "teardown a", "teardown c", "teardown g2"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("pass 2 (-want +got):\n%s", diff)
	}

	g1, ok := rootScope(t, v).Item("g1")
	if !ok {
		t.Fatal("g1 not committed")
	}
	sites := g1.Region().Sites()
	if len(sites) != 1 {
		t.Fatalf("g1 holds %d loop sites, want 1", len(sites))
	}
	if sites[0].Path == "" {
		t.Error("nested site has no path")
	}
	inner := obs.sites[len(obs.sites)-2]
	if inner != sites[0] {
		t.Errorf("inner reconcile site = %v, want %v", inner, sites[0])
	}
}

func TestRenderNestedEmptyInnerSwept(t *testing.T) {
	v, r := newVM(t, nestedProgram(t), Options{})
	groups := newList([]any{group("g1", "a", "b")})
	mustRender(t, v, groups)
	r.take()

	groups.Replace([]any{group("g1")})
	mustRender(t, v, groups)

	want := []string{"update g1", "teardown a", "teardown b"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	g1, _ := rootScope(t, v).Item("g1")
	if n := len(g1.Region().Sites()); n != 0 {
		t.Errorf("g1 holds %d loop sites, want 0", n)
	}
}

func TestDestroyTearsDownPostOrder(t *testing.T) {
	v, r := newVM(t, nestedProgram(t), Options{})
	mustRender(t, v, newList([]any{group("g1", "a"), group("g2", "b")}))
	r.take()

	if err := v.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	want := []string{"teardown a", "teardown g1", "teardown b", "teardown g2"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if err := v.Render(context.Background(), newList(nil)); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Render after Destroy = %v, want ErrDestroyed", err)
	}
	if err := v.Destroy(); err != nil {
		t.Errorf("second Destroy = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Duplicate keys
// ---------------------------------------------------------------------------

func TestRenderDuplicateKeyAborts(t *testing.T) {
	v, r := newVM(t, eachProgram(t, "key"), Options{})
	err := v.Render(context.Background(), newList(keyed("a", "b", "a")))

	var dup *DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("Render = %v, want *DuplicateKeyError", err)
	}
	if dup.Key != "a" {
		t.Errorf("duplicate key = %q, want %q", dup.Key, "a")
	}
	if !errors.Is(err, ErrDuplicateKey) {
		t.Error("error does not match ErrDuplicateKey")
	}
	if IsFatal(err) {
		t.Error("duplicate key reported as fatal")
	}

	want := []string{"create a", "create b", "teardown b", "teardown a"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if n := len(v.Root().Sites()); n != 0 {
		t.Errorf("root holds %d loop sites after abort, want 0", n)
	}
}

func TestRenderDuplicateKeyLastWriteWins(t *testing.T) {
	obs := &statsObserver{}
	v, r := newVM(t, eachProgram(t, "key"), Options{Observer: obs, Duplicate: DuplicateLastWriteWins})
	list := newList([]any{
		map[string]any{"key": "a", "v": 1},
		map[string]any{"key": "b", "v": 2},
		map[string]any{"key": "a", "v": 3},
	})
	mustRender(t, v, list)

	want := []string{"create a", "create b", "update a"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, rootScope(t, v).Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	a, _ := rootScope(t, v).Item("a")
	if got := reference.Lookup(a.Value.Value(), "v"); got != 3 {
		t.Errorf("a.v = %v, want 3", got)
	}
	if got := a.Memo.Value(); got != 0 {
		t.Errorf("a memo = %v, want 0", got)
	}
	c := a.cont.(*recordedItem)
	if got := c.memo.Value(); got != 0 {
		t.Errorf("continuation memo = %v, want 0 (first position)", got)
	}
	if got := reference.Lookup(c.value.Value(), "v"); got != 3 {
		t.Errorf("continuation value v = %v, want 3", got)
	}
}

// ---------------------------------------------------------------------------
// Abandonment
// ---------------------------------------------------------------------------

func TestRenderResolverFailureKeepsCommittedKeys(t *testing.T) {
	boom := errors.New("boom")
	fail := false
	resolver := reference.ResolverFunc(func(source reference.Reference, keyPath string) (*reference.IterationArtifacts, error) {
		if fail {
			return nil, boom
		}
		return reference.DefaultResolver{}.IterableFor(source, keyPath)
	})
	v, r := newVM(t, eachProgram(t, "key"), Options{Resolver: resolver})
	list := newList(keyed("a", "b"))
	mustRender(t, v, list)
	r.take()

	fail = true
	err := v.Render(context.Background(), list)
	if !errors.Is(err, boom) {
		t.Fatalf("Render = %v, want boom", err)
	}
	var exec *ExecError
	if !errors.As(err, &exec) || exec.Op != bytecode.OpPutIterator {
		t.Errorf("error not located at PUT_ITERATOR: %v", err)
	}
	if IsFatal(err) {
		t.Error("resolver failure reported as fatal")
	}
	if ops := r.take(); len(ops) != 0 {
		t.Errorf("failed pass issued %v", ops)
	}
	if diff := cmp.Diff([]string{"a", "b"}, rootScope(t, v).Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}

	fail = false
	mustRender(t, v, list)
	if diff := cmp.Diff([]string{"update a", "update b"}, r.take()); diff != "" {
		t.Errorf("recovery pass (-want +got):\n%s", diff)
	}
}

func TestRenderCreateFailureAbandonsScope(t *testing.T) {
	v, r := newVM(t, eachProgram(t, "key"), Options{})
	list := newList(keyed("a", "b"))
	mustRender(t, v, list)
	r.take()

	boom := errors.New("boom")
	r.failCreate = map[string]error{"c": boom}
	list.Replace(keyed("a", "c"))
	if err := v.Render(context.Background(), list); !errors.Is(err, boom) {
		t.Fatalf("Render = %v, want boom", err)
	}

	// a was reused by the failed pass; b was committed but not reached.
	want := []string{"update a", "teardown a", "teardown b"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if n := len(v.Root().Sites()); n != 0 {
		t.Errorf("root holds %d loop sites, want 0", n)
	}

	r.failCreate = nil
	mustRender(t, v, list)
	if diff := cmp.Diff([]string{"create a", "create c"}, r.take()); diff != "" {
		t.Errorf("recovery pass (-want +got):\n%s", diff)
	}
}

func TestRenderCancelledMidPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, r := newVM(t, nestedProgram(t), Options{})
	r.onCreate = func(key string) {
		if key == "b" {
			cancel()
		}
	}
	err := v.Render(ctx, newList([]any{group("g1", "a", "b", "c"), group("g2")}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Render = %v, want context.Canceled", err)
	}

	// Inner scope first, most recent first, then the outer one.
	want := []string{"create g1", "create a", "create b", "teardown b", "teardown a", "teardown g1"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if n := len(v.Root().Sites()); n != 0 {
		t.Errorf("root holds %d loop sites, want 0", n)
	}
}

func TestRenderTeardownErrorStillCommits(t *testing.T) {
	v, r := newVM(t, eachProgram(t, "key"), Options{})
	list := newList(keyed("a", "b", "c"))
	mustRender(t, v, list)
	r.take()

	boom := errors.New("boom")
	r.failTeardown = map[string]error{"a": boom}
	list.Replace(keyed("c"))
	if err := v.Render(context.Background(), list); !errors.Is(err, boom) {
		t.Fatalf("Render = %v, want boom", err)
	}
	want := []string{"update c", "teardown a", "teardown b"}
	if diff := cmp.Diff(want, r.take()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c"}, rootScope(t, v).Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
}

// ---------------------------------------------------------------------------
// Construction and arguments
// ---------------------------------------------------------------------------

func TestNewRequiresFactory(t *testing.T) {
	if _, err := New(eachProgram(t, "key"), Options{}); !errors.Is(err, ErrNoFactory) {
		t.Errorf("New = %v, want ErrNoFactory", err)
	}
}

func TestNewRejectsUnverifiedCode(t *testing.T) {
	c := bytecode.NewChunk()
	c.Emit(bytecode.OpPutIterator)
	_, err := New(c, Options{Factory: &recorder{}})
	var verr *bytecode.VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("New = %v, want *bytecode.VerifyError", err)
	}
	if !IsFatal(err) {
		t.Error("verify failure not reported as fatal")
	}
}

func TestNewStackLimit(t *testing.T) {
	_, err := New(nestedProgram(t), Options{Factory: &recorder{}, MaxStack: 2})
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("New = %v, want ErrStackOverflow", err)
	}
}

func TestRenderArgCount(t *testing.T) {
	v, _ := newVM(t, eachProgram(t, "key"), Options{})
	if err := v.Render(context.Background()); !errors.Is(err, ErrArgCount) {
		t.Errorf("Render() = %v, want ErrArgCount", err)
	}
	if v.Passes() != 0 {
		t.Errorf("Passes = %d, want 0", v.Passes())
	}
}

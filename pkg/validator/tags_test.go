package validator

import "testing"

func TestConstantNeverChanges(t *testing.T) {
	a := NewArena()
	snap := a.Value(Constant)
	d := a.NewDirtyable()
	a.Dirty(d)
	a.Dirty(d)

	if !a.Validate(Constant, snap) {
		t.Error("Constant tag invalidated by unrelated dirty")
	}
	if a.Value(Constant) != InitialRevision {
		t.Errorf("Constant value = %d, want %d", a.Value(Constant), InitialRevision)
	}
}

func TestDirtyableInvalidates(t *testing.T) {
	a := NewArena()
	d := a.NewDirtyable()
	snap := a.Value(d)

	if !a.Validate(d, snap) {
		t.Fatal("fresh tag should be valid for its own snapshot")
	}

	a.Dirty(d)
	if a.Validate(d, snap) {
		t.Error("dirtied tag still valid for old snapshot")
	}
	if a.Value(d) != a.Current() {
		t.Errorf("dirtied tag value = %d, want clock %d", a.Value(d), a.Current())
	}
}

func TestCombineIsMaxOfDependencies(t *testing.T) {
	a := NewArena()
	x := a.NewDirtyable()
	y := a.NewDirtyable()
	both := a.Combine(x, y)
	snap := a.Value(both)

	a.Dirty(y)
	if a.Validate(both, snap) {
		t.Error("combined tag should change when any dependency changes")
	}
	if a.Value(both) != a.Value(y) {
		t.Errorf("combined value = %d, want %d", a.Value(both), a.Value(y))
	}

	snap = a.Value(both)
	other := a.NewDirtyable()
	a.Dirty(other)
	if !a.Validate(both, snap) {
		t.Error("combined tag changed on unrelated dirty")
	}
}

func TestCombineFoldsConstants(t *testing.T) {
	a := NewArena()
	before := a.Len()

	if got := a.Combine(); got != Constant {
		t.Errorf("Combine() = %d, want Constant", got)
	}
	if got := a.Combine(Constant, Constant); got != Constant {
		t.Errorf("Combine(Constant, Constant) = %d, want Constant", got)
	}
	d := a.NewDirtyable()
	if got := a.Combine(Constant, d); got != d {
		t.Errorf("Combine(Constant, d) = %d, want %d", got, d)
	}
	if a.Len() != before+1 {
		t.Errorf("arena grew to %d nodes, want %d", a.Len(), before+1)
	}
}

func TestNestedCombine(t *testing.T) {
	a := NewArena()
	x := a.NewDirtyable()
	y := a.NewDirtyable()
	z := a.NewDirtyable()
	inner := a.Combine(x, y)
	outer := a.Combine(inner, z)
	snap := a.Value(outer)

	a.Dirty(x)
	if a.Validate(outer, snap) {
		t.Error("outer combinator missed a transitive change")
	}
}

func TestUpdatableSwapsDependency(t *testing.T) {
	a := NewArena()
	u := a.NewUpdatable()
	first := a.NewDirtyable()
	second := a.NewDirtyable()

	a.Update(u, first)
	snap := a.Value(u)

	a.Dirty(second)
	if !a.Validate(u, snap) {
		t.Error("updatable changed on a dependency it does not track")
	}

	a.Update(u, second)
	if a.Validate(u, snap) {
		t.Error("swapping the dependency should invalidate")
	}

	snap = a.Value(u)
	a.Dirty(first)
	if !a.Validate(u, snap) {
		t.Error("old dependency still tracked after Update")
	}
	a.Dirty(second)
	if a.Validate(u, snap) {
		t.Error("new dependency not tracked after Update")
	}
}

func TestDirtyConstantPanics(t *testing.T) {
	a := NewArena()
	defer func() {
		if recover() == nil {
			t.Error("dirtying Constant should panic")
		}
	}()
	a.Dirty(Constant)
}

func TestForeignTagPanics(t *testing.T) {
	a := NewArena()
	defer func() {
		if recover() == nil {
			t.Error("reading a tag outside the arena should panic")
		}
	}()
	a.Value(Tag(42))
}

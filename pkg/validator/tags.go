// Package validator implements reactive validity tags.
//
// A tag is an integer handle into an Arena. Each tag node records the
// revision at which it last changed; a composite tag has no revision of its
// own and reports the maximum revision among its dependencies. Consumers
// snapshot a tag's value and later ask whether the tag is still valid for
// that snapshot.
//
// Tags are never freed individually. An Arena lives as long as the
// references built on it, which in practice is the lifetime of one VM.
package validator

import "fmt"

// Revision is a point on the arena clock.
type Revision uint64

// Tag is a handle to a node in an Arena.
type Tag uint32

// Constant is the tag of values that never change. Its value is always
// InitialRevision.
const Constant Tag = 0

// InitialRevision is the clock value of a freshly created arena.
const InitialRevision Revision = 1

type nodeKind uint8

const (
	kindConstant nodeKind = iota
	kindDirtyable
	kindCombinator
	kindUpdatable
)

func (k nodeKind) String() string {
	switch k {
	case kindConstant:
		return "constant"
	case kindDirtyable:
		return "dirtyable"
	case kindCombinator:
		return "combinator"
	case kindUpdatable:
		return "updatable"
	default:
		return fmt.Sprintf("nodeKind(%d)", k)
	}
}

type node struct {
	kind     nodeKind
	revision Revision
	deps     []Tag
}

// Arena owns tag nodes and the revision clock.
type Arena struct {
	nodes []node
	clock Revision
}

// NewArena creates an arena holding only the Constant tag.
func NewArena() *Arena {
	return &Arena{
		nodes: []node{{kind: kindConstant, revision: InitialRevision}},
		clock: InitialRevision,
	}
}

// Current returns the current arena clock.
func (a *Arena) Current() Revision {
	return a.clock
}

// Len returns the number of nodes allocated, including Constant.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// NewDirtyable allocates a tag that changes whenever Dirty is called on it.
func (a *Arena) NewDirtyable() Tag {
	return a.alloc(node{kind: kindDirtyable, revision: a.clock})
}

// NewUpdatable allocates a tag whose single dependency can be replaced.
// Until Update is called it depends on nothing but itself.
func (a *Arena) NewUpdatable() Tag {
	return a.alloc(node{kind: kindUpdatable, revision: a.clock})
}

// Dirty advances the clock and marks t as changed at the new revision.
// Dirtying Constant or a combinator is a programming error.
func (a *Arena) Dirty(t Tag) {
	n := a.node(t)
	if n.kind != kindDirtyable && n.kind != kindUpdatable {
		panic(fmt.Sprintf("validator: cannot dirty %s tag %d", n.kind, t))
	}
	a.clock++
	n.revision = a.clock
}

// Update replaces the dependency of an updatable tag and marks it changed.
func (a *Arena) Update(t, dep Tag) {
	n := a.node(t)
	if n.kind != kindUpdatable {
		panic(fmt.Sprintf("validator: cannot update %s tag %d", n.kind, t))
	}
	a.clock++
	n.revision = a.clock
	if dep == Constant {
		n.deps = nil
		return
	}
	n.deps = []Tag{dep}
}

// Combine returns a tag that is valid until the first of tags changes.
// Constant inputs are dropped; zero or one remaining input is returned
// without allocating.
func (a *Arena) Combine(tags ...Tag) Tag {
	deps := make([]Tag, 0, len(tags))
	for _, t := range tags {
		a.node(t)
		if t == Constant {
			continue
		}
		deps = append(deps, t)
	}
	switch len(deps) {
	case 0:
		return Constant
	case 1:
		return deps[0]
	}
	return a.alloc(node{kind: kindCombinator, deps: deps})
}

// Value returns the latest revision at which t or any of its transitive
// dependencies changed.
func (a *Arena) Value(t Tag) Revision {
	n := a.node(t)
	max := n.revision
	for _, d := range n.deps {
		if v := a.Value(d); v > max {
			max = v
		}
	}
	return max
}

// Validate reports whether t has not changed since snapshot was taken.
func (a *Arena) Validate(t Tag, snapshot Revision) bool {
	return a.Value(t) <= snapshot
}

func (a *Arena) alloc(n node) Tag {
	a.nodes = append(a.nodes, n)
	return Tag(len(a.nodes) - 1)
}

func (a *Arena) node(t Tag) *node {
	if int(t) >= len(a.nodes) {
		panic(fmt.Sprintf("validator: tag %d not in arena of %d nodes", t, len(a.nodes)))
	}
	return &a.nodes[t]
}

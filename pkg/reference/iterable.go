package reference

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/chazu/listvm/pkg/validator"
)

// Sequence is a source collection that can be walked any number of times.
// Walking an unchanged sequence must produce the same items in the same
// order.
type Sequence interface {
	Cursor() Cursor
}

// Cursor walks a Sequence once.
type Cursor interface {
	// Next returns the next item, or ok == false when the sequence is done.
	Next() (v any, ok bool)
}

// KeyFunc derives the identity key of an item.
type KeyFunc func(v any, index int) string

// Reserved key paths.
const (
	KeyIndex     = "@index"
	KeyPrimitive = "@primitive"
	KeyIdentity  = "@identity"
)

// KeyFor returns the key strategy named by path. An empty path means
// KeyIdentity; any path not starting with '@' is a dotted property path
// into the item.
func KeyFor(path string) KeyFunc {
	switch path {
	case KeyIndex:
		return func(_ any, index int) string { return strconv.Itoa(index) }
	case KeyPrimitive:
		return func(v any, _ int) string { return fmt.Sprint(v) }
	case KeyIdentity, "":
		return func(v any, _ int) string { return identityKey(v) }
	}
	return func(v any, _ int) string { return fmt.Sprint(Lookup(v, path)) }
}

func identityKey(v any) string {
	if v == nil {
		return "<nil>"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("%T@%x", v, rv.Pointer())
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// IterationItem is one keyed element produced by a ReferenceIterator.
type IterationItem struct {
	Key   string
	Memo  Reference
	Value Reference
}

// IterationArtifacts binds a source sequence to a key strategy and the tag
// that invalidates it.
type IterationArtifacts struct {
	tag     validator.Tag
	itemTag validator.Tag
	seq     Sequence
	keyFor  KeyFunc
	primed  *primedCursor
}

// NewIterationArtifacts creates artifacts over seq. Item value references
// share tag unless WithItemTag is used.
func NewIterationArtifacts(tag validator.Tag, seq Sequence, keyFor KeyFunc) *IterationArtifacts {
	return &IterationArtifacts{tag: tag, itemTag: tag, seq: seq, keyFor: keyFor}
}

// WithItemTag sets the tag given to item value references.
func (a *IterationArtifacts) WithItemTag(tag validator.Tag) *IterationArtifacts {
	a.itemTag = tag
	return a
}

// Tag returns the artifacts' validity tag.
func (a *IterationArtifacts) Tag() validator.Tag { return a.tag }

// IsEmpty reports whether a fresh walk would produce no items. Every call
// reads the source anew, at most one element deep. The peeked element is
// kept for the next walk unless the source changes first.
func (a *IterationArtifacts) IsEmpty() bool {
	c := a.seq.Cursor()
	v, ok := c.Next()
	a.primed = &primedCursor{cursor: c, head: v, hasHead: ok, rev: a.revision()}
	return !ok
}

func (a *IterationArtifacts) iterate() Cursor {
	p := a.primed
	a.primed = nil
	if p != nil && p.rev == a.revision() {
		return p
	}
	return a.seq.Cursor()
}

// versioned is implemented by sources that can report when they changed.
type versioned interface {
	revision() validator.Revision
}

func (a *IterationArtifacts) revision() validator.Revision {
	if v, ok := a.seq.(versioned); ok {
		return v.revision()
	}
	return 0
}

type primedCursor struct {
	cursor  Cursor
	head    any
	hasHead bool
	used    bool
	rev     validator.Revision
}

func (p *primedCursor) Next() (any, bool) {
	if !p.used {
		p.used = true
		if !p.hasHead {
			return nil, false
		}
		return p.head, true
	}
	if !p.hasHead {
		return nil, false
	}
	return p.cursor.Next()
}

// IteratorState is the lifecycle position of a ReferenceIterator.
type IteratorState uint8

const (
	Fresh IteratorState = iota
	InProgress
	Exhausted
)

func (s IteratorState) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case InProgress:
		return "in-progress"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("IteratorState(%d)", s)
	}
}

// ReferenceIterator is a single-pass cursor producing keyed items.
type ReferenceIterator struct {
	artifacts *IterationArtifacts
	state     IteratorState
	cursor    Cursor
	index     int
}

// NewReferenceIterator creates an iterator in the Fresh state.
func NewReferenceIterator(a *IterationArtifacts) *ReferenceIterator {
	return &ReferenceIterator{artifacts: a}
}

// Artifacts returns the iterator's artifacts.
func (it *ReferenceIterator) Artifacts() *IterationArtifacts { return it.artifacts }

// State returns the current lifecycle state.
func (it *ReferenceIterator) State() IteratorState { return it.state }

// Next returns the next item. Once it has returned false the iterator is
// Exhausted and every further call returns false.
func (it *ReferenceIterator) Next() (IterationItem, bool) {
	switch it.state {
	case Exhausted:
		return IterationItem{}, false
	case Fresh:
		it.cursor = it.artifacts.iterate()
		it.state = InProgress
	}

	v, ok := it.cursor.Next()
	if !ok {
		it.state = Exhausted
		it.cursor = nil
		return IterationItem{}, false
	}

	index := it.index
	it.index++
	return IterationItem{
		Key:   it.artifacts.keyFor(v, index),
		Memo:  Const(index),
		Value: Snapshot(it.artifacts.itemTag, v),
	}, true
}

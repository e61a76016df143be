package reference

import (
	"fmt"

	"github.com/chazu/listvm/pkg/validator"
)

// List is a reactive ordered collection.
//
// It carries two tags. The content tag changes on every mutation. The
// presence tag changes only when the list flips between empty and
// non-empty or is replaced wholesale, so consumers that only care whether
// anything is there are not invalidated by item edits.
type List struct {
	arena    *validator.Arena
	items    []any
	content  validator.Tag
	presence validator.Tag
}

// NewList creates a list holding items.
func NewList(arena *validator.Arena, items ...any) *List {
	return &List{
		arena:    arena,
		items:    append([]any(nil), items...),
		content:  arena.NewDirtyable(),
		presence: arena.NewDirtyable(),
	}
}

// Tag returns the content tag.
func (l *List) Tag() validator.Tag { return l.content }

// PresenceTag returns the emptiness tag.
func (l *List) PresenceTag() validator.Tag { return l.presence }

// Value returns a copy of the items.
func (l *List) Value() any {
	return append([]any(nil), l.items...)
}

// Len returns the number of items.
func (l *List) Len() int { return len(l.items) }

// At returns the item at i.
func (l *List) At(i int) any { return l.items[i] }

// Append adds items at the end.
func (l *List) Append(items ...any) {
	if len(items) == 0 {
		return
	}
	l.mutate(func() {
		l.items = append(l.items, items...)
	})
}

// Insert places v at index i, shifting later items.
func (l *List) Insert(i int, v any) {
	l.checkIndex(i, len(l.items)+1)
	l.mutate(func() {
		next := make([]any, 0, len(l.items)+1)
		next = append(next, l.items[:i]...)
		next = append(next, v)
		l.items = append(next, l.items[i:]...)
	})
}

// RemoveAt deletes the item at i.
func (l *List) RemoveAt(i int) {
	l.checkIndex(i, len(l.items))
	l.mutate(func() {
		next := make([]any, 0, len(l.items)-1)
		next = append(next, l.items[:i]...)
		l.items = append(next, l.items[i+1:]...)
	})
}

// Set replaces the item at i.
func (l *List) Set(i int, v any) {
	l.checkIndex(i, len(l.items))
	l.mutate(func() {
		next := append([]any(nil), l.items...)
		next[i] = v
		l.items = next
	})
}

// Move relocates the item at from so that it ends up at index to.
func (l *List) Move(from, to int) {
	l.checkIndex(from, len(l.items))
	l.checkIndex(to, len(l.items))
	if from == to {
		return
	}
	l.mutate(func() {
		v := l.items[from]
		next := make([]any, 0, len(l.items))
		next = append(next, l.items[:from]...)
		next = append(next, l.items[from+1:]...)
		next = append(next[:to], append([]any{v}, next[to:]...)...)
		l.items = next
	})
}

// Replace swaps the whole collection. This counts as an identity change and
// always dirties both tags.
func (l *List) Replace(items []any) {
	l.items = append([]any(nil), items...)
	l.arena.Dirty(l.content)
	l.arena.Dirty(l.presence)
}

// Cursor iterates the items as they are at the time of the call.
func (l *List) Cursor() Cursor {
	return &sliceCursor{items: l.items}
}

func (l *List) revision() validator.Revision {
	return l.arena.Value(l.content)
}

// mutate copies on write so cursors handed out earlier keep their view.
func (l *List) mutate(fn func()) {
	wasEmpty := len(l.items) == 0
	fn()
	l.arena.Dirty(l.content)
	if wasEmpty != (len(l.items) == 0) {
		l.arena.Dirty(l.presence)
	}
}

func (l *List) checkIndex(i, n int) {
	if i < 0 || i >= n {
		panic(fmt.Sprintf("reference: list index %d out of range [0,%d)", i, n))
	}
}

type sliceCursor struct {
	items []any
	pos   int
}

func (c *sliceCursor) Next() (any, bool) {
	if c.pos >= len(c.items) {
		return nil, false
	}
	v := c.items[c.pos]
	c.pos++
	return v, true
}

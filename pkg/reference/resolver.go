package reference

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrNotIterable is returned when a source value cannot be walked.
var ErrNotIterable = errors.New("value is not iterable")

// Resolver turns a source reference and a key path into iteration
// artifacts.
type Resolver interface {
	IterableFor(source Reference, keyPath string) (*IterationArtifacts, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(source Reference, keyPath string) (*IterationArtifacts, error)

func (f ResolverFunc) IterableFor(source Reference, keyPath string) (*IterationArtifacts, error) {
	return f(source, keyPath)
}

// DefaultResolver handles *List, Sequence, Go slices and arrays, and nil.
type DefaultResolver struct{}

func (DefaultResolver) IterableFor(source Reference, keyPath string) (*IterationArtifacts, error) {
	keyFor := KeyFor(keyPath)

	if l, ok := source.(*List); ok {
		return listArtifacts(l, keyFor), nil
	}

	v := source.Value()
	switch s := v.(type) {
	case nil:
		return NewIterationArtifacts(source.Tag(), emptySequence{}, keyFor), nil
	case *List:
		return listArtifacts(s, keyFor), nil
	case Sequence:
		return NewIterationArtifacts(source.Tag(), s, keyFor), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return NewIterationArtifacts(source.Tag(), reflectSequence{rv}, keyFor), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNotIterable, v)
}

func listArtifacts(l *List, keyFor KeyFunc) *IterationArtifacts {
	return NewIterationArtifacts(l.PresenceTag(), l, keyFor).WithItemTag(l.Tag())
}

type emptySequence struct{}

func (emptySequence) Cursor() Cursor { return emptySequence{} }

func (emptySequence) Next() (any, bool) { return nil, false }

type reflectSequence struct {
	rv reflect.Value
}

func (s reflectSequence) Cursor() Cursor {
	return &reflectCursor{rv: s.rv}
}

type reflectCursor struct {
	rv  reflect.Value
	pos int
}

func (c *reflectCursor) Next() (any, bool) {
	if c.pos >= c.rv.Len() {
		return nil, false
	}
	v := c.rv.Index(c.pos).Interface()
	c.pos++
	return v, true
}

// Package reference provides reactive handles to values and the iteration
// protocol the VM's list opcodes consume.
//
// A Reference pairs a lazily computed value with a validator.Tag. The tag
// tells a consumer when a previously read value may be stale; the value is
// only computed when asked for.
package reference

import (
	"reflect"
	"strings"

	"github.com/chazu/listvm/pkg/validator"
)

// Reference is a reactive handle to a value.
type Reference interface {
	// Tag returns the validity tag for Value.
	Tag() validator.Tag
	// Value computes the current value.
	Value() any
}

// Getter is implemented by values that resolve their own properties.
type Getter interface {
	Get(key string) (any, bool)
}

type constReference struct {
	value any
}

// Const returns a reference whose value never changes.
func Const(v any) Reference {
	return constReference{value: v}
}

func (c constReference) Tag() validator.Tag { return validator.Constant }
func (c constReference) Value() any         { return c.value }

type snapshotReference struct {
	tag   validator.Tag
	value any
}

// Snapshot returns a reference to a value captured at a point in time,
// invalidated by tag.
func Snapshot(tag validator.Tag, v any) Reference {
	return snapshotReference{tag: tag, value: v}
}

func (s snapshotReference) Tag() validator.Tag { return s.tag }
func (s snapshotReference) Value() any         { return s.value }

// Cell is a root reference whose value is replaced by the host.
type Cell struct {
	arena *validator.Arena
	tag   validator.Tag
	value any
}

// NewCell creates a cell holding v.
func NewCell(arena *validator.Arena, v any) *Cell {
	return &Cell{arena: arena, tag: arena.NewDirtyable(), value: v}
}

func (c *Cell) Tag() validator.Tag { return c.tag }
func (c *Cell) Value() any         { return c.value }

// Set replaces the cell's value. Setting an identical comparable value is a
// no-op; anything else dirties the tag.
func (c *Cell) Set(v any) {
	if identical(c.value, v) {
		return
	}
	c.value = v
	c.arena.Dirty(c.tag)
}

// Dirty invalidates the cell without changing its value, for hosts that
// mutate the held value in place.
func (c *Cell) Dirty() {
	c.arena.Dirty(c.tag)
}

type propertyReference struct {
	parent Reference
	path   []string
}

// Property returns a reference to the dotted path under parent's value.
// It shares the parent's tag.
func Property(parent Reference, path string) Reference {
	return propertyReference{parent: parent, path: splitPath(path)}
}

func (p propertyReference) Tag() validator.Tag { return p.parent.Tag() }

func (p propertyReference) Value() any {
	v := p.parent.Value()
	for _, seg := range p.path {
		v = lookup(v, seg)
		if v == nil {
			return nil
		}
	}
	return v
}

// Lookup resolves a dotted path against v. Missing segments yield nil.
func Lookup(v any, path string) any {
	for _, seg := range splitPath(path) {
		v = lookup(v, seg)
		if v == nil {
			return nil
		}
	}
	return v
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func lookup(v any, key string) any {
	if v == nil {
		return nil
	}
	if g, ok := v.(Getter); ok {
		out, _ := g.Get(key)
		return out
	}
	if m, ok := v.(map[string]any); ok {
		return m[key]
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil
		}
		return mv.Interface()
	case reflect.Struct:
		f := rv.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, key)
		})
		if !f.IsValid() || !f.CanInterface() {
			return nil
		}
		return f.Interface()
	}
	return nil
}

func identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

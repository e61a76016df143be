package vm

import (
	"fmt"

	"github.com/chazu/listvm/pkg/bytecode"
	"github.com/chazu/listvm/pkg/reference"
)

// Operand is an operand stack entry. Exactly one of Ref and Iter is set,
// as selected by Kind.
type Operand struct {
	Kind bytecode.OperandKind
	Ref  reference.Reference
	Iter *reference.ReferenceIterator
}

// RefOperand wraps a reference.
func RefOperand(r reference.Reference) Operand {
	return Operand{Kind: bytecode.KindReference, Ref: r}
}

// IterOperand wraps an iterator.
func IterOperand(it *reference.ReferenceIterator) Operand {
	return Operand{Kind: bytecode.KindIterator, Iter: it}
}

func (o Operand) String() string {
	switch o.Kind {
	case bytecode.KindReference:
		return fmt.Sprintf("ref(%v)", o.Ref.Value())
	case bytecode.KindIterator:
		return fmt.Sprintf("iter(%s)", o.Iter.State())
	default:
		return o.Kind.String()
	}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (v *VM) push(o Operand) error {
	if len(v.stack) >= v.maxStack {
		return ErrStackOverflow
	}
	v.stack = append(v.stack, o)
	return nil
}

func (v *VM) pop() (Operand, error) {
	n := len(v.stack)
	if n == 0 {
		return Operand{}, ErrStackUnderflow
	}
	o := v.stack[n-1]
	v.stack[n-1] = Operand{}
	v.stack = v.stack[:n-1]
	return o, nil
}

func (v *VM) peek() (Operand, error) {
	if len(v.stack) == 0 {
		return Operand{}, ErrStackUnderflow
	}
	return v.stack[len(v.stack)-1], nil
}

func (v *VM) popRef() (reference.Reference, error) {
	o, err := v.pop()
	if err != nil {
		return nil, err
	}
	if o.Kind != bytecode.KindReference {
		return nil, fmt.Errorf("%w: expected reference, found %s", ErrTypeMismatch, o.Kind)
	}
	return o.Ref, nil
}

func (v *VM) peekIter() (*reference.ReferenceIterator, error) {
	o, err := v.peek()
	if err != nil {
		return nil, err
	}
	if o.Kind != bytecode.KindIterator {
		return nil, fmt.Errorf("%w: expected iterator, found %s", ErrTypeMismatch, o.Kind)
	}
	return o.Iter, nil
}

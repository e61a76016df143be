package vm

import (
	"context"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/chazu/listvm/pkg/bytecode"
	"github.com/chazu/listvm/pkg/reference"
)

// handler executes the instruction at offset at. The instruction pointer
// already points past it.
type handler func(v *VM, ctx context.Context, at int) error

// dispatch is indexed by opcode. Unassigned entries are unknown opcodes.
var dispatch = [256]handler{
	bytecode.OpNop:  opNop,
	bytecode.OpPop:  opPop,
	bytecode.OpDup:  opDup,
	bytecode.OpSwap: opSwap,

	bytecode.OpConst:       opConst,
	bytecode.OpLoadArg:     opLoadArg,
	bytecode.OpGetProperty: opGetProperty,

	bytecode.OpJump:       opJump,
	bytecode.OpJumpUnless: opJumpUnless,

	bytecode.OpPutIterator: opPutIterator,
	bytecode.OpEnterList:   opEnterList,
	bytecode.OpExitList:    opExitList,
	bytecode.OpIterate:     opIterate,

	bytecode.OpReturn: opReturn,
}

func (v *VM) u16(at int) uint16 {
	return binary.BigEndian.Uint16(v.chunk.Code[at+1:])
}

func (v *VM) target(at int) int {
	return v.chunk.RelativeTarget(at)
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func opNop(v *VM, _ context.Context, _ int) error { return nil }

func opPop(v *VM, _ context.Context, _ int) error {
	_, err := v.pop()
	return err
}

func opDup(v *VM, _ context.Context, _ int) error {
	o, err := v.peek()
	if err != nil {
		return err
	}
	return v.push(o)
}

func opSwap(v *VM, _ context.Context, _ int) error {
	n := len(v.stack)
	if n < 2 {
		return ErrStackUnderflow
	}
	v.stack[n-1], v.stack[n-2] = v.stack[n-2], v.stack[n-1]
	return nil
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

func opConst(v *VM, _ context.Context, at int) error {
	idx := int(v.u16(at))
	if idx >= len(v.chunk.Constants) {
		return fmt.Errorf("%w: constant %d", ErrTruncatedBytecode, idx)
	}
	return v.push(RefOperand(reference.Const(v.chunk.Constants[idx])))
}

func opLoadArg(v *VM, _ context.Context, at int) error {
	slot := int(v.chunk.Code[at+1])
	if slot >= len(v.args) {
		return fmt.Errorf("%w: argument %d", ErrArgCount, slot)
	}
	return v.push(RefOperand(v.args[slot]))
}

func opGetProperty(v *VM, _ context.Context, at int) error {
	idx := int(v.u16(at))
	if idx >= len(v.chunk.Constants) {
		return fmt.Errorf("%w: constant %d", ErrTruncatedBytecode, idx)
	}
	parent, err := v.popRef()
	if err != nil {
		return err
	}
	return v.push(RefOperand(reference.Property(parent, v.chunk.Constants[idx])))
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func opJump(v *VM, _ context.Context, at int) error {
	v.ip = v.target(at)
	return nil
}

func opJumpUnless(v *VM, _ context.Context, at int) error {
	cond, err := v.popRef()
	if err != nil {
		return err
	}
	if !truthy(cond.Value()) {
		v.ip = v.target(at)
	}
	return nil
}

func opReturn(v *VM, _ context.Context, _ int) error {
	v.halted = true
	return nil
}

// truthy follows template conventions: nil, false, zero numbers, empty
// strings and empty collections are false.
func truthy(x any) bool {
	switch x := x.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return !rv.IsZero()
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// opPutIterator pops the collection, then the key path beneath it, resolves
// them into iteration artifacts and pushes an iterator followed by the
// presence of the collection.
func opPutIterator(v *VM, _ context.Context, _ int) error {
	source, err := v.popRef()
	if err != nil {
		return err
	}
	keyRef, err := v.popRef()
	if err != nil {
		return err
	}
	var keyPath string
	switch k := keyRef.Value().(type) {
	case nil:
	case string:
		keyPath = k
	default:
		return fmt.Errorf("%w: %T", ErrInvalidKeyPath, k)
	}

	artifacts, err := v.resolver.IterableFor(source, keyPath)
	if err != nil {
		return fmt.Errorf("resolve iterable: %w", err)
	}
	if err := v.push(IterOperand(reference.NewReferenceIterator(artifacts))); err != nil {
		return err
	}
	return v.push(RefOperand(reference.NewPresenceReference(artifacts)))
}

// opEnterList opens the list scope of the loop whose body starts at the
// operand's target, in the region of the item being rendered.
func opEnterList(v *VM, _ context.Context, at int) error {
	scope := v.currentRegion().scope(v.target(at))
	if err := scope.begin(); err != nil {
		return err
	}
	v.scopes = append(v.scopes, scope)
	return nil
}

// opIterate advances the iterator on top of the stack. An item is entered
// into the innermost list scope and its value and memo are pushed for the
// body; exhaustion jumps to the operand's target.
func opIterate(v *VM, ctx context.Context, at int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := v.peekIter()
	if err != nil {
		return err
	}
	scope, err := v.topScope()
	if err != nil {
		return err
	}
	if err := scope.finishItem(); err != nil {
		return err
	}

	item, ok := it.Next()
	if !ok {
		v.ip = v.target(at)
		return nil
	}
	c, err := scope.EnterItem(item)
	if err != nil {
		return err
	}
	scope.RegisterItem(item.Key, c)
	if err := v.push(RefOperand(item.Value)); err != nil {
		return err
	}
	return v.push(RefOperand(item.Memo))
}

// opExitList closes the innermost list scope and reconciles it.
func opExitList(v *VM, _ context.Context, _ int) error {
	scope, err := v.topScope()
	if err != nil {
		return err
	}
	v.scopes[len(v.scopes)-1] = nil
	v.scopes = v.scopes[:len(v.scopes)-1]
	_, err = scope.close()
	return err
}

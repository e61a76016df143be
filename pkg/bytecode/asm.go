package bytecode

import (
	"errors"
	"fmt"
)

// ErrUnboundLabel is returned by Finish when a referenced label was never marked.
var ErrUnboundLabel = errors.New("unbound label")

// Label names a code position that may not be known yet.
type Label int

type fixup struct {
	placeholder int
	label       Label
}

// Assembler emits instructions into a Chunk and resolves forward
// references to labels when finished.
type Assembler struct {
	chunk  *Chunk
	labels []int
	fixups []fixup
}

// NewAssembler creates an assembler over a new chunk.
func NewAssembler() *Assembler {
	return &Assembler{chunk: NewChunk()}
}

// Chunk returns the chunk being assembled. Jumps are unresolved until Finish.
func (a *Assembler) Chunk() *Chunk { return a.chunk }

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Mark binds l to the current offset.
func (a *Assembler) Mark(l Label) {
	a.labels[l] = a.chunk.CurrentOffset()
}

// Op emits an instruction without operands.
func (a *Assembler) Op(op Opcode) {
	a.chunk.Emit(op)
}

// Const emits OpConst for s.
func (a *Assembler) Const(s string) {
	a.chunk.EmitConstant(s)
}

// Arg declares a render argument and emits OpLoadArg for it.
func (a *Assembler) Arg(name string) {
	for i, n := range a.chunk.ArgNames {
		if n == name {
			a.chunk.EmitWithOperand(OpLoadArg, byte(i))
			return
		}
	}
	a.chunk.EmitWithOperand(OpLoadArg, a.chunk.AddArg(name))
}

// GetProperty emits OpGetProperty for path.
func (a *Assembler) GetProperty(path string) {
	a.chunk.EmitGetProperty(path)
}

// Branch emits op with a relative operand pointing at l.
func (a *Assembler) Branch(op Opcode, l Label) {
	a.fixups = append(a.fixups, fixup{placeholder: a.chunk.EmitJump(op), label: l})
}

// Each emits a keyed loop.
//
// source must push exactly one reference (the collection) on top of the
// key path pushed by Each. body runs with [iterator, value, memo] on top of
// the stack and must leave it that way. inverse, if non-nil, runs when the
// collection is empty.
func (a *Assembler) Each(keyPath string, source, body, inverse func(*Assembler)) {
	head := a.NewLabel()
	exit := a.NewLabel()
	empty := a.NewLabel()
	end := a.NewLabel()

	a.Const(keyPath)
	source(a)
	a.Op(OpPutIterator)
	a.Branch(OpJumpUnless, empty)
	a.Branch(OpEnterList, head)

	a.Mark(head)
	a.Branch(OpIterate, exit)
	if body != nil {
		body(a)
	}
	a.Op(OpPop) // memo
	a.Op(OpPop) // value
	a.Branch(OpJump, head)

	a.Mark(exit)
	a.Op(OpExitList)
	if inverse != nil {
		a.Branch(OpJump, end)
	}

	a.Mark(empty)
	if inverse != nil {
		inverse(a)
	}
	a.Mark(end)
	a.Op(OpPop) // iterator
}

// Finish resolves labels and returns the chunk.
func (a *Assembler) Finish() (*Chunk, error) {
	for _, f := range a.fixups {
		target := a.labels[f.label]
		if target < 0 {
			return nil, fmt.Errorf("%w: L%d", ErrUnboundLabel, f.label)
		}
		if err := a.chunk.PatchJumpTo(f.placeholder, target); err != nil {
			return nil, err
		}
	}
	a.fixups = nil
	return a.chunk, nil
}

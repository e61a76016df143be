package bytecode

import (
	"fmt"
	"sort"
)

// VerifyError reports a malformed instruction stream.
type VerifyError struct {
	Offset int
	Op     Opcode
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify: %s at %04X: %s", e.Op, e.Offset, e.Reason)
}

// Analysis summarizes a verified chunk.
type Analysis struct {
	MaxStack     int   // Deepest operand stack on any path
	MaxListDepth int   // Deepest nesting of open list scopes
	LoopSites    []int // Absolute loop start offsets, ascending
}

type verifyState struct {
	stack []OperandKind
	lists int
}

func (s verifyState) equal(o verifyState) bool {
	if s.lists != o.lists || len(s.stack) != len(o.stack) {
		return false
	}
	for i := range s.stack {
		if s.stack[i] != o.stack[i] {
			return false
		}
	}
	return true
}

// Verify checks every control path through c before it runs: opcodes are
// known, operands are complete, jumps land on instruction boundaries,
// every operand popped has the shape its opcode expects, list scopes are
// balanced, and the stack shape agrees wherever paths merge.
func Verify(c *Chunk) (*Analysis, error) {
	starts, err := instructionStarts(c)
	if err != nil {
		return nil, err
	}

	an := &Analysis{}
	sites := make(map[int]struct{})
	states := map[int]verifyState{0: {}}
	work := []int{0}

	for len(work) > 0 {
		off := work[len(work)-1]
		work = work[:len(work)-1]
		st := states[off]

		if off == len(c.Code) {
			if st.lists != 0 {
				return nil, &VerifyError{Offset: off, Op: OpReturn, Reason: fmt.Sprintf("code ends with %d open list scope(s)", st.lists)}
			}
			continue
		}

		op := Opcode(c.Code[off])
		next := off + op.InstructionLen()
		stack := append([]OperandKind(nil), st.stack...)
		lists := st.lists

		fail := func(format string, args ...any) error {
			return &VerifyError{Offset: off, Op: op, Reason: fmt.Sprintf(format, args...)}
		}
		pop := func(want OperandKind) error {
			if len(stack) == 0 {
				return fail("stack underflow")
			}
			got := stack[len(stack)-1]
			if want != KindNone && got != want {
				return fail("expected %s on stack, found %s", want, got)
			}
			stack = stack[:len(stack)-1]
			return nil
		}

		type successor struct {
			offset int
			state  verifyState
		}
		var succs []successor
		fallthroughWith := func() {
			succs = append(succs, successor{next, verifyState{stack: stack, lists: lists}})
		}
		target := func() int { return c.RelativeTarget(off) }

		switch op {
		case OpNop:
			fallthroughWith()

		case OpPop:
			if err := pop(KindNone); err != nil {
				return nil, err
			}
			fallthroughWith()

		case OpDup:
			if len(stack) == 0 {
				return nil, fail("stack underflow")
			}
			stack = append(stack, stack[len(stack)-1])
			fallthroughWith()

		case OpSwap:
			if len(stack) < 2 {
				return nil, fail("stack underflow")
			}
			n := len(stack)
			stack[n-1], stack[n-2] = stack[n-2], stack[n-1]
			fallthroughWith()

		case OpConst:
			if idx := int(c.readUint16(off + 1)); idx >= len(c.Constants) {
				return nil, fail("constant %d out of range (%d constants)", idx, len(c.Constants))
			}
			stack = append(stack, KindReference)
			fallthroughWith()

		case OpLoadArg:
			if slot := int(c.Code[off+1]); slot >= int(c.ArgCount) {
				return nil, fail("argument %d out of range (%d arguments)", slot, c.ArgCount)
			}
			stack = append(stack, KindReference)
			fallthroughWith()

		case OpGetProperty:
			if idx := int(c.readUint16(off + 1)); idx >= len(c.Constants) {
				return nil, fail("constant %d out of range (%d constants)", idx, len(c.Constants))
			}
			if err := pop(KindReference); err != nil {
				return nil, err
			}
			stack = append(stack, KindReference)
			fallthroughWith()

		case OpJump:
			succs = append(succs, successor{target(), verifyState{stack: stack, lists: lists}})

		case OpJumpUnless:
			if err := pop(KindReference); err != nil {
				return nil, err
			}
			fallthroughWith()
			succs = append(succs, successor{target(), verifyState{stack: stack, lists: lists}})

		case OpPutIterator:
			if err := pop(KindReference); err != nil {
				return nil, err
			}
			if err := pop(KindReference); err != nil {
				return nil, err
			}
			stack = append(stack, KindIterator, KindReference)
			fallthroughWith()

		case OpEnterList:
			t := target()
			if _, ok := starts[t]; !ok {
				return nil, fail("loop start %04X is not an instruction boundary", t)
			}
			sites[t] = struct{}{}
			lists++
			fallthroughWith()

		case OpIterate:
			if lists == 0 {
				return nil, fail("no open list scope")
			}
			if len(stack) == 0 || stack[len(stack)-1] != KindIterator {
				return nil, fail("expected iterator on top of stack")
			}
			succs = append(succs, successor{target(), verifyState{stack: stack, lists: lists}})
			body := append(append([]OperandKind(nil), stack...), KindReference, KindReference)
			succs = append(succs, successor{next, verifyState{stack: body, lists: lists}})

		case OpExitList:
			if lists == 0 {
				return nil, fail("no open list scope")
			}
			lists--
			fallthroughWith()

		case OpReturn:
			if lists != 0 {
				return nil, fail("return with %d open list scope(s)", lists)
			}

		default:
			return nil, fail("unknown opcode")
		}

		for _, s := range succs {
			if s.offset != len(c.Code) {
				if _, ok := starts[s.offset]; !ok {
					return nil, fail("target %04X is not an instruction boundary", s.offset)
				}
			}
			if len(s.state.stack) > an.MaxStack {
				an.MaxStack = len(s.state.stack)
			}
			if s.state.lists > an.MaxListDepth {
				an.MaxListDepth = s.state.lists
			}
			if prev, seen := states[s.offset]; seen {
				if !prev.equal(s.state) {
					return nil, fail("stack shape %v/%d disagrees with %v/%d at %04X",
						s.state.stack, s.state.lists, prev.stack, prev.lists, s.offset)
				}
				continue
			}
			states[s.offset] = s.state
			work = append(work, s.offset)
		}
	}

	for site := range sites {
		an.LoopSites = append(an.LoopSites, site)
	}
	sort.Ints(an.LoopSites)
	return an, nil
}

// instructionStarts decodes c linearly and returns the offset of every
// instruction.
func instructionStarts(c *Chunk) (map[int]struct{}, error) {
	starts := make(map[int]struct{})
	off := 0
	for off < len(c.Code) {
		op := Opcode(c.Code[off])
		if !op.IsKnown() {
			return nil, &VerifyError{Offset: off, Op: op, Reason: "unknown opcode"}
		}
		if off+op.InstructionLen() > len(c.Code) {
			return nil, &VerifyError{Offset: off, Op: op, Reason: "truncated operand"}
		}
		starts[off] = struct{}{}
		off += op.InstructionLen()
	}
	return starts, nil
}

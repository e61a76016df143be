package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// References (0x10-0x2F)
	// ========================================================================

	OpConst       Opcode = 0x10 // Push constant reference: OpConst <index:u16>
	OpLoadArg     Opcode = 0x11 // Push render argument reference: OpLoadArg <index:u8>
	OpGetProperty Opcode = 0x20 // Pop ref, push child path ref: OpGetProperty <path:u16>

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump       Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpUnless Opcode = 0x81 // Pop ref, jump if its value is falsy: OpJumpUnless <offset:i16>

	// ========================================================================
	// Lists (0x90-0x9F)
	// ========================================================================

	OpPutIterator Opcode = 0x90 // Pop list ref, pop key ref; push iterator, presence ref
	OpEnterList   Opcode = 0x91 // Open a list scope: OpEnterList <relativeStart:i16>
	OpExitList    Opcode = 0x92 // Close the list scope and reconcile
	OpIterate     Opcode = 0x93 // Next item or jump: OpIterate <breakTarget:i16>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // End the render pass
)

// OperandKind is the runtime shape of an operand stack entry.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindReference
	KindIterator
)

func (k OperandKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindReference:
		return "reference"
	case KindIterator:
		return "iterator"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},

	// References
	OpConst:       {"CONST", 0, 1, 2},
	OpLoadArg:     {"LOAD_ARG", 0, 1, 1},
	OpGetProperty: {"GET_PROPERTY", 1, 1, 2},

	// Control flow
	OpJump:       {"JUMP", 0, 0, 2},
	OpJumpUnless: {"JUMP_UNLESS", 1, 0, 2},

	// Lists
	OpPutIterator: {"PUT_ITERATOR", 2, 2, 0},
	OpEnterList:   {"ENTER_LIST", 0, 0, 2},
	OpExitList:    {"EXIT_LIST", 0, 0, 0},
	OpIterate:     {"ITERATE", -1, -1, 2}, // Pushes value + memo on an item, nothing on exhaustion

	// Return
	OpReturn: {"RETURN", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op)), StackPop: 0, StackPush: 0, OperandLen: 0}
}

// IsKnown reports whether op has metadata.
func (op Opcode) IsKnown() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpUnless
}

// IsListOp returns true if this opcode belongs to the list family.
func (op Opcode) IsListOp() bool {
	return op >= OpPutIterator && op <= OpIterate
}

// HasRelativeOperand reports whether the operand is a signed offset from
// the end of the instruction.
func (op Opcode) HasRelativeOperand() bool {
	switch op {
	case OpJump, OpJumpUnless, OpEnterList, OpIterate:
		return true
	}
	return false
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

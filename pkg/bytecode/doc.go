// Package bytecode defines the instruction stream executed by the list VM:
// opcodes and their metadata, the Chunk container and its "LVBC" binary
// format, an assembler with labels, a disassembler, and a verifier that
// checks operand shapes over every control path before anything runs.
//
// # Instruction Format
//
// Every instruction is one opcode byte followed by a fixed number of
// big-endian operand bytes:
//
//   - No operand: NOP, POP, DUP, SWAP, PUT_ITERATOR, EXIT_LIST, RETURN
//   - u8: LOAD_ARG <slot>
//   - u16: CONST <constant>, GET_PROPERTY <constant>
//   - i16: JUMP, JUMP_UNLESS, ENTER_LIST, ITERATE
//
// Signed operands are relative to the end of the instruction.
//
// # Operand Shapes
//
// Stack entries are either references or iterators. PUT_ITERATOR pops the
// collection and then the key path, and pushes an iterator followed by a
// presence reference. ITERATE leaves the iterator in place and, when it
// produces an item, pushes the item's value and then its memo.
//
// # Keyed Loops
//
// Assembler.Each emits the canonical loop:
//
//	CONST key; <source>; PUT_ITERATOR
//	JUMP_UNLESS empty
//	ENTER_LIST head
//	head:  ITERATE exit
//	       <body>; POP; POP
//	       JUMP head
//	exit:  EXIT_LIST
//	empty: POP
//
// ENTER_LIST's target names the loop site: the VM keeps one list scope per
// target per region across render passes.
package bytecode

// Package vm runs list-rendering programs compiled to package bytecode.
//
// This package contains:
//   - The operand stack, a tagged union of references and iterators
//   - A static dispatch table indexed by opcode
//   - The list opcodes: PUT_ITERATOR, ENTER_LIST, ITERATE and EXIT_LIST
//   - Regions, list scopes and item records: keyed reconciliation of render
//     continuations across passes
//
// Reconciliation order is fixed: creates and updates are issued while the
// loop runs, in iteration order; teardowns are issued when the loop closes,
// in the order the removed keys had in the previous pass. Tearing down an
// item destroys the loops nested in its body before the item itself.
package vm

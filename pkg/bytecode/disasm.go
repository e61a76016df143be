package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; ListVM Bytecode v%d\n", c.Version))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", c.Flags))
	if c.Flags&ChunkFlagHasLists != 0 {
		sb.WriteString(" [LISTS]")
	}
	sb.WriteString("\n")

	if c.ArgCount > 0 {
		sb.WriteString(fmt.Sprintf("; Arguments (%d): %s\n", c.ArgCount, strings.Join(c.ArgNames, ", ")))
	}

	sb.WriteString("\n")

	// Constants
	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, s := range c.Constants {
			// Truncate long strings for readability
			display := s
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %q\n", i, display))
		}
		sb.WriteString("\n")
	}

	sites := c.loopSites()

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		if _, ok := sites[offset]; ok {
			sb.WriteString(fmt.Sprintf("L%04X:\n", offset))
		}
		line, instrLen := c.disassembleInstruction(offset)
		sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		offset += instrLen
	}

	return sb.String()
}

// disassembleInstruction formats the instruction at offset and returns it
// together with the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)

	if info.OperandLen > 0 && offset+info.OperandLen >= len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConst, OpGetProperty:
		idx := c.readUint16(offset + 1)
		value := ""
		if int(idx) < len(c.Constants) {
			value = c.Constants[idx]
		}
		return fmt.Sprintf("%s %d ; %q", info.Name, idx, value), 3

	case OpLoadArg:
		slot := int(c.Code[offset+1])
		if slot < len(c.ArgNames) {
			return fmt.Sprintf("LOAD_ARG %d ; %s", slot, c.ArgNames[slot]), 2
		}
		return fmt.Sprintf("LOAD_ARG %d", slot), 2

	case OpJump, OpJumpUnless, OpIterate:
		delta := c.readInt16(offset + 1)
		return fmt.Sprintf("%s %+d (-> %04X)", info.Name, delta, c.RelativeTarget(offset)), 3

	case OpEnterList:
		delta := c.readInt16(offset + 1)
		return fmt.Sprintf("ENTER_LIST %+d (site L%04X)", delta, c.RelativeTarget(offset)), 3

	// Default: use info from table
	default:
		instrLen := 1 + info.OperandLen
		if info.OperandLen == 0 {
			return info.Name, instrLen
		}

		// Format operands generically
		operands := make([]string, 0, info.OperandLen)
		for i := 0; i < info.OperandLen; i++ {
			if offset+1+i < len(c.Code) {
				operands = append(operands, fmt.Sprintf("0x%02X", c.Code[offset+1+i]))
			}
		}
		return fmt.Sprintf("%s %s", info.Name, strings.Join(operands, " ")), instrLen
	}
}

// DisassembleInstruction returns a human-readable representation of a single instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	line, _ := c.disassembleInstruction(offset)
	return line
}

// loopSites returns the start offsets named by ENTER_LIST instructions.
func (c *Chunk) loopSites() map[int]struct{} {
	sites := make(map[int]struct{})
	offset := 0
	for offset < len(c.Code) {
		op := Opcode(c.Code[offset])
		if op == OpEnterList && offset+2 < len(c.Code) {
			sites[c.RelativeTarget(offset)] = struct{}{}
		}
		offset += op.InstructionLen()
	}
	return sites
}

// readUint16 reads a big-endian uint16 from the code at the given offset.
func (c *Chunk) readUint16(offset int) uint16 {
	if offset+1 >= len(c.Code) {
		return 0
	}
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// readInt16 reads a big-endian int16 from the code at the given offset.
func (c *Chunk) readInt16(offset int) int16 {
	return int16(c.readUint16(offset))
}

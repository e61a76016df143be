package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for bytecode files: "LVBC" (ListVM ByteCode)
var BytecodeMagic = []byte{'L', 'V', 'B', 'C'}

// ChunkFlags contains compilation flags for a chunk.
type ChunkFlags uint16

// ChunkFlagHasLists indicates the chunk contains list opcodes.
const ChunkFlagHasLists ChunkFlags = 1 << 1

// Chunk is a compiled render program: the instruction stream for one
// template plus its constant pool.
type Chunk struct {
	// Header
	Version uint16     // Bytecode format version
	Flags   ChunkFlags // Compilation flags

	// Code section
	Code []byte // Bytecode instructions

	// Constant pool - key paths and property names referenced by OpConst
	// and OpGetProperty
	Constants []string

	// Render arguments reachable through OpLoadArg
	ArgCount uint8
	ArgNames []string
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk() *Chunk {
	return &Chunk{
		Version:   BytecodeVersion,
		Code:      make([]byte, 0, 64),
		Constants: make([]string, 0, 8),
	}
}

// AddConstant adds a string constant to the pool and returns its index.
// If the constant already exists, returns the existing index.
func (c *Chunk) AddConstant(value string) uint16 {
	for i, s := range c.Constants {
		if s == value {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, value)
	return idx
}

// AddArg declares a render argument and returns its slot.
func (c *Chunk) AddArg(name string) uint8 {
	idx := uint8(len(c.ArgNames))
	c.ArgNames = append(c.ArgNames, name)
	c.ArgCount = uint8(len(c.ArgNames))
	return idx
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.noteOp(op)
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	c.noteOp(op)
	return offset
}

// EmitConstant emits an OpConst instruction for the given value.
// Adds the constant to the pool if not already present.
func (c *Chunk) EmitConstant(value string) int {
	idx := c.AddConstant(value)
	return c.EmitWithOperand(OpConst, byte(idx>>8), byte(idx))
}

// EmitGetProperty emits an OpGetProperty for path.
func (c *Chunk) EmitGetProperty(path string) int {
	idx := c.AddConstant(path)
	return c.EmitWithOperand(OpGetProperty, byte(idx>>8), byte(idx))
}

// EmitJump emits an instruction with a relative i16 operand set to a
// placeholder. Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF) // Placeholder
	c.noteOp(op)
	return offset + 1 // Return offset of the placeholder bytes
}

// PatchJumpTo patches a jump to go to a specific offset.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) error {
	// Calculate relative jump from after the 2-byte offset
	jumpFrom := placeholderOffset + 2
	delta := target - jumpFrom
	if delta < -32768 || delta > 32767 {
		return fmt.Errorf("jump from %d to %d does not fit in 16 bits", jumpFrom, target)
	}

	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
	return nil
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// RelativeTarget resolves the i16 operand of the instruction at offset to
// an absolute code offset.
func (c *Chunk) RelativeTarget(offset int) int {
	return offset + 3 + int(c.readInt16(offset+1))
}

func (c *Chunk) noteOp(op Opcode) {
	if op.IsListOp() {
		c.Flags |= ChunkFlagHasLists
	}
}

// Serialize encodes the chunk in the LVBC format:
//
//	magic "LVBC" | version u16 | flags u16
//	code_len u32 | code
//	const_count u16 | (len u16, bytes)...
//	arg_count u8 | (len u8, bytes)...
//
// All integers are big-endian.
func (c *Chunk) Serialize() ([]byte, error) {
	if len(c.Constants) > 0xFFFF {
		return nil, fmt.Errorf("too many constants: %d", len(c.Constants))
	}
	if len(c.ArgNames) != int(c.ArgCount) {
		return nil, fmt.Errorf("argument count %d does not match %d names", c.ArgCount, len(c.ArgNames))
	}

	buf := make([]byte, 0, 16+len(c.Code)+len(c.Constants)*16)
	buf = append(buf, BytecodeMagic...)
	buf = binary.BigEndian.AppendUint16(buf, c.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Flags))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Constants)))
	for _, s := range c.Constants {
		if len(s) > 0xFFFF {
			return nil, fmt.Errorf("constant too long: %d bytes", len(s))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}

	buf = append(buf, c.ArgCount)
	for _, name := range c.ArgNames {
		if len(name) > 0xFF {
			return nil, fmt.Errorf("argument name too long: %q", name)
		}
		buf = append(buf, byte(len(name)))
		buf = append(buf, name...)
	}
	return buf, nil
}

// decoder walks an LVBC buffer. The first failed read sets err; later
// reads return zero values.
type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) take(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if n > len(d.data)-d.pos {
		d.err = fmt.Errorf("unexpected end of bytecode reading %s at %d", what, d.pos)
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) u8(what string) uint8 {
	if b := d.take(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16(what string) uint16 {
	if b := d.take(2, what); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32(what string) uint32 {
	if b := d.take(4, what); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// Deserialize decodes a chunk written by Serialize. It checks the framing
// only; run Verify before executing the result.
func Deserialize(data []byte) (*Chunk, error) {
	d := &decoder{data: data}
	if magic := d.take(len(BytecodeMagic), "magic"); magic == nil {
		return nil, fmt.Errorf("bytecode too short: %d bytes", len(data))
	} else if !bytes.Equal(magic, BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, magic)
	}

	c := &Chunk{
		Version: d.u16("version"),
		Flags:   ChunkFlags(d.u16("flags")),
	}
	if d.err == nil && c.Version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", c.Version, BytecodeVersion)
	}

	codeLen := d.u32("code length")
	c.Code = bytes.Clone(d.take(int(codeLen), "code"))

	c.Constants = make([]string, d.u16("constant count"))
	for i := range c.Constants {
		n := d.u16(fmt.Sprintf("constant %d length", i))
		c.Constants[i] = string(d.take(int(n), fmt.Sprintf("constant %d", i)))
	}

	c.ArgCount = d.u8("argument count")
	c.ArgNames = make([]string, c.ArgCount)
	for i := range c.ArgNames {
		n := d.u8(fmt.Sprintf("argument %d length", i))
		c.ArgNames[i] = string(d.take(int(n), fmt.Sprintf("argument %d", i)))
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after bytecode", len(data)-d.pos)
	}
	if c.Code == nil {
		c.Code = []byte{}
	}
	return c, nil
}

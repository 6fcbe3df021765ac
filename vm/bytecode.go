package gvm

import "fmt"

/*
	Chunk is the unit of compiled bytecode handed to the interpreter and,
	through it, to the JIT (spec §3 "Bytecode unit (chunk)"). Unlike the
	32-register/byte-stack machine this package was bootstrapped from, a
	Chunk's Code is a flat byte vector of one-byte opcodes with inline
	operands, giving instructions of 1, 2, 3, 5 or 6 bytes - this is the
	exact wire format the JIT boundary (spec §6) requires, so the layout
	below is load-bearing, not just style:

		ForCount  is 6 bytes: opcode, counter-slot, end-slot, iter-slot, exit-hi, exit-lo
		ForLoop   is 5 bytes: opcode, iterable-slot, iter-slot, exit-hi, exit-lo
		Loop      is 3 bytes: opcode, back-hi, back-lo
		Jmp/JmpFalse are 3 bytes: opcode, offset-hi, offset-lo
		local/global/upvalue access are 2 bytes: opcode, slot
		constant loads are 2 bytes: opcode, 1-byte constant-pool index
		Call/TailCall/Invoke are 2/2/3 bytes: opcode, arg count (Invoke also
		carries a method-name const index)
		Dup (stack depth), NewArray (element count) and GetField/SetField
		(field-name const index) are 2 bytes; Write is 3 bytes: opcode,
		port, command
		everything else (arithmetic, comparisons, Pop and the other stack
		ops, Return, Halt, Print) is a bare 1-byte opcode

	Locals are addressed by slot index into the active frame's flat Value
	array (the "locals-base" the JIT compiles against). Globals are
	addressed the same way into a single flat globals array; the slot is
	resolved once at compile time from a constant-pool string name, so by
	the time RecordStep ever sees a LoadGlobal/StoreGlobal the slot is
	already a plain array index (spec §4.5 "the slot index was resolved
	from a constant-pool string key at recording time").
*/

type Op byte

const (
	OpNop Op = 0x00

	// Stack / constants
	OpConstant Op = 0x01 // opcode, 1-byte const index
	OpTrue     Op = 0x02
	OpFalse    Op = 0x03
	OpNilVal   Op = 0x04
	OpPop      Op = 0x05
	OpDup      Op = 0x06

	// Local / global / upvalue accessors
	OpLoadLocal    Op = 0x10 // opcode, slot
	OpStoreLocal   Op = 0x11 // opcode, slot
	OpLoadGlobal   Op = 0x12 // opcode, slot
	OpStoreGlobal  Op = 0x13 // opcode, slot
	OpLoadUpvalue  Op = 0x14 // opcode, slot
	OpStoreUpvalue Op = 0x15 // opcode, slot

	// Arithmetic: generic (dynamically dispatches on operand type at
	// interpret time) and integer-specialized fast variants the compiler
	// emits when it can prove both operands are already ints.
	OpAdd    Op = 0x20
	OpSub    Op = 0x21
	OpMul    Op = 0x22
	OpDiv    Op = 0x23
	OpMod    Op = 0x24
	OpNeg    Op = 0x25
	OpAddInt Op = 0x26
	OpSubInt Op = 0x27
	OpMulInt Op = 0x28
	OpDivInt Op = 0x29
	OpModInt Op = 0x2A

	// Bitwise / logical
	OpNot    Op = 0x30
	OpAnd    Op = 0x31
	OpOr     Op = 0x32
	OpXor    Op = 0x33
	OpShiftL Op = 0x34
	OpShiftR Op = 0x35

	// Comparisons
	OpEq        Op = 0x40
	OpNotEq     Op = 0x41
	OpLess      Op = 0x42
	OpLessEq    Op = 0x43
	OpGreater   Op = 0x44
	OpGreaterEq Op = 0x45

	// Control flow
	OpJmp      Op = 0x50 // opcode, offset-hi, offset-lo (forward)
	OpJmpFalse Op = 0x51 // opcode, offset-hi, offset-lo (forward, pops condition)
	OpLoop     Op = 0x52 // opcode, back-hi, back-lo - the dedicated back-edge opcode
	OpForCount Op = 0x53 // opcode, counter-slot, end-slot, iter-slot, exit-hi, exit-lo
	OpForLoop  Op = 0x54 // opcode, iterable-slot, iter-slot, exit-hi, exit-lo

	// Calls
	OpCall     Op = 0x60 // opcode, arg count
	OpTailCall Op = 0x61 // opcode, arg count
	OpInvoke   Op = 0x62 // opcode, 1-byte method-name const index, arg count
	OpReturn   Op = 0x63

	// Object ops
	OpNewArray Op = 0x70 // opcode, element count
	OpNewDict  Op = 0x71
	OpGetIndex Op = 0x72
	OpSetIndex Op = 0x73
	OpGetField Op = 0x74 // opcode, 1-byte const index (field name)
	OpSetField Op = 0x75 // opcode, 1-byte const index (field name)
	OpLen      Op = 0x76

	// Intrinsics
	OpPrint Op = 0xE0
	OpWrite Op = 0xE1 // opcode, device port, command - mirrors the teacher's hardware bus

	OpHalt Op = 0xFF
)

var opNames = map[Op]string{
	OpNop: "nop", OpConstant: "const", OpTrue: "true", OpFalse: "false", OpNilVal: "nil",
	OpPop: "pop", OpDup: "dup",
	OpLoadLocal: "load_local", OpStoreLocal: "store_local",
	OpLoadGlobal: "load_global", OpStoreGlobal: "store_global",
	OpLoadUpvalue: "load_upvalue", OpStoreUpvalue: "store_upvalue",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod", OpNeg: "neg",
	OpAddInt: "addi", OpSubInt: "subi", OpMulInt: "muli", OpDivInt: "divi", OpModInt: "modi",
	OpNot: "not", OpAnd: "and", OpOr: "or", OpXor: "xor", OpShiftL: "shl", OpShiftR: "shr",
	OpEq: "eq", OpNotEq: "neq", OpLess: "lt", OpLessEq: "le", OpGreater: "gt", OpGreaterEq: "ge",
	OpJmp: "jmp", OpJmpFalse: "jmp_false", OpLoop: "loop", OpForCount: "for_count", OpForLoop: "for_loop",
	OpCall: "call", OpTailCall: "tail_call", OpInvoke: "invoke", OpReturn: "return",
	OpNewArray: "new_array", OpNewDict: "new_dict", OpGetIndex: "get_index", OpSetIndex: "set_index",
	OpGetField: "get_field", OpSetField: "set_field", OpLen: "len",
	OpPrint: "print", OpWrite: "write", OpHalt: "halt",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "?unknown?"
}

// OperandBytes returns how many bytes of operand follow the opcode byte
// itself (0 for bare single-byte instructions).
func (o Op) OperandBytes() int {
	switch o {
	case OpConstant, OpLoadLocal, OpStoreLocal, OpLoadGlobal, OpStoreGlobal,
		OpLoadUpvalue, OpStoreUpvalue, OpCall, OpTailCall, OpNewArray,
		OpGetField, OpSetField, OpDup:
		return 1
	case OpJmp, OpJmpFalse, OpLoop, OpInvoke, OpWrite:
		return 2
	case OpForCount:
		return 5
	case OpForLoop:
		return 4
	default:
		return 0
	}
}

// IsBackEdgeOp reports whether o is the dedicated back-edge opcode the
// interpreter's dispatcher uses to call into JIT.OnBackEdge (spec §4.1/§6).
func (o Op) IsBackEdgeOp() bool { return o == OpLoop }

// lineRun run-length encodes "byte offset N..M came from source line L",
// avoiding one int per bytecode byte for the common case of many bytes per
// source line.
type lineRun struct {
	startOffset int
	line        int
}

// Chunk is a compiled unit: bytecode, its constants pool, and line info
// for diagnostics. Constants pool indices recorded into trace IR (spec §3
// invariant) always refer back to the Chunk that was live at recording
// time - chunks are never mutated in place once installed, only replaced.
type Chunk struct {
	Code      []byte
	Constants []Value
	Names     []string // debug names for globals/locals, indexed by slot
	lines     []lineRun
	NumLocals int

	// constHeap owns any heap object (currently: interned strings) created
	// for a constant-pool entry at compile time. A VM loading this Chunk
	// adopts constHeap as the base of its own runtime Heap, so constant
	// string Values stay valid handles once execution starts.
	constHeap *Heap
}

func NewChunk() *Chunk {
	return &Chunk{constHeap: newHeap()}
}

// internString creates (or reuses the handle for) a compile-time string
// constant. Strings aren't deduplicated across calls - the constant pool
// is small and compiled once, so the extra handle is cheaper than a scan.
func (c *Chunk) internString(s string) Value {
	return c.constHeap.NewString(s)
}

// emit appends opcode o (and zero operand bytes) at the given source line.
func (c *Chunk) emit(o Op, line int) int {
	c.markLine(line)
	c.Code = append(c.Code, byte(o))
	return len(c.Code) - 1
}

func (c *Chunk) emitByte(b byte) {
	c.Code = append(c.Code, b)
}

func (c *Chunk) emitU16(v uint16) {
	c.Code = append(c.Code, byte(v>>8), byte(v))
}

func (c *Chunk) markLine(line int) {
	if len(c.lines) == 0 || c.lines[len(c.lines)-1].line != line {
		c.lines = append(c.lines, lineRun{startOffset: len(c.Code), line: line})
	}
}

// LineFor returns the source line responsible for the byte at offset.
func (c *Chunk) LineFor(offset int) int {
	line := 0
	for _, run := range c.lines {
		if run.startOffset > offset {
			break
		}
		line = run.line
	}
	return line
}

// AddConstant interns v into the constants pool and returns its index.
// Indices are 1 byte (spec §6), so a Chunk is capped at 256 constants.
func (c *Chunk) AddConstant(v Value) (byte, error) {
	if len(c.Constants) >= 256 {
		return 0, fmt.Errorf("constants pool exhausted (limit 256)")
	}
	c.Constants = append(c.Constants, v)
	return byte(len(c.Constants) - 1), nil
}

// patchU16 overwrites the 2-byte big-endian operand starting at offset.
// The two-pass assembler in compile.go knows every jump distance before
// emitting, so it does not call this.
func (c *Chunk) patchU16(offset int, v uint16) {
	c.Code[offset] = byte(v >> 8)
	c.Code[offset+1] = byte(v)
}

func readU16(code []byte, at int) uint16 {
	return uint16(code[at])<<8 | uint16(code[at+1])
}

// Disassemble renders the chunk in a human-readable form, extending the
// teacher's printProgram/formatInstructionStr debug aid to the new
// byte-stream format. It only ever sees interpreter bytecode; recorded
// traces are not printed.
func (c *Chunk) Disassemble(name string) string {
	out := fmt.Sprintf("== %s ==\n", name)
	offset := 0
	for offset < len(c.Code) {
		out += c.disassembleInstruction(offset)
		offset = c.nextOffset(offset)
	}
	return out
}

func (c *Chunk) nextOffset(offset int) int {
	op := Op(c.Code[offset])
	return offset + 1 + op.OperandBytes()
}

func (c *Chunk) disassembleInstruction(offset int) string {
	op := Op(c.Code[offset])
	line := c.LineFor(offset)
	switch op {
	case OpConstant, OpGetField, OpSetField:
		idx := c.Code[offset+1]
		return fmt.Sprintf("%04d line %d  %-12s const[%d] = %v\n", offset, line, op, idx, c.constAt(idx))
	case OpLoadLocal, OpStoreLocal, OpLoadGlobal, OpStoreGlobal, OpLoadUpvalue, OpStoreUpvalue, OpCall, OpTailCall, OpNewArray, OpDup:
		return fmt.Sprintf("%04d line %d  %-12s %d\n", offset, line, op, c.Code[offset+1])
	case OpJmp, OpJmpFalse:
		off := readU16(c.Code, offset+1)
		return fmt.Sprintf("%04d line %d  %-12s -> %04d\n", offset, line, op, offset+3+int(off))
	case OpLoop:
		off := readU16(c.Code, offset+1)
		return fmt.Sprintf("%04d line %d  %-12s -> %04d\n", offset, line, op, offset+3-int(off))
	case OpForCount:
		counter, end, iter := c.Code[offset+1], c.Code[offset+2], c.Code[offset+3]
		exit := readU16(c.Code, offset+4)
		return fmt.Sprintf("%04d line %d  %-12s counter=%d end=%d iter=%d exit=%04d\n",
			offset, line, op, counter, end, iter, offset+6+int(exit))
	case OpForLoop:
		iterable, iter := c.Code[offset+1], c.Code[offset+2]
		exit := readU16(c.Code, offset+3)
		return fmt.Sprintf("%04d line %d  %-12s iterable=%d iter=%d exit=%04d\n",
			offset, line, op, iterable, iter, offset+5+int(exit))
	case OpInvoke:
		idx, argc := c.Code[offset+1], c.Code[offset+2]
		return fmt.Sprintf("%04d line %d  %-12s const[%d] argc=%d\n", offset, line, op, idx, argc)
	case OpWrite:
		port, cmd := c.Code[offset+1], c.Code[offset+2]
		return fmt.Sprintf("%04d line %d  %-12s port=%d cmd=%d\n", offset, line, op, port, cmd)
	default:
		return fmt.Sprintf("%04d line %d  %s\n", offset, line, op)
	}
}

func (c *Chunk) constAt(idx byte) Value {
	if int(idx) < len(c.Constants) {
		return c.Constants[idx]
	}
	return Nil
}

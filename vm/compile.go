package gvm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// mnemonicToOp is the inverse of opNames, built once at init time the same
// way the teacher's strToInstrMap is built.
var mnemonicToOp map[string]Op

func init() {
	mnemonicToOp = make(map[string]Op, len(opNames))
	for op, name := range opNames {
		mnemonicToOp[name] = op
	}
}

// Compile assembles source text into a Chunk. The dialect is a flat,
// line-oriented assembly: one mnemonic per line, optional textual operands,
// ';' comments, and "label:" lines resolved into jump targets - the same
// shape as the interpreter's original assembler, generalized to the new
// byte-coded instruction set and its label-only (no raw line-index) jump
// targets.
func Compile(source string) (*Chunk, error) {
	lines, labels, err := preprocess(source)
	if err != nil {
		return nil, errors.Wrap(err, "preprocess")
	}

	asm := &assembler{chunk: NewChunk(), labels: labels}

	// Pass 1: compute the byte length of every instruction so label byte
	// offsets are known before any operand (in particular, a jump distance)
	// has to be encoded - this makes jump encoding a single forward pass
	// with no backpatching.
	offsets := make([]int, len(lines)+1)
	pos := 0
	for i, ln := range lines {
		op, ok := mnemonicToOp[ln.mnemonic]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown mnemonic %q", ln.sourceNo, ln.mnemonic)
		}
		offsets[i] = pos
		pos += 1 + op.OperandBytes()
	}
	offsets[len(lines)] = pos

	labelByteOffset := make(map[string]int, len(labels))
	for name, idx := range labels {
		if idx < 0 || idx > len(lines) {
			return nil, fmt.Errorf("label %q points past end of program", name)
		}
		labelByteOffset[name] = offsets[idx]
	}
	asm.labelOffsets = labelByteOffset

	// Pass 2: emit.
	for i, ln := range lines {
		if err := asm.assembleLine(ln, offsets[i]); err != nil {
			return nil, errors.Wrapf(err, "line %d", ln.sourceNo)
		}
	}

	asm.chunk.NumLocals = asm.maxLocalSlot + 1
	return asm.chunk, nil
}

type assembler struct {
	chunk        *Chunk
	labels       map[string]int
	labelOffsets map[string]int
	maxLocalSlot int
}

func (a *assembler) assembleLine(ln rawLine, selfOffset int) error {
	op, ok := mnemonicToOp[ln.mnemonic]
	if !ok {
		return fmt.Errorf("unknown mnemonic %q", ln.mnemonic)
	}

	a.chunk.emit(op, ln.sourceNo)

	switch op {
	case OpConstant:
		idx, err := a.internConstant(ln.args)
		if err != nil {
			return err
		}
		a.chunk.emitByte(idx)

	case OpLoadLocal, OpStoreLocal, OpLoadUpvalue, OpStoreUpvalue:
		slot, err := a.requireByteArg(ln)
		if err != nil {
			return err
		}
		if op == OpLoadLocal || op == OpStoreLocal {
			if int(slot) > a.maxLocalSlot {
				a.maxLocalSlot = int(slot)
			}
		}
		a.chunk.emitByte(slot)

	case OpLoadGlobal, OpStoreGlobal:
		slot, err := a.globalSlot(ln)
		if err != nil {
			return err
		}
		a.chunk.emitByte(slot)

	case OpCall, OpTailCall, OpNewArray, OpDup:
		n, err := a.requireByteArg(ln)
		if err != nil {
			return err
		}
		a.chunk.emitByte(n)

	case OpGetField, OpSetField:
		if len(ln.args) != 1 {
			return fmt.Errorf("%s requires one field-name argument", op)
		}
		idx, err := a.chunk.AddConstant(a.chunk.internString(strings.Trim(ln.args[0], "\"")))
		if err != nil {
			return err
		}
		a.chunk.emitByte(idx)

	case OpJmp, OpJmpFalse:
		target, err := a.requireLabel(ln)
		if err != nil {
			return err
		}
		rel := target - (selfOffset + 3)
		if rel < 0 {
			return fmt.Errorf("%s target %q is behind the jump; use loop instead", op, ln.args[0])
		}
		a.chunk.emitU16(uint16(rel))

	case OpLoop:
		target, err := a.requireLabel(ln)
		if err != nil {
			return err
		}
		back := (selfOffset + 3) - target
		if back < 0 {
			return fmt.Errorf("loop target %q is ahead of the loop instruction", ln.args[0])
		}
		a.chunk.emitU16(uint16(back))

	case OpForCount:
		if len(ln.args) != 4 {
			return fmt.Errorf("for_count requires counter, end, iter slots and an exit label")
		}
		counter, err := parseByte(ln.args[0])
		if err != nil {
			return err
		}
		end, err := parseByte(ln.args[1])
		if err != nil {
			return err
		}
		iter, err := parseByte(ln.args[2])
		if err != nil {
			return err
		}
		target, ok := a.labelOffsets[ln.args[3]]
		if !ok {
			return fmt.Errorf("unknown label %q", ln.args[3])
		}
		exit := target - (selfOffset + 6)
		if exit < 0 {
			return fmt.Errorf("for_count exit label %q must be after the loop", ln.args[3])
		}
		a.chunk.emitByte(counter)
		a.chunk.emitByte(end)
		a.chunk.emitByte(iter)
		a.chunk.emitU16(uint16(exit))
		if int(iter) > a.maxLocalSlot {
			a.maxLocalSlot = int(iter)
		}

	case OpForLoop:
		if len(ln.args) != 3 {
			return fmt.Errorf("for_loop requires iterable slot, iter slot and an exit label")
		}
		iterable, err := parseByte(ln.args[0])
		if err != nil {
			return err
		}
		iter, err := parseByte(ln.args[1])
		if err != nil {
			return err
		}
		target, ok := a.labelOffsets[ln.args[2]]
		if !ok {
			return fmt.Errorf("unknown label %q", ln.args[2])
		}
		exit := target - (selfOffset + 5)
		if exit < 0 {
			return fmt.Errorf("for_loop exit label %q must be after the loop", ln.args[2])
		}
		a.chunk.emitByte(iterable)
		a.chunk.emitByte(iter)
		a.chunk.emitU16(uint16(exit))

	case OpInvoke:
		if len(ln.args) != 2 {
			return fmt.Errorf("invoke requires a method name and an arg count")
		}
		idx, err := a.chunk.AddConstant(a.chunk.internString(strings.Trim(ln.args[0], "\"")))
		if err != nil {
			return err
		}
		argc, err := parseByte(ln.args[1])
		if err != nil {
			return err
		}
		a.chunk.emitByte(idx)
		a.chunk.emitByte(argc)

	case OpWrite:
		if len(ln.args) != 2 {
			return fmt.Errorf("write requires a port and a command")
		}
		port, err := parseByte(ln.args[0])
		if err != nil {
			return err
		}
		cmd, err := parseByte(ln.args[1])
		if err != nil {
			return err
		}
		a.chunk.emitByte(port)
		a.chunk.emitByte(cmd)

	default:
		if len(ln.args) != 0 {
			return fmt.Errorf("%s takes no arguments", op)
		}
	}

	return nil
}

func (a *assembler) requireByteArg(ln rawLine) (byte, error) {
	if len(ln.args) != 1 {
		return 0, fmt.Errorf("%s requires exactly one argument", ln.mnemonic)
	}
	return parseByte(ln.args[0])
}

func (a *assembler) requireLabel(ln rawLine) (int, error) {
	if len(ln.args) != 1 {
		return 0, fmt.Errorf("%s requires exactly one label argument", ln.mnemonic)
	}
	target, ok := a.labelOffsets[ln.args[0]]
	if !ok {
		return 0, fmt.Errorf("unknown label %q", ln.args[0])
	}
	return target, nil
}

// globalSlot resolves a global's name to a stable slot index, interning a
// new slot the first time the name is seen - by the time this opcode
// reaches the interpreter (and, through it, the JIT recorder) it carries
// only a plain array index.
func (a *assembler) globalSlot(ln rawLine) (byte, error) {
	if len(ln.args) != 1 {
		return 0, fmt.Errorf("%s requires exactly one name argument", ln.mnemonic)
	}
	name := strings.Trim(ln.args[0], "\"")
	for i, existing := range a.chunk.Names {
		if existing == name {
			return byte(i), nil
		}
	}
	if len(a.chunk.Names) >= 256 {
		return 0, errors.New("global slot table exhausted (limit 256)")
	}
	a.chunk.Names = append(a.chunk.Names, name)
	return byte(len(a.chunk.Names) - 1), nil
}

func (a *assembler) internConstant(args []string) (byte, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("const requires exactly one argument")
	}
	v, err := a.parseConstantLiteral(args[0])
	if err != nil {
		return 0, err
	}
	return a.chunk.AddConstant(v)
}

func (a *assembler) parseConstantLiteral(arg string) (Value, error) {
	switch {
	case arg == "true":
		return Bool(true), nil
	case arg == "false":
		return Bool(false), nil
	case arg == "nil":
		return Nil, nil
	case strings.HasPrefix(arg, "\""):
		return a.chunk.internString(strings.Trim(arg, "\"")), nil
	case strings.HasPrefix(arg, "'"):
		runes := []rune(arg)
		if len(runes) != 3 {
			return Nil, errors.New("character literal must be exactly one rune")
		}
		return Int(int32(runes[1])), nil
	case strings.Contains(arg, "."):
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return Nil, err
		}
		return Double(f), nil
	default:
		base := 10
		if strings.HasPrefix(arg, "0x") {
			base, arg = 16, strings.TrimPrefix(arg, "0x")
		}
		n, err := strconv.ParseInt(arg, base, 32)
		if err != nil {
			return Nil, err
		}
		return Int(int32(n)), nil
	}
}

func parseByte(s string) (byte, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("expected a small integer, got %q", s)
	}
	return byte(n), nil
}

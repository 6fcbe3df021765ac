// Package recorder implements the single-shot trace-recording state
// machine: given a loop header offset the detector has just reported hot,
// it walks the interpreter's bytecode one instruction at a time -
// mirroring exactly what the interpreter itself would execute - and
// emits a linear SSA ir.Buffer, aborting back to pure interpretation the
// moment it meets an operation outside the traceable subset.
package recorder

import (
	"errors"

	"gvmjit/internal/jit/ir"
	gvm "gvmjit/vm"
)

// Abort conditions the recorder gives up on; each is returned verbatim to
// the caller, which marks the loop header uncompilable in the detector
// rather than retrying every subsequent back edge.
var (
	ErrTraceTooLong  = errors.New("trace exceeded max instruction budget")
	ErrUnsupportedOp = errors.New("bytecode op has no trace translation")
	ErrNestedCall    = errors.New("function calls inside a hot loop are not traced")
	ErrObjectOp      = errors.New("heap object operations are not traced")
	ErrDeviceIO      = errors.New("device I/O is not traced")
	ErrMultiExitLoop = errors.New("loop has more than one side exit candidate")
)

// MaxInstructions bounds how long a single recording pass may run before
// it's abandoned - this is the recorder's half of the "loops are bounded
// both in iteration count and in recorded size" contract; the other half
// (iteration count) is the detector's compile threshold.
const MaxInstructions = 4096

type localState struct {
	vreg  ir.VReg
	known bool
}

// state carries the recorder's operand-stack and local/global vreg
// bindings across the single linear walk Record performs. The operand
// stack mirrors the interpreter's value stack shape-for-shape - every
// opcode that pushes or pops values at runtime pushes or pops the same
// number of vregs here - so a binary op's operands are always the two
// vregs it actually consumed, not whatever was emitted most recently.
type state struct {
	buf    *ir.Buffer
	stack  []ir.VReg
	locals map[byte]*localState
	globals map[byte]*localState
	exitGuards int
}

func (s *state) push(v ir.VReg) { s.stack = append(s.stack, v) }

func (s *state) pop() ir.VReg {
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v
}

// guardInt emits a type guard on v, bailing out to the interpreter at
// offset if v doesn't hold a tagged int at execution time. Every value
// that enters a trace from outside (a local or global read the trace
// hasn't itself produced) needs one of these, since the recorder only
// ever lowers integer arithmetic - nothing upstream has already checked
// the value's runtime type the way the interpreter's tagged dispatch
// does implicitly.
func (s *state) guardInt(v ir.VReg, offset int) {
	snap := s.buf.AddSnapshot(offset, snapshotSlots(s.locals), snapshotSlots(s.globals))
	s.buf.EmitGuard(ir.OpGuardInt, v, snap)
}

// Record walks chunk's bytecode starting at loopHeader (the target offset
// of the loop's OpLoop back edge, so the walk includes the loop's own exit
// test) until it reaches the matching OpLoop back edge, translating each
// instruction into an ir.Buffer. It returns the completed buffer or one of
// the Err* sentinels above if the loop falls outside the traceable subset.
// OpForCount and OpForLoop have no translation: a loop whose header is one
// of them aborts with ErrUnsupportedOp.
func Record(vm *gvm.VM, chunk *gvm.Chunk, loopHeader int32) (*ir.Buffer, error) {
	buf := ir.NewBuffer(loopHeader, 64)
	buf.NumLocals = chunk.NumLocals

	s := &state{
		buf:     buf,
		locals:  make(map[byte]*localState),
		globals: make(map[byte]*localState),
	}

	offset := int(loopHeader)
	code := chunk.Code

	for {
		if buf.Len() > MaxInstructions {
			return nil, ErrTraceTooLong
		}
		if offset >= len(code) {
			return nil, ErrUnsupportedOp
		}

		op := gvm.Op(code[offset])
		next := offset + 1 + op.OperandBytes()

		switch op {
		case gvm.OpConstant:
			idx := code[offset+1]
			v := chunk.Constants[idx]
			if !v.IsInt() {
				return nil, ErrUnsupportedOp
			}
			s.push(s.buf.EmitConst(int64(v.AsInt())))

		case gvm.OpLoadLocal:
			slot := code[offset+1]
			ls, ok := s.locals[slot]
			if !ok {
				vreg := s.buf.Emit(ir.OpLoadLocal, -1, -1, int64(slot))
				s.guardInt(vreg, offset)
				ls = &localState{vreg: vreg, known: true}
				s.locals[slot] = ls
			}
			s.push(ls.vreg)

		case gvm.OpStoreLocal:
			slot := code[offset+1]
			v := s.pop()
			s.buf.Emit(ir.OpStoreLocal, v, -1, int64(slot))
			s.locals[slot] = &localState{vreg: v, known: true}

		case gvm.OpLoadGlobal:
			slot := code[offset+1]
			ls, ok := s.globals[slot]
			if !ok {
				vreg := s.buf.Emit(ir.OpLoadGlobal, -1, -1, int64(slot))
				s.guardInt(vreg, offset)
				ls = &localState{vreg: vreg, known: true}
				s.globals[slot] = ls
			}
			s.push(ls.vreg)

		case gvm.OpStoreGlobal:
			slot := code[offset+1]
			v := s.pop()
			s.buf.Emit(ir.OpStoreGlobal, v, -1, int64(slot))
			s.globals[slot] = &localState{vreg: v, known: true}

		case gvm.OpAdd, gvm.OpAddInt:
			b, a := s.pop(), s.pop()
			s.push(s.buf.Emit(ir.OpAddI, a, b, 0))
		case gvm.OpSub, gvm.OpSubInt:
			b, a := s.pop(), s.pop()
			s.push(s.buf.Emit(ir.OpSubI, a, b, 0))
		case gvm.OpMul, gvm.OpMulInt:
			b, a := s.pop(), s.pop()
			s.push(s.buf.Emit(ir.OpMulI, a, b, 0))

		case gvm.OpLess:
			b, a := s.pop(), s.pop()
			s.push(s.buf.Emit(ir.OpLessI, a, b, 0))
		case gvm.OpLessEq:
			b, a := s.pop(), s.pop()
			s.push(s.buf.Emit(ir.OpLessEqI, a, b, 0))
		case gvm.OpGreater:
			b, a := s.pop(), s.pop()
			s.push(s.buf.Emit(ir.OpGreaterI, a, b, 0))
		case gvm.OpEq:
			b, a := s.pop(), s.pop()
			s.push(s.buf.Emit(ir.OpEqI, a, b, 0))

		case gvm.OpJmpFalse:
			s.exitGuards++
			if s.exitGuards > 1 {
				return nil, ErrMultiExitLoop
			}
			cond := s.pop()
			snap := s.buf.AddSnapshot(offset, snapshotSlots(s.locals), snapshotSlots(s.globals))
			s.buf.EmitGuard(ir.OpGuardBool, cond, snap)

		case gvm.OpJmp:
			// A forward jump inside the loop body (e.g. an if/else
			// join) is fine as long as it doesn't leave the loop;
			// callers only ever pass loop bodies shaped like the
			// compiler's straight-line ForCount/ForLoop templates, so
			// this is conservatively rejected rather than chased.
			return nil, ErrUnsupportedOp

		case gvm.OpLoop:
			back := readBackOffset(code, offset+1)
			target := offset + 3 - back
			if int32(target) == loopHeader {
				snap := s.buf.AddSnapshot(offset, snapshotSlots(s.locals), snapshotSlots(s.globals))
				s.buf.Emit(ir.OpSideExit, -1, -1, int64(snap))
				return buf, nil
			}
			return nil, ErrUnsupportedOp

		case gvm.OpCall, gvm.OpTailCall, gvm.OpInvoke, gvm.OpReturn:
			return nil, ErrNestedCall

		case gvm.OpNewArray, gvm.OpNewDict, gvm.OpGetIndex, gvm.OpSetIndex,
			gvm.OpGetField, gvm.OpSetField, gvm.OpLen:
			return nil, ErrObjectOp

		case gvm.OpWrite, gvm.OpPrint:
			return nil, ErrDeviceIO

		case gvm.OpNop:
			// no IR effect

		case gvm.OpPop:
			s.pop()

		case gvm.OpDup:
			n := int(code[offset+1])
			s.push(s.stack[len(s.stack)-1-n])

		default:
			return nil, ErrUnsupportedOp
		}

		offset = next
	}
}

// snapshotSlots flattens a slot->vreg binding map into a dense, slot-
// indexed slice suitable for ir.Snapshot, used for both the locals and
// globals halves of a snapshot. A slot this trace never bound is left
// at -1, the "do not restore" sentinel exec/jit.go checks for.
func snapshotSlots(slots map[byte]*localState) []ir.VReg {
	maxSlot := byte(0)
	for slot := range slots {
		if slot > maxSlot {
			maxSlot = slot
		}
	}
	out := make([]ir.VReg, int(maxSlot)+1)
	for i := range out {
		out[i] = -1
	}
	for slot, ls := range slots {
		out[slot] = ls.vreg
	}
	return out
}

func readBackOffset(code []byte, at int) int {
	return int(code[at])<<8 | int(code[at+1])
}

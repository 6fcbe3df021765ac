// Package ir defines the typed SSA intermediate form a trace is recorded
// into before register allocation and code generation. Buffers are
// flat, pre-sized, append-only arrays rather than a linked node graph -
// recording is a single linear pass over interpreted instructions with no
// back-patching of the IR itself (only bytecode jump targets are
// back-patched, at the Chunk level, long before a trace ever exists), so
// there is nothing a pointer-heavy graph would buy here.
package ir

// Kind discriminates the handful of SSA operations a recorded trace can
// contain. The set is intentionally small: it covers exactly the
// operations the interpreter's hot-path opcodes (arithmetic, comparisons,
// local/global load-store, the loop counter) can produce.
type Kind uint8

const (
	OpConst Kind = iota
	OpLoadLocal
	OpStoreLocal
	OpLoadGlobal
	OpStoreGlobal
	OpAddI
	OpSubI
	OpMulI
	OpAddF
	OpSubF
	OpMulF
	OpDivF
	OpLessI
	OpLessEqI
	OpGreaterI
	OpEqI
	OpGuardInt  // bails out to the interpreter if the vreg isn't a tagged int
	OpGuardBool // bails out if a comparison result isn't live as expected
	OpSideExit  // unconditional deopt, used for the trace's tail
)

func (k Kind) String() string {
	names := [...]string{
		"const", "load_local", "store_local", "load_global", "store_global",
		"addi", "subi", "muli", "addf", "subf", "mulf", "divf",
		"lessi", "lesseqi", "greateri", "eqi",
		"guard_int", "guard_bool", "side_exit",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "?unknown?"
}

// VReg is an index into a Buffer's value list - the SSA "register" every
// instruction either produces or reads.
type VReg int32

// Inst is one SSA instruction: its kind, up to two operand vregs, and an
// immediate (constant payload, local/global slot, or snapshot index,
// depending on Kind).
type Inst struct {
	Kind     Kind
	A, B     VReg
	Imm      int64
	Snapshot int32 // index into Buffer.Snapshots, or -1
}

// Snapshot captures enough interpreter state to resume execution if a
// guard anywhere after it fails: the bytecode offset to resume at, and
// which vreg holds the live value for each local/global slot at that
// point. A slot index with no corresponding live vreg is marked -1 and
// must be left untouched on restore rather than overwritten - the trace
// never recorded a value for it, so stomping it with a default would
// corrupt frame state the trace was never responsible for. A trace exit
// always resumes the *interpreter*, never another trace.
type Snapshot struct {
	ResumeOffset int
	LocalVRegs   []VReg
	GlobalVRegs  []VReg
}

// Buffer is one recorded trace: its instructions, constants, and exit
// snapshots, plus the loop header offset it was recorded from (the
// detector's key, reused here so the compiled trace can be looked up by
// the same key on future back edges).
type Buffer struct {
	LoopHeader int32

	Insts     []Inst
	Constants []int64
	Snapshots []Snapshot

	// constVRegs parallels Constants: constVRegs[i] is the vreg of the
	// OpConst instruction that produced Constants[i], so EmitConst's
	// dedup path can return a valid Insts index regardless of how many
	// other instructions have been emitted since that constant first
	// appeared.
	constVRegs []VReg

	// NumLocals is the width of the locals vector a snapshot's LocalVRegs
	// must match; kept alongside the buffer so codegen/exec don't need a
	// separate handle back to the Chunk that was recorded.
	NumLocals int
}

// NewBuffer preallocates room for a trace of roughly the given
// instruction count, avoiding reallocation during the (single-pass,
// append-only) recording walk.
func NewBuffer(loopHeader int32, estimatedInsts int) *Buffer {
	return &Buffer{
		LoopHeader: loopHeader,
		Insts:      make([]Inst, 0, estimatedInsts),
	}
}

// Emit appends an instruction and returns its vreg.
func (b *Buffer) Emit(kind Kind, a, b2 VReg, imm int64) VReg {
	b.Insts = append(b.Insts, Inst{Kind: kind, A: a, B: b2, Imm: imm, Snapshot: -1})
	return VReg(len(b.Insts) - 1)
}

// EmitConst interns an integer constant and emits the vreg that produces
// it, deduplicating against constants already in the pool so a trace with
// a literal appearing in multiple operations doesn't carry redundant
// OpConst instructions.
func (b *Buffer) EmitConst(v int64) VReg {
	for i, c := range b.Constants {
		if c == v {
			return b.constVRegs[i]
		}
	}
	b.Constants = append(b.Constants, v)
	vreg := b.Emit(OpConst, -1, -1, v)
	b.constVRegs = append(b.constVRegs, vreg)
	return vreg
}

// EmitGuard appends a guard instruction tied to snapshot idx - if the
// guard fails at execution time, the trace exits and the interpreter
// resumes from that snapshot's ResumeOffset.
func (b *Buffer) EmitGuard(kind Kind, v VReg, snapshot int32) VReg {
	r := b.Emit(kind, v, -1, 0)
	b.Insts[r].Snapshot = snapshot
	return r
}

// AddSnapshot records a new deopt point and returns its index.
func (b *Buffer) AddSnapshot(resumeOffset int, localVRegs, globalVRegs []VReg) int32 {
	b.Snapshots = append(b.Snapshots, Snapshot{ResumeOffset: resumeOffset, LocalVRegs: localVRegs, GlobalVRegs: globalVRegs})
	return int32(len(b.Snapshots) - 1)
}

// Len reports how many instructions have been recorded so far - used by
// the recorder's trace-length abort condition.
func (b *Buffer) Len() int { return len(b.Insts) }

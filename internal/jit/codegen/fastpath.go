package codegen

import "gvmjit/internal/jit/ir"

// FastPathPlan describes a recognized direct counting loop: a counter
// local fed into one comparison, and an accumulator local updated by a
// single arithmetic op per iteration. The plan records the two slots and
// the two op kinds only; the comparison's other operand is not recorded.
// A matched trace gets a dedicated lowering (fixed registers, no per-vreg
// allocation) instead of linear-scan's bookkeeping.
type FastPathPlan struct {
	CounterSlot     int64
	AccumulatorSlot int64
	CompareKind     ir.Kind
	ArithKind       ir.Kind
}

// RecognizeFastPath walks an already-built IR buffer looking for the
// normalized direct-loop shape: LoadLocal(counter) -> cmp(end) ->
// guard, LoadLocal(acc) op const/iter -> StoreLocal(acc), ..., SideExit.
// Anything outside this exact chain reports !ok, and the caller falls
// back to the general per-instruction backend instead.
func RecognizeFastPath(buf *ir.Buffer) (*FastPathPlan, bool) {
	insts := buf.Insts
	if len(insts) < 5 {
		return nil, false
	}

	i := 0
	if insts[i].Kind != ir.OpLoadLocal {
		return nil, false
	}
	counterSlot := insts[i].Imm
	i++

	switch insts[i].Kind {
	case ir.OpLessI, ir.OpLessEqI, ir.OpGreaterI, ir.OpEqI:
	default:
		return nil, false
	}
	cmpKind := insts[i].Kind
	i++

	if insts[i].Kind != ir.OpGuardBool {
		return nil, false
	}
	i++

	if i >= len(insts) || insts[i].Kind != ir.OpLoadLocal {
		return nil, false
	}
	accSlot := insts[i].Imm
	i++

	if i >= len(insts) {
		return nil, false
	}
	switch insts[i].Kind {
	case ir.OpAddI, ir.OpSubI, ir.OpMulI:
	default:
		return nil, false
	}
	arithKind := insts[i].Kind
	i++

	if i >= len(insts) || insts[i].Kind != ir.OpStoreLocal || insts[i].Imm != accSlot {
		return nil, false
	}

	if insts[len(insts)-1].Kind != ir.OpSideExit {
		return nil, false
	}

	return &FastPathPlan{
		CounterSlot:     counterSlot,
		AccumulatorSlot: accSlot,
		CompareKind:     cmpKind,
		ArithKind:       arithKind,
	}, true
}

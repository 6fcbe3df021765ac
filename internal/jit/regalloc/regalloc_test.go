package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gvmjit/internal/jit/ir"
)

func buildBuffer(insts ...ir.Inst) *ir.Buffer {
	buf := ir.NewBuffer(0, len(insts))
	buf.Insts = insts
	return buf
}

func TestAllocateFitsWithinRegisterBank(t *testing.T) {
	// Three independent constants, none live past their own definition -
	// with 2 physical registers available this must not need to spill.
	buf := buildBuffer(
		ir.Inst{Kind: ir.OpConst, A: -1, B: -1, Imm: 1},
		ir.Inst{Kind: ir.OpConst, A: -1, B: -1, Imm: 2},
		ir.Inst{Kind: ir.OpAddI, A: 0, B: 1},
	)

	assignment := Allocate(buf, 2)
	require.Len(t, assignment, 3)
	for _, a := range assignment {
		require.NotEqual(t, NoReg, a.Reg)
	}
}

func TestAllocateSpillsFurthestUseWhenBankExhausted(t *testing.T) {
	// vreg 0 is live across the whole buffer (used by the final add), so
	// with only one physical register available, vregs 1 and 2 must
	// compete for it and one of them spills.
	buf := buildBuffer(
		ir.Inst{Kind: ir.OpConst, A: -1, B: -1, Imm: 1}, // 0: long-lived
		ir.Inst{Kind: ir.OpConst, A: -1, B: -1, Imm: 2}, // 1
		ir.Inst{Kind: ir.OpConst, A: -1, B: -1, Imm: 3}, // 2
		ir.Inst{Kind: ir.OpAddI, A: 1, B: 2},            // 3: consumes 1 and 2
		ir.Inst{Kind: ir.OpAddI, A: 0, B: 3},            // 4: consumes 0 (long-lived) and 3
	)

	assignment := Allocate(buf, 1)
	require.Len(t, assignment, 5)

	spilled := 0
	for _, a := range assignment {
		if a.Reg == NoReg {
			spilled++
		}
	}
	require.Greater(t, spilled, 0, "exhausting a 1-register bank over overlapping intervals must spill something")
}

func TestAllocateEmptyBuffer(t *testing.T) {
	buf := ir.NewBuffer(0, 0)
	assignment := Allocate(buf, 4)
	require.Empty(t, assignment)
}

func TestComputeLiveIntervalsExtendsToLastUse(t *testing.T) {
	buf := buildBuffer(
		ir.Inst{Kind: ir.OpConst, A: -1, B: -1, Imm: 1}, // 0
		ir.Inst{Kind: ir.OpConst, A: -1, B: -1, Imm: 2}, // 1
		ir.Inst{Kind: ir.OpConst, A: -1, B: -1, Imm: 3}, // 2
		ir.Inst{Kind: ir.OpAddI, A: 0, B: 2},            // 3: vreg 0's last use
	)
	intervals := computeLiveIntervals(buf)
	require.Equal(t, 0, intervals[0].start)
	require.Equal(t, 3, intervals[0].end, "vreg 0 must stay live through its last consuming instruction")
	require.Equal(t, 1, intervals[1].end, "vreg 1 is never read again, so it dies at its own definition")
}

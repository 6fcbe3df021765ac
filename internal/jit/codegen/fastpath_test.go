package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gvmjit/internal/jit/ir"
)

func counterLoop(tail ir.Kind) *ir.Buffer {
	buf := ir.NewBuffer(0, 8)
	buf.Insts = []ir.Inst{
		{Kind: ir.OpLoadLocal, Imm: 1},           // counter
		{Kind: ir.OpLessI, A: 0, B: 0},           // cmp
		{Kind: ir.OpGuardBool, A: 1},             // guard
		{Kind: ir.OpLoadLocal, Imm: 0},           // accumulator
		{Kind: ir.OpAddI, A: 3, B: 0},            // acc + counter
		{Kind: ir.OpStoreLocal, A: 4, Imm: 0},    // store accumulator
		{Kind: tail},
	}
	return buf
}

func TestRecognizeFastPathMatchesNormalizedCountingLoop(t *testing.T) {
	buf := counterLoop(ir.OpSideExit)
	plan, ok := RecognizeFastPath(buf)
	require.True(t, ok)
	require.EqualValues(t, 1, plan.CounterSlot)
	require.EqualValues(t, 0, plan.AccumulatorSlot)
	require.Equal(t, ir.OpLessI, plan.CompareKind)
	require.Equal(t, ir.OpAddI, plan.ArithKind)
}

func TestRecognizeFastPathRejectsWrongTail(t *testing.T) {
	buf := counterLoop(ir.OpGuardInt)
	_, ok := RecognizeFastPath(buf)
	require.False(t, ok, "a trace that doesn't end in a side exit isn't the normalized shape")
}

func TestRecognizeFastPathRejectsMismatchedAccumulatorStore(t *testing.T) {
	buf := counterLoop(ir.OpSideExit)
	buf.Insts[5].Imm = 9 // store targets a different slot than the load did
	_, ok := RecognizeFastPath(buf)
	require.False(t, ok)
}

func TestRecognizeFastPathRejectsShortBuffers(t *testing.T) {
	buf := ir.NewBuffer(0, 1)
	buf.Insts = []ir.Inst{{Kind: ir.OpLoadLocal, Imm: 0}}
	_, ok := RecognizeFastPath(buf)
	require.False(t, ok)
}

func TestRecognizeFastPathRejectsNonCountingShape(t *testing.T) {
	buf := ir.NewBuffer(0, 8)
	buf.Insts = []ir.Inst{
		{Kind: ir.OpConst, Imm: 1},
		{Kind: ir.OpConst, Imm: 2},
		{Kind: ir.OpAddI, A: 0, B: 1},
		{Kind: ir.OpStoreLocal, A: 2, Imm: 0},
		{Kind: ir.OpSideExit},
	}
	_, ok := RecognizeFastPath(buf)
	require.False(t, ok)
}

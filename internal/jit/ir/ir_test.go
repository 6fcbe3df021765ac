package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitConstDedupesAndKeepsValidVReg(t *testing.T) {
	buf := NewBuffer(0, 8)

	c1 := buf.EmitConst(7)
	require.EqualValues(t, 0, c1)

	// Emit an unrelated instruction between the two appearances of the
	// same constant, so the dedup path must return a vreg tied to the
	// OpConst instruction itself, not an index into Constants.
	buf.Emit(OpLoadLocal, -1, -1, 0)

	c2 := buf.EmitConst(7)
	require.Equal(t, c1, c2)
	require.Equal(t, OpConst, buf.Insts[c2].Kind)
	require.EqualValues(t, 7, buf.Insts[c2].Imm)

	c3 := buf.EmitConst(9)
	require.NotEqual(t, c1, c3)
	require.Len(t, buf.Constants, 2)
}

func TestEmitGuardRecordsSnapshot(t *testing.T) {
	buf := NewBuffer(0, 8)
	v := buf.Emit(OpLoadLocal, -1, -1, 0)
	snap := buf.AddSnapshot(42, []VReg{v}, []VReg{-1})

	g := buf.EmitGuard(OpGuardInt, v, snap)
	require.Equal(t, snap, buf.Insts[g].Snapshot)
	require.Equal(t, v, buf.Insts[g].A)
}

func TestAddSnapshotIndicesAreSequential(t *testing.T) {
	buf := NewBuffer(0, 8)
	s0 := buf.AddSnapshot(1, nil, nil)
	s1 := buf.AddSnapshot(2, nil, nil)
	require.EqualValues(t, 0, s0)
	require.EqualValues(t, 1, s1)
	require.Len(t, buf.Snapshots, 2)
}

func TestLenTracksInstructionCount(t *testing.T) {
	buf := NewBuffer(0, 8)
	require.Equal(t, 0, buf.Len())
	buf.Emit(OpConst, -1, -1, 1)
	buf.Emit(OpConst, -1, -1, 2)
	require.Equal(t, 2, buf.Len())
}

func TestKindStringKnownAndUnknown(t *testing.T) {
	require.Equal(t, "addi", OpAddI.String())
	require.Equal(t, "?unknown?", Kind(255).String())
}

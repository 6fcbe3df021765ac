package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompilerStatsSnapshotAggregates(t *testing.T) {
	s := newCompilerStats()
	s.recordCompile(10)
	s.recordCompile(20)
	s.recordAbort()
	s.recordEviction()
	s.recordInvocation(true)
	s.recordInvocation(false)

	snap := s.Snapshot()
	require.EqualValues(t, 2, snap.Compiles)
	require.EqualValues(t, 1, snap.Aborts)
	require.EqualValues(t, 1, snap.Evictions)
	require.EqualValues(t, 2, snap.Invocations)
	require.EqualValues(t, 1, snap.TailExits)
	require.InDelta(t, 15.0, snap.AvgIRInstCount, 0.0001)
}

func TestCompilerStatsSnapshotWithNoCompiles(t *testing.T) {
	s := newCompilerStats()
	snap := s.Snapshot()
	require.Zero(t, snap.Compiles)
	require.Zero(t, snap.AvgIRInstCount)
}

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.EqualValues(t, 50, cfg.Threshold)
	require.Equal(t, 1<<20, cfg.CodeBufBytes)
	require.False(t, cfg.TraceLog)
}

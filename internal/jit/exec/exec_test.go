package exec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gvmjit/internal/jit/ir"
)

func bufWithSnapshots(n int) *ir.Buffer {
	buf := ir.NewBuffer(0, 1)
	for i := 0; i < n; i++ {
		buf.AddSnapshot(i, nil, nil)
	}
	return buf
}

func TestTailSnapshotIsLastSnapshotIndex(t *testing.T) {
	buf := bufWithSnapshots(3)
	tr := &Trace{buf: buf}
	require.EqualValues(t, 2, tr.TailSnapshot())
}

func TestInvalidatedRequiresMinimumSamples(t *testing.T) {
	tr := &Trace{buf: bufWithSnapshots(1), invocations: 3, bailouts: 3}
	require.False(t, tr.Invalidated(), "too few samples to judge a degrading trace yet")
}

func TestInvalidatedTripsPastBailoutRatio(t *testing.T) {
	tr := &Trace{buf: bufWithSnapshots(1), invocations: 10, bailouts: 6}
	require.True(t, tr.Invalidated())
}

func TestInvalidatedStaysFalseWhenMostlyTailExits(t *testing.T) {
	tr := &Trace{buf: bufWithSnapshots(1), invocations: 10, bailouts: 2}
	require.False(t, tr.Invalidated())
}

func TestInvalidatedExactlyAtRatioDoesNotTrip(t *testing.T) {
	// maxBailoutRatio is a strict ">" threshold, not ">=".
	tr := &Trace{buf: bufWithSnapshots(1), invocations: 8, bailouts: 4}
	require.False(t, tr.Invalidated())
}

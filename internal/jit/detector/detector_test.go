package detector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHitCrossesThresholdExactlyOnce(t *testing.T) {
	d := New(4, 3)

	_, crossed := d.Hit(10)
	require.False(t, crossed)
	_, crossed = d.Hit(10)
	require.False(t, crossed)
	_, crossed = d.Hit(10)
	require.True(t, crossed)
	_, crossed = d.Hit(10)
	require.False(t, crossed, "should not re-fire threshold on later hits")
}

func TestMarkUncompilableSticks(t *testing.T) {
	d := New(4, 2)
	d.MarkUncompilable(5)
	require.Equal(t, Uncompilable, d.Count(5))

	count, crossed := d.Hit(5)
	require.Equal(t, Uncompilable, count)
	require.False(t, crossed)
}

func TestIndependentKeysDoNotInterfere(t *testing.T) {
	d := New(8, 2)
	d.Hit(1)
	d.Hit(2)
	d.Hit(2)
	require.EqualValues(t, 1, d.Count(1))
	require.EqualValues(t, 2, d.Count(2))
}

func TestCountUnknownKeyIsNotFound(t *testing.T) {
	d := New(4, 2)
	require.EqualValues(t, -1, d.Count(99))
}

func TestResetClearsAllSlots(t *testing.T) {
	d := New(4, 2)
	d.Hit(1)
	d.MarkUncompilable(2)
	d.Reset()
	require.EqualValues(t, -1, d.Count(1))
	require.EqualValues(t, -1, d.Count(2))
}

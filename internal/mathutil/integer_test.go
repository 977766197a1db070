package mathutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUint64(t *testing.T) {
	v, ok := ParseUint64("")
	require.True(t, ok)
	require.Zero(t, v)

	v, ok = ParseUint64("0x2a")
	require.True(t, ok)
	require.Equal(t, uint64(42), v)

	v, ok = ParseUint64("42")
	require.True(t, ok)
	require.Equal(t, uint64(42), v)

	_, ok = ParseUint64("not-a-number")
	require.False(t, ok)
}

func TestMustParseUint64Panics(t *testing.T) {
	require.Panics(t, func() { MustParseUint64("nope") })
	require.NotPanics(t, func() { MustParseUint64("0x10") })
}

func TestAbsoluteDifference(t *testing.T) {
	require.Equal(t, uint64(5), AbsoluteDifference(10, 5))
	require.Equal(t, uint64(5), AbsoluteDifference(5, 10))
	require.Zero(t, AbsoluteDifference(7, 7))
}

func TestSafeAddOverflow(t *testing.T) {
	sum, overflow := SafeAdd(1, 2)
	require.False(t, overflow)
	require.Equal(t, uint64(3), sum)

	_, overflow = SafeAdd(math.MaxUint64, 1)
	require.True(t, overflow)
}

func TestSafeMulOverflow(t *testing.T) {
	product, overflow := SafeMul(3, 4)
	require.False(t, overflow)
	require.Equal(t, uint64(12), product)

	_, overflow = SafeMul(math.MaxUint64, 2)
	require.True(t, overflow)
}

func TestCeilDiv(t *testing.T) {
	require.Equal(t, 3, CeilDiv(7, 3))
	require.Equal(t, 2, CeilDiv(6, 3))
	require.Zero(t, CeilDiv(5, 0))
}

package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetRangeCountBits(t *testing.T) {
	const n = 200
	for _, tc := range []struct{ i, l int }{
		{0, 1}, {0, 64}, {1, 63}, {5, 130}, {199, 1}, {64, 64}, {0, 200},
	} {
		b := New(n)
		b.SetRange(tc.i, tc.l)
		require.Equal(t, tc.l, b.CountBits(tc.i, tc.l), "case %+v", tc)

		before := b.CountBits(0, tc.i)
		require.Zero(t, before)
		after := b.CountBits(tc.i+tc.l, n-tc.i-tc.l)
		require.Zero(t, after)
	}
}

func TestFindSetInvariant(t *testing.T) {
	b := New(128)
	b.SetBit(5)
	b.SetBit(70)

	k := b.FindSet(0)
	require.Equal(t, 5, k)
	for j := 0; j < k; j++ {
		require.False(t, b.ValueAt(j))
	}

	k2 := b.FindSet(6)
	require.Equal(t, 70, k2)
}

func TestFindSentinels(t *testing.T) {
	b := New(64)
	require.Equal(t, 64, b.FindSet(0), "empty bitmap has no set bit")
	b.SetRange(0, 64)
	require.Equal(t, 64, b.FindClear(0), "full bitmap has no clear bit")
	require.Equal(t, -1, b.FindSetBackward(0))

	b2 := New(64)
	require.Equal(t, -1, b2.FindSetBackward(10))
}

func TestRollingRoundtrip(t *testing.T) {
	const n = 70
	b := New(n)
	for i := 0; i < n; i += 3 {
		b.SetBit(i)
	}
	want := make([]bool, n)
	copy(want, snapshot(b))

	rolled := New(n)
	rolled.SetRollingRangeFrom(b, 0, n)
	require.Equal(t, want, snapshot(rolled))
}

func TestNextFreeRange(t *testing.T) {
	b := New(20)
	b.SetRange(4, 4) // bits [4,8) set
	idx, l, ok := b.NextFreeRange(0)
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.Equal(t, 4, l)

	idx, l, ok = b.NextFreeRange(4)
	require.True(t, ok)
	require.Equal(t, 8, idx)
	require.Equal(t, 12, l)

	b.SetRange(0, 20) // every bit set
	_, _, ok = b.NextFreeRange(0)
	require.False(t, ok)
}

func snapshot(b *Bitmap) []bool {
	out := make([]bool, b.Len())
	for i := range out {
		out[i] = b.ValueAt(i)
	}
	return out
}

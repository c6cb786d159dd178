package swarmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// sameTagHash returns a hash whose HTag is identical for every call but
// whose step bits (bit 32 and up) vary by salt, so tests can exercise
// bucket-level tag collisions directly.
func sameTagHash(salt uint64) uint64 {
	const tag = uint64(0x2a) // arbitrary 7-bit tag
	return (salt << 32) | (tag << 15)
}

func TestBucketMatchAndOverflow(t *testing.T) {
	b := NewBucket()
	h := sameTagHash(1)

	require.True(t, b.Insert(h, 123), "first insert into empty bucket must succeed")
	require.True(t, b.Insert(h, 456), "second insert must succeed: 13 slots remain")

	require.Equal(t, []int{0, 1}, b.Match(h))
	require.Equal(t, byte(0), b.Overflow(), "overflow must be 0 before the bucket is full")

	for i := 2; i < bucketSlots; i++ {
		require.True(t, b.Insert(h, uint32(1000+i)), "insert %d should still fit in a 14-slot bucket", i)
	}

	require.False(t, b.Insert(h, 9999), "insert into a full bucket must fail")
	require.Equal(t, byte(2), b.Overflow(), "overflow after one rejected insert")
	require.False(t, b.Insert(h, 9999), "insert into a full bucket must fail")
	require.Equal(t, byte(4), b.Overflow(), "overflow after two rejected inserts")
}

func TestBucketOverflowSaturates(t *testing.T) {
	b := NewBucket()
	b.overflow = 0xfe
	b.bumpOverflow()
	require.Equal(t, byte(0xff), b.Overflow(), "overflow must saturate")
	b.bumpOverflow()
	require.Equal(t, byte(0xff), b.Overflow(), "overflow must stay saturated")
}

func TestBucketDeleteFreesSlot(t *testing.T) {
	b := NewBucket()
	h := sameTagHash(1)
	b.Insert(h, 1)

	slots := b.Match(h)
	require.Len(t, slots, 1, "expected one match before delete")
	b.Delete(slots[0])

	require.Empty(t, b.Match(h), "match(h) after delete should find nothing")
	require.NotZero(t, b.emptyMask(), "deleted slot must be reusable")
}

func TestBucketMatchIgnoresDifferentTags(t *testing.T) {
	b := NewBucket()
	b.Insert(sameTagHash(1), 1)

	other := (uint64(7) << 32) | (uint64(0x55) << 15)
	require.Empty(t, b.Match(other), "match on unrelated tag should find nothing")
}

package threadcache

import (
	"testing"
	"unsafe"

	"github.com/sdlang/sdgc/arena"
	"github.com/sdlang/sdgc/extentmap"
	"github.com/sdlang/sdgc/sizeclass"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*ThreadCache, *extentmap.Reference) {
	emap := extentmap.NewReference()
	arenas := arena.NewSet(func() arena.Arena { return arena.NewReference() })
	return New(emap, arenas), emap
}

func TestAllocRejectsOutOfRangeSizes(t *testing.T) {
	tc, _ := newTestCache()
	require.Zero(t, tc.Alloc(0, false))
	require.Zero(t, tc.Alloc(-1, false))
	require.Zero(t, tc.Alloc(sizeclass.MaxAllocationSize+1, false))
}

func TestAllocSmallAndLargeRoundtrip(t *testing.T) {
	tc, emap := newTestCache()

	small := tc.Alloc(sizeclass.Quantum, false)
	require.NotZero(t, small)
	require.Equal(t, extentmap.KindSlab, emap.Lookup(small).Kind)

	large := tc.Alloc(sizeclass.MaxSmallSize+sizeclass.PageSize, false)
	require.NotZero(t, large)
	require.Equal(t, extentmap.KindLarge, emap.Lookup(large).Kind)
}

func TestFreeIsNoopOnNilAndUnmapped(t *testing.T) {
	tc, _ := newTestCache()
	tc.Free(0)   // must not panic
	tc.Free(999) // unmapped, must not panic
}

func TestFreeThenLookupMisses(t *testing.T) {
	tc, emap := newTestCache()
	ptr := tc.Alloc(sizeclass.Quantum, false)
	tc.Free(ptr)
	require.Equal(t, extentmap.KindNone, emap.Lookup(ptr).Kind)
}

func TestDestroyRunsFinalizerOnce(t *testing.T) {
	tc, _ := newTestCache()
	calls := 0
	ptr := tc.AllocAppendable(sizeclass.Quantum, false, func(p uintptr, used int) {
		calls++
	})
	require.NotZero(t, ptr)

	tc.Destroy(ptr)
	require.Equal(t, 1, calls)
}

func TestDestroyRejectsInteriorPointer(t *testing.T) {
	tc, _ := newTestCache()
	ptr := tc.AllocAppendable(sizeclass.Quantum, false, func(uintptr, int) {})
	require.NotZero(t, ptr)

	require.Panics(t, func() {
		tc.Destroy(ptr + 1)
	})
}

func TestReallocR0ZeroSizeFrees(t *testing.T) {
	tc, emap := newTestCache()
	ptr := tc.Alloc(sizeclass.Quantum, false)

	got := tc.Realloc(ptr, 0, false)
	require.Zero(t, got)
	require.Equal(t, extentmap.KindNone, emap.Lookup(ptr).Kind)
}

func TestReallocR1RejectsOversize(t *testing.T) {
	tc, _ := newTestCache()
	ptr := tc.Alloc(sizeclass.Quantum, false)
	require.Zero(t, tc.Realloc(ptr, sizeclass.MaxAllocationSize+1, false))
}

func TestReallocR2NilActsAsAlloc(t *testing.T) {
	tc, emap := newTestCache()
	got := tc.Realloc(0, sizeclass.Quantum, false)
	require.NotZero(t, got)
	require.Equal(t, extentmap.KindSlab, emap.Lookup(got).Kind)
}

func TestReallocR3SameClassInPlace(t *testing.T) {
	tc, emap := newTestCache()
	ptr := tc.Alloc(sizeclass.Quantum, false)

	got := tc.Realloc(ptr, sizeclass.Quantum-1, false)
	require.Equal(t, ptr, got, "same size class, same pointerness must realloc in place")
	require.Equal(t, sizeclass.Quantum-1, emap.Lookup(got).Slab.UsedCapacity)
}

func TestReallocR4ShrinkToSmallerClassCopies(t *testing.T) {
	tc, emap := newTestCache()
	ptr := tc.Alloc(sizeclass.Quantum*3, false) // rounds up to a bigger class

	got := tc.Realloc(ptr, sizeclass.Quantum, false)
	require.NotZero(t, got)
	require.NotEqual(t, ptr, got, "a size-class change must allocate a fresh block")
	require.Equal(t, extentmap.KindNone, emap.Lookup(ptr).Kind, "the old block must be freed")
}

func TestReallocR5LargeSamePageCountInPlace(t *testing.T) {
	tc, emap := newTestCache()
	base := sizeclass.MaxSmallSize + sizeclass.PageSize
	ptr := tc.Alloc(base, false)

	got := tc.Realloc(ptr, base+1, false) // still rounds to the same page count
	require.Equal(t, ptr, got)
	require.Equal(t, base+1, emap.Lookup(got).Large.UsedCapacity)
}

func TestReallocR5LargeGrowsInPlaceWhenRoomExists(t *testing.T) {
	tc, emap := newTestCache()
	base := sizeclass.MaxSmallSize + sizeclass.PageSize
	ptr := tc.Alloc(base, false)

	got := tc.Realloc(ptr, base+sizeclass.PageSize, false)
	require.NotZero(t, got)
	require.Equal(t, base+sizeclass.PageSize, emap.Lookup(got).Large.UsedCapacity)
}

func TestReallocR6LargeGrowthWithoutRoomCopies(t *testing.T) {
	tc, emap := newTestCache()
	base := sizeclass.MaxSmallSize + sizeclass.PageSize
	ptr := tc.Alloc(base, false)

	// Consume every remaining page of ptr's block so GrowAt has nowhere
	// left to extend into, forcing the copy-and-free path. ptr's block is
	// freshly created and has a single trailing free run, so this fills it
	// exactly.
	basePages := (base + sizeclass.PageSize - 1) / sizeclass.PageSize
	for i := 0; i < sizeclass.PagesInBlock-basePages; i++ {
		require.NotZero(t, tc.Alloc(sizeclass.PageSize, false))
	}

	got := tc.Realloc(ptr, base+sizeclass.PageSize, false)
	require.NotZero(t, got)
	require.NotEqual(t, ptr, got)
	require.Equal(t, extentmap.KindNone, emap.Lookup(ptr).Kind)
	require.Equal(t, base+sizeclass.PageSize, emap.Lookup(got).Large.UsedCapacity)
}

func TestReallocR7PointernessChangeAlwaysCopies(t *testing.T) {
	tc, emap := newTestCache()
	ptr := tc.Alloc(sizeclass.Quantum, false)

	got := tc.Realloc(ptr, sizeclass.Quantum, true)
	require.NotZero(t, got)
	require.NotEqual(t, ptr, got)
	require.True(t, emap.Lookup(got).ContainsPointers)
}

func TestAllocAppendableWithFinalizerReservesTrailerCapacity(t *testing.T) {
	tc, _ := newTestCache()
	ptr := tc.AllocAppendable(45, false, func(uintptr, int) {})
	require.NotZero(t, ptr)

	full := Slice{Base: ptr, Start: 0, Stop: 45}
	require.Equal(t, 56, tc.Capacity(full), "64-byte slot minus the 8-byte finalizer pointer trailer")

	require.False(t, tc.Extend(full, 12), "growth to 57 bytes must not be allowed into the finalizer's reserved tail")
	require.True(t, tc.Extend(full, 11), "growth to exactly 56 bytes fits below the trailer")
}

func TestAllocAppendableCapacityAndExtend(t *testing.T) {
	tc, _ := newTestCache()
	ptr := tc.AllocAppendable(sizeclass.Quantum, false, nil)
	require.NotZero(t, ptr)

	full := Slice{Base: ptr, Start: 0, Stop: sizeclass.Quantum}
	require.Greater(t, tc.Capacity(full), 0)

	interior := Slice{Base: ptr, Start: 0, Stop: sizeclass.Quantum - 1}
	require.Zero(t, tc.Capacity(interior), "a slice not reaching usedCapacity is not appendable")

	require.True(t, tc.Extend(full, 0), "delta 0 always succeeds")
	require.True(t, tc.Extend(full, 1))
	require.False(t, tc.Extend(Slice{Base: 999}, 1), "unmapped base cannot extend")
}

func TestAddRootsAndScanMarksMappedPointers(t *testing.T) {
	tc, emap := newTestCache()
	ptr := tc.Alloc(sizeclass.Quantum, false)

	var root uintptr = ptr
	start := uintptr(unsafe.Pointer(&root))

	found := tc.Scan(start, unsafe.Sizeof(root))
	require.True(t, found)
	pd := emap.Lookup(ptr)
	require.True(t, pd.Marked())
}

func TestCollectScansRegisteredRoots(t *testing.T) {
	tc, emap := newTestCache()
	ptr := tc.Alloc(sizeclass.Quantum, false)

	var root uintptr = ptr
	tc.AddRoots(uintptr(unsafe.Pointer(&root)), unsafe.Sizeof(root))

	marked := tc.Collect()
	require.GreaterOrEqual(t, marked, 1)
	pd := emap.Lookup(ptr)
	require.True(t, pd.Marked())
}

func TestScanIgnoresImplausiblePointers(t *testing.T) {
	require.False(t, isPlausiblePointer(0))
	require.False(t, isPlausiblePointer(^uintptr(0)))
}

func TestScanMarksInteriorPointerIntoMultiPageExtent(t *testing.T) {
	tc, emap := newTestCache()
	base := tc.Alloc(sizeclass.MaxSmallSize+sizeclass.PageSize, false) // spans several pages
	require.NotZero(t, base)

	var interior uintptr = base + uintptr(sizeclass.PageSize) + 64 // second page, well past the extent's own base
	start := uintptr(unsafe.Pointer(&interior))

	found := tc.Scan(start, unsafe.Sizeof(interior))
	require.True(t, found, "a pointer into any page of a live extent must resolve, not just its base page")
	require.True(t, emap.Lookup(base).Marked())
}

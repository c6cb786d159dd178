package arena

import (
	"testing"

	"github.com/sdlang/sdgc/extentmap"
	"github.com/sdlang/sdgc/sizeclass"
	"github.com/stretchr/testify/require"
)

func TestReferenceAllocFree(t *testing.T) {
	a := NewReference()
	em := extentmap.NewReference()

	addr := a.AllocSmall(em, 32)
	require.NotZero(t, addr)

	pd := em.Lookup(addr)
	require.Equal(t, extentmap.KindSlab, pd.Kind)
	require.Equal(t, sizeclass.GetSizeClass(32), pd.Slab.SizeClass)

	a.Free(em, pd, addr)
	require.Equal(t, extentmap.KindNone, em.Lookup(addr).Kind)
}

func TestReferenceLargeResize(t *testing.T) {
	a := NewReference()
	em := extentmap.NewReference()

	addr := a.AllocLarge(em, 16384, false)
	pd := em.Lookup(addr)
	require.Equal(t, 16384, pd.Large.Size)

	ok := a.ResizeLarge(em, pd, 8192)
	require.True(t, ok)
	require.Equal(t, 8192, pd.Large.Size)
}

func TestReferenceGrowsBlocksAcrossCapacity(t *testing.T) {
	a := NewReference()
	em := extentmap.NewReference()

	var addrs []uintptr
	for i := 0; i < 600; i++ { // exceeds one block's worth of 4KiB pages (512)
		addrs = append(addrs, a.AllocLarge(em, sizeclass.PageSize, false))
	}
	for _, addr := range addrs {
		require.NotZero(t, addr)
	}
}

func TestReferenceRecyclesEmptyBlock(t *testing.T) {
	a := NewReference()
	em := extentmap.NewReference()

	addr := a.AllocLarge(em, sizeclass.BlockSize, false)
	base, _ := a.blockOf(addr)
	d := a.descriptor[base]
	require.Equal(t, uint64(0), d.Generation())

	pd := em.Lookup(addr)
	a.Free(em, pd, addr)
	require.Equal(t, 0, a.blocks.Len(), "the only block should have been recycled, not left in the priority heap")
	require.Equal(t, 1, a.unused.Len())
	require.Equal(t, uint64(1), d.Generation(), "Recycle should bump the generation on return to the unused pool")

	reusedAddr := a.AllocLarge(em, sizeclass.PageSize, false)
	reusedBase, _ := a.blockOf(reusedAddr)
	require.Equal(t, base, reusedBase, "growBlock should drain the UnusedBlockHeap before minting a fresh block")
	require.Equal(t, 0, a.unused.Len())
}

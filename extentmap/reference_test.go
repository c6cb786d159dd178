package extentmap

import (
	"testing"

	"github.com/sdlang/sdgc/sizeclass"
	"github.com/stretchr/testify/require"
)

func TestInsertRegistersEveryPageOfAMultiPageExtent(t *testing.T) {
	r := NewReference()
	base := uintptr(sizeclass.BlockSize)

	pages := 5 // MaxSmallSize+PageSize spans this many pages
	r.Insert(base, PageDescriptor{
		Kind:  KindLarge,
		Large: &LargeInfo{Address: base, Size: pages * sizeclass.PageSize},
	})

	for i := 0; i < pages; i++ {
		interior := base + uintptr(i)*sizeclass.PageSize + 17 // offset within the page
		pd := r.Lookup(interior)
		require.Equal(t, KindLarge, pd.Kind, "page %d of the extent must resolve", i)
	}

	require.Equal(t, KindNone, r.Lookup(base+uintptr(pages)*sizeclass.PageSize).Kind,
		"the first page past the extent must stay unmapped")
}

func TestInsertRegistersEveryPageOfAMultiPageSlab(t *testing.T) {
	r := NewReference()
	base := uintptr(sizeclass.BlockSize)

	sc := sizeclass.GetSizeClass(8192) // the 8192-byte class spans two pages
	pd := r.Insert(base, PageDescriptor{
		Kind: KindSlab,
		Slab: &SlabInfo{Address: base, SizeClass: sc},
	})
	pd.Mark()

	second := base + uintptr(sizeclass.PageSize) + 4
	require.True(t, r.Lookup(second).Marked(), "a mark set through the base page must be visible from the second page")
}

func TestRemoveClearsEveryPageOfAnExtent(t *testing.T) {
	r := NewReference()
	base := uintptr(sizeclass.BlockSize)

	r.Insert(base, PageDescriptor{
		Kind:  KindLarge,
		Large: &LargeInfo{Address: base, Size: 3 * sizeclass.PageSize},
	})
	r.Remove(base)

	for i := 0; i < 3; i++ {
		require.Equal(t, KindNone, r.Lookup(base+uintptr(i)*sizeclass.PageSize).Kind)
	}
}

func TestRespanGrowsAndShrinksCoveredPages(t *testing.T) {
	r := NewReference()
	base := uintptr(sizeclass.BlockSize)

	r.Insert(base, PageDescriptor{
		Kind:  KindLarge,
		Large: &LargeInfo{Address: base, Size: 2 * sizeclass.PageSize},
	})

	r.Respan(base, 2*sizeclass.PageSize, 4*sizeclass.PageSize)
	require.Equal(t, KindLarge, r.Lookup(base+3*sizeclass.PageSize).Kind, "growth must extend the registered span")

	r.Respan(base, 4*sizeclass.PageSize, 1*sizeclass.PageSize)
	require.Equal(t, KindNone, r.Lookup(base+3*sizeclass.PageSize).Kind, "shrink must retract the registered span")
	require.Equal(t, KindLarge, r.Lookup(base).Kind, "the base page must still resolve after shrinking")
}

package threadcache

import (
	"github.com/sdlang/sdgc/extentmap"
	"github.com/sdlang/sdgc/sizeclass"
)

// Slice identifies a sub-range [Base+Start, Base+Stop) of an allocation,
// the unit the slice-capacity contract (spec §4.C.5) operates on.
type Slice struct {
	Base  uintptr
	Start int
	Stop  int
}

// Capacity implements spec §4.C.5's getCapacity: a slice is only
// appendable when its end coincides with the allocation's live
// usedCapacity -- this is what prevents two aliasing slices of the same
// backing allocation from silently clobbering each other's tail.
func (tc *ThreadCache) Capacity(s Slice) int {
	pd := tc.emap.Lookup(s.Base)

	storageSize, usedCapacity, ok := describeAllocation(pd)
	if !ok {
		return 0
	}

	if s.Stop > 0 && s.Stop == usedCapacity {
		return storageSize - s.Start
	}
	return 0
}

// Extend implements spec §4.C.5: delta == 0 always succeeds (even on
// non-appendable or unmapped memory); otherwise the slice's current
// capacity must be positive, and the new usedCapacity must either fit the
// existing slot (small) or be grown in place via the arena (large).
func (tc *ThreadCache) Extend(s Slice, delta int) bool {
	if delta == 0 {
		return true
	}

	pd := tc.emap.Lookup(s.Base)
	if pd.Kind == extentmap.KindNone {
		return false
	}

	if tc.Capacity(s) <= 0 {
		return false
	}

	switch pd.Kind {
	case extentmap.KindSlab:
		newUsed := pd.Slab.UsedCapacity + delta
		storageSize, _, _ := describeAllocation(pd)
		if newUsed > storageSize || newUsed < 0 {
			return false
		}
		pd.Slab.UsedCapacity = newUsed
		return true

	case extentmap.KindLarge:
		newUsed := pd.Large.UsedCapacity + delta
		if newUsed < 0 {
			return false
		}
		if newUsed > pd.Large.Size {
			a := tc.arenaFor(pd.ContainsPointers)
			if !a.ResizeLarge(tc.emap, pd, newUsed) {
				return false
			}
		}
		pd.Large.UsedCapacity = newUsed
		return true

	default:
		return false
	}
}

// describeAllocation returns (storageSize, usedCapacity, ok) for any
// mapped extent, unifying the small/large cases that Capacity and Extend
// both need to branch on. For a slab carrying a finalizer, storageSize
// excludes the trailing PointerSize bytes AllocAppendable reserved for
// the finalizer pointer (spec §3's per-slot trailer, §8 scenario 5) --
// a large extent's Size already excludes its header, which is why only
// the slab case needs the deduction.
func describeAllocation(pd extentmap.PageDescriptor) (storageSize, usedCapacity int, ok bool) {
	switch pd.Kind {
	case extentmap.KindSlab:
		storageSize = sizeclass.GetSizeFromClass(pd.Slab.SizeClass)
		if pd.Slab.Finalizer != nil {
			storageSize -= sizeclass.PointerSize
		}
		return storageSize, pd.Slab.UsedCapacity, true
	case extentmap.KindLarge:
		return pd.Large.Size, pd.Large.UsedCapacity, true
	default:
		return 0, 0, false
	}
}

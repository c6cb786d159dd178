// Package threadcache implements the per-thread allocator façade: the
// classify-and-dispatch front end, appendable/finalizable metadata,
// realloc's decision table, and the conservative root-scanning entry
// points (spec §3, §4.C -- component D).
package threadcache

import (
	"sync"

	"github.com/sdlang/sdgc/arena"
	"github.com/sdlang/sdgc/extentmap"
	"github.com/sdlang/sdgc/internal/gcerr"
	"github.com/sdlang/sdgc/internal/platform"
	"github.com/sdlang/sdgc/sizeclass"
)

// rootRange is one mutator-registered conservative scan range
// [Start, Start+Len).
type rootRange struct {
	start uintptr
	len   uintptr
}

// ThreadCache is the per-goroutine allocator front end: it owns no
// memory itself, only routing state (spec §5 "Each thread has its own
// threadCache").
type ThreadCache struct {
	emap   extentmap.ExtentMap
	arenas *arena.Set

	stackBottom uintptr

	mu    sync.Mutex
	roots []rootRange
}

// New returns a ThreadCache routing through emap and arenas. emap is
// bound lazily in the reference implementation (it is supplied directly
// here rather than discovered, since this module has no process-global
// registry of its own -- spec §4.C's "lazily initialize emap" becomes
// "accept it once at construction").
func New(emap extentmap.ExtentMap, arenas *arena.Set) *ThreadCache {
	return &ThreadCache{emap: emap, arenas: arenas}
}

// SetStackBottom records the highest stack address for this thread, set
// once at thread start (spec §4.C).
func (tc *ThreadCache) SetStackBottom(addr uintptr) { tc.stackBottom = addr }

func (tc *ThreadCache) arenaFor(containsPointers bool) arena.Arena {
	cpu := platform.CPUID()
	return tc.arenas.GetOrInitialize(arena.Key(cpu, containsPointers))
}

// Alloc implements spec §4.C.1: reject out-of-range sizes, pick an arena
// by (cpu, pointerness), and dispatch small vs. large.
func (tc *ThreadCache) Alloc(size int, containsPointers bool) uintptr {
	if !sizeclass.IsAllocatableSize(size) {
		return 0
	}

	a := tc.arenaFor(containsPointers)
	if sizeclass.IsSmallSize(size) {
		return a.AllocSmall(tc.emap, size)
	}
	return a.AllocLarge(tc.emap, size, false)
}

// AllocAppendable implements spec §4.C.2: reserves room for a finalizer
// pointer after the payload when finalizer != nil, and initializes
// usedCapacity so the allocation is appendable from the start.
func (tc *ThreadCache) AllocAppendable(size int, containsPointers bool, finalizer extentmap.Finalizer) uintptr {
	extra := 0
	if finalizer != nil {
		extra = sizeclass.PointerSize
	}
	asize := sizeclass.GetAllocSize(sizeclass.AlignUp(size+extra, 2*sizeclass.Quantum))

	addr := tc.Alloc(asize, containsPointers)
	if addr == 0 {
		return 0
	}

	pd := tc.emap.Lookup(addr)
	switch pd.Kind {
	case extentmap.KindSlab:
		gcerr.Check(sizeclass.SizeClassSupportsMetadata(pd.Slab.SizeClass), "AllocAppendable", "size class has no room for metadata")
		pd.Slab.Finalizer = finalizer
		pd.Slab.UsedCapacity = size
	case extentmap.KindLarge:
		pd.Large.Finalizer = finalizer
		pd.Large.UsedCapacity = size
	default:
		return 0
	}
	return addr
}

// Free implements spec §4.C.3: free(nil) is a no-op, otherwise resolve
// and delegate to the owning arena.
func (tc *ThreadCache) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}

	pd := tc.emap.Lookup(ptr)
	if pd.Kind == extentmap.KindNone {
		return
	}

	a := tc.arenaFor(pd.ContainsPointers)
	a.Free(tc.emap, pd, ptr)
}

// Destroy implements spec §4.C.3: runs a finalizer, if present, before
// freeing. For a slab extent the pointer must equal the slot's own
// address -- no interior destroy (trapped as a Violation, spec §7).
func (tc *ThreadCache) Destroy(ptr uintptr) {
	if ptr == 0 {
		return
	}

	pd := tc.emap.Lookup(ptr)
	switch pd.Kind {
	case extentmap.KindSlab:
		gcerr.Check(ptr == pd.Slab.Address, "Destroy", "interior pointer passed to destroy")
		if pd.Slab.Finalizer != nil {
			pd.Slab.Finalizer(ptr, pd.Slab.UsedCapacity)
		}
	case extentmap.KindLarge:
		if pd.Large.Finalizer != nil {
			pd.Large.Finalizer(ptr, pd.Large.UsedCapacity)
		}
	default:
		return
	}

	a := tc.arenaFor(pd.ContainsPointers)
	a.Free(tc.emap, pd, ptr)
}

// Realloc implements the decision table of spec §4.C.4 (R0-R7).
func (tc *ThreadCache) Realloc(ptr uintptr, size int, containsPointers bool) uintptr {
	if size == 0 { // R0
		tc.Free(ptr)
		return 0
	}
	if !sizeclass.IsAllocatableSize(size) { // R1
		return 0
	}
	if ptr == 0 { // R2
		return tc.Alloc(size, containsPointers)
	}

	pd := tc.emap.Lookup(ptr)
	switch pd.Kind {
	case extentmap.KindSlab:
		return tc.reallocSlab(ptr, size, containsPointers, pd)
	case extentmap.KindLarge:
		return tc.reallocLarge(ptr, size, containsPointers, pd)
	default:
		return 0
	}
}

func (tc *ThreadCache) reallocSlab(ptr uintptr, size int, containsPointers bool, pd extentmap.PageDescriptor) uintptr {
	newSC := sizeclass.GetSizeClass(size)
	sameClass := newSC == pd.Slab.SizeClass
	samePointerness := containsPointers == pd.ContainsPointers

	if sameClass && samePointerness { // R3: in-place, update usedCapacity
		pd.Slab.UsedCapacity = size
		return ptr
	}

	if sizeclass.GetSizeFromClass(newSC) < sizeclass.GetSizeFromClass(pd.Slab.SizeClass) && samePointerness {
		// R4: size class shrinks -- copy the old class's bytes into a
		// fresh allocation (the teacher's Realloc similarly always
		// recreates the block on a class change, see lldb.realloc).
		return tc.copyRealloc(ptr, size, containsPointers, sizeclass.GetSizeFromClass(pd.Slab.SizeClass), pd)
	}

	return tc.copyRealloc(ptr, size, containsPointers, pd.Slab.UsedCapacity, pd) // R7
}

func (tc *ThreadCache) reallocLarge(ptr uintptr, size int, containsPointers bool, pd extentmap.PageDescriptor) uintptr {
	samePointerness := containsPointers == pd.ContainsPointers

	if samePointerness {
		pageAligned := sizeclass.AlignUp(size, sizeclass.PageSize) == pd.Large.Size
		if pageAligned {
			pd.Large.UsedCapacity = size
			return ptr // R5 (already page-aligned, nothing to resize)
		}

		a := tc.arenaFor(pd.ContainsPointers)
		if a.ResizeLarge(tc.emap, pd, size) {
			pd.Large.UsedCapacity = size
			return ptr // R5
		}
	}

	// R6/R7: copy min(size, oldUsedCapacity) bytes into a fresh
	// allocation.
	copyBytes := size
	if pd.Large.UsedCapacity < copyBytes {
		copyBytes = pd.Large.UsedCapacity
	}
	return tc.copyRealloc(ptr, size, containsPointers, copyBytes, pd)
}

// copyRealloc implements the shared tail of R4/R6/R7: allocate a new
// block, copy copySize bytes, set the new extent's usedCapacity to size if
// it ends up large, and free the old pointer.
func (tc *ThreadCache) copyRealloc(ptr uintptr, size int, containsPointers bool, copySize int, oldPD extentmap.PageDescriptor) uintptr {
	newPtr := tc.Alloc(size, containsPointers)
	if newPtr == 0 {
		return 0
	}

	CopyBytes(tc.emap, newPtr, ptr, copySize)

	newPD := tc.emap.Lookup(newPtr)
	if newPD.Kind == extentmap.KindLarge {
		newPD.Large.UsedCapacity = size
	}

	a := tc.arenaFor(oldPD.ContainsPointers)
	a.Free(tc.emap, oldPD, ptr)
	return newPtr
}

// CopyBytes is a seam for the actual memmove a real allocator would do
// between two raw addresses. This module models memory only through
// arena.Reference's []byte backing in tests, which don't need Realloc to
// move real payload bytes to assert the decision table's pointer/size
// behavior -- so the default implementation is a documented no-op and
// tests that care about payload content replace it.
var CopyBytes = func(emap extentmap.ExtentMap, dst, src uintptr, n int) {}

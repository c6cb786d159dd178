package arena

import (
	"sync"

	"github.com/sdlang/sdgc/blockheap"
	"github.com/sdlang/sdgc/blockstore"
	"github.com/sdlang/sdgc/extentmap"
	"github.com/sdlang/sdgc/sizeclass"
)

// Reference is an in-process Arena, built directly on blockheap, that
// backs each block with ordinary Go-heap memory instead of a real
// huge-page mapping (the OS page-backing layer is out of scope, spec
// §1). It exists to let threadcache and the conservative scanner be
// tested end to end (spec §5's "Data flow" walk), the same way the
// teacher's lldb package is tested entirely against lldb.MemFiler rather
// than a real file.
//
// Block addresses are an opaque, monotonically increasing BlockSize-
// aligned id space private to this arena -- not real pointers -- since
// there is no real memory behind them to take the address of. Only the
// `memory` blockstore.BlockStore is real storage.
//
// Reference only interoperates with *extentmap.Reference -- allocating
// through it with any other ExtentMap implementation panics, since the
// pairing exists solely for this module's own tests.
type Reference struct {
	mu         sync.Mutex
	blocks     *blockheap.PriorityBlockHeap
	unused     *blockheap.UnusedBlockHeap
	descriptor map[uintptr]*blockheap.BlockDescriptor // block base address -> its descriptor
	memory     *blockstore.BlockStore                 // sparse backing storage for every block
	nextBlock  uintptr
}

// NewReference returns an empty Reference arena.
func NewReference() *Reference {
	return &Reference{
		blocks:     blockheap.NewPriorityBlockHeap(),
		unused:     blockheap.NewUnusedBlockHeap(),
		descriptor: make(map[uintptr]*blockheap.BlockDescriptor),
		memory:     blockstore.New(),
		nextBlock:  sizeclass.BlockSize, // start above 0 so address 0 stays "unmapped"
	}
}

func (a *Reference) emap(emap extentmap.ExtentMap) *extentmap.Reference {
	ref, ok := emap.(*extentmap.Reference)
	if !ok {
		panic("arena.Reference: requires an *extentmap.Reference collaborator")
	}
	return ref
}

// growBlock supplies one more block to serve from: a recycled block from
// the UnusedBlockHeap if one is available (oldest generation first, per
// spec §3/§4.B.4's FIFO recycling), otherwise a fresh BlockDescriptor with
// freshly registered backing storage, mirroring how a real arena would
// mmap and register one more huge page when nothing can be reused (spec
// §2 data flow, §3 lifecycle: "acquired, filled, possibly repeatedly
// recycled ... eventually returned").
func (a *Reference) growBlock() *blockheap.BlockDescriptor {
	if a.unused.Len() > 0 {
		d := a.unused.Pop()
		a.blocks.Push(d)
		return d
	}

	addr := a.nextBlock
	a.nextBlock += sizeclass.BlockSize

	d := blockheap.NewBlockDescriptor(addr)
	a.descriptor[addr] = d
	a.memory.Grow(addr + sizeclass.BlockSize)
	a.blocks.Push(d)
	return d
}

func (a *Reference) reserve(pages int) (*blockheap.BlockDescriptor, int) {
	if d := a.blocks.Best(pages); d != nil {
		idx := d.Reserve(pages)
		a.blocks.Fix(d)
		return d, idx
	}

	d := a.growBlock()
	idx := d.Reserve(pages)
	a.blocks.Fix(d)
	return d, idx
}

// recycleIfEmpty moves d out of the PriorityBlockHeap and into the
// UnusedBlockHeap once it has no live allocations left, incrementing its
// generation. The UnusedBlockHeap hands out the block with the lowest
// generation first (ties by lowest address); since generation counts how
// often that one block has been recycled, this is not an ordering by the
// time blocks were emptied (spec §3, §4.B.4).
func (a *Reference) recycleIfEmpty(d *blockheap.BlockDescriptor) {
	if d.UsedCount() != 0 {
		return
	}
	a.blocks.Remove(d)
	d.Recycle()
	a.unused.Push(d)
}

func pagesFor(size int) int {
	return (size + sizeclass.PageSize - 1) / sizeclass.PageSize
}

// blockOf returns the block base address and in-block page index for an
// address previously handed out by this arena.
func (a *Reference) blockOf(addr uintptr) (base uintptr, pageIndex int) {
	base = addr - addr%sizeclass.BlockSize
	pageIndex = int((addr - base) / sizeclass.PageSize)
	return
}

// AllocSmall implements Arena.
func (a *Reference) AllocSmall(em extentmap.ExtentMap, size int) uintptr {
	ref := a.emap(em)

	a.mu.Lock()
	defer a.mu.Unlock()

	sc := sizeclass.GetSizeClass(size)
	asize := sizeclass.GetSizeFromClass(sc)
	pages := pagesFor(asize)

	d, idx := a.reserve(pages)
	addr := d.Addr() + uintptr(idx*sizeclass.PageSize)

	ref.Insert(addr, extentmap.PageDescriptor{
		Kind: extentmap.KindSlab,
		Slab: &extentmap.SlabInfo{
			Address:   addr,
			SizeClass: sc,
		},
	})
	return addr
}

// AllocLarge implements Arena.
func (a *Reference) AllocLarge(em extentmap.ExtentMap, size int, zero bool) uintptr {
	ref := a.emap(em)

	a.mu.Lock()
	defer a.mu.Unlock()

	pages := pagesFor(size)
	d, idx := a.reserve(pages)
	addr := d.Addr() + uintptr(idx*sizeclass.PageSize)

	if zero {
		a.memory.Zero(addr, pages*sizeclass.PageSize)
	}

	ref.Insert(addr, extentmap.PageDescriptor{
		Kind: extentmap.KindLarge,
		Large: &extentmap.LargeInfo{
			Address: addr,
			Size:    pages * sizeclass.PageSize,
		},
	})
	return addr
}

// Free implements Arena. Reference never actually returns pages to an OS
// (there is none, spec §1); it just releases the bits in the owning
// BlockDescriptor and drops the extent-map entry.
func (a *Reference) Free(em extentmap.ExtentMap, pd extentmap.PageDescriptor, ptr uintptr) {
	ref := a.emap(em)

	a.mu.Lock()
	defer a.mu.Unlock()

	pages := a.pagesForDescriptor(pd)
	base, idx := a.blockOf(ptr)
	if d, ok := a.descriptor[base]; ok {
		d.Release(idx, pages)
		a.blocks.Fix(d)
		a.recycleIfEmpty(d)
	}
	ref.Remove(ptr)
}

// ResizeLarge implements Arena: attempts to grow/shrink a large extent in
// place by adjusting the BlockDescriptor's reservation via GrowAt.
// Shrinking in place always succeeds (it only clears trailing pages, and
// leaves the block's live-allocation count alone);
// growing succeeds only if GrowAt finds enough trailing free pages.
func (a *Reference) ResizeLarge(em extentmap.ExtentMap, pd extentmap.PageDescriptor, newSize int) bool {
	if pd.Kind != extentmap.KindLarge || pd.Large == nil {
		return false
	}

	ref := a.emap(em)

	a.mu.Lock()
	defer a.mu.Unlock()

	oldSize := pd.Large.Size
	oldPages := pagesFor(oldSize)
	base, idx := a.blockOf(pd.Large.Address)
	d, ok := a.descriptor[base]
	if !ok {
		return false
	}

	newPages := pagesFor(newSize)
	switch {
	case newPages == oldPages:
		pd.Large.Size = newPages * sizeclass.PageSize
		return true
	case newPages < oldPages:
		d.Clear(idx+newPages, oldPages-newPages)
		a.blocks.Fix(d)
		pd.Large.Size = newPages * sizeclass.PageSize
		ref.Respan(pd.Large.Address, oldSize, pd.Large.Size)
		return true
	default:
		if !d.GrowAt(idx+oldPages, newPages-oldPages) {
			return false
		}
		a.blocks.Fix(d)
		pd.Large.Size = newPages * sizeclass.PageSize
		ref.Respan(pd.Large.Address, oldSize, pd.Large.Size)
		return true
	}
}

func (a *Reference) pagesForDescriptor(pd extentmap.PageDescriptor) int {
	switch pd.Kind {
	case extentmap.KindSlab:
		return pagesFor(sizeclass.GetSizeFromClass(pd.Slab.SizeClass))
	case extentmap.KindLarge:
		return pagesFor(pd.Large.Size)
	default:
		return 0
	}
}

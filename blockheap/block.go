// Package blockheap implements the per-huge-page block descriptor and the
// two priority collections that order blocks for allocation and recycling
// (spec §3, §4.B, §4.C: components B and C).
package blockheap

import (
	"container/heap"

	"github.com/cznic/mathutil"
	"github.com/sdlang/sdgc/bitmap"
	"github.com/sdlang/sdgc/sizeclass"
)

// PagesInBlock mirrors sizeclass.PagesInBlock under the name used
// throughout spec §3/§4.B.
const PagesInBlock = sizeclass.PagesInBlock

// heapSlot is the intrusive-link union described in spec §9: a descriptor
// lives in exactly one collection at a time, so the pairing-heap index and
// the ring-list index are never both meaningful simultaneously. Go has no
// union type; the honest equivalent is one field whose interpretation the
// owning collection decides, documented rather than overlapped in memory.
type heapSlot struct {
	owner *collectionTag
	index int
}

// collectionTag identifies which collection currently owns a descriptor's
// heapSlot, so a descriptor accidentally touched by the wrong collection's
// Fix/Remove panics instead of corrupting another heap's indices.
type collectionTag struct{ name string }

// BlockDescriptor manages one BlockSize-aligned huge page divided into
// PagesInBlock pages (spec §3).
type BlockDescriptor struct {
	addr uintptr

	allocatedPages *bitmap.Bitmap
	dirtyPages     *bitmap.Bitmap
	usedCount      int
	dirtyCount     int

	bits       priorityBits
	generation uint64

	slot heapSlot
}

// NewBlockDescriptor returns a descriptor for a fresh, entirely free block
// at addr (which must be BlockSize-aligned).
func NewBlockDescriptor(addr uintptr) *BlockDescriptor {
	if addr%sizeclass.BlockSize != 0 {
		panic("blockheap: block address is not BlockSize-aligned")
	}
	d := &BlockDescriptor{
		addr:           addr,
		allocatedPages: bitmap.New(PagesInBlock),
		dirtyPages:     bitmap.New(PagesInBlock),
	}
	d.bits = newPriorityBits(PagesInBlock, 0, uint32(addr>>sizeclass.LgBlockSize))
	return d
}

// Addr returns the block's base address.
func (d *BlockDescriptor) Addr() uintptr { return d.addr }

// UsedCount is the number of pages currently part of a live allocation.
func (d *BlockDescriptor) UsedCount() int { return d.usedCount }

// DirtyCount is the number of pages that have ever been written since
// being returned to the OS.
func (d *BlockDescriptor) DirtyCount() int { return d.dirtyCount }

// AllocCount is the number of live allocations (Reserve calls minus
// Release calls), as recorded in the packed priority key (spec §3
// invariant 3).
func (d *BlockDescriptor) AllocCount() int { return d.bits.allocCount() }

// LongestFreeRange returns the block's current LFR estimate: an
// over-approximation of the true longest run of free pages, exact
// whenever reserve/growAt last consumed it (spec §3, §8).
func (d *BlockDescriptor) LongestFreeRange() int { return d.bits.lfr() }

// Generation is the recycle epoch, incremented by Recycle.
func (d *BlockDescriptor) Generation() uint64 { return d.generation }

// Recycle increments the descriptor's generation, ordering it after
// previously recycled blocks in the UnusedBlockHeap (spec §3).
func (d *BlockDescriptor) Recycle() { d.generation++ }

// updateLongestFreeRange is the single writer of the LFR(+class) subfield
// (spec §3 invariant 2); every allocation path that changes the longest
// run must call it.
func (d *BlockDescriptor) updateLongestFreeRange(lfr int) {
	d.bits = d.bits.withLFR(lfr)
}

// registerAllocation marks [index, index+pages) as allocated, bumping
// usedCount and the dirty bitmap/count idempotently -- a page already
// dirty before this allocation must not be double-counted (spec §4.B.1).
func (d *BlockDescriptor) registerAllocation(index, pages int) {
	d.allocatedPages.SetRange(index, pages)
	d.usedCount += pages

	for i := index; i < index+pages; i++ {
		if !d.dirtyPages.ValueAt(i) {
			d.dirtyPages.SetBit(i)
			d.dirtyCount++
		}
	}
}

// Reserve allocates `pages` contiguous pages using the best-fit,
// shortest-sufficient-run policy of spec §4.B.1: a single pass over
// allocatedPages tracks the smallest eligible run (first wins on ties)
// while also tracking the two longest runs seen, so LFR can be
// recomputed in the same pass without a second scan.
//
// Precondition: 0 < pages <= d.LongestFreeRange(). Violating it panics,
// per spec §7 ("precondition violation ... trapped by assertion").
func (d *BlockDescriptor) Reserve(pages int) int {
	if pages <= 0 || pages > d.LongestFreeRange() {
		panic("blockheap: Reserve precondition violated")
	}

	prevLFR := d.LongestFreeRange()

	bestIndex, bestLength := -1, 0
	longest, secondLongest := 0, 0

	for start := 0; start < PagesInBlock; {
		idx, length, ok := d.allocatedPages.NextFreeRange(start)
		if !ok {
			break
		}

		if length >= pages && (bestIndex == -1 || length < bestLength) {
			bestIndex, bestLength = idx, length
		}

		switch {
		case length > longest:
			secondLongest = longest
			longest = length
		case length > secondLongest:
			secondLongest = length
		}

		start = idx + length
	}

	if bestIndex == -1 {
		panic("blockheap: Reserve found no sufficient run despite LFR precondition")
	}

	d.bits = d.bits.decrementScore()
	d.registerAllocation(bestIndex, pages)

	if bestLength == prevLFR {
		d.updateLongestFreeRange(mathutil.Max(longest-pages, secondLongest))
	}

	return bestIndex
}

// GrowAt attempts to extend the allocation whose right edge is at index by
// `pages` more pages. Returns false without mutating state if the
// immediately following run of clear pages is too short (spec §4.B.2).
func (d *BlockDescriptor) GrowAt(index, pages int) bool {
	runEnd := d.allocatedPages.FindSet(index)
	available := runEnd - index
	if available < pages {
		return false
	}

	consumedLFR := available == d.LongestFreeRange()
	d.registerAllocation(index, pages)

	if consumedLFR {
		lfr := 0
		for start := 0; start < PagesInBlock; {
			idx, length, ok := d.allocatedPages.NextFreeRange(start)
			if !ok {
				break
			}
			lfr = mathutil.Max(lfr, length)
			start = idx + length
		}
		d.updateLongestFreeRange(lfr)
	}
	return true
}

// Clear clears the allocated bits for [index, index+pages) and widens the
// freed span to the surrounding free run, updating LFR only if the
// widened span exceeds the current (over-approximating) estimate (spec
// §4.B.3). Clear alone does not change AllocCount -- only Release does.
func (d *BlockDescriptor) Clear(index, pages int) {
	d.allocatedPages.ClearRange(index, pages)
	d.usedCount -= pages

	start := d.allocatedPages.FindSetBackward(index) + 1
	stop := d.allocatedPages.FindSet(index + pages - 1)
	if widened := stop - start; widened > d.LongestFreeRange() {
		d.updateLongestFreeRange(widened)
	}
}

// Release clears [index, index+pages) (as Clear) and increments the
// packed allocation score, recording one fewer live allocation.
func (d *BlockDescriptor) Release(index, pages int) {
	d.Clear(index, pages)
	d.bits = d.bits.incrementScore()
}

// priorityBlockCmp is the sole comparator for PriorityBlockHeap: all
// allocation policy is encoded in the packed bits, so comparing two
// descriptors is just comparing two uint64s (spec §4.B.4).
func priorityBlockCmp(a, b *BlockDescriptor) int { return a.bits.cmp(b.bits) }

// unusedBlockDescriptorCmp orders recycled-but-unused blocks by
// (generation, address) so the UnusedBlockHeap degenerates to FIFO
// recycling (spec §4.B.4).
func unusedBlockDescriptorCmp(a, b *BlockDescriptor) int {
	if a.generation != b.generation {
		if a.generation < b.generation {
			return -1
		}
		return 1
	}
	switch {
	case a.addr < b.addr:
		return -1
	case a.addr > b.addr:
		return 1
	default:
		return 0
	}
}

// priorityHeapTag / unusedHeapTag distinguish which collection a
// descriptor's heapSlot belongs to, per the intrusive-union discipline
// documented on heapSlot.
var (
	priorityHeapTag = &collectionTag{name: "PriorityBlockHeap"}
	unusedHeapTag   = &collectionTag{name: "UnusedBlockHeap"}
)

// blockSlice adapts []*BlockDescriptor to container/heap.Interface using
// a supplied comparator and collection tag, shared by both
// PriorityBlockHeap and UnusedBlockHeap below.
type blockSlice struct {
	items []*BlockDescriptor
	less  func(a, b *BlockDescriptor) bool
	tag   *collectionTag
}

func (s *blockSlice) Len() int { return len(s.items) }
func (s *blockSlice) Less(i, j int) bool {
	return s.less(s.items[i], s.items[j])
}
func (s *blockSlice) Swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
	s.items[i].slot.index = i
	s.items[j].slot.index = j
}
func (s *blockSlice) Push(x interface{}) {
	d := x.(*BlockDescriptor)
	d.slot.owner = s.tag
	d.slot.index = len(s.items)
	s.items = append(s.items, d)
}
func (s *blockSlice) Pop() interface{} {
	n := len(s.items)
	d := s.items[n-1]
	s.items[n-1] = nil
	s.items = s.items[:n-1]
	d.slot.owner = nil
	d.slot.index = -1
	return d
}

// PriorityBlockHeap orders live BlockDescriptors by priorityBlockCmp so
// the arena can always pull the block best suited to serve the next
// allocation (spec §4.B.4): shortest sufficient LFR first, ties broken by
// more live allocations, final tie-break by lowest address.
type PriorityBlockHeap struct {
	s *blockSlice
}

// NewPriorityBlockHeap returns an empty PriorityBlockHeap.
func NewPriorityBlockHeap() *PriorityBlockHeap {
	return &PriorityBlockHeap{s: &blockSlice{
		less: func(a, b *BlockDescriptor) bool { return priorityBlockCmp(a, b) < 0 },
		tag:  priorityHeapTag,
	}}
}

// Len reports how many descriptors are currently tracked.
func (h *PriorityBlockHeap) Len() int { return h.s.Len() }

// Push inserts d into the heap.
func (h *PriorityBlockHeap) Push(d *BlockDescriptor) { heap.Push(h.s, d) }

// Peek returns the highest-priority (lowest packed key) descriptor
// without removing it, or nil if the heap is empty.
func (h *PriorityBlockHeap) Peek() *BlockDescriptor {
	if h.s.Len() == 0 {
		return nil
	}
	return h.s.items[0]
}

// Pop removes and returns the highest-priority descriptor.
func (h *PriorityBlockHeap) Pop() *BlockDescriptor {
	return heap.Pop(h.s).(*BlockDescriptor)
}

// Best returns the highest-priority descriptor (lowest packed key) among
// those whose LongestFreeRange is at least pages, or nil if none qualify.
// The heap root alone only gives the globally shortest LFR, which may be
// too small to serve the request even while a deeper, longer-LFR block
// would do -- so the arena's allocation path (spec §2 data flow, "arena
// consults a PriorityBlockHeap of BlockDescriptors") needs this scan
// rather than a bare Peek.
func (h *PriorityBlockHeap) Best(pages int) *BlockDescriptor {
	var best *BlockDescriptor
	for _, d := range h.s.items {
		if d.LongestFreeRange() < pages {
			continue
		}
		if best == nil || priorityBlockCmp(d, best) < 0 {
			best = d
		}
	}
	return best
}

// Fix re-establishes heap order for d after its priority bits changed
// in place (e.g. after Reserve/Release). d must currently belong to this
// heap.
func (h *PriorityBlockHeap) Fix(d *BlockDescriptor) {
	if d.slot.owner != priorityHeapTag {
		panic("blockheap: Fix called on a descriptor not owned by this PriorityBlockHeap")
	}
	heap.Fix(h.s, d.slot.index)
}

// Remove removes d from the heap. d must currently belong to this heap.
func (h *PriorityBlockHeap) Remove(d *BlockDescriptor) {
	if d.slot.owner != priorityHeapTag {
		panic("blockheap: Remove called on a descriptor not owned by this PriorityBlockHeap")
	}
	heap.Remove(h.s, d.slot.index)
}

// UnusedBlockHeap orders recycled, currently-unused blocks by
// unusedBlockDescriptorCmp for FIFO recycling (spec §4.B.4): the heap
// degenerates to a list because generation strictly orders insertion
// batches.
type UnusedBlockHeap struct {
	s *blockSlice
}

// NewUnusedBlockHeap returns an empty UnusedBlockHeap.
func NewUnusedBlockHeap() *UnusedBlockHeap {
	return &UnusedBlockHeap{s: &blockSlice{
		less: func(a, b *BlockDescriptor) bool { return unusedBlockDescriptorCmp(a, b) < 0 },
		tag:  unusedHeapTag,
	}}
}

// Len reports how many descriptors are currently tracked.
func (h *UnusedBlockHeap) Len() int { return h.s.Len() }

// Push inserts d into the unused-block heap.
func (h *UnusedBlockHeap) Push(d *BlockDescriptor) { heap.Push(h.s, d) }

// Pop removes and returns the oldest-generation, lowest-address unused
// block.
func (h *UnusedBlockHeap) Pop() *BlockDescriptor {
	return heap.Pop(h.s).(*BlockDescriptor)
}

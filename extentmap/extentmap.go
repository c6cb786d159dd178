// Package extentmap defines the core-to-extent-map collaborator interface
// (spec §6): a lookup oracle mapping page-aligned addresses to page
// descriptors. The real implementation (a radix tree) is out of scope
// (spec §1); this package also provides an in-memory Reference
// implementation used only by tests, the same way lldb.MemFiler lets the
// teacher's Allocator tests run without a real file.
package extentmap

import "github.com/sdlang/sdgc/sizeclass"

// Kind discriminates a PageDescriptor between a slab allocation and a
// large (page-aligned, non-slab) extent (spec §3).
type Kind int

const (
	// KindNone is the zero value: the sentinel for "unmapped address".
	KindNone Kind = iota
	KindSlab
	KindLarge
)

// Finalizer is the nullable function reference invoked on Destroy for an
// allocation carrying one (spec §9: "type it as a nullable function
// reference, not a polymorphic callable").
type Finalizer func(ptr uintptr, usedCapacity int)

// SlabInfo carries the slab-specific fields a ThreadCache needs once it
// has resolved a PageDescriptor for a small allocation (spec §3).
type SlabInfo struct {
	Address      uintptr // the slot's base address (for destroy's no-interior-pointer check)
	SizeClass    int
	Finalizer    Finalizer
	UsedCapacity int
}

// LargeInfo carries the large-extent-specific fields (spec §3).
type LargeInfo struct {
	Address      uintptr
	Size         int
	UsedCapacity int
	Finalizer    Finalizer
}

// PageDescriptor is what ExtentMap.Lookup returns: a zero value (Kind ==
// KindNone) is the sentinel for "this address is not mapped to any
// extent" (spec §6).
type PageDescriptor struct {
	Kind             Kind
	ContainsPointers bool
	ArenaID          int

	Slab  *SlabInfo
	Large *LargeInfo

	// mark is a pointer to the extent's mark bit rather than an inline
	// bool: PageDescriptor is handed out by value from Lookup, and a
	// scan that finds a pointer must make that mark visible to every
	// other copy of the descriptor, not just its own local one -- the
	// same reason Slab/Large are themselves pointers.
	mark *bool
}

// Marked reports whether a conservative scan has already marked this
// extent reachable in the current collection cycle.
func (p *PageDescriptor) Marked() bool { return p.mark != nil && *p.mark }

// Mark records that a conservative scan found a pointer into this
// extent. Spec §4.C.6 leaves the concrete mark representation
// implementation-defined; this module uses a plain bool since extents are
// not scanned concurrently with mutation of this bit (collection is
// stop-the-world, spec §5).
func (p *PageDescriptor) Mark() {
	if p.mark != nil {
		*p.mark = true
	}
}

// ExtentMap is the abstract collaborator interface required by spec §6.
type ExtentMap interface {
	// Lookup returns the PageDescriptor for the page-aligned page
	// containing addr, or the zero PageDescriptor (Kind == KindNone) if
	// addr is not mapped to any live extent.
	Lookup(addr uintptr) PageDescriptor
}

// PageAlign rounds addr down to its containing PageSize-aligned page,
// exactly the address ExtentMap.Lookup expects (spec §6).
func PageAlign(addr uintptr) uintptr {
	return addr &^ (sizeclass.PageSize - 1)
}

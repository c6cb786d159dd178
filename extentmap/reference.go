package extentmap

import (
	"sync"

	"github.com/sdlang/sdgc/sizeclass"
)

// Reference is an in-process ExtentMap backed by a map keyed on
// page-aligned address, concurrency-safe via a plain mutex. It plays the
// role a real radix-tree extent map would play in production (spec §1
// treats the real extent map as out of scope) -- it exists purely so
// threadcache's tests can exercise the full alloc/free/realloc/destroy
// and conservative-scan paths without a real collaborator, the same way
// the teacher's lldb tests run entirely against lldb.MemFiler instead of
// an os.File.
//
// A radix-tree extent map (spec §1) resolves every page-aligned address
// an extent spans, not just its base page: Reference mirrors that by
// mapping every page of an extent to the same *PageDescriptor, so
// Lookup(addr) succeeds for an interior-page address exactly as it does
// for the extent's base address.
type Reference struct {
	mu      sync.Mutex
	entries map[uintptr]*PageDescriptor
}

// NewReference returns an empty Reference extent map.
func NewReference() *Reference {
	return &Reference{entries: make(map[uintptr]*PageDescriptor)}
}

// Lookup implements ExtentMap.
func (r *Reference) Lookup(addr uintptr) PageDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	pd, ok := r.entries[PageAlign(addr)]
	if !ok {
		return PageDescriptor{}
	}
	return *pd
}

// extentPages returns the number of PageSize pages desc's extent spans.
func extentPages(desc PageDescriptor) int {
	switch desc.Kind {
	case KindSlab:
		if desc.Slab != nil {
			return pagesForSize(sizeclass.GetSizeFromClass(desc.Slab.SizeClass))
		}
	case KindLarge:
		if desc.Large != nil {
			return pagesForSize(desc.Large.Size)
		}
	}
	return 1
}

func pagesForSize(size int) int {
	if size <= 0 {
		return 1
	}
	return (size + sizeclass.PageSize - 1) / sizeclass.PageSize
}

// Insert registers desc at every page-aligned address its extent spans,
// overwriting any existing mapping. Returns the live descriptor, so
// callers (the reference arena) can continue mutating Slab/Large fields
// in place and have Lookup observe the updates from any page of the
// extent (spec §1 "a radix tree mapping page-aligned addresses -> page
// descriptors").
func (r *Reference) Insert(addr uintptr, desc PageDescriptor) *PageDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := desc
	d.mark = new(bool)
	pd := &d

	base := PageAlign(addr)
	for i, n := 0, extentPages(desc); i < n; i++ {
		r.entries[base+uintptr(i)*sizeclass.PageSize] = pd
	}
	return pd
}

// Respan updates which pages map to the already-registered extent at
// addr's base after an in-place grow or shrink (arena.Reference.
// ResizeLarge's GrowAt/shrink paths): pages the extent newly covers start
// resolving, pages it no longer covers stop resolving.
func (r *Reference) Respan(addr uintptr, oldSize, newSize int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := PageAlign(addr)
	pd, ok := r.entries[base]
	if !ok {
		return
	}

	oldPages, newPages := pagesForSize(oldSize), pagesForSize(newSize)
	for i := newPages; i < oldPages; i++ {
		delete(r.entries, base+uintptr(i)*sizeclass.PageSize)
	}
	for i := oldPages; i < newPages; i++ {
		r.entries[base+uintptr(i)*sizeclass.PageSize] = pd
	}
}

// Remove deletes the mapping for every page addr's extent spans.
func (r *Reference) Remove(addr uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := PageAlign(addr)
	pd, ok := r.entries[base]
	if !ok {
		return
	}
	for i, n := 0, extentPages(*pd); i < n; i++ {
		delete(r.entries, base+uintptr(i)*sizeclass.PageSize)
	}
}

// Each calls fn for every currently mapped page address and its
// descriptor; an extent spanning several pages is visited once per page.
func (r *Reference) Each(fn func(addr uintptr, pd *PageDescriptor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, pd := range r.entries {
		fn(addr, pd)
	}
}

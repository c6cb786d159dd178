// Package arena defines the core-to-arena collaborator interface (spec
// §6): allocSmall/allocLarge/free/resizeLarge. Real arenas are out of
// scope (spec §1, component E) -- this package documents the contract and
// provides an in-memory Reference implementation, built on blockheap and
// extentmap, for use by tests only.
package arena

import "github.com/sdlang/sdgc/extentmap"

// Arena is the abstract allocator collaborator required by spec §6. One
// Arena instance serves a single (cpu, pointerness) class, front-ended by
// per-thread caches (spec §3 glossary).
//
// Implementations MUST leave the extent unchanged when ResizeLarge
// returns false (spec §9 open question, resolved here as a hard
// requirement on the interface).
type Arena interface {
	// AllocSmall serves a slab allocation of exactly size bytes,
	// registering its PageDescriptor in emap. Returns 0 on
	// out-of-memory.
	AllocSmall(emap extentmap.ExtentMap, size int) uintptr

	// AllocLarge serves a page-aligned allocation of size bytes. If
	// zero is true the returned memory is guaranteed zero-filled.
	// Returns 0 on out-of-memory.
	AllocLarge(emap extentmap.ExtentMap, size int, zero bool) uintptr

	// Free releases the extent described by pd, previously returned by
	// emap.Lookup(ptr).
	Free(emap extentmap.ExtentMap, pd extentmap.PageDescriptor, ptr uintptr)

	// ResizeLarge attempts to grow/shrink extent in place to newSize.
	// Returns true iff it succeeded; on false the extent is unchanged.
	ResizeLarge(emap extentmap.ExtentMap, pd extentmap.PageDescriptor, newSize int) bool
}

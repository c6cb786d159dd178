package threadcache

import (
	"unsafe"

	"github.com/sdlang/sdgc/extentmap"
	"github.com/sdlang/sdgc/internal/platform"
	"github.com/sdlang/sdgc/sizeclass"
)

// AddRoots registers [start, start+length) as a conservative scan range
// for this thread (spec §4.C.6). The reference's own roots bookkeeping
// intentionally uses a plain Go slice rather than routing through
// tc.Alloc: growing the roots table via this same allocator, as the
// reference implementation literally does, would make AddRoots itself
// allocate and therefore re-enter Collect's bookkeeping during a
// collection -- exactly the reentrancy spec §5 forbids ("finalization ...
// must not itself allocate through the same thread cache reentrantly").
// Keeping roots off this allocator's own heap sidesteps that hazard
// entirely rather than papering over it.
func (tc *ThreadCache) AddRoots(start uintptr, length uintptr) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.roots = append(tc.roots, rootRange{start: start, len: length})
}

// Collect implements spec §4.C.6: spill callee-saved registers, scan the
// stack, then scan every registered root range. Marking is as far as this
// module's collection goes (spec's own reference leaves mark/sweep as
// future work; see SPEC_FULL.md open questions) -- it returns the number
// of scanned ranges (the stack plus each root range) in which at least one
// new pointer was marked.
func (tc *ThreadCache) Collect() int {
	marked := 0

	platform.PushRegisters(func() bool {
		fp := platform.ReadFramePointer()
		if tc.stackBottom > fp {
			if tc.Scan(fp, tc.stackBottom-fp) {
				marked++
			}
		}
		return true
	})

	tc.mu.Lock()
	roots := append([]rootRange(nil), tc.roots...)
	tc.mu.Unlock()

	for _, r := range roots {
		if tc.Scan(r.start, r.len) {
			marked++
		}
	}
	return marked
}

// Scan conservatively treats every pointer-sized word in [start,
// start+length) as a possible pointer (spec §4.C.6): values with any bit
// set above AddressSpace are rejected outright (they cannot be pointers
// on this platform); the rest are looked up in the extent map and, if
// mapped, marked reachable. Scan returns true if it found and marked at
// least one new pointer.
func (tc *ThreadCache) Scan(start uintptr, length uintptr) bool {
	if length == 0 {
		return false
	}

	words := unsafe.Slice((*uintptr)(unsafe.Pointer(start)), length/sizeclass.PointerSize)

	found := false
	for _, w := range words {
		if !isPlausiblePointer(w) {
			continue
		}
		pd := tc.emap.Lookup(w)
		if pd.Kind == extentmap.KindNone {
			continue
		}
		if !pd.Marked() {
			pd.Mark()
			found = true
		}
	}
	return found
}

// isPlausiblePointer implements the pointer-likeness filter of spec §9:
// iptr & ~(AddressSpace-1) == 0.
func isPlausiblePointer(w uintptr) bool {
	return w != 0 && uintptr(w)&^uintptr(sizeclass.AddressSpace-1) == 0
}

// Demo driver over the allocator: allocates a mix of small, large, and
// appendable blocks through a ThreadCache wired to an in-process
// arena.Reference/extentmap.Reference pair, frees some of them, grows one
// via Extend, runs one collection pass, and prints a short summary. Not a
// production tool, in the spirit of the library's own lldb/lab/1/main.go
// and dbm/crash/main.go drivers.
package main

import (
	"flag"
	"log"

	"github.com/sdlang/sdgc/arena"
	"github.com/sdlang/sdgc/extentmap"
	"github.com/sdlang/sdgc/sizeclass"
	"github.com/sdlang/sdgc/threadcache"
)

var (
	smallCount = flag.Int("small", 64, "number of small allocations")
	largeCount = flag.Int("large", 4, "number of large allocations")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	emap := extentmap.NewReference()
	arenas := arena.NewSet(func() arena.Arena { return arena.NewReference() })
	tc := threadcache.New(emap, arenas)

	var live []uintptr

	for i := 0; i < *smallCount; i++ {
		ptr := tc.Alloc(sizeclass.Quantum, false)
		if ptr == 0 {
			log.Fatalf("small allocation %d failed", i)
		}
		live = append(live, ptr)
	}

	largeSize := sizeclass.MaxSmallSize + sizeclass.PageSize
	for i := 0; i < *largeCount; i++ {
		ptr := tc.Alloc(largeSize, false)
		if ptr == 0 {
			log.Fatalf("large allocation %d failed", i)
		}
		live = append(live, ptr)
	}

	finalized := 0
	appendablePtr := tc.AllocAppendable(sizeclass.Quantum, false, func(ptr uintptr, usedCapacity int) {
		finalized++
	})
	if appendablePtr == 0 {
		log.Fatal("appendable allocation failed")
	}

	slice := threadcache.Slice{Base: appendablePtr, Start: 0, Stop: sizeclass.Quantum}
	if !tc.Extend(slice, 4) {
		log.Fatal("extend of freshly-allocated appendable memory should succeed")
	}

	freed := 0
	for i, ptr := range live {
		if i%3 == 0 {
			tc.Free(ptr)
			freed++
		}
	}

	tc.AddRoots(0, 0) // no real stack/root ranges exist in this demo process
	marked := tc.Collect()

	tc.Destroy(appendablePtr)

	log.Printf("allocated %d small + %d large + 1 appendable block", *smallCount, *largeCount)
	log.Printf("freed %d blocks, collect marked new pointers in %d range(s), finalizer ran %d time(s)", freed, marked, finalized)
}

// Package platform collects the small set of OS/architecture hooks the
// allocator and collector need and cannot reasonably abstract further:
// per-CPU identification, register spilling, and frame-pointer reads (see
// spec §6 "Platform hooks"). Everything else in this module is portable
// Go operating on those hooks' results.
package platform

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// CPUID returns a small, non-negative, best-effort identifier for the CPU
// the calling goroutine is currently running on. It is used only to shard
// arenas and never for correctness -- a stale or repeated value degrades
// sharding, it never produces a wrong answer (spec §9 "Per-CPU arena
// selection is an optimization").
//
// When the sched_getcpu call fails CPUID falls back to 0 so callers always
// get a usable shard index. unix.SchedGetcpu is Linux-only, so this
// package builds only on Linux.
func CPUID() int {
	cpu, err := unix.SchedGetcpu()
	if err != nil || cpu < 0 {
		return 0
	}
	return cpu
}

// PushRegisters is the hook where callee-saved registers would be spilled
// onto the stack before invoking delegate, so that a conservative stack
// scan starting below the spill also covers whatever pointers those
// registers held; here it spills nothing and only invokes delegate,
// returning its result. The reference allocator calls this
// __sd_gc_push_registers; Go's
// own goroutine stacks are already scanned precisely by the Go runtime, so
// this module's conservative scanner only needs to cover memory it manages
// itself (threadcache.Roots) -- PushRegisters is kept as a documented
// no-op hook so the entry point shape matches spec §6 and a future
// cgo/assembly implementation has a seam to plug into.
func PushRegisters(delegate func() bool) bool {
	runtime.KeepAlive(delegate)
	return delegate()
}

// ReadFramePointer is the frame-pointer hook; it always returns 0. Like
// PushRegisters, Go's own stack is not conservatively scanned by this
// module (the Go runtime already tracks it precisely); ReadFramePointer is
// a documented stub returning 0 so callers driving a real conservative
// scan over manually managed memory (e.g. roots registered via
// threadcache.AddRoots) have a seam without this module pretending to
// read an architecture register Go does not expose.
func ReadFramePointer() uintptr {
	return 0
}

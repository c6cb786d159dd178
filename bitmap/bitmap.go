// Package bitmap implements the fixed-capacity bit array shared by the
// block descriptor (allocated/dirty page tracking) and the SWAR hash map
// substrate: range set/clear/count, forward/backward scans, and a rolling
// (wrap-around) variant (spec §3, §4.A).
//
// The layout follows the teacher's dbm/bits.go split of a range operation
// into a leading partial word, zero or more full words, and a trailing
// partial word, generalized here from byte-granularity page bits to
// arbitrary bit ranges over a []uint64 backing store.
package bitmap

import (
	"math/bits"
	"sync/atomic"

	"github.com/cznic/mathutil"
)

// Bitmap is a fixed-capacity ordered sequence of bits, physically stored
// as ceil(N/64) 64-bit words. Dead bits above N (the tail of the last
// word) are always kept clear so they never leak into scan/count results.
type Bitmap struct {
	n     int
	words []uint64
}

// New returns a Bitmap with capacity for n bits, all initially clear.
func New(n int) *Bitmap {
	if n < 0 {
		panic("bitmap: negative capacity")
	}
	return &Bitmap{n: n, words: make([]uint64, wordCount(n))}
}

func wordCount(n int) int { return (n + 63) / 64 }

// Len returns the bitmap's capacity N.
func (b *Bitmap) Len() int { return b.n }

func (b *Bitmap) checkIndex(i int) {
	if i < 0 || i >= b.n {
		panic("bitmap: index out of range")
	}
}

// ValueAt reports whether bit i is set.
func (b *Bitmap) ValueAt(i int) bool {
	b.checkIndex(i)
	return b.words[i/64]&(uint64(1)<<uint(i%64)) != 0
}

// ValueAtAtomic is the acquire-ordered variant of ValueAt, for use when the
// bit may be concurrently marked by another goroutine (e.g. conservative
// mark bits set by Collect).
func (b *Bitmap) ValueAtAtomic(i int) bool {
	b.checkIndex(i)
	w := atomic.LoadUint64(&b.words[i/64])
	return w&(uint64(1)<<uint(i%64)) != 0
}

// SetBit sets bit i. Idempotent.
func (b *Bitmap) SetBit(i int) {
	b.checkIndex(i)
	b.words[i/64] |= uint64(1) << uint(i%64)
}

// ClearBit clears bit i. Idempotent.
func (b *Bitmap) ClearBit(i int) {
	b.checkIndex(i)
	b.words[i/64] &^= uint64(1) << uint(i%64)
}

// SetBitAtomic sets bit i with a sequentially consistent fetch-or on the
// containing word, sufficient to prevent lost marks when multiple
// goroutines mark concurrently (spec §5).
func (b *Bitmap) SetBitAtomic(i int) {
	b.checkIndex(i)
	mask := uint64(1) << uint(i%64)
	w := &b.words[i/64]
	for {
		old := atomic.LoadUint64(w)
		if old&mask != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(w, old, old|mask) {
			return
		}
	}
}

// ClearBitAtomic clears bit i with a sequentially consistent
// fetch-and-complement on the containing word.
func (b *Bitmap) ClearBitAtomic(i int) {
	b.checkIndex(i)
	mask := uint64(1) << uint(i%64)
	w := &b.words[i/64]
	for {
		old := atomic.LoadUint64(w)
		if old&mask == 0 {
			return
		}
		if atomic.CompareAndSwapUint64(w, old, old&^mask) {
			return
		}
	}
}

// SetFirst sets and returns the index of the lowest clear bit. The caller
// must have already verified the bitmap is not full -- behavior is
// undefined (panics) otherwise, matching spec §4.A.
func (b *Bitmap) SetFirst() uint {
	i := b.FindClear(0)
	if i >= b.n {
		panic("bitmap: SetFirst on a full bitmap")
	}
	b.SetBit(i)
	return uint(i)
}

// FindSet returns the index of the lowest set bit at or after i, or N if
// none exists.
func (b *Bitmap) FindSet(i int) int { return b.find(i, true) }

// FindClear returns the index of the lowest clear bit at or after i, or N
// if none exists.
func (b *Bitmap) FindClear(i int) int { return b.find(i, false) }

// find normalizes "find first set" by XOR-ing each word with 0 (looking
// for set bits) or ^0 (looking for clear bits), masks off bits below i,
// and counts trailing zeros, advancing across words and clamping the
// result to N so a partially-filled tail word never yields a false
// positive past the declared capacity.
func (b *Bitmap) find(i int, set bool) int {
	if i < 0 {
		i = 0
	}
	if i >= b.n {
		return b.n
	}

	xorMask := uint64(0)
	if !set {
		xorMask = ^uint64(0)
	}

	wi := i / 64
	bitOff := uint(i % 64)
	w := b.words[wi] ^ xorMask
	w &^= (uint64(1) << bitOff) - 1 // mask off bits below i

	for {
		if w != 0 {
			idx := wi*64 + bits.TrailingZeros64(w)
			return mathutil.Min(idx, b.n)
		}
		wi++
		if wi >= len(b.words) {
			return b.n
		}
		w = b.words[wi] ^ xorMask
	}
}

// FindSetBackward returns the index of the highest set bit strictly
// before i, or -1 if none exists.
func (b *Bitmap) FindSetBackward(i int) int { return b.findBackward(i, true) }

// FindClearBackward returns the index of the highest clear bit strictly
// before i, or -1 if none exists.
func (b *Bitmap) FindClearBackward(i int) int { return b.findBackward(i, false) }

func (b *Bitmap) findBackward(i int, set bool) int {
	if i > b.n {
		i = b.n
	}
	if i <= 0 {
		return -1
	}

	xorMask := uint64(0)
	if !set {
		xorMask = ^uint64(0)
	}

	last := i - 1
	wi := last / 64
	bitOff := uint(last % 64)
	w := b.words[wi] ^ xorMask
	if bitOff < 63 {
		w &= (uint64(1) << (bitOff + 1)) - 1 // mask off bits above `last`
	}

	for {
		if w != 0 {
			return wi*64 + 63 - bits.LeadingZeros64(w)
		}
		wi--
		if wi < 0 {
			return -1
		}
		w = b.words[wi] ^ xorMask
	}
}

// NextFreeRange finds the next run of clear bits at or after start and
// reports it as [index, index+length). It returns false once no clear bit
// remains. length is always at least 1.
func (b *Bitmap) NextFreeRange(start int) (index, length int, ok bool) {
	index = b.FindClear(start)
	if index >= b.n {
		return 0, 0, false
	}
	stop := b.FindSet(index)
	return index, stop - index, true
}

// SetRange sets L consecutive bits starting at i. Requires i+L <= N.
func (b *Bitmap) SetRange(i, length int) { b.rangeOp(i, length, true, false) }

// ClearRange clears L consecutive bits starting at i. Requires i+L <= N.
func (b *Bitmap) ClearRange(i, length int) { b.rangeOp(i, length, false, false) }

// SetRollingRange is SetRange but the range wraps modulo N; the caller
// guarantees length <= N.
func (b *Bitmap) SetRollingRange(i, length int) { b.rangeOp(i, length, true, true) }

// ClearRollingRange is ClearRange but the range wraps modulo N; the caller
// guarantees length <= N.
func (b *Bitmap) ClearRollingRange(i, length int) { b.rangeOp(i, length, false, true) }

func (b *Bitmap) rangeOp(i, length int, set, rolling bool) {
	if length == 0 {
		return
	}
	if rolling {
		if length > b.n {
			panic("bitmap: rolling range length exceeds capacity")
		}
		i = i % b.n
		if i < 0 {
			i += b.n
		}
		first := mathutil.Min(length, b.n-i)
		b.rangeOpLinear(i, first, set)
		if rem := length - first; rem > 0 {
			b.rangeOpLinear(0, rem, set)
		}
		return
	}

	if i < 0 || length < 0 || i+length > b.n {
		panic("bitmap: range out of bounds")
	}
	b.rangeOpLinear(i, length, set)
}

// rangeOpLinear implements the fast/slow-path split described in spec
// §4.A: when the whole range fits in one word it is a single masked
// read-modify-write; otherwise a leading partial word, zero or more full
// words, and a trailing partial word are each handled in turn.
func (b *Bitmap) rangeOpLinear(i, length int, set bool) {
	if length <= 0 {
		return
	}

	bitOff := uint(i % 64)
	if length <= 64-int(bitOff) {
		mask := rangeMask(bitOff, uint(length))
		b.applyMask(i/64, mask, set)
		return
	}

	wi := i / 64
	leading := 64 - int(bitOff)
	b.applyMask(wi, rangeMask(bitOff, uint(leading)), set)
	wi++
	length -= leading

	for length >= 64 {
		b.applyMask(wi, ^uint64(0), set)
		wi++
		length -= 64
	}

	if length > 0 {
		b.applyMask(wi, rangeMask(0, uint(length)), set)
	}
}

func rangeMask(offset, length uint) uint64 {
	if length >= 64 {
		return ^uint64(0) << offset
	}
	return ((uint64(1) << length) - 1) << offset
}

func (b *Bitmap) applyMask(wi int, mask uint64, set bool) {
	if set {
		b.words[wi] |= mask
	} else {
		b.words[wi] &^= mask
	}
}

// SetRangeFrom copies L masked bits from src into this bitmap starting at
// i: dst &= ~mask; dst |= src & mask. Requires i+L <= N.
func (b *Bitmap) SetRangeFrom(src *Bitmap, i, length int) {
	b.rangeFrom(src, i, length, false)
}

// SetRollingRangeFrom is SetRangeFrom but the range wraps modulo N.
func (b *Bitmap) SetRollingRangeFrom(src *Bitmap, i, length int) {
	b.rangeFrom(src, i, length, true)
}

func (b *Bitmap) rangeFrom(src *Bitmap, i, length int, rolling bool) {
	if length == 0 {
		return
	}
	if rolling {
		if length > b.n {
			panic("bitmap: rolling range length exceeds capacity")
		}
		i = i % b.n
		if i < 0 {
			i += b.n
		}
		for k := 0; k < length; k++ {
			idx := (i + k) % b.n
			b.copyBit(src, idx, idx)
		}
		return
	}

	if i < 0 || length < 0 || i+length > b.n {
		panic("bitmap: range out of bounds")
	}
	for k := 0; k < length; k++ {
		b.copyBit(src, i+k, i+k)
	}
}

func (b *Bitmap) copyBit(src *Bitmap, srcIdx, dstIdx int) {
	if src.ValueAt(srcIdx) {
		b.SetBit(dstIdx)
	} else {
		b.ClearBit(dstIdx)
	}
}

// CountBits returns the population count over [i, i+length).
func (b *Bitmap) CountBits(i, length int) int { return b.countBits(i, length, false) }

// CountBitsRolling is CountBits but the range wraps modulo N.
func (b *Bitmap) CountBitsRolling(i, length int) int { return b.countBits(i, length, true) }

func (b *Bitmap) countBits(i, length int, rolling bool) int {
	if length == 0 {
		return 0
	}
	if rolling {
		if length > b.n {
			panic("bitmap: rolling range length exceeds capacity")
		}
		i = i % b.n
		if i < 0 {
			i += b.n
		}
		first := mathutil.Min(length, b.n-i)
		total := b.countBitsLinear(i, first)
		if rem := length - first; rem > 0 {
			total += b.countBitsLinear(0, rem)
		}
		return total
	}

	if i < 0 || length < 0 || i+length > b.n {
		panic("bitmap: range out of bounds")
	}
	return b.countBitsLinear(i, length)
}

func (b *Bitmap) countBitsLinear(i, length int) int {
	if length <= 0 {
		return 0
	}

	bitOff := uint(i % 64)
	if length <= 64-int(bitOff) {
		return bits.OnesCount64(b.words[i/64] & rangeMask(bitOff, uint(length)))
	}

	wi := i / 64
	leading := 64 - int(bitOff)
	total := bits.OnesCount64(b.words[wi] & rangeMask(bitOff, uint(leading)))
	wi++
	length -= leading

	for length >= 64 {
		total += bits.OnesCount64(b.words[wi])
		wi++
		length -= 64
	}

	if length > 0 {
		total += bits.OnesCount64(b.words[wi] & rangeMask(0, uint(length)))
	}
	return total
}

package blockheap

import "github.com/sdlang/sdgc/sizeclass"

// priorityBits is the strongly-typed newtype over the 64-bit packed
// priority key described in spec §3/§4.B: bits 53-62 longest free range,
// bits 48-52 that range's size class, bits 32-41 allocation score, bits
// 0-31 the block's address shifted by LgBlockSize. Lower values win --
// the layout is load-bearing, not just the stored values, so every write
// goes through the accessor methods below rather than ad hoc shifts.
type priorityBits uint64

const (
	lfrShift   = 53
	lfrBits    = 10
	lfrMask    = (uint64(1)<<lfrBits - 1) << lfrShift
	classShift = 48
	classBits  = 5
	classMask  = (uint64(1)<<classBits - 1) << classShift
	scoreShift = 32
	scoreBits  = 10
	scoreMask  = (uint64(1)<<scoreBits - 1) << scoreShift
	addrMask   = uint64(1)<<32 - 1
)

func lfrSizeClass(lfr int) uint64 {
	// Coarse log2 bucket of the LFR, used only as a compare tiebreaker
	// subfield (spec §3); exact recomputation happens via
	// updateLongestFreeRange.
	c := 0
	for v := lfr; v > 1; v >>= 1 {
		c++
	}
	return uint64(c)
}

func newPriorityBits(lfr, allocCount int, blockAddrShifted uint32) priorityBits {
	p := priorityBits(0)
	p = p.withLFR(lfr)
	score := sizeclass.PagesInBlock - allocCount
	p |= priorityBits(uint64(score)<<scoreShift) & scoreMask
	p |= priorityBits(uint64(blockAddrShifted)) & priorityBits(addrMask)
	return p
}

func (p priorityBits) withLFR(lfr int) priorityBits {
	p &^= lfrMask | classMask
	p |= priorityBits(uint64(lfr)<<lfrShift) & lfrMask
	p |= priorityBits(lfrSizeClass(lfr)<<classShift) & classMask
	return p
}

func (p priorityBits) lfr() int {
	return int((uint64(p) & lfrMask) >> lfrShift)
}

func (p priorityBits) allocCount() int {
	score := int((uint64(p) & scoreMask) >> scoreShift)
	return sizeclass.PagesInBlock - score
}

// decrementScore records one more live allocation (reserve): the packed
// score subfield goes down by one unit, meaning allocCount goes up by one.
func (p priorityBits) decrementScore() priorityBits {
	return p - (priorityBits(1) << scoreShift)
}

// incrementScore records one fewer live allocation (release).
func (p priorityBits) incrementScore() priorityBits {
	return p + (priorityBits(1) << scoreShift)
}

// cmp implements priorityBlockCmp: lower packed value wins outright
// because the subfields are ordered MSB-first exactly as the comparison
// needs -- shorter LFR, then (for equal LFR) more live allocations
// (smaller score), then lower address.
func (p priorityBits) cmp(q priorityBits) int {
	switch {
	case p < q:
		return -1
	case p > q:
		return 1
	default:
		return 0
	}
}

package swarmap

// HIndex derives a bucket's starting probe index from a hash.
func HIndex(h uint64) uint64 { return h }

// HStep derives a probe's step size from a hash; the caller ORs in 1 to
// force an odd step (spec §4.D), which guarantees a full cycle over a
// power-of-two bucket count.
func HStep(h uint64) uint64 { return h >> 32 }

// Probe walks the open-addressed bucket sequence for a hash over a
// power-of-two bucket count (spec §4.D): index = HIndex(h) & mask, step =
// HStep(h) | 1.
type Probe struct {
	index uint64
	step  uint64
	mask  uint64
}

// NewProbe starts a probe sequence for h over bucketCount buckets.
// bucketCount must be a power of two.
func NewProbe(h uint64, bucketCount int) *Probe {
	mask := uint64(bucketCount - 1)
	return &Probe{
		index: HIndex(h) & mask,
		step:  HStep(h) | 1,
		mask:  mask,
	}
}

// Next returns the next bucket index in the sequence.
func (p *Probe) Next() uint64 {
	cur := p.index
	p.index = (p.index + p.step) & p.mask
	return cur
}

package swarmap

import (
	"hash/fnv"
	"math/bits"
)

// entry is the out-of-scope "Value/Entry" payload (spec §3) that Object
// keeps alongside the compact buckets; a Bucket only ever stores an
// external index into this slice.
type entry struct {
	key   string
	value interface{}
	live  bool
}

// Object is the supplemented hash-table type (spec §3's "shared substrate
// for compiler symbol tables"): a minimal string-keyed map built directly
// on Bucket/Probe, exercising the bucket substrate end to end without
// building a compiler around it.
type Object struct {
	buckets []*Bucket
	entries []entry
	size    int
}

// NewObject returns an empty Object with bucketCount buckets, rounded up to
// the next power of two (Probe requires it).
func NewObject(bucketCount int) *Object {
	n := nextPow2(bucketCount)
	buckets := make([]*Bucket, n)
	for i := range buckets {
		buckets[i] = NewBucket()
	}
	return &Object{buckets: buckets}
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Len returns the number of live entries.
func (o *Object) Len() int { return o.size }

func hashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// findInBucket scans b's tag-matching slots for a live entry whose key
// equals key, filtering out the zero-byte test's SWAR false positives with
// a real equality check.
func (o *Object) findInBucket(b *Bucket, h uint64, key string) (slot int, ok bool) {
	mask := b.matchMask(h)
	for mask != 0 {
		s := bits.TrailingZeros16(mask)
		mask &= mask - 1

		idx := b.Index(s)
		if int(idx) < len(o.entries) {
			e := &o.entries[idx]
			if e.live && e.key == key {
				return s, true
			}
		}
	}
	return 0, false
}

// Insert stores key/value, overwriting any existing value for key. Returns
// false only if every bucket in the probe sequence is full (spec §4.D:
// insert fails once the whole sequence is exhausted).
func (o *Object) Insert(key string, value interface{}) bool {
	h := hashKey(key)
	p := NewProbe(h, len(o.buckets))

	for i := 0; i < len(o.buckets); i++ {
		b := o.buckets[p.Next()]

		if slot, ok := o.findInBucket(b, h, key); ok {
			o.entries[b.Index(slot)].value = value
			return true
		}

		idx := uint32(len(o.entries))
		if b.Insert(h, idx) {
			o.entries = append(o.entries, entry{key: key, value: value, live: true})
			o.size++
			return true
		}
	}
	return false
}

// Find looks up key, stopping the probe once it hits a bucket whose
// overflow counter is zero -- no rejected insert ever passed through it, so
// key cannot live any further along the sequence (spec §4.D).
func (o *Object) Find(key string) (interface{}, bool) {
	h := hashKey(key)
	p := NewProbe(h, len(o.buckets))

	for i := 0; i < len(o.buckets); i++ {
		b := o.buckets[p.Next()]

		if slot, ok := o.findInBucket(b, h, key); ok {
			return o.entries[b.Index(slot)].value, true
		}
		if b.Overflow() == 0 {
			return nil, false
		}
	}
	return nil, false
}

// Delete removes key if present, returning whether it was found.
func (o *Object) Delete(key string) bool {
	h := hashKey(key)
	p := NewProbe(h, len(o.buckets))

	for i := 0; i < len(o.buckets); i++ {
		b := o.buckets[p.Next()]

		if slot, ok := o.findInBucket(b, h, key); ok {
			idx := b.Index(slot)
			o.entries[idx].live = false
			b.Delete(slot)
			o.size--
			return true
		}
		if b.Overflow() == 0 {
			return false
		}
	}
	return false
}

// Package blockstore provides the raw byte-addressable backing storage
// behind arena.Reference's simulated huge-page blocks. It is adapted from
// the teacher's lldb.MemFiler: the same sparse, page-indexed map of
// fixed-size pages that reads back as zero until first written, so a block
// costs no real memory until something is actually stored in it -- just as
// a real huge-page mapping is lazily backed by physical pages. Trimmed down
// to the byte-addressing contract an arena needs: no BeginUpdate/EndUpdate/
// Rollback bookkeeping, since block memory here is never journaled (the
// real arena internals and the OS page-backing layer are both out of
// scope).
package blockstore

import "github.com/cznic/mathutil"

const (
	pageBits = 12
	pageSize = 1 << pageBits
	pageMask = pageSize - 1
)

type pageMap map[uintptr]*[pageSize]byte

var zeroPage [pageSize]byte

// BlockStore is a sparse, growable byte-addressable space.
type BlockStore struct {
	pages pageMap
	size  uintptr
}

// New returns an empty BlockStore.
func New() *BlockStore {
	return &BlockStore{pages: pageMap{}}
}

// Size reports the high-water mark passed to Grow.
func (s *BlockStore) Size() uintptr { return s.size }

// Grow raises the store's reported size to at least size, the way
// registering one more huge-page block with the OS would.
func (s *BlockStore) Grow(size uintptr) {
	if size > s.size {
		s.size = size
	}
}

// ReadAt copies len(b) bytes starting at off into b. Any byte in a page
// never written reads back as zero.
func (s *BlockStore) ReadAt(b []byte, off uintptr) {
	pgI := off >> pageBits
	pgO := int(off & pageMask)
	for len(b) > 0 {
		pg := s.pages[pgI]
		if pg == nil {
			pg = &zeroPage
		}
		n := copy(b[:mathutil.Min(len(b), pageSize-pgO)], pg[pgO:])
		pgI++
		pgO = 0
		b = b[n:]
	}
}

// WriteAt writes b starting at off, lazily allocating any backing page it
// touches for the first time.
func (s *BlockStore) WriteAt(b []byte, off uintptr) {
	s.Grow(off + uintptr(len(b)))

	pgI := off >> pageBits
	pgO := int(off & pageMask)
	for len(b) > 0 {
		pg := s.pages[pgI]
		if pg == nil {
			pg = new([pageSize]byte)
			s.pages[pgI] = pg
		}
		n := copy(pg[pgO:], b)
		pgI++
		pgO = 0
		b = b[n:]
	}
}

// Zero clears n bytes starting at off. A page that was never written stays
// unallocated rather than being materialized just to zero it.
func (s *BlockStore) Zero(off uintptr, n int) {
	pgI := off >> pageBits
	pgO := int(off & pageMask)
	for n > 0 {
		run := mathutil.Min(n, pageSize-pgO)
		if pg := s.pages[pgI]; pg != nil {
			for i := pgO; i < pgO+run; i++ {
				pg[i] = 0
			}
		}
		pgI++
		pgO = 0
		n -= run
	}
}

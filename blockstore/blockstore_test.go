package blockstore

import "testing"

func TestReadBackUnwrittenIsZero(t *testing.T) {
	s := New()
	b := make([]byte, 32)
	for i := range b {
		b[i] = 0xff
	}
	s.ReadAt(b, 4096)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %#x, want 0 on unwritten storage", i, v)
		}
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	s := New()
	want := []byte("the quick brown fox jumps over the lazy dog")
	off := uintptr(pageSize - 10) // straddles a page boundary
	s.WriteAt(want, off)

	got := make([]byte, len(want))
	s.ReadAt(got, off)
	if string(got) != string(want) {
		t.Fatalf("roundtrip = %q, want %q", got, want)
	}
}

func TestZeroClearsWithoutMaterializingUntouchedPages(t *testing.T) {
	s := New()
	s.WriteAt([]byte{1, 2, 3, 4}, 0)
	s.Zero(0, 4)

	got := make([]byte, 4)
	s.ReadAt(got, 0)
	for i, v := range got {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0 after Zero", i, v)
		}
	}

	if _, touched := s.pages[1]; touched {
		t.Fatal("Zero must not allocate a page that was never written")
	}
}

func TestGrowTracksHighWaterMark(t *testing.T) {
	s := New()
	s.Grow(100)
	s.Grow(50)
	if s.Size() != 100 {
		t.Fatalf("Size() = %d, want 100 (Grow must not shrink)", s.Size())
	}
}

package indexblock

import "testing"

func makeEntry(hash uint64, rank uint8) Entry {
	return Entry{Hash: hash, KeySize: 4, ValueSize: 4, SegmentID: 1, Offset: 10, Rank: rank}
}

func TestBlockInsertFind(t *testing.T) {
	b := New(4)
	idx := b.Insert(makeEntry(42, 0))
	if idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}
	if got := b.Find(42, nil); got != 0 {
		t.Fatalf("Find: expected 0, got %d", got)
	}
	if b.Find(99, nil) != -1 {
		t.Fatalf("Find: expected miss")
	}
}

func TestBlockPromoteOnHit(t *testing.T) {
	// 3 ranks, one entry inserted per rank in turn lands each entry in its
	// own segment: hash0 in segment 0 (hottest), hash1 in segment 1,
	// hash2 in segment 2 (coldest).
	b := New(3)
	b.Insert(makeEntry(0, 0))
	b.Insert(makeEntry(1, 1))
	b.Insert(makeEntry(2, 2))

	coldIdx := b.Find(2, nil)
	if coldIdx == -1 {
		t.Fatal("expected to find hash 2")
	}
	if got := b.RankOf(coldIdx); got != 2 {
		t.Fatalf("expected hash 2 to start in segment 2, got %d", got)
	}

	// A single hit graduates the entry exactly one segment toward the
	// head, not straight to the absolute head of the block.
	newIdx := b.PromoteOnHit(coldIdx)
	if got := b.RankOf(newIdx); got != 1 {
		t.Fatalf("expected promotion to segment 1, got segment %d", got)
	}
	if b.Entries()[newIdx].Hash != 2 {
		t.Fatalf("expected hash 2 at its new position, got %d", b.Entries()[newIdx].Hash)
	}

	// A second hit graduates it into segment 0 (the hottest).
	newIdx = b.PromoteOnHit(newIdx)
	if got := b.RankOf(newIdx); got != 0 {
		t.Fatalf("expected promotion to segment 0, got segment %d", got)
	}

	// Further hits on an already-hottest-segment entry move it to the
	// absolute head of segment 0, and stay there.
	newIdx = b.PromoteOnHit(newIdx)
	if newIdx != 0 {
		t.Fatalf("expected entry already in segment 0 to promote to index 0, got %d", newIdx)
	}
}

func TestBlockEvictIndexIsTail(t *testing.T) {
	b := New(2)
	b.Insert(makeEntry(1, 0))
	b.Insert(makeEntry(2, 0))
	evict := b.EvictIndex()
	if evict != len(b.Entries())-1 {
		t.Fatalf("EvictIndex should be tail, got %d of %d", evict, len(b.Entries()))
	}
}

func TestBlockDeleteAt(t *testing.T) {
	b := New(2)
	b.Insert(makeEntry(1, 0))
	b.Insert(makeEntry(2, 0))
	n := b.NumEntries()
	e, ok := b.DeleteAt(0)
	if !ok {
		t.Fatal("DeleteAt returned false")
	}
	if b.NumEntries() != n-1 {
		t.Fatalf("expected %d entries after delete, got %d", n-1, b.NumEntries())
	}
	_ = e
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	b := New(4)
	b.Insert(makeEntry(11, 0))
	b.Insert(makeEntry(22, 1))
	b.Insert(Entry{Hash: 33, KeySize: 2, ValueSize: 2, Rank: 2, Embedded: []byte{1, 2, 3, 4}})

	enc := b.Encode()
	if len(enc) < HeaderSize {
		t.Fatalf("encoded block too small: %d", len(enc))
	}

	dec, err := Decode(enc, 4)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.NumEntries() != b.NumEntries() {
		t.Fatalf("round trip entry count mismatch: got %d want %d", dec.NumEntries(), b.NumEntries())
	}
	for i, e := range b.Entries() {
		got := dec.Entries()[i]
		if got.Hash != e.Hash || got.Rank != e.Rank {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, got, e)
		}
	}
}

func TestBlockValidate(t *testing.T) {
	b := New(4)
	for i := 0; i < 10; i++ {
		b.Insert(makeEntry(uint64(i), uint8(i%4)))
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLadderFor(t *testing.T) {
	if got := LadderFor(10); got != 64 {
		t.Fatalf("LadderFor(10) = %d, want 64", got)
	}
	if got := LadderFor(9000); got != -1 {
		t.Fatalf("LadderFor(9000) = %d, want -1", got)
	}
}

func TestSegmentBounds(t *testing.T) {
	bounds := segmentBounds(10, 4)
	if len(bounds) != 5 {
		t.Fatalf("expected 5 bounds, got %d", len(bounds))
	}
	if bounds[0] != 0 || bounds[4] != 10 {
		t.Fatalf("unexpected bounds: %v", bounds)
	}
}

package index

import (
	"fmt"
	"testing"

	"github.com/Voskan/carrotcache/internal/indexblock"
)

func hashKey(k string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(k); i++ {
		h ^= uint64(k[i])
		h *= 1099511628211
	}
	return h
}

func TestIndexInsertFindDelete(t *testing.T) {
	idx := New(8, 0, 4)
	h := hashKey("alpha")
	res := idx.Insert(h, nil, indexblock.Entry{SegmentID: 1, Offset: 10}, 0)
	if res != Inserted {
		t.Fatalf("expected Inserted, got %v", res)
	}

	e, ok := idx.Find(h, nil, true, 1000)
	if !ok {
		t.Fatal("expected to find inserted entry")
	}
	if e.SegmentID != 1 || e.Offset != 10 {
		t.Fatalf("unexpected entry: %+v", e)
	}

	if !idx.Delete(h, nil) {
		t.Fatal("expected delete to succeed")
	}
	if _, ok := idx.Find(h, nil, false, 1000); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestIndexUpdateReplacesEntry(t *testing.T) {
	idx := New(8, 0, 4)
	h := hashKey("beta")
	idx.Insert(h, nil, indexblock.Entry{SegmentID: 1, Offset: 1}, 0)
	res := idx.Insert(h, nil, indexblock.Entry{SegmentID: 2, Offset: 2}, 0)
	if res != Updated {
		t.Fatalf("expected Updated, got %v", res)
	}
	e, ok := idx.Find(h, nil, false, 1000)
	if !ok || e.SegmentID != 2 {
		t.Fatalf("expected updated entry, got %+v ok=%v", e, ok)
	}
}

func TestIndexExpirationOnFind(t *testing.T) {
	idx := New(8, 0, 4)
	h := hashKey("gamma")
	idx.Insert(h, nil, indexblock.Entry{SegmentID: 1, Offset: 1, Expire: 500}, 0)
	if _, ok := idx.Find(h, nil, false, 1000); ok {
		t.Fatal("expected expired entry to miss")
	}
	if idx.ExpiredEvictedBalance() != 1 {
		t.Fatal("expected expiration credit")
	}
}

func TestIndexAARPTogglesPresence(t *testing.T) {
	idx := New(8, 0, 4)
	h := hashKey("delta")
	if res := idx.AARP(h); res != AARPInserted {
		t.Fatalf("expected AARPInserted, got %v", res)
	}
	if res := idx.AARP(h); res != AARPDeleted {
		t.Fatalf("expected AARPDeleted, got %v", res)
	}
}

func TestIndexManyKeysSurviveFind(t *testing.T) {
	idx := New(8, 0, 3) // 8 initial slots, enough headroom to avoid forced rehash
	const n = 400
	for i := 0; i < n; i++ {
		h := hashKey(fmt.Sprintf("key-%d", i))
		idx.Insert(h, nil, indexblock.Entry{SegmentID: 1, Offset: uint64(i)}, i%8)
	}
	miss := 0
	for i := 0; i < n; i++ {
		h := hashKey(fmt.Sprintf("key-%d", i))
		if _, ok := idx.Find(h, nil, false, 0); !ok {
			miss++
		}
	}
	if miss > 0 {
		t.Fatalf("expected all inserted keys to be found, missed %d", miss)
	}
}

func TestIndexTriggerRehashSplitsSlot(t *testing.T) {
	idx := New(8, 0, 1) // 2 slots
	aArr := idx.a.Load()
	idx.triggerRehash(aArr, 0)
	if !idx.Rehashing() {
		t.Fatal("expected rehash in progress after splitting one of two slots")
	}
	// Splitting the remaining slot promotes A := B.
	idx.triggerRehash(aArr, 1)
	if idx.Rehashing() {
		t.Fatal("expected rehash to complete once every original slot is split")
	}
	if idx.NumSlots() != 4 {
		t.Fatalf("expected 4 slots after promotion, got %d", idx.NumSlots())
	}
}

func TestCheckDeleteForScavenger(t *testing.T) {
	idx := New(8, 0, 4)
	idx.SetDumpBelowRatio(1.0) // force drop on low popularity
	h := hashKey("epsilon")
	idx.Insert(h, nil, indexblock.Entry{SegmentID: 1, Offset: 1}, 0)
	res, _, _ := idx.CheckDeleteForScavenger(h, nil, 0)
	if res != ScavDeleted {
		t.Fatalf("expected ScavDeleted, got %v", res)
	}
	res2, _, _ := idx.CheckDeleteForScavenger(h, nil, 0)
	if res2 != ScavNotFound {
		t.Fatalf("expected ScavNotFound on second probe, got %v", res2)
	}
}

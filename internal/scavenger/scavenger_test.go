package scavenger

import (
	"testing"
	"time"

	"github.com/Voskan/carrotcache/internal/clock"
	"github.com/Voskan/carrotcache/internal/index"
	"github.com/Voskan/carrotcache/internal/indexblock"
	"github.com/Voskan/carrotcache/internal/metrics"
	"github.com/Voskan/carrotcache/internal/storage"
)

func fnvHash(k []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range k {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

func newTestEngine(t *testing.T, segSize int64) *storage.Engine {
	t.Helper()
	e, err := storage.New(storage.Config{Backend: storage.BackendRAM, SegmentSize: segSize, NumRanks: 1})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return e
}

func TestScavengerReleasesLowPopularitySegment(t *testing.T) {
	// Small enough that two item writes seal a segment.
	eng := newTestEngine(t, 64)
	idx := index.New(1, 0, 4)

	key := []byte("k1")
	val := []byte("v1")
	hash := fnvHash(key)
	id, off, err := eng.Put(0, key, val, 0)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	idx.Insert(hash, key, indexblock.Entry{SegmentID: uint64(id), Offset: off}, 0)

	// Force-seal by writing enough to roll the active segment over.
	for i := 0; i < 4; i++ {
		eng.Put(0, []byte("filler"), []byte("filler-value-filler"), 0)
	}

	clk := clock.NewFake(time.Unix(0, 0))
	sc := New(Config{
		CacheName:              "test",
		StartRatio:             0.95,
		StopRatio:              0.90,
		DumpBelowStart:         1.0, // force every entry to read as "below" threshold
		DumpBelowStop:          1.0,
		MaxSegmentsBeforeStall: 10,
		RunInterval:            time.Minute,
	}, clk, eng, idx, fnvHash, nil, metrics.Noop{})

	released, scanned := sc.RunOnce()
	if released == 0 {
		t.Fatal("expected at least one segment released")
	}
	if scanned == 0 {
		t.Fatal("expected at least one item scanned")
	}
}

func TestUsageRatioScalesBySegmentSize(t *testing.T) {
	eng := newTestEngine(t, 64)
	idx := index.New(1, 0, 4)
	clk := clock.NewFake(time.Unix(0, 0))

	// One rank pre-allocates one active segment of size 64 bytes; with
	// SegmentSize unset, UsageRatio degrades to a raw segment-count ratio
	// (1 segment / 100 == 0.01), nowhere near StartRatio.
	scNoHint := New(Config{CacheName: "t", RunInterval: time.Minute, MaxSize: 100}, clk, eng, idx, fnvHash, nil, metrics.Noop{})
	if got := scNoHint.UsageRatio(); got >= 0.95 {
		t.Fatalf("expected a tiny ratio without SegmentSize, got %v", got)
	}

	// With SegmentSize configured to match the engine's actual segment
	// size, UsageRatio reflects real byte usage: 1 segment * 64 bytes /
	// 64 bytes max == 1.0, at/above StartRatio.
	scWithHint := New(Config{CacheName: "t", RunInterval: time.Minute, MaxSize: 64, SegmentSize: 64}, clk, eng, idx, fnvHash, nil, metrics.Noop{})
	if got := scWithHint.UsageRatio(); got < 0.95 {
		t.Fatalf("expected UsageRatio >= start_ratio once SegmentSize is wired, got %v", got)
	}
}

func TestScavengerSelectVictimNoneWithoutSealedSegments(t *testing.T) {
	eng := newTestEngine(t, 4<<20)
	idx := index.New(1, 0, 4)
	clk := clock.NewFake(time.Unix(0, 0))
	sc := New(Config{CacheName: "t", RunInterval: time.Minute}, clk, eng, idx, fnvHash, nil, metrics.Noop{})

	if _, ok := sc.selectVictim(); ok {
		t.Fatal("expected no sealed segments yet (engine starts with only active segments)")
	}
}

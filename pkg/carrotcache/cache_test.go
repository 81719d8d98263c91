package carrotcache

import (
	"bytes"
	"testing"
	"time"

	"github.com/Voskan/carrotcache/internal/clock"
)

func newTestCache(t *testing.T, mutate func(*Config)) *Cache {
	t.Helper()
	cfg := DefaultConfig("test")
	cfg.SegmentSize = 1 << 16
	cfg.IndexSlotsPower = 4
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachePutGetRoundTrip(t *testing.T) {
	c := newTestCache(t, nil)
	key, val := []byte("hello"), []byte("world")
	if err := c.Put(key, val, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	out := make([]byte, len(val))
	n, err := c.Get(key, out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(out[:n], val) {
		t.Fatalf("got %q want %q", out[:n], val)
	}
}

func TestCacheGetMissing(t *testing.T) {
	c := newTestCache(t, nil)
	_, err := c.Get([]byte("nope"), make([]byte, 8))
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheGetBufferTooSmall(t *testing.T) {
	c := newTestCache(t, nil)
	key, val := []byte("k"), []byte("a longer value than the buffer")
	if err := c.Put(key, val, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	n, err := c.Get(key, make([]byte, 2))
	if err != ErrBufferTooSmall {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
	if n != len(val) {
		t.Fatalf("expected required size %d, got %d", len(val), n)
	}
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t, nil)
	key, val := []byte("k"), []byte("v")
	if err := c.Put(key, val, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Delete(key) {
		t.Fatal("expected Delete to report found")
	}
	if _, err := c.Get(key, make([]byte, 8)); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCacheExpiredEntryIsAMiss(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := newTestCache(t, func(cfg *Config) { cfg.Clock = clk })

	key, val := []byte("k"), []byte("v")
	if err := c.Put(key, val, clk.Now().UnixMilli()+1000); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clk.Advance(2 * time.Second)
	if _, err := c.Get(key, make([]byte, 8)); err != ErrNotFound {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestCacheInvalidRank(t *testing.T) {
	c := newTestCache(t, nil)
	if err := c.PutWithRank([]byte("k"), []byte("v"), 0, 99, false); err != ErrInvalidRank {
		t.Fatalf("expected ErrInvalidRank, got %v", err)
	}
}

func TestCacheEmbeddedValueBypassesEngine(t *testing.T) {
	c := newTestCache(t, func(cfg *Config) {
		cfg.IndexEmbedded = true
		cfg.IndexEmbedSize = 64
	})
	key, val := []byte("k"), []byte("small")
	if err := c.Put(key, val, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	out := make([]byte, len(val))
	n, err := c.Get(key, out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(out[:n], val) {
		t.Fatalf("got %q want %q", out[:n], val)
	}
}

func TestCacheVictimPromotionOnHit(t *testing.T) {
	victimCfg := DefaultConfig("victim")
	victimCfg.SegmentSize = 1 << 16
	victimCfg.IndexSlotsPower = 4
	victim, err := New(victimCfg)
	if err != nil {
		t.Fatalf("New(victim): %v", err)
	}
	t.Cleanup(func() { victim.Close() })

	mainCfg := DefaultConfig("main")
	mainCfg.SegmentSize = 1 << 16
	mainCfg.IndexSlotsPower = 4
	main, err := NewWithVictim(mainCfg, victim)
	if err != nil {
		t.Fatalf("NewWithVictim: %v", err)
	}
	t.Cleanup(func() { main.Close() })

	key, val := []byte("k"), []byte("v")
	if err := victim.Put(key, val, 0); err != nil {
		t.Fatalf("victim.Put: %v", err)
	}

	out := make([]byte, len(val))
	n, err := main.Get(key, out)
	if err != nil {
		t.Fatalf("main.Get: %v", err)
	}
	if !bytes.Equal(out[:n], val) {
		t.Fatalf("got %q want %q", out[:n], val)
	}

	// Promotion-on-hit should have copied the entry into main and removed
	// it from the victim.
	if _, found := main.idx.Find(main.hashKey(key), key, false, 0); !found {
		t.Fatal("expected key to be present in main after promotion")
	}
	if _, found := victim.idx.Find(victim.hashKey(key), key, false, 0); found {
		t.Fatal("expected key to be removed from victim after promotion")
	}
}

func TestNewWithVictimRejectsVictimOfVictim(t *testing.T) {
	leaf := DefaultConfig("leaf")
	leafCache, err := New(leaf)
	if err != nil {
		t.Fatalf("New(leaf): %v", err)
	}
	t.Cleanup(func() { leafCache.Close() })

	mid := DefaultConfig("mid")
	midCache, err := NewWithVictim(mid, leafCache)
	if err != nil {
		t.Fatalf("NewWithVictim(mid): %v", err)
	}
	t.Cleanup(func() { midCache.Close() })

	top := DefaultConfig("top")
	if _, err := NewWithVictim(top, midCache); err != ErrVictimCannotHaveVictim {
		t.Fatalf("expected ErrVictimCannotHaveVictim, got %v", err)
	}
}

// Package bench provides reproducible micro-benchmarks for carrotcache.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a *single* key/value shape so results are
// comparable across versions:
//   • Key   – an 8-byte big-endian encoding of a uint64 (cheap, fixed-size)
//   • Value – a 64-byte blob (large enough to matter, small enough for cache)
//
// We measure:
//   1. Put          – write-only workload
//   2. Get          – read-only workload (after warm-up)
//   3. GetParallel  – highly concurrent reads (b.RunParallel)
//   4. GetOrLoad    – 90% hits, 10% misses with loader cost
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is *only* for performance.
//
// © 2025 carrotcache authors. MIT License.

package bench

import (
	"context"
	"encoding/binary"
	"math/rand"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/Voskan/carrotcache/pkg/carrotcache"
)

/* -------------------------------------------------------------------------
   Test harness helpers
   ------------------------------------------------------------------------- */

const (
	capBytes = 64 << 20 // 64 MiB cap
	keys     = 1 << 20  // 1M keys for dataset
)

var val64 = make([]byte, 64)

func newTestCache() *carrotcache.Cache {
	cfg := carrotcache.DefaultConfig("bench")
	cfg.MaxSize = capBytes
	c, err := carrotcache.New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func keyBytes(i int) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], ds[i])
	return b[:]
}

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() []uint64 {
	arr := make([]uint64, keys)
	rnd := rand.New(rand.NewSource(42))
	for i := range arr {
		arr[i] = rnd.Uint64()
	}
	return arr
}()

/* -------------------------------------------------------------------------
   Benchmarks
   ------------------------------------------------------------------------- */

func BenchmarkPut(b *testing.B) {
	c := newTestCache()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keyBytes(i & (keys - 1))
		c.Put(k, val64, 0)
	}
	c.Close()
}

func BenchmarkGet(b *testing.B) {
	c := newTestCache()
	for i := range ds {
		c.Put(keyBytes(i), val64, 0)
	}
	out := make([]byte, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keyBytes(i & (keys - 1))
		_, _ = c.Get(k, out)
	}
	c.Close()
}

func BenchmarkGetParallel(b *testing.B) {
	c := newTestCache()
	for i := range ds {
		c.Put(keyBytes(i), val64, 0)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		out := make([]byte, 64)
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			_, _ = c.Get(keyBytes(idx), out)
		}
	})
	c.Close()
}

func BenchmarkGetOrLoad(b *testing.B) {
	c := newTestCache()
	// Preload 90% of keys to simulate mixed hit/miss.
	for i := range ds {
		if i%10 != 0 { // 90% fill
			c.Put(keyBytes(i), val64, 0)
		}
	}
	var loaderCnt atomic.Uint64
	loader := carrotcache.LoaderFunc(func(ctx context.Context, key []byte) ([]byte, int64, error) {
		loaderCnt.Add(1)
		return val64, 0, nil
	})
	out := make([]byte, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keyBytes(i & (keys - 1))
		_, _ = c.GetOrLoad(context.Background(), k, out, loader)
	}
	c.Close()
	b.ReportMetric(float64(loaderCnt.Load())/float64(b.N)*100, "miss-%")
}

/* -------------------------------------------------------------------------
   Utility – ensure deterministic Rand for repeatability
   ------------------------------------------------------------------------- */

func init() {
	rand.Seed(42)
	runtime.GOMAXPROCS(runtime.NumCPU())
}

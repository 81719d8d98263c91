// Package index implements the Memory Index: an incrementally-rehashed hash
// table of indexblock.Block slots, each holding its entries in SLRU order.
//
// Grounded on arena-cache's internal/clockpro.Cache for the promote/evict
// vocabulary and on its shard-by-hash idiom (pkg/shard.go), generalised from
// a fixed shard count to a dynamically-doubling slot array with the
// two-level A/B lookup protocol during rehash. internal/index exclusively
// owns slot-array and Index Block memory; it never touches segment bytes.
//
// © 2025 carrotcache authors. MIT License.
package index

import (
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Voskan/carrotcache/internal/indexblock"
)

// P is the size of the fixed slot-lock pool, a prime chosen so slot%P
// distributes contention evenly regardless of the slot array's power-of-two
// size.
const P = 1117

// Result enumerates the outcomes of Insert.
type Result int

const (
	Inserted Result = iota
	Updated
	Failed
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "Inserted"
	case Updated:
		return "Updated"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ScavengerResult enumerates the outcomes of CheckDeleteForScavenger.
type ScavengerResult int

const (
	ScavOk ScavengerResult = iota
	ScavDeleted
	ScavExpired
	ScavNotFound
)

// AARPResult enumerates the outcomes of AARP (atomic add-if-absent /
// remove-if-present), used by the Admission Queue.
type AARPResult int

const (
	AARPInserted AARPResult = iota
	AARPDeleted
)

// slotArray is one generation of the slot table: 2^L atomic block pointers.
type slotArray struct {
	l     uint
	slots []atomic.Pointer[indexblock.Block]
}

func newSlotArray(l uint) *slotArray {
	return &slotArray{l: l, slots: make([]atomic.Pointer[indexblock.Block], 1<<l)}
}

func (s *slotArray) len() int { return len(s.slots) }

// slotFor computes the slot index for hash against an array of the given L,
// taking the top L bits of the 64-bit hash.
func slotFor(hash uint64, l uint) int {
	if l == 0 {
		return 0
	}
	return int(hash >> (64 - l))
}

// Index is the Memory Index: the current (and, mid-rehash, next) slot
// arrays plus the fixed lock pool and expiration bookkeeping.
type Index struct {
	numRanks int
	embedMax int // index.data.embedded.size; 0 disables embedding

	locks [P]sync.Mutex

	a atomic.Pointer[slotArray]
	b atomic.Pointer[slotArray]

	rehashed atomic.Int64

	// expiredEvictedBalance is credited (positive) whenever Find or
	// CheckDeleteForScavenger opportunistically reclaims an expired entry.
	// The Scavenger does not read it; the facade's StatsSnapshot does.
	expiredEvictedBalance atomic.Int64

	dumpBelowRatio atomic.Uint64 // bits of a float64, read via math

	logger atomic.Pointer[zap.Logger]
}

// New constructs an empty Memory Index with an initial 2^initialL slots.
func New(numRanks int, embeddedSize int, initialL uint) *Index {
	if numRanks <= 0 {
		numRanks = 8
	}
	idx := &Index{numRanks: numRanks, embedMax: embeddedSize}
	idx.a.Store(newSlotArray(initialL))
	idx.SetDumpBelowRatio(0.10)
	idx.logger.Store(zap.NewNop())
	return idx
}

// SetLogger installs the logger used to report rehash start/finish. Safe to
// call concurrently with ongoing operations; nil is treated as a no-op
// logger.
func (idx *Index) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	idx.logger.Store(l)
}

func (idx *Index) lockFor(slot int) *sync.Mutex {
	return &idx.locks[slot%P]
}

// SetDumpBelowRatio is called by the Throughput Controller / Scavenger to
// adjust the popularity threshold used by CheckDeleteForScavenger.
func (idx *Index) SetDumpBelowRatio(r float64) {
	idx.dumpBelowRatio.Store(math.Float64bits(r))
}

// DumpBelowRatio returns the current threshold.
func (idx *Index) DumpBelowRatio() float64 {
	return math.Float64frombits(idx.dumpBelowRatio.Load())
}

// ExpiredEvictedBalance returns and resets the accumulated opportunistic
// expiration credit. Its only caller is the facade's StatsSnapshot, so each
// stats read starts the count over; the Scavenger's pass does not use it.
func (idx *Index) ExpiredEvictedBalance() int64 {
	return idx.expiredEvictedBalance.Swap(0)
}

// NumSlots returns the size of the primary array (for metrics/tests).
func (idx *Index) NumSlots() int { return idx.a.Load().len() }

// Rehashing reports whether a rehash is currently in progress.
func (idx *Index) Rehashing() bool { return idx.b.Load() != nil }

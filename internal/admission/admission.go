// Package admission implements the Cache Facade's pluggable admission hook:
// given a candidate key's hash, decide whether a Put should be let through
// to the main index/storage path or dropped as a probable one-hit-wonder.
//
// Grounded on arena-cache's internal/clockpro package for the
// hit-count-gated promotion idiom (readmission after N observed hits), and
// on its functional-options config style (pkg/config.go) for Option wiring.
//
// © 2025 carrotcache authors. MIT License.
package admission

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/Voskan/carrotcache/internal/index"
	"github.com/Voskan/carrotcache/internal/indexblock"
)

// Controller decides whether a write for the given key hash is admitted.
// Admit is the yes/no gate the facade calls for every non-forced Put.
type Controller interface {
	Admit(hash uint64) bool
}

// Always admits every key; used when force=true bypasses admission or when
// no admission policy is configured.
type Always struct{}

func (Always) Admit(uint64) bool { return true }

var _ Controller = Always{}

// AQConfig configures the Admission-Queue controller.
type AQConfig struct {
	StartSize       int
	MinSize         int
	MaxSize         int
	ReadmitHitCount int // cache.readmission.hit.count.min
}

// AQ implements the Admission Queue: a dedicated, small Memory Index of
// hash-only entries (the spec's AQ variant, §4.3) tracking "seen once"
// candidates. A key is admitted to the main cache once it has been
// observed ReadmitHitCount additional times.
type AQ struct {
	cfg AQConfig

	mu      sync.Mutex
	idx     *index.Index
	hits    map[uint64]int
	curSize atomic.Int64
}

// NewAQ constructs an Admission Queue sized to cfg.StartSize.
func NewAQ(cfg AQConfig) *AQ {
	if cfg.ReadmitHitCount <= 0 {
		cfg.ReadmitHitCount = 1
	}
	aq := &AQ{
		cfg:  cfg,
		idx:  index.New(1, 0, 10),
		hits: make(map[uint64]int),
	}
	aq.curSize.Store(int64(cfg.StartSize))
	return aq
}

// Admit records one sighting of hash in the queue. The first sighting
// parks it in the queue (not admitted); each subsequent sighting bumps its
// hit count until it exceeds ReadmitHitCount, at which point the key
// graduates — its queue entry is dropped and the write is admitted to the
// main cache.
func (aq *AQ) Admit(hash uint64) bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()

	if _, present := aq.idx.Find(hash, nil, false, 0); !present {
		aq.idx.Insert(hash, nil, indexblock.Entry{Hash: hash}, 0)
		aq.hits[hash] = 1
		return false
	}
	aq.hits[hash]++
	if aq.hits[hash] > aq.cfg.ReadmitHitCount {
		delete(aq.hits, hash)
		aq.idx.Delete(hash, nil)
		return true
	}
	return false
}

// Resize adjusts the queue's target size, clamped to [MinSize, MaxSize];
// called by the Throughput Controller. The AQ's underlying index grows
// organically via its own incremental rehash, so Resize only updates the
// advertised target used for metrics and future sizing decisions.
func (aq *AQ) Resize(delta int) int {
	for {
		cur := aq.curSize.Load()
		next := cur + int64(delta)
		if next < int64(aq.cfg.MinSize) {
			next = int64(aq.cfg.MinSize)
		}
		if aq.cfg.MaxSize > 0 && next > int64(aq.cfg.MaxSize) {
			next = int64(aq.cfg.MaxSize)
		}
		if aq.curSize.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

func (aq *AQ) Size() int { return int(aq.curSize.Load()) }

// Snapshot returns the AQ's encoded index blocks and hit counters for the
// aq.data persisted-layout entry.
func (aq *AQ) Snapshot() (blocks [][]byte, hits map[uint64]int) {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	blocks = aq.idx.Snapshot()
	hits = make(map[uint64]int, len(aq.hits))
	for k, v := range aq.hits {
		hits[k] = v
	}
	return blocks, hits
}

// RestoreAQ reconstructs an Admission Queue from a prior Snapshot.
func RestoreAQ(cfg AQConfig, blocks [][]byte, hits map[uint64]int) (*AQ, error) {
	idx, err := index.LoadSnapshot(blocks, 1)
	if err != nil {
		return nil, err
	}
	aq := NewAQ(cfg)
	aq.idx = idx
	aq.hits = make(map[uint64]int, len(hits))
	for k, v := range hits {
		aq.hits[k] = v
	}
	return aq, nil
}

var _ Controller = (*AQ)(nil)

// RandomConfig configures the random-admission controller.
type RandomConfig struct {
	StartRatio float64 // cache.random.admission.ratio.start (1.0 == admit all)
	StopRatio  float64 // cache.random.admission.ratio.stop  (0.0 == admit none)
}

// Random admits a key with probability currently set by ratio, which starts
// at StartRatio and which SetRatio keeps within [StopRatio, StartRatio]. The
// Throughput Controller does not adjust it; snapshot restore sets it.
type Random struct {
	cfg   RandomConfig
	ratio atomic.Uint64 // bits of a float64
	rnd   func() float64
}

func NewRandom(cfg RandomConfig) *Random {
	r := &Random{cfg: cfg, rnd: rand.Float64}
	r.SetRatio(cfg.StartRatio)
	return r
}

func (r *Random) SetRatio(ratio float64) {
	if ratio < r.cfg.StopRatio {
		ratio = r.cfg.StopRatio
	}
	if ratio > r.cfg.StartRatio {
		ratio = r.cfg.StartRatio
	}
	r.ratio.Store(floatBits(ratio))
}

func (r *Random) Ratio() float64 { return floatFromBits(r.ratio.Load()) }

func (r *Random) Admit(hash uint64) bool {
	return r.rnd() < r.Ratio()
}

var _ Controller = (*Random)(nil)

// ExpirationConfig configures the expiration-bin admission controller.
type ExpirationConfig struct {
	StartBinSeconds int     // cache.expire.start.bin.value
	Multiplier      float64 // cache.expire.multiplier.value
}

// Expiration admits based on how often a candidate's TTL class recurs. Bins
// grow (by Multiplier) in width starting from StartBinSeconds; AdmitTTL maps
// a TTL to its bin and admits once that bin has been seen more than once.
// Every bin uses the same rule. Admit, which sees only the hash, admits
// every key.
type Expiration struct {
	cfg  ExpirationConfig
	mu   sync.Mutex
	bins map[int]int // bin index -> times seen
}

func NewExpiration(cfg ExpirationConfig) *Expiration {
	if cfg.StartBinSeconds <= 0 {
		cfg.StartBinSeconds = 60
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}
	return &Expiration{cfg: cfg, bins: make(map[int]int)}
}

// binFor maps a TTL in seconds to its geometric bin index.
func (e *Expiration) binFor(ttlSeconds int) int {
	if ttlSeconds <= e.cfg.StartBinSeconds {
		return 0
	}
	width := float64(e.cfg.StartBinSeconds)
	bin := 0
	for width < float64(ttlSeconds) {
		width *= e.cfg.Multiplier
		bin++
	}
	return bin
}

// AdmitTTL is the expiration controller's real decision point: it admits
// once a bin has been observed more than once, i.e. the TTL class recurs.
func (e *Expiration) AdmitTTL(ttlSeconds int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	bin := e.binFor(ttlSeconds)
	e.bins[bin]++
	return e.bins[bin] > 1
}

// Admit implements Controller for callers without TTL context; it always
// admits, since expiration-based admission needs the candidate's TTL (use
// AdmitTTL directly when it is known).
func (e *Expiration) Admit(uint64) bool { return true }

var _ Controller = (*Expiration)(nil)

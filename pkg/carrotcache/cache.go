package carrotcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Voskan/carrotcache/internal/admission"
	"github.com/Voskan/carrotcache/internal/clock"
	"github.com/Voskan/carrotcache/internal/index"
	"github.com/Voskan/carrotcache/internal/indexblock"
	"github.com/Voskan/carrotcache/internal/metrics"
	"github.com/Voskan/carrotcache/internal/scavenger"
	"github.com/Voskan/carrotcache/internal/segment"
	"github.com/Voskan/carrotcache/internal/storage"
	"github.com/Voskan/carrotcache/internal/throughput"
)

// Cache is the facade: it composes the Memory Index, Storage Engine,
// admission controller, Scavenger, and Throughput Controller, and owns the
// (optional) one-way victim-cache relation.
type Cache struct {
	cfg      Config
	engine   *storage.Engine
	idx      *index.Index
	admitCtl admission.Controller
	expireCtl *admission.Expiration // set only when cfg.AdmissionPolicy == AdmissionExpiration
	aq       *admission.AQ
	scav     *scavenger.Scavenger
	tc       *throughput.Controller
	metrics  metrics.Sink
	group    singleflight.Group

	victim   *Cache // nil unless this is a RAM cache with a disk victim
	isVictim bool   // true if this instance IS a victim (may not itself have one)

	gets, hits, writes, rejected atomic.Int64

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// New constructs a standalone Cache (no victim tier). Use NewWithVictim to
// wire a RAM cache to a disk victim.
func New(cfg Config) (*Cache, error) {
	return newCache(cfg, false)
}

// NewWithVictim constructs a RAM-tier cache whose misses fall through to
// victim, and whose evictions (scavenger drops below dump_below_ratio) are
// offered to victim before being discarded. Per the invariant "disk cache
// may not have a victim", victim must itself have been built without one.
func NewWithVictim(cfg Config, victim *Cache) (*Cache, error) {
	if victim.victim != nil {
		return nil, ErrVictimCannotHaveVictim
	}
	victim.isVictim = true
	c, err := newCache(cfg, false)
	if err != nil {
		return nil, err
	}
	c.victim = victim
	return c, nil
}

func newCache(cfg Config, isVictim bool) (*Cache, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("carrotcache: Config.Name is required")
	}
	if cfg.NumRanks <= 0 {
		cfg.NumRanks = 8
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	engine, err := storage.New(storage.Config{
		Backend:        cfg.Backend,
		SegmentSize:    cfg.SegmentSize,
		DataDir:        cfg.DataDir,
		PrefetchWindow: cfg.PrefetchWindow,
		NumRanks:       cfg.NumRanks,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("carrotcache: storage engine: %w", err)
	}

	idx := index.New(cfg.NumRanks, boolToEmbedSize(cfg.IndexEmbedded, cfg.IndexEmbedSize), cfg.IndexSlotsPower)
	idx.SetDumpBelowRatio(cfg.DumpBelowStart)
	idx.SetLogger(cfg.Logger)

	var sink metrics.Sink = metrics.Noop{}
	if cfg.Registry != nil {
		sink = metrics.New(cfg.Registry)
	}

	c := &Cache{cfg: cfg, engine: engine, idx: idx, metrics: sink, isVictim: isVictim}

	var aq *admission.AQ
	switch cfg.AdmissionPolicy {
	case AdmissionQueue:
		aq = admission.NewAQ(cfg.aqConfig())
		c.admitCtl = aq
	case AdmissionRandom:
		c.admitCtl = admission.NewRandom(admission.RandomConfig{StartRatio: cfg.RandomAdmitStart, StopRatio: cfg.RandomAdmitStop})
	case AdmissionExpiration:
		c.expireCtl = admission.NewExpiration(admission.ExpirationConfig{StartBinSeconds: cfg.ExpireStartBinSec, Multiplier: cfg.ExpireMultiplier})
		c.admitCtl = c.expireCtl
	default:
		c.admitCtl = admission.Always{}
	}
	c.aq = aq

	c.scav = scavenger.New(cfg.scavengerConfig(), cfg.Clock, engine, idx, c.hashKey, c, sink)
	c.tc = throughput.New(cfg.throughputConfig(), cfg.Clock, aq, c.scav, sink)

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.scav.Start(c.ctx)
	c.tc.Start(c.ctx)

	return c, nil
}

func boolToEmbedSize(enabled bool, size int) int {
	if !enabled {
		return 0
	}
	return size
}

// hashKey is the single hash function used across the index, admission
// queue, and scavenger probes for one cache instance.
func (c *Cache) hashKey(key []byte) uint64 { return xxhash.Sum64(key) }

// Close stops the background Scavenger and Throughput Controller and
// releases every segment the engine owns.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.scav.Stop()
		c.tc.Stop()
		err = c.engine.Close()
	})
	return err
}

// Put is put_with_rank(key, value, expire, rank=0, force=false).
func (c *Cache) Put(key, value []byte, expireEpochMillis int64) error {
	return c.PutWithRank(key, value, expireEpochMillis, 0, false)
}

// PutWithRank inserts (key, value) at the given SLRU rank. force=true
// bypasses the admission controller (used for victim-cache transfers and
// promotion-on-hit; scavenger rewrites go to the storage engine directly).
func (c *Cache) PutWithRank(key, value []byte, expireEpochMillis int64, rank int, force bool) error {
	if rank < 0 || rank >= c.cfg.NumRanks {
		return ErrInvalidRank
	}
	if c.cfg.MaxSize > 0 {
		used := float64(c.engine.SegmentCount()) * float64(c.cfg.SegmentSize)
		if used/float64(c.cfg.MaxSize) >= c.cfg.WriteRejectionThresh {
			c.rejected.Add(1)
			c.metrics.IncRejectedWrite(c.cfg.Name)
			return ErrWriteRejected
		}
	}
	if !c.awaitWritable() {
		c.rejected.Add(1)
		c.metrics.IncRejectedWrite(c.cfg.Name)
		return ErrWriteRejected
	}

	hash := c.hashKey(key)
	if !force {
		admitted := true
		switch {
		case c.expireCtl != nil:
			ttlSeconds := 0
			if expireEpochMillis > 0 {
				if d := expireEpochMillis - c.cfg.Clock.NowMillis(); d > 0 {
					ttlSeconds = int(d / 1000)
				}
			}
			admitted = c.expireCtl.AdmitTTL(ttlSeconds)
		case c.admitCtl != nil:
			admitted = c.admitCtl.Admit(hash)
		}
		if !admitted {
			// Advisory drop: the write is accepted by the facade but not
			// materialised, to keep one-hit-wonders out of the main cache.
			c.writes.Add(1)
			c.metrics.IncWrite(c.cfg.Name)
			return nil
		}
	}

	entry := indexblock.Entry{}
	if c.cfg.IndexEmbedded && len(key)+len(value) <= c.cfg.IndexEmbedSize {
		entry.Embedded = append(append([]byte(nil), key...), value...)
		entry.KeySize, entry.ValueSize = uint32(len(key)), uint32(len(value))
	} else {
		id, offset, err := c.engine.Put(rank, key, value, expireEpochMillis)
		if err != nil {
			c.rejected.Add(1)
			c.metrics.IncRejectedWrite(c.cfg.Name)
			return ErrWriteRejected
		}
		entry.SegmentID, entry.Offset = uint64(id), uint64(offset)
		entry.KeySize, entry.ValueSize = uint32(len(key)), uint32(len(value))
	}
	entry.Expire = expireEpochMillis

	if c.idx.Insert(hash, key, entry, rank) == index.Failed {
		c.rejected.Add(1)
		c.metrics.IncRejectedWrite(c.cfg.Name)
		return ErrWriteRejected
	}

	c.writes.Add(1)
	c.metrics.IncWrite(c.cfg.Name)
	c.tc.RecordWrite(len(key) + len(value))
	return nil
}

// awaitWritable implements the write-stall suspension point: a Put parks
// once for WritesMaxWait while the scavenger works through a backlog, then
// gives it one more chance before the caller's write is rejected.
func (c *Cache) awaitWritable() bool {
	if c.scav.AwaitWritable() {
		return true
	}
	time.Sleep(c.cfg.WritesMaxWait)
	return c.scav.AwaitWritable()
}

// Get reads key into out, returning the value's size. If out is too small,
// size is the required length and err is ErrBufferTooSmall.
func (c *Cache) Get(key []byte, out []byte) (int, error) {
	c.gets.Add(1)
	hash := c.hashKey(key)
	now := c.cfg.Clock.NowMillis()

	if e, found := c.idx.Find(hash, key, true, now); found {
		c.hits.Add(1)
		c.metrics.IncHit(c.cfg.Name)
		return c.readEntry(e, key, out)
	}

	if c.victim != nil {
		n, err := c.victim.Get(key, out)
		if err == nil {
			if c.cfg.VictimPromotionOnHit {
				e, _ := c.victim.idx.Find(hash, key, false, now)
				_ = c.PutWithRank(key, out[:n], e.Expire, 0, true)
				c.victim.Delete(key)
			}
			c.hits.Add(1)
			c.metrics.IncHit(c.cfg.Name)
			return n, nil
		}
	}

	c.metrics.IncMiss(c.cfg.Name)
	return 0, ErrNotFound
}

func (c *Cache) readEntry(e indexblock.Entry, key []byte, out []byte) (int, error) {
	if e.IsEmbedded() {
		v := e.EmbeddedValue()
		if len(out) < len(v) {
			return len(v), ErrBufferTooSmall
		}
		copy(out, v)
		return len(v), nil
	}
	n, err := c.engine.Get(segment.ID(e.SegmentID), int64(e.Offset), key, out)
	if err != nil {
		switch err {
		case segment.ErrBufferTooSmall:
			return n, ErrBufferTooSmall
		default:
			c.metrics.IncMiss(c.cfg.Name)
			return n, ErrNotFound
		}
	}
	return n, nil
}

// Delete removes key from main and, if absent there, from the victim tier.
func (c *Cache) Delete(key []byte) bool {
	hash := c.hashKey(key)
	if c.idx.Delete(hash, key) {
		return true
	}
	if c.victim != nil {
		return c.victim.Delete(key)
	}
	return false
}

// Expire is an alias for Delete.
func (c *Cache) Expire(key []byte) bool { return c.Delete(key) }

// PutVictim implements scavenger.VictimWriter: the scavenger offers
// popularity-dropped (but not expired) items here when this cache has a
// configured victim tier.
func (c *Cache) PutVictim(key, value []byte, expire int64) error {
	if c.victim == nil {
		return ErrNoVictim
	}
	return c.victim.PutWithRank(key, value, expire, 0, true)
}

// Stats is a point-in-time snapshot of the facade's counters, the cache.data
// persisted-layout document.
type Stats struct {
	Gets, Hits, Writes, RejectedWrites int64
	ExpiredEvictedBalance              int64
	DumpBelowRatio                     float64
	ThroughputBytesPerSec              float64
}

func (c *Cache) StatsSnapshot() Stats {
	return Stats{
		Gets:                  c.gets.Load(),
		Hits:                  c.hits.Load(),
		Writes:                c.writes.Load(),
		RejectedWrites:        c.rejected.Load(),
		ExpiredEvictedBalance: c.idx.ExpiredEvictedBalance(),
		DumpBelowRatio:        c.idx.DumpBelowRatio(),
		ThroughputBytesPerSec: c.tc.CurrentRate(),
	}
}

// Package scavenger implements the cache's garbage collector: a periodic
// worker that selects a sealed segment, scans its items against the Memory
// Index, and drops, keeps, or transfers each one before releasing the
// segment back to the storage engine's free pool.
//
// Grounded on arena-cache's internal/genring.Ring rotation/free idiom for
// segment lifecycle, generalised from "free the oldest generation" to
// "select by minimum active items, or immediate pick on expiry" per the
// Recycling Selector, and on its shard-level locking discipline translated
// into a single dedicated worker goroutine plus a write-stall gate shared
// with the facade.
//
// © 2025 carrotcache authors. MIT License.
package scavenger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/carrotcache/internal/clock"
	"github.com/Voskan/carrotcache/internal/index"
	"github.com/Voskan/carrotcache/internal/metrics"
	"github.com/Voskan/carrotcache/internal/segment"
	"github.com/Voskan/carrotcache/internal/storage"
)

// Config bundles the scavenger's tunables.
type Config struct {
	CacheName string

	StartRatio float64 // scavenger.start.ratio, 0.95
	StopRatio  float64 // scavenger.stop.ratio, 0.90

	DumpBelowStart           float64 // scavenger.dump.entry.below.start, 0.10
	DumpBelowStop            float64 // .stop, 0.50
	DumpBelowStep            float64 // .step, 0.10
	MinimumActiveDatasetRato float64 // cache.minimum.active.dataset.ratio, 0.90

	RunInterval            time.Duration // scavenger.run.interval.sec, 60s
	MaxSegmentsBeforeStall int           // scavenger.max.segments.before.stall, 10
	WritesMaxWait          time.Duration // cache.writes.max.wait.time.ms, 10ms

	MaxSize int64 // cache.data.max.size (bytes); 0 == unlimited: the usage trigger never fires, each tick still runs a pass (see maybeRun)

	// SegmentSize is the storage engine's configured segment size in bytes,
	// used to turn SegmentCount() into a byte figure comparable to MaxSize.
	SegmentSize int64

	// Logger receives Info-level notices for run summaries and write-stall
	// entry/exit. Defaults to a no-op logger.
	Logger *zap.Logger
}

// HashKey hashes a raw key the same way the facade does, so the scavenger
// can probe the Memory Index with exactly the hash that indexed the item.
type HashKey func(key []byte) uint64

// VictimWriter is implemented by the facade's victim-cache tier (if any);
// the scavenger transfers popularity-dropped-but-not-expired items there
// instead of discarding them outright when a victim is configured.
type VictimWriter interface {
	PutVictim(key, value []byte, expire int64) error
}

// Scavenger owns the GC loop for one storage engine + Memory Index pair.
type Scavenger struct {
	cfg     Config
	clk     clock.Clock
	engine  *storage.Engine
	idx     *index.Index
	hashKey HashKey
	victim  VictimWriter // nil if no victim cache configured
	metrics metrics.Sink

	stop chan struct{}
	wg   sync.WaitGroup

	stalled          atomic.Bool
	stallUntil       atomic.Int64 // unix nanos
	dumpBelowRatio   atomic.Uint64
	consecutiveNoops atomic.Int64
}

// New constructs a Scavenger. Call Start to begin its periodic loop.
func New(cfg Config, clk clock.Clock, engine *storage.Engine, idx *index.Index, hashKey HashKey, victim VictimWriter, sink metrics.Sink) *Scavenger {
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = 60 * time.Second
	}
	if cfg.MaxSegmentsBeforeStall <= 0 {
		cfg.MaxSegmentsBeforeStall = 10
	}
	if cfg.WritesMaxWait <= 0 {
		cfg.WritesMaxWait = 10 * time.Millisecond
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Scavenger{
		cfg: cfg, clk: clk, engine: engine, idx: idx, hashKey: hashKey, victim: victim,
		metrics: sink, stop: make(chan struct{}),
	}
	s.setDumpBelow(cfg.DumpBelowStart)
	idx.SetDumpBelowRatio(cfg.DumpBelowStart)
	return s
}

func (s *Scavenger) setDumpBelow(r float64) {
	s.dumpBelowRatio.Store(floatBits(r))
	s.idx.SetDumpBelowRatio(r)
	s.metrics.SetDumpBelowRatio(s.cfg.CacheName, r)
}

// DumpBelowRatio returns the scavenger's current threshold.
func (s *Scavenger) DumpBelowRatio() float64 { return floatFromBits(s.dumpBelowRatio.Load()) }

// UsageRatio reports used/max, the trigger the facade and the periodic
// timer both consult. A zero MaxSize (unbounded) reports 0, so the usage
// trigger never fires.
func (s *Scavenger) UsageRatio() float64 {
	if s.cfg.MaxSize <= 0 {
		return 0
	}
	used := int64(s.engine.SegmentCount()) * s.engineSegmentSizeHint()
	return float64(used) / float64(s.cfg.MaxSize)
}

func (s *Scavenger) engineSegmentSizeHint() int64 {
	if s.cfg.SegmentSize <= 0 {
		// Unconfigured: fall back to a raw segment-count ratio, which only
		// makes sense if MaxSize was itself expressed in segment-count terms.
		return 1
	}
	return s.cfg.SegmentSize
}

// Start launches the periodic scan loop; call Stop to shut it down.
func (s *Scavenger) Start(ctx context.Context) {
	ticker := s.clk.NewTicker(s.cfg.RunInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C():
				s.maybeRun()
			}
		}
	}()
}

// Stop terminates the loop and waits for any in-flight pass to finish.
func (s *Scavenger) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// maybeRun triggers a pass if usage is at/above StartRatio, or always runs
// one opportunistic pass per tick when MaxSize is unset (segment-count
// pressure is then judged purely by RunOnce's own loop termination).
func (s *Scavenger) maybeRun() {
	if s.cfg.MaxSize > 0 && s.UsageRatio() < s.cfg.StartRatio {
		return
	}
	s.RunOnce()
}

// RunOnce performs passes until usage falls to/under StopRatio or
// MaxSegmentsBeforeStall unproductive passes occur, whichever comes first.
// Returns the number of segments released and items scanned, for metrics
// and tests.
func (s *Scavenger) RunOnce() (released int, scanned int) {
	stalls := 0
	for stalls < s.cfg.MaxSegmentsBeforeStall {
		if s.cfg.MaxSize > 0 && s.UsageRatio() <= s.cfg.StopRatio {
			break
		}
		victimSeg, ok := s.selectVictim()
		if !ok {
			stalls++
			s.adjustDumpBelow()
			continue
		}
		n, err := s.scanAndRelease(victimSeg)
		scanned += n
		if err == nil {
			released++
			stalls = 0
		} else {
			stalls++
		}
	}
	if stalls >= s.cfg.MaxSegmentsBeforeStall {
		s.enterStall()
	} else {
		s.consecutiveNoops.Store(0)
	}
	s.metrics.ObserveScavengerRun(s.cfg.CacheName, released, scanned)
	s.cfg.Logger.Info("scavenger: run complete",
		zap.String("cache", s.cfg.CacheName),
		zap.Int("released", released),
		zap.Int("scanned", scanned),
		zap.Int("stalls", stalls),
	)
	return released, scanned
}

// selectVictim implements the Recycling Selector: an immediately-expired
// segment wins outright; otherwise the segment with the fewest active
// items is chosen.
func (s *Scavenger) selectVictim() (segment.Info, bool) {
	sealed := s.engine.SealedSegments()
	if len(sealed) == 0 {
		return segment.Info{}, false
	}
	now := s.clk.NowMillis()
	best := sealed[0]
	bestIsExpired := best.MaxExpireAt > 0 && best.MaxExpireAt < now
	for _, info := range sealed[1:] {
		infoExpired := info.MaxExpireAt > 0 && info.MaxExpireAt < now
		switch {
		case infoExpired && !bestIsExpired:
			best, bestIsExpired = info, true
		case infoExpired == bestIsExpired && info.TotalActiveItems < best.TotalActiveItems:
			best = info
		}
	}
	return best, true
}

// scanAndRelease scans victim's items, probes the index for each, applies
// the drop/keep/transfer table, then releases the segment.
func (s *Scavenger) scanAndRelease(victim segment.Info) (scanned int, err error) {
	sc, err := s.engine.Scanner(victim.ID)
	if err != nil {
		return 0, err
	}
	defer sc.Close()

	now := s.clk.NowMillis()
	for sc.Next() {
		scanned++
		expire, key, value, _ := sc.Item()
		hash := s.hashKey(key)
		res, rank, entryExpire := s.idx.CheckDeleteForScavenger(hash, key, now)
		switch res {
		case index.ScavNotFound:
			// Already gone from elsewhere; nothing to do.
		case index.ScavExpired:
			s.metrics.IncExpired(s.cfg.CacheName)
		case index.ScavDeleted:
			if s.victim != nil {
				_ = s.victim.PutVictim(key, value, entryExpire)
			}
		case index.ScavOk:
			newID, offset, werr := s.engine.Rewrite(rank, key, value, expire)
			if werr == nil {
				s.idx.Insert(hash, key, entryForRewrite(newID, offset, expire), rank)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return scanned, err
	}
	if err := s.engine.ReleaseSegment(victim.ID); err != nil {
		return scanned, err
	}
	s.metrics.IncSegmentRecycled(s.cfg.CacheName)
	return scanned, nil
}

// adjustDumpBelow raises the dump-below ratio toward DumpBelowStop as
// scavenger pressure persists without finding a productive victim.
func (s *Scavenger) adjustDumpBelow() {
	s.AdjustDumpBelowBy(s.cfg.DumpBelowStep)
}

// AdjustDumpBelowBy nudges the dump-below ratio by delta, clamped to
// [DumpBelowStart, DumpBelowStop]. Called by the scavenger's own stall
// handling and, advisorily, by the Throughput Controller.
func (s *Scavenger) AdjustDumpBelowBy(delta float64) {
	next := s.DumpBelowRatio() + delta
	lo, hi := s.cfg.DumpBelowStart, s.cfg.DumpBelowStop
	if lo > hi {
		lo, hi = hi, lo
	}
	if next < lo {
		next = lo
	}
	if hi > 0 && next > hi {
		next = hi
	}
	s.setDumpBelow(next)
}

func (s *Scavenger) enterStall() {
	s.stalled.Store(true)
	s.stallUntil.Store(s.clk.Now().Add(s.cfg.WritesMaxWait).UnixNano())
	s.cfg.Logger.Warn("scavenger: write stall entered",
		zap.String("cache", s.cfg.CacheName),
		zap.Duration("max_wait", s.cfg.WritesMaxWait),
	)
}

// AwaitWritable reports, without blocking, whether a Put may proceed: true
// when no stall is in effect or the stall's WritesMaxWait window has passed
// (which clears the stall), false while still inside the window. The
// facade's awaitWritable does the waiting and rejects the write if this
// still returns false after it.
func (s *Scavenger) AwaitWritable() bool {
	if !s.stalled.Load() {
		return true
	}
	deadline := time.Unix(0, s.stallUntil.Load())
	if s.clk.Now().After(deadline) {
		s.stalled.Store(false)
		s.cfg.Logger.Info("scavenger: write stall exited", zap.String("cache", s.cfg.CacheName))
		return true
	}
	return false
}

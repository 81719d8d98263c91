// Package storage implements the segmented storage engine: a circular bank
// of fixed-size append-only segments (RAM or file) that key/value payloads
// are written to, one "active" segment per popularity rank at a time.
//
// Grounded on arena-cache's internal/genring.Ring — generalised from a
// single TTL-rotated ring per shard to a per-rank set of active segments
// plus an id-addressable pool the Scavenger can pick any sealed segment
// out of (not just the oldest).
//
// © 2025 carrotcache authors. MIT License.
package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Voskan/carrotcache/internal/segment"
)

// Backend selects whether a cache instance's storage engine is RAM or
// file-backed, mirroring "caches.types.list" (offheap|file).
type Backend int

const (
	BackendRAM Backend = iota
	BackendFile
)

// Config bundles the engine's tunables, sourced from the cache-level
// configuration (cache.data.segment.size, data.dir.name,
// file.prefetch.buffer.size).
type Config struct {
	Backend        Backend
	SegmentSize    int64
	DataDir        string // only used when Backend == BackendFile
	PrefetchWindow int
	NumRanks       int

	// Logger receives Info-level notices for segment seal/recycle events.
	// Defaults to a no-op logger; never used on the Put/Get hot path.
	Logger *zap.Logger
}

// Engine owns all Segment allocations for one cache tier (main or victim).
// It dispatches writes to the active segment for the item's rank, reads by
// (segment id, offset), and exposes sealed segments to the Scavenger for
// scanning and release.
type Engine struct {
	cfg Config

	mu      sync.RWMutex
	byID    map[segment.ID]segment.Segment
	active  []segment.Segment // len == cfg.NumRanks, index by rank
	nextID  atomic.Uint64
	freeIDs []segment.ID // released ids available for reuse

	sealedOrder []segment.ID // FIFO of sealed ids, oldest-first (min-alive fallback order)
}

// New constructs an engine with one active segment per rank pre-allocated.
func New(cfg Config) (*Engine, error) {
	if cfg.NumRanks <= 0 {
		cfg.NumRanks = 8
	}
	if cfg.SegmentSize <= 0 {
		if cfg.Backend == BackendFile {
			cfg.SegmentSize = 256 << 20
		} else {
			cfg.SegmentSize = 4 << 20
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		byID:   make(map[segment.ID]segment.Segment),
		active: make([]segment.Segment, cfg.NumRanks),
	}
	e.nextID.Store(1)
	for r := 0; r < cfg.NumRanks; r++ {
		seg, err := e.allocSegment(r)
		if err != nil {
			return nil, err
		}
		e.active[r] = seg
		e.byID[seg.ID()] = seg
	}
	return e, nil
}

func (e *Engine) allocSegment(rank int) (segment.Segment, error) {
	var id segment.ID
	if n := len(e.freeIDs); n > 0 {
		id = e.freeIDs[n-1]
		e.freeIDs = e.freeIDs[:n-1]
	} else {
		id = segment.ID(e.nextID.Add(1) - 1)
	}
	switch e.cfg.Backend {
	case BackendFile:
		return segment.NewFile(e.cfg.DataDir, id, rank, e.cfg.SegmentSize, e.cfg.PrefetchWindow)
	default:
		return segment.NewMem(id, rank, int(e.cfg.SegmentSize)), nil
	}
}

// Put appends (key, value, expire) into the active segment for rank, sealing
// and rotating to a fresh segment on overflow. Returns the (segmentID,
// offset) the Memory Index should record.
func (e *Engine) Put(rank int, key, value []byte, expire int64) (id segment.ID, offset int64, err error) {
	if rank < 0 || rank >= e.cfg.NumRanks {
		return 0, 0, fmt.Errorf("storage: rank %d out of range [0,%d)", rank, e.cfg.NumRanks)
	}

	for attempt := 0; attempt < 2; attempt++ {
		e.mu.RLock()
		active := e.active[rank]
		e.mu.RUnlock()

		off, aerr := active.Append(key, value, expire)
		if aerr == nil {
			return active.ID(), off, nil
		}
		if aerr == segment.ErrTooLarge {
			return 0, 0, fmt.Errorf("storage: %w", segment.ErrTooLarge)
		}
		// ErrSealed or ErrNotEnoughSpace: seal (if not already) and rotate.
		if err := e.rotate(rank, active); err != nil {
			return 0, 0, err
		}
	}
	return 0, 0, fmt.Errorf("storage: unable to place item for rank %d", rank)
}

// rotate seals the given segment (if it is still the active one for rank)
// and installs a freshly allocated segment in its place.
func (e *Engine) rotate(rank int, stale segment.Segment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[rank] != stale {
		return nil // someone else already rotated
	}
	_ = stale.Seal()
	e.sealedOrder = append(e.sealedOrder, stale.ID())
	e.cfg.Logger.Info("storage: segment sealed",
		zap.Uint64("segment_id", uint64(stale.ID())),
		zap.Int("rank", rank),
	)

	fresh, err := e.allocSegment(rank)
	if err != nil {
		return err
	}
	e.active[rank] = fresh
	e.byID[fresh.ID()] = fresh
	return nil
}

// Get reads the value stored at (id, offset) for key, per the storage
// engine's "get(sid, offset, key, out) -> size_or_NotFound" contract.
func (e *Engine) Get(id segment.ID, offset int64, key, out []byte) (int, error) {
	e.mu.RLock()
	seg, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return 0, segment.ErrNotFound
	}
	return seg.ReadAt(offset, key, out)
}

// Scanner returns a scanner for the given sealed segment id, used by the
// Scavenger's per-segment pass.
func (e *Engine) Scanner(id segment.ID) (segment.Scanner, error) {
	e.mu.RLock()
	seg, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown segment %d", id)
	}
	return seg.Scanner()
}

// Rewrite re-appends (key, value, expire) into the active segment for rank
// — used by the Scavenger to carry forward items it decided to keep.
func (e *Engine) Rewrite(rank int, key, value []byte, expire int64) (segment.ID, int64, error) {
	return e.Put(rank, key, value, expire)
}

// SealedSegments returns the set of segment ids eligible for scavenging
// (state Sealed, i.e. not the currently active segment of any rank).
func (e *Engine) SealedSegments() []segment.Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]segment.Info, 0, len(e.sealedOrder))
	for _, id := range e.sealedOrder {
		if seg, ok := e.byID[id]; ok && seg.State() == segment.Sealed {
			out = append(out, seg.Info())
		}
	}
	return out
}

// ReleaseSegment recycles the named segment: the Scavenger calls this once
// it has migrated every item it wants to keep, the segment's id becomes
// reusable, and the segment itself is dropped from the engine's tables.
func (e *Engine) ReleaseSegment(id segment.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	seg, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("storage: release unknown segment %d", id)
	}
	if err := seg.Recycle(); err != nil {
		return err
	}
	e.cfg.Logger.Info("storage: segment recycled", zap.Uint64("segment_id", uint64(id)))
	delete(e.byID, id)
	for i, sid := range e.sealedOrder {
		if sid == id {
			e.sealedOrder = append(e.sealedOrder[:i], e.sealedOrder[i+1:]...)
			break
		}
	}
	e.freeIDs = append(e.freeIDs, id)
	return nil
}

// Close closes every segment the engine owns without sealing it: RAM
// segments free their buffers, file segments close their files.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, seg := range e.byID {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AdoptSealedSegment reopens a previously-sealed file segment (by id) found
// on disk and registers it as scavengeable, used when a snapshot load
// restores a Memory Index whose entries still point at on-disk segments
// from a prior process. Only valid for the file backend; offheap segments
// do not survive a restart and must be excluded from the restored index.
func (e *Engine) AdoptSealedSegment(id segment.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; ok {
		return nil
	}
	if e.cfg.Backend != BackendFile {
		return fmt.Errorf("storage: AdoptSealedSegment requires the file backend")
	}
	seg, err := segment.OpenFileSegment(e.cfg.DataDir, id, e.cfg.PrefetchWindow)
	if err != nil {
		return err
	}
	e.byID[id] = seg
	e.sealedOrder = append(e.sealedOrder, id)
	if next := uint64(id) + 1; next > e.nextID.Load() {
		e.nextID.Store(next)
	}
	return nil
}

// SegmentCount returns the number of segments currently tracked (active +
// sealed, not yet released) — a cheap proxy for memory usage.
func (e *Engine) SegmentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byID)
}

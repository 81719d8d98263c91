package carrotcache

// snapshot.go wires the facade into internal/snapshot's Badger-backed
// persisted layout: SaveSnapshot captures every document (cache.data,
// ac.data, rc.data, aq.data, scav.data, engine.data); Open restores them
// into a Cache freshly built by New, whose scavenger and throughput loops
// are already running.
//
// Grounded on examples/disk_eject's eject-to-badger callback, generalised
// into explicit save/restore calls the caller controls (a periodic ticker
// or a shutdown hook), rather than an eviction-time side effect.
//
// © 2025 carrotcache authors. MIT License.

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Voskan/carrotcache/internal/admission"
	"github.com/Voskan/carrotcache/internal/index"
	"github.com/Voskan/carrotcache/internal/segment"
	"github.com/Voskan/carrotcache/internal/snapshot"
)

// SaveSnapshot persists the cache's full save/load state to cfg.SnapshotDir.
func (c *Cache) SaveSnapshot() error {
	if c.cfg.SnapshotDir == "" {
		return fmt.Errorf("carrotcache: no SnapshotDir configured")
	}
	store, err := snapshot.Open(c.cfg.SnapshotDir)
	if err != nil {
		return err
	}
	defer store.Close()

	stats := c.StatsSnapshot()
	if err := store.SaveCacheData(snapshot.CacheStats{
		Epoch:                 c.cfg.Clock.NowMillis(),
		Gets:                  stats.Gets,
		Hits:                  stats.Hits,
		Writes:                stats.Writes,
		RejectedWrites:        stats.RejectedWrites,
		ExpiredEvictedBalance: stats.ExpiredEvictedBalance,
	}); err != nil {
		return err
	}

	acState := snapshot.AdmissionControllerState{ReadmitHitCount: c.cfg.ReadmitHitCount}
	switch c.cfg.AdmissionPolicy {
	case AdmissionQueue:
		acState.Policy = "aq"
	case AdmissionRandom:
		acState.Policy = "random"
		if r, ok := c.admitCtl.(*admission.Random); ok {
			acState.RandomRatio = r.Ratio()
			if err := store.SaveRandomAdmissionState(snapshot.RandomAdmissionState{Ratio: r.Ratio()}); err != nil {
				return err
			}
		}
	case AdmissionExpiration:
		acState.Policy = "expiration"
	}
	if err := store.SaveAdmissionControllerState(acState); err != nil {
		return err
	}

	if c.aq != nil {
		blocks, hits := c.aq.Snapshot()
		if err := store.SaveAdmissionQueueState(snapshot.AdmissionQueueState{Blocks: blocks, Hits: hits, Size: c.aq.Size()}); err != nil {
			return err
		}
	}

	if err := store.SaveScavengerState(snapshot.ScavengerState{DumpBelowRatio: c.scav.DumpBelowRatio()}); err != nil {
		return err
	}

	sealed := c.engine.SealedSegments()
	ids := make([]uint64, len(sealed))
	for i, info := range sealed {
		ids[i] = uint64(info.ID)
	}
	if err := store.SaveEngineData(snapshot.EngineData{
		Blocks:           c.idx.Snapshot(),
		NumRanks:         c.cfg.NumRanks,
		SealedSegmentIDs: ids,
	}); err != nil {
		return err
	}
	c.cfg.Logger.Info("carrotcache: snapshot saved",
		zap.String("cache", c.cfg.Name),
		zap.String("dir", c.cfg.SnapshotDir),
	)
	return nil
}

// Open constructs a Cache from cfg, restoring state from cfg.SnapshotDir if
// a prior snapshot is present there. With no prior snapshot (or no
// SnapshotDir), Open behaves exactly like New.
func Open(cfg Config) (*Cache, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SnapshotDir == "" {
		return c, nil
	}
	if err := c.restoreSnapshot(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) restoreSnapshot() error {
	store, err := snapshot.Open(c.cfg.SnapshotDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if engineData, ok, err := store.LoadEngineData(); err != nil {
		return err
	} else if ok {
		for _, id := range engineData.SealedSegmentIDs {
			if aerr := c.engine.AdoptSealedSegment(segment.ID(id)); aerr != nil {
				// Offheap backend or a missing file: the referenced segment
				// cannot be served again, so its entries will read back as
				// misses rather than fail the whole restore.
				continue
			}
		}
		idx, ierr := index.LoadSnapshot(engineData.Blocks, engineData.NumRanks)
		if ierr != nil {
			return ierr
		}
		idx.SetLogger(c.cfg.Logger)
		c.idx = idx
	}

	if scavState, ok, err := store.LoadScavengerState(); err != nil {
		return err
	} else if ok {
		c.scav.AdjustDumpBelowBy(scavState.DumpBelowRatio - c.scav.DumpBelowRatio())
	}

	if acState, ok, err := store.LoadAdmissionControllerState(); err != nil {
		return err
	} else if ok && acState.Policy == "random" {
		if r, ok := c.admitCtl.(*admission.Random); ok {
			r.SetRatio(acState.RandomRatio)
		}
	}

	if aqState, ok, err := store.LoadAdmissionQueueState(); err != nil {
		return err
	} else if ok && c.aq != nil {
		restored, rerr := admission.RestoreAQ(c.cfg.aqConfig(), aqState.Blocks, aqState.Hits)
		if rerr != nil {
			return rerr
		}
		c.aq = restored
		c.admitCtl = restored
		c.tc.SetAQ(restored)
	}

	if stats, ok, err := store.LoadCacheData(); err != nil {
		return err
	} else if ok {
		c.gets.Store(stats.Gets)
		c.hits.Store(stats.Hits)
		c.writes.Store(stats.Writes)
		c.rejected.Store(stats.RejectedWrites)
	}

	c.cfg.Logger.Info("carrotcache: snapshot loaded",
		zap.String("cache", c.cfg.Name),
		zap.String("dir", c.cfg.SnapshotDir),
	)
	return nil
}

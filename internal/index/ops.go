package index

import (
	"sync"

	"github.com/Voskan/carrotcache/internal/indexblock"
)

// resolve implements the two-level slot lookup protocol: it locates the
// slot array and index that currently own hash, and returns with the
// slot's lock held. The caller must Unlock() it.
//
// Race points (index_test.go drives the split and the A := B promotion
// single-threaded; no test interleaves concurrent accessors at them):
//
//	/*1*/ a slot observed empty in A while a rehash is in flight must be
//	      retried against B rather than treated as a miss.
//	/*2*/ the lock key is always derived from the pre-split slot number s
//	      (s = slot' >> 1 in B's wider index space), so a writer splitting
//	      A[s] into B[2s]/B[2s+1] and any concurrent accessor of either the
//	      not-yet-split A[s] or the freshly split B children serialize on
//	      the same mutex.
func (idx *Index) resolve(hash uint64) (arr *slotArray, slot int, lock *sync.Mutex) {
	for {
		aArr := idx.a.Load()
		s := slotFor(hash, aArr.l)
		lk := idx.lockFor(s)
		lk.Lock()
		if aArr != idx.a.Load() {
			// /*1*/ promotion (A := B) happened concurrently; restart.
			lk.Unlock()
			continue
		}
		if aArr.slots[s].Load() != nil {
			return aArr, s, lk
		}
		bArr := idx.b.Load()
		if bArr == nil {
			if aArr != idx.a.Load() {
				// /*1*/ promotion finished after the check above; restart.
				lk.Unlock()
				continue
			}
			// Genuinely empty slot, not a mid-rehash artifact.
			return aArr, s, lk
		}
		slot2 := slotFor(hash, bArr.l)
		return bArr, slot2, lk // /*2*/ lk is keyed by s == slot2>>1
	}
}

// Insert adds or replaces the entry for hash (and, for embedded-mode
// entries, key) at the given rank. key may be nil for non-embedded lookups,
// where hash equality alone identifies the entry.
func (idx *Index) Insert(hash uint64, key []byte, payload indexblock.Entry, rank int) Result {
	payload.Hash = hash
	payload.Rank = uint8(rank)
	for {
		arr, slot, lock := idx.resolve(hash)
		base := arr.slots[slot].Load()
		var block *indexblock.Block
		if base == nil {
			block = indexblock.New(idx.numRanks)
		} else {
			block = base.Clone()
		}

		result := Inserted
		if i := block.Find(hash, key); i != -1 {
			block.DeleteAt(i)
			result = Updated
		}

		if block.Insert(payload) != -1 {
			arr.slots[slot].Store(block)
			lock.Unlock()
			return result
		}

		// Overflow past the block's capacity.
		if arr == idx.b.Load() {
			// Already a mid-rehash child slot that overflows on its own:
			// per the forced-completion-only design, surface Failed.
			lock.Unlock()
			return Failed
		}
		idx.triggerRehash(arr, slot)
		lock.Unlock()
		// Retry: the entry now belongs to a (possibly still-in-A, possibly
		// freshly-split-into-B) slot with more room.
	}
}

// Find looks up hash (and, for embedded entries, key), optionally promoting
// it one SLRU segment toward the head on hit. now is the caller's notion of
// the current time (epoch millis) used for opportunistic expiration. The
// returned Entry carries the embedded value when it has one; for
// non-embedded entries the caller uses the returned segmentID/offset against
// the storage engine instead.
func (idx *Index) Find(hash uint64, key []byte, promoteOnHit bool, now int64) (indexblock.Entry, bool) {
	arr, slot, lock := idx.resolve(hash)
	defer lock.Unlock()

	base := arr.slots[slot].Load()
	if base == nil {
		return indexblock.Entry{}, false
	}
	i := base.Find(hash, key)
	if i == -1 {
		return indexblock.Entry{}, false
	}
	e := base.Entries()[i]
	if e.Expire > 0 && now > e.Expire {
		block := base.Clone()
		block.DeleteAt(i)
		arr.slots[slot].Store(block)
		idx.expiredEvictedBalance.Add(1)
		return indexblock.Entry{}, false
	}
	if !promoteOnHit {
		return e, true
	}
	block := base.Clone()
	block.PromoteOnHit(i)
	arr.slots[slot].Store(block)
	return e, true
}

// Delete removes the entry for hash/key if present, returning whether it was
// found.
func (idx *Index) Delete(hash uint64, key []byte) bool {
	arr, slot, lock := idx.resolve(hash)
	defer lock.Unlock()

	base := arr.slots[slot].Load()
	if base == nil {
		return false
	}
	i := base.Find(hash, key)
	if i == -1 {
		return false
	}
	block := base.Clone()
	block.DeleteAt(i)
	arr.slots[slot].Store(block)
	return true
}

// AARP is the Admission Queue's atomic add-if-absent / remove-if-present
// primitive: a second AARP call for the same hash within one admission cycle
// removes the marker instead of re-adding it.
func (idx *Index) AARP(hash uint64) AARPResult {
	arr, slot, lock := idx.resolve(hash)
	defer lock.Unlock()

	base := arr.slots[slot].Load()
	var block *indexblock.Block
	if base == nil {
		block = indexblock.New(idx.numRanks)
	} else {
		block = base.Clone()
	}
	if i := block.Find(hash, nil); i != -1 {
		block.DeleteAt(i)
		arr.slots[slot].Store(block)
		return AARPDeleted
	}
	block.Insert(indexblock.Entry{Hash: hash})
	arr.slots[slot].Store(block)
	return AARPInserted
}

// CheckDeleteForScavenger is probed by the Scavenger for each (key, value,
// expire) it scans out of a victim segment. now is epoch millis.
func (idx *Index) CheckDeleteForScavenger(hash uint64, key []byte, now int64) (res ScavengerResult, rank int, expire int64) {
	arr, slot, lock := idx.resolve(hash)
	defer lock.Unlock()

	base := arr.slots[slot].Load()
	if base == nil {
		return ScavNotFound, 0, 0
	}
	i := base.Find(hash, key)
	if i == -1 {
		return ScavNotFound, 0, 0
	}
	e := base.Entries()[i]
	if e.Expire > 0 && now > e.Expire {
		block := base.Clone()
		block.DeleteAt(i)
		arr.slots[slot].Store(block)
		idx.expiredEvictedBalance.Add(1)
		return ScavExpired, int(e.Rank), e.Expire
	}
	if base.Popularity(i) <= idx.DumpBelowRatio() {
		block := base.Clone()
		block.DeleteAt(i)
		arr.slots[slot].Store(block)
		return ScavDeleted, int(e.Rank), e.Expire
	}
	return ScavOk, int(e.Rank), e.Expire
}

package index

import (
	"go.uber.org/zap"

	"github.com/Voskan/carrotcache/internal/indexblock"
)

// triggerRehash begins (or continues) an incremental rehash by splitting
// slot s of aArr into two slots of B, called with s's lock already held.
// Grounded on the two-level A/B lookup protocol: readers that observe
// A[slot] empty retry against B; writers into not-yet-rehashed slots
// continue in A. No global pause.
func (idx *Index) triggerRehash(aArr *slotArray, s int) {
	bArr := idx.b.Load()
	if bArr == nil {
		bArr = newSlotArray(aArr.l + 1)
		if !idx.b.CompareAndSwap(nil, bArr) {
			bArr = idx.b.Load()
		} else {
			idx.logger.Load().Info("index: rehash started",
				zap.Uint("from_bits", aArr.l),
				zap.Uint("to_bits", bArr.l),
			)
		}
	}

	block := aArr.slots[s].Load()
	aArr.slots[s].Store(nil)

	low := indexblock.New(idx.numRanks)
	high := indexblock.New(idx.numRanks)
	if block != nil {
		for _, e := range block.Entries() {
			if slotFor(e.Hash, bArr.l)&1 == 0 {
				low.Insert(e)
			} else {
				high.Insert(e)
			}
		}
	}
	bArr.slots[2*s].Store(low)
	bArr.slots[2*s+1].Store(high)

	if idx.rehashed.Add(1) == int64(aArr.len()) {
		idx.a.Store(bArr)
		idx.b.Store(nil)
		idx.rehashed.Store(0)
		idx.logger.Load().Info("index: rehash finished", zap.Uint("to_bits", bArr.l))
	}
}

// CompleteRehashing forces the rehash to completion synchronously, draining
// every remaining slot of A under its lock. Only the snapshot-save path
// calls this; ordinary traffic relies on triggerRehash's incremental splits.
func (idx *Index) CompleteRehashing() {
	for {
		aArr := idx.a.Load()
		if idx.b.Load() == nil {
			return
		}
		progressed := false
		for s := 0; s < aArr.len(); s++ {
			if aArr.slots[s].Load() == nil {
				continue
			}
			lock := idx.lockFor(s)
			lock.Lock()
			if aArr.slots[s].Load() != nil {
				idx.triggerRehash(aArr, s)
				progressed = true
			}
			lock.Unlock()
			if idx.b.Load() == nil {
				return
			}
		}
		if !progressed {
			return
		}
	}
}

package index

import (
	"math/bits"

	"github.com/Voskan/carrotcache/internal/indexblock"
)

// Snapshot forces any in-flight rehash to completion and returns the
// encoded bytes of every slot in array order, suitable for the engine.data
// persisted-layout entry. A nil entry means an empty slot.
func (idx *Index) Snapshot() [][]byte {
	idx.CompleteRehashing()
	aArr := idx.a.Load()
	out := make([][]byte, aArr.len())
	for i := range aArr.slots {
		if b := aArr.slots[i].Load(); b != nil {
			out[i] = b.Encode()
		}
	}
	return out
}

// LoadSnapshot reconstructs an Index from blocks previously produced by
// Snapshot. len(blocks) must be a power of two.
func LoadSnapshot(blocks [][]byte, numRanks int) (*Index, error) {
	n := len(blocks)
	l := uint(0)
	if n > 1 {
		l = uint(bits.Len(uint(n - 1)))
	}
	idx := New(numRanks, 0, l)
	aArr := idx.a.Load()
	for i, raw := range blocks {
		if raw == nil {
			continue
		}
		b, err := indexblock.Decode(raw, numRanks)
		if err != nil {
			return nil, err
		}
		aArr.slots[i].Store(b)
	}
	return idx, nil
}

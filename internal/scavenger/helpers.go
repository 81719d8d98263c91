package scavenger

import (
	"math"

	"github.com/Voskan/carrotcache/internal/indexblock"
	"github.com/Voskan/carrotcache/internal/segment"
)

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

// entryForRewrite builds the index-entry payload for an item the scavenger
// decided to keep and rewrote into a fresh active segment.
func entryForRewrite(id segment.ID, offset int64, expire int64) indexblock.Entry {
	return indexblock.Entry{
		SegmentID: uint64(id),
		Offset:    uint64(offset),
		Expire:    expire,
	}
}

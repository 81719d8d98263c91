// Package indexblock implements the compact, variable-length record that
// holds all index entries for one slot of the Memory Index's hash table.
//
// A Block has a fixed 6-byte header {blockSize, numEntries, dataSize}
// followed by a body of entries kept in SLRU order. Sizes are quantized
// onto a geometric ladder to bound allocator fragmentation, exactly as
// specified. Blocks grow by copy-to-next-ladder-size on overflow and
// shrink on delete past a threshold.
//
// Design Note ("Off-heap pointer arithmetic on Index Blocks"): rather than
// manipulating raw bytes in place (the original Java implementation's
// approach), entries are kept decoded in a Go slice and the wire-format
// byte layout — header + compactly encoded entries — is produced on
// demand by Encode/Decode for the snapshot path. This satisfies the same
// invariants (header fields, ladder quantization, 250-entry cap) through
// checked accessors instead of pointer arithmetic. See DESIGN.md.
//
// © 2025 carrotcache authors. MIT License.
package indexblock

import (
	"fmt"

	"github.com/Voskan/carrotcache/internal/unsafehelpers"
)

// HeaderSize is the fixed {blockSize:u16, numEntries:u16, dataSize:u16}
// header every block carries.
const HeaderSize = 6

// MaxEntries bounds num_entries per the data-model invariant.
const MaxEntries = 250

// Ladder is the geometric sequence of block sizes blocks are quantized to.
// Chosen as a power-of-two progression from a small slot (a handful of
// compact entries) up to the largest block that still holds 250 maximal
// (non-embedded) entries comfortably.
var Ladder = []int{64, 128, 256, 512, 1024, 2048, 4096, 8192}

// LadderFor returns the smallest ladder size that can hold need bytes
// (header + body), or -1 if need exceeds every rung.
func LadderFor(need int) int {
	for _, sz := range Ladder {
		if sz >= need {
			return sz
		}
	}
	return -1
}

// NextLadderSize returns the next larger rung than cur, or -1 if cur is
// already (at or past) the largest rung.
func NextLadderSize(cur int) int {
	for _, sz := range Ladder {
		if sz > cur {
			return sz
		}
	}
	return -1
}

// Block is one slot's index block: a decoded, SLRU-ordered entry list plus
// the bookkeeping needed to reproduce the spec's byte layout on demand.
// entries[0] is the head (hottest / most-recently-promoted).
type Block struct {
	NumRanks int
	entries  []Entry
}

// New returns an empty block configured for numRanks virtual SLRU segments.
func New(numRanks int) *Block {
	if numRanks <= 0 {
		numRanks = 8
	}
	return &Block{NumRanks: numRanks}
}

// NumEntries returns the live entry count.
func (b *Block) NumEntries() int { return len(b.entries) }

// DataSize returns the encoded byte size of the current entries.
func (b *Block) DataSize() int {
	n := 0
	for i := range b.entries {
		n += b.entries[i].EncodedLen()
	}
	return n
}

// BlockSize returns the ladder-quantized size needed to hold the current
// entries' header + body.
func (b *Block) BlockSize() int {
	sz := LadderFor(HeaderSize + b.DataSize())
	if sz < 0 {
		sz = HeaderSize + b.DataSize()
	}
	return sz
}

// Entries returns the live entries in SLRU order (index 0 == hottest). The
// returned slice must not be retained across a mutating call.
func (b *Block) Entries() []Entry { return b.entries }

// Clone returns a deep-enough copy of b — a fresh Block with its own entries
// slice — so callers can mutate the clone and atomically publish it without
// disturbing a version concurrently visible to lock-free readers.
func (b *Block) Clone() *Block {
	c := &Block{NumRanks: b.NumRanks}
	if b.entries != nil {
		c.entries = append([]Entry(nil), b.entries...)
	}
	return c
}

// Find returns the index of the entry with the given hash (and, if key is
// non-nil and the entry carries an embedded key, a matching key), or -1.
func (b *Block) Find(hash uint64, key []byte) int {
	for i := range b.entries {
		if b.entries[i].Hash != hash {
			continue
		}
		if key != nil && b.entries[i].Embedded != nil {
			if unsafehelpers.BytesToString(b.entries[i].embeddedKey()) != unsafehelpers.BytesToString(key) {
				continue
			}
		}
		return i
	}
	return -1
}

// Validate checks the invariants from the data model: data fits the block
// size ladder and the entry count is within bounds.
func (b *Block) Validate() error {
	if len(b.entries) > MaxEntries {
		return fmt.Errorf("indexblock: numEntries %d exceeds max %d", len(b.entries), MaxEntries)
	}
	if HeaderSize+b.DataSize() > b.BlockSize() {
		return fmt.Errorf("indexblock: dataSize+header exceeds blockSize")
	}
	return nil
}

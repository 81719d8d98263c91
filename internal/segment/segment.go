// Package segment implements the append-only storage unit carrotcache's
// segmented storage engine is built from: a fixed-size buffer (RAM or file)
// that key/value items are appended to until sealed, then later scavenged
// as a whole.
//
// The item wire format is shared by both backends so a sealed RAM segment
// and a sealed file segment are byte-for-byte interchangeable on disk:
//
//	expire:uvarint  keyLen:uvarint  valueLen:uvarint  key  value
//
// expire is the u64 epoch-millis value written as a uvarint, not as a
// fixed 8-byte field.
//
// Grounded on arena-cache's internal/genring generation object (one append
// region per generation, byte accounting, free-in-one-shot) generalised
// from "generation" to "segment" and from TTL-only rotation to the
// explicit Open/Sealed/Recycled state machine the storage engine requires.
//
// © 2025 carrotcache authors. MIT License.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ID uniquely identifies a segment for the lifetime of the storage engine
// that allocated it. IDs are reused after Recycled segments are released.
type ID uint64

// State is the segment lifecycle: Open -> Sealed -> Recycled.
type State int32

const (
	Open State = iota
	Sealed
	Recycled
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Sealed:
		return "sealed"
	case Recycled:
		return "recycled"
	default:
		return "unknown"
	}
}

// Info carries the descriptive counters the scavenger and storage engine
// consult when picking a victim segment.
type Info struct {
	ID                ID
	TotalItems        int
	TotalActiveItems  int
	MaxExpireAt       int64 // epoch millis, 0 == no expiring item
	CreatedAt         time.Time
}

// ErrTooLarge is returned by Append when an item (header + key + value)
// cannot fit in any segment of the configured size.
var ErrTooLarge = errors.New("segment: item larger than segment size")

// ErrSealed is returned by Append when the segment is no longer Open.
var ErrSealed = errors.New("segment: append into non-open segment")

// ErrNotEnoughSpace signals the current segment lacks room for the item;
// the storage engine should seal it and retry against a fresh segment.
var ErrNotEnoughSpace = errors.New("segment: not enough space")

// ErrNotFound is returned by ReadAt when the offset does not resolve to a
// live item (e.g. a recycled segment, or a key mismatch after recycling
// reused the offset for a different item).
var ErrNotFound = errors.New("segment: item not found at offset")

// ErrBufferTooSmall is returned by ReadAt when out is shorter than the
// stored value; n carries the required size so callers can retry.
var ErrBufferTooSmall = errors.New("segment: output buffer too small")

// maxHeaderSize bounds the expire uvarint (<=10 bytes) + two uvarints of
// non-negative int lengths (<=9 each).
const maxHeaderSize = 10 + 9 + 9

// EncodeItem serialises (expire, key, value) into dst's tail, growing dst as
// needed, and returns the full encoded slice.
func EncodeItem(dst []byte, expire int64, key, value []byte) []byte {
	var hdr [maxHeaderSize]byte
	n := binary.PutUvarint(hdr[:], uint64(expire))
	// carrotcache stores expire as unsigned epoch millis; negative values
	// are a caller bug and are clamped to 0 upstream, never encoded here.
	n += binary.PutUvarint(hdr[n:], uint64(len(key)))
	n += binary.PutUvarint(hdr[n:], uint64(len(value)))
	dst = append(dst, hdr[:n]...)
	dst = append(dst, key...)
	dst = append(dst, value...)
	return dst
}

// ItemHeaderSize returns the encoded size of the expire+keyLen+valueLen
// header for the given key/value lengths, without encoding anything.
func ItemHeaderSize(keyLen, valueLen int) int {
	var buf [maxHeaderSize]byte
	n := binary.PutUvarint(buf[:], ^uint64(0)) // worst case expire
	n += binary.PutUvarint(buf[n:], uint64(keyLen))
	n += binary.PutUvarint(buf[n:], uint64(valueLen))
	return n
}

// DecodeItem parses one item starting at src[0]. It returns the decoded
// expire/key/value (key and value alias src) and the number of bytes
// consumed. An error is returned if src is truncated mid-record.
func DecodeItem(src []byte) (expire int64, key, value []byte, consumed int, err error) {
	e, n1 := binary.Uvarint(src)
	if n1 <= 0 {
		return 0, nil, nil, 0, fmt.Errorf("segment: truncated item (expire)")
	}
	rest := src[n1:]
	kl, n2 := binary.Uvarint(rest)
	if n2 <= 0 {
		return 0, nil, nil, 0, fmt.Errorf("segment: truncated item (keyLen)")
	}
	rest = rest[n2:]
	vl, n3 := binary.Uvarint(rest)
	if n3 <= 0 {
		return 0, nil, nil, 0, fmt.Errorf("segment: truncated item (valueLen)")
	}
	rest = rest[n3:]
	total := int(kl) + int(vl)
	if len(rest) < total {
		return 0, nil, nil, 0, fmt.Errorf("segment: truncated item (body)")
	}
	key = rest[:kl]
	value = rest[kl : kl+vl]
	consumed = n1 + n2 + n3 + total
	return int64(e), key, value, consumed, nil
}

// Segment is the interface satisfied by both RAM (Mem) and file-backed
// (File) segments, letting the storage engine dispatch writes/reads/scans
// without caring which backend a given rank's active segment uses.
type Segment interface {
	ID() ID
	Rank() int
	State() State
	Info() Info
	Append(key, value []byte, expire int64) (offset int64, err error)
	ReadAt(offset int64, key []byte, out []byte) (n int, err error)
	DecrementActive()
	Seal() error
	Recycle() error
	Scanner() (Scanner, error)
	Close() error
}

// Scanner iterates the items of a sealed segment in append order, as
// consumed by the Scavenger.
type Scanner interface {
	// Next advances to the next item. Returns false at end of segment.
	Next() bool
	// Item returns the current item. Valid only after a true Next().
	Item() (expire int64, key, value []byte, offset int64)
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases scanner resources (e.g. the file handle / prefetch buffer).
	Close() error
}

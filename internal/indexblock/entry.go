package indexblock

import "encoding/binary"

// Entry is the decoded form of one Index Entry. SegmentID/Offset address
// the value in the storage engine unless Embedded is non-nil, in which case
// the key+value bytes travel with the index entry directly
// (index.data.embedded mode) and SegmentID/Offset are meaningless (zero).
type Entry struct {
	Hash      uint64
	KeySize   uint32
	ValueSize uint32
	SegmentID uint64
	Offset    uint64
	Expire    int64 // epoch millis, 0 == never
	HitCount  uint32
	Rank      uint8

	// Embedded holds key||value when the payload is small enough to skip
	// the storage engine entirely (index.data.embedded.size).
	Embedded []byte
}

// embeddedKey returns the key portion of Embedded.
func (e *Entry) embeddedKey() []byte {
	if e.Embedded == nil {
		return nil
	}
	return e.Embedded[:e.KeySize]
}

// embeddedValue returns the value portion of Embedded.
func (e *Entry) EmbeddedValue() []byte {
	if e.Embedded == nil {
		return nil
	}
	return e.Embedded[e.KeySize:]
}

// IsEmbedded reports whether the entry carries its payload inline.
func (e *Entry) IsEmbedded() bool { return e.Embedded != nil }

// flags bits for the wire encoding.
const (
	flagEmbedded byte = 1 << 0
)

// EncodedLen returns the number of bytes Encode would produce.
func (e *Entry) EncodedLen() int {
	return len(e.encode(nil))
}

// Encode appends the entry's compact binary encoding to dst and returns it.
func (e *Entry) Encode(dst []byte) []byte { return e.encode(dst) }

func (e *Entry) encode(dst []byte) []byte {
	var flags byte
	if e.IsEmbedded() {
		flags |= flagEmbedded
	}
	dst = append(dst, flags)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], e.Hash)
	dst = append(dst, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(e.KeySize))
	dst = append(dst, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(e.ValueSize))
	dst = append(dst, tmp[:n]...)
	n = binary.PutVarint(tmp[:], e.Expire)
	dst = append(dst, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(e.HitCount))
	dst = append(dst, tmp[:n]...)
	dst = append(dst, e.Rank)
	if e.IsEmbedded() {
		dst = append(dst, e.Embedded...)
		return dst
	}
	n = binary.PutUvarint(tmp[:], e.SegmentID)
	dst = append(dst, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], e.Offset)
	dst = append(dst, tmp[:n]...)
	return dst
}

// DecodeEntry parses one entry from the front of src and returns it plus
// the number of bytes consumed.
func DecodeEntry(src []byte) (Entry, int, error) {
	var e Entry
	if len(src) < 1 {
		return e, 0, errTruncated
	}
	flags := src[0]
	rest := src[1:]
	total := 1

	hash, n := binary.Uvarint(rest)
	if n <= 0 {
		return e, 0, errTruncated
	}
	rest, total = rest[n:], total+n
	e.Hash = hash

	keySize, n := binary.Uvarint(rest)
	if n <= 0 {
		return e, 0, errTruncated
	}
	rest, total = rest[n:], total+n
	e.KeySize = uint32(keySize)

	valSize, n := binary.Uvarint(rest)
	if n <= 0 {
		return e, 0, errTruncated
	}
	rest, total = rest[n:], total+n
	e.ValueSize = uint32(valSize)

	expire, n := binary.Varint(rest)
	if n <= 0 {
		return e, 0, errTruncated
	}
	rest, total = rest[n:], total+n
	e.Expire = expire

	hitCount, n := binary.Uvarint(rest)
	if n <= 0 {
		return e, 0, errTruncated
	}
	rest, total = rest[n:], total+n
	e.HitCount = uint32(hitCount)

	if len(rest) < 1 {
		return e, 0, errTruncated
	}
	e.Rank = rest[0]
	rest, total = rest[1:], total+1

	if flags&flagEmbedded != 0 {
		need := int(e.KeySize) + int(e.ValueSize)
		if len(rest) < need {
			return e, 0, errTruncated
		}
		e.Embedded = append([]byte(nil), rest[:need]...)
		total += need
		return e, total, nil
	}

	segID, n := binary.Uvarint(rest)
	if n <= 0 {
		return e, 0, errTruncated
	}
	rest, total = rest[n:], total+n
	e.SegmentID = segID

	offset, n := binary.Uvarint(rest)
	if n <= 0 {
		return e, 0, errTruncated
	}
	total += n
	e.Offset = offset

	return e, total, nil
}

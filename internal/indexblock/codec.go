package indexblock

import "encoding/binary"

// Encode produces the on-disk/snapshot byte layout for the block: the
// 6-byte {blockSize, numEntries, dataSize} header followed by each entry's
// compact encoding, in SLRU order, padded to BlockSize with zeros.
func (b *Block) Encode() []byte {
	dataSize := b.DataSize()
	blockSize := b.BlockSize()
	out := make([]byte, HeaderSize, blockSize)
	binary.BigEndian.PutUint16(out[0:2], uint16(blockSize))
	binary.BigEndian.PutUint16(out[2:4], uint16(len(b.entries)))
	binary.BigEndian.PutUint16(out[4:6], uint16(dataSize))
	for i := range b.entries {
		out = b.entries[i].Encode(out)
	}
	if len(out) < blockSize {
		out = append(out, make([]byte, blockSize-len(out))...)
	}
	return out
}

// Decode parses a block previously produced by Encode. numRanks configures
// the SLRU segment partitioning for the returned block, since it is not
// itself part of the wire header.
func Decode(src []byte, numRanks int) (*Block, error) {
	if len(src) < HeaderSize {
		return nil, ErrBlockCorrupt
	}
	blockSize := int(binary.BigEndian.Uint16(src[0:2]))
	numEntries := int(binary.BigEndian.Uint16(src[2:4]))
	dataSize := int(binary.BigEndian.Uint16(src[4:6]))
	if blockSize > len(src) || HeaderSize+dataSize > blockSize {
		return nil, ErrBlockCorrupt
	}
	body := src[HeaderSize : HeaderSize+dataSize]
	b := New(numRanks)
	b.entries = make([]Entry, 0, numEntries)
	for i := 0; i < numEntries; i++ {
		e, n, err := DecodeEntry(body)
		if err != nil {
			return nil, err
		}
		b.entries = append(b.entries, e)
		body = body[n:]
	}
	if len(b.entries) != numEntries {
		return nil, ErrBlockCorrupt
	}
	return b, nil
}

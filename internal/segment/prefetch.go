package segment

import (
	"bufio"
	"encoding/binary"
	"io"
)

// PrefetchBuffer provides buffered, read-ahead sequential access to a
// sealed file segment for the Scavenger's scan pass. It exists as its own
// type (rather than a bare bufio.Reader) so the storage engine can report
// and tune the read-ahead window independently of Go's bufio defaults,
// matching the "Prefetch Buffer" component of the storage engine.
type PrefetchBuffer struct {
	br     *bufio.Reader
	window int
}

// DefaultPrefetchWindow matches file.prefetch.buffer.size's default (4 MiB).
const DefaultPrefetchWindow = 4 << 20

// NewPrefetchBuffer wraps r with a read-ahead window of size bytes. A
// non-positive size falls back to DefaultPrefetchWindow.
func NewPrefetchBuffer(r io.Reader, size int) *PrefetchBuffer {
	if size <= 0 {
		size = DefaultPrefetchWindow
	}
	return &PrefetchBuffer{br: bufio.NewReaderSize(r, size), window: size}
}

// Window returns the configured read-ahead size in bytes.
func (p *PrefetchBuffer) Window() int { return p.window }

// ReadUvarint reads one protobuf-style varint from the stream.
func (p *PrefetchBuffer) ReadUvarint() (uint64, error) {
	return binary.ReadUvarint(p.br)
}

// ReadFull reads exactly len(buf) bytes, buffering ahead as needed.
func (p *PrefetchBuffer) ReadFull(buf []byte) (int, error) {
	return io.ReadFull(p.br, buf)
}

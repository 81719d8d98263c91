package segment

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Voskan/carrotcache/internal/membuf"
)

// Mem is a RAM-resident segment: items are appended directly into an
// off-heap-flavoured membuf.Buffer. Grounded on arena-cache's generation
// object (internal/genring), generalised to the explicit segment state
// machine and to carrying a rank instead of being TTL-only.
type Mem struct {
	mu sync.Mutex

	id    ID
	rank  int
	buf   *membuf.Buffer
	state atomic.Int32

	totalItems       atomic.Int64
	totalActiveItems atomic.Int64
	maxExpireAt      atomic.Int64
	createdAt        time.Time
}

// NewMem allocates an Open RAM segment of the given byte size for the given
// popularity rank.
func NewMem(id ID, rank int, size int) *Mem {
	return &Mem{
		id:        id,
		rank:      rank,
		buf:       membuf.New(size),
		createdAt: time.Now(),
	}
}

func (m *Mem) ID() ID      { return m.id }
func (m *Mem) Rank() int   { return m.rank }
func (m *Mem) State() State { return State(m.state.Load()) }

func (m *Mem) Info() Info {
	return Info{
		ID:               m.id,
		TotalItems:       int(m.totalItems.Load()),
		TotalActiveItems: int(m.totalActiveItems.Load()),
		MaxExpireAt:      m.maxExpireAt.Load(),
		CreatedAt:        m.createdAt,
	}
}

// Append encodes and writes one item. offset is relative to the start of
// the segment's data region, stable for the segment's lifetime.
func (m *Mem) Append(key, value []byte, expire int64) (offset int64, err error) {
	if m.State() != Open {
		return 0, ErrSealed
	}
	need := ItemHeaderSize(len(key), len(value)) + len(key) + len(value)
	if need > m.buf.Cap() {
		return 0, ErrTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Open {
		return 0, ErrSealed
	}
	if need > m.buf.Remaining() {
		return 0, ErrNotEnoughSpace
	}
	// EncodeItem builds the record in a heap slice sized to need; Append
	// then copies it into buf.
	encoded := EncodeItem(make([]byte, 0, need), expire, key, value)
	off, ok := m.buf.Append(encoded)
	if !ok {
		return 0, ErrNotEnoughSpace
	}
	m.totalItems.Add(1)
	m.totalActiveItems.Add(1)
	if expire > 0 {
		for {
			cur := m.maxExpireAt.Load()
			if expire <= cur {
				break
			}
			if m.maxExpireAt.CompareAndSwap(cur, expire) {
				break
			}
		}
	}
	return int64(off), nil
}

// ReadAt decodes the item at offset and copies its value into out, growing
// out if needed would be the caller's job — here we return the required
// size if out is too small, matching the storage-engine contract.
func (m *Mem) ReadAt(offset int64, key []byte, out []byte) (n int, err error) {
	m.mu.Lock()
	data := m.buf.Bytes()
	m.mu.Unlock()
	if offset < 0 || int(offset) >= len(data) {
		return 0, ErrNotFound
	}
	_, k, v, _, err := DecodeItem(data[offset:])
	if err != nil {
		return 0, err
	}
	if key != nil && string(k) != string(key) {
		return 0, ErrNotFound
	}
	if len(out) < len(v) {
		return len(v), ErrBufferTooSmall
	}
	copy(out, v)
	return len(v), nil
}

// DecrementActive lowers the segment's active-item count by one. Nothing
// in the tree calls it, so deletes, expirations and dumps leave
// TotalActiveItems equal to TotalItems.
func (m *Mem) DecrementActive() {
	m.totalActiveItems.Add(-1)
}

// Seal transitions Open -> Sealed; subsequent Appends fail.
func (m *Mem) Seal() error {
	m.state.CompareAndSwap(int32(Open), int32(Sealed))
	return nil
}

// Scanner returns an iterator over the segment's items in append order.
// Valid on Sealed or Open segments (the latter supports the rare case of a
// forced scan, e.g. snapshot save).
func (m *Mem) Scanner() (Scanner, error) {
	m.mu.Lock()
	data := append([]byte(nil), m.buf.Bytes()...)
	m.mu.Unlock()
	return &memScanner{data: data}, nil
}

// Recycle transitions to Recycled and frees the backing buffer. The segment
// object stays around only so its ID is known to be reusable.
func (m *Mem) Recycle() error {
	m.state.Store(int32(Recycled))
	m.mu.Lock()
	m.buf.Free()
	m.mu.Unlock()
	return nil
}

func (m *Mem) Close() error { return m.Recycle() }

type memScanner struct {
	data   []byte
	pos    int
	offset int64
	cur    struct {
		expire int64
		key    []byte
		value  []byte
	}
	err error
}

func (s *memScanner) Next() bool {
	if s.err != nil || s.pos >= len(s.data) {
		return false
	}
	expire, key, value, consumed, err := DecodeItem(s.data[s.pos:])
	if err != nil {
		s.err = err
		return false
	}
	s.offset = int64(s.pos)
	s.cur.expire, s.cur.key, s.cur.value = expire, key, value
	s.pos += consumed
	return true
}

func (s *memScanner) Item() (int64, []byte, []byte, int64) {
	return s.cur.expire, s.cur.key, s.cur.value, s.offset
}

func (s *memScanner) Err() error   { return s.err }
func (s *memScanner) Close() error { return nil }

var _ Segment = (*Mem)(nil)

package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// fileHeaderMagic/Version front every sealed segment file so the engine can
// detect a foreign or truncated file at load time.
const (
	fileMagic   uint32 = 0x43524f54 // "CROT"
	fileVersion uint16 = 1
	// fileHeaderSize is {magic:4, version:2, id:8, rank:4, totalItems:4,
	// maxExpireAt:8, createdUnixNano:8}.
	fileHeaderSize = 4 + 2 + 8 + 4 + 4 + 8 + 8
)

// File is a file-backed segment: one file per segment id under the engine's
// data directory, matching the persisted layout ("Data directory contains
// one file per segment id").
type File struct {
	mu sync.Mutex

	id   ID
	rank int
	path string
	f    *os.File
	cap  int64
	size int64 // bytes written so far, excluding the header

	state atomic.Int32

	totalItems       atomic.Int64
	totalActiveItems atomic.Int64
	maxExpireAt      atomic.Int64
	createdAt        time.Time

	prefetchWindow int
}

// NewFile creates (or truncates) the backing file for a fresh Open segment.
func NewFile(dir string, id ID, rank int, capacity int64, prefetchWindow int) (*File, error) {
	path := filepath.Join(dir, fmt.Sprintf("segment-%020d.dat", uint64(id)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: open %s: %w", path, err)
	}
	if _, err := f.Seek(fileHeaderSize, 0); err != nil {
		f.Close()
		return nil, err
	}
	return &File{
		id:             id,
		rank:           rank,
		path:           path,
		f:              f,
		cap:            capacity,
		createdAt:      time.Now(),
		prefetchWindow: prefetchWindow,
	}, nil
}

// OpenFileSegment reopens an existing sealed segment file (used on cache
// restart before a snapshot load rebuilds the index).
func OpenFileSegment(dir string, id ID, prefetchWindow int) (*File, error) {
	path := filepath.Join(dir, fmt.Sprintf("segment-%020d.dat", uint64(id)))
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: reopen %s: %w", path, err)
	}
	hdr := make([]byte, fileHeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("segment: read header %s: %w", path, err)
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != fileMagic {
		f.Close()
		return nil, fmt.Errorf("segment: %s: bad magic", path)
	}
	rank := int(binary.BigEndian.Uint32(hdr[14:18]))
	totalItems := int64(binary.BigEndian.Uint32(hdr[18:22]))
	maxExpire := int64(binary.BigEndian.Uint64(hdr[22:30]))
	created := int64(binary.BigEndian.Uint64(hdr[30:38]))

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	fs := &File{
		id:             id,
		rank:           rank,
		path:           path,
		f:              f,
		cap:            info.Size() - fileHeaderSize,
		size:           info.Size() - fileHeaderSize,
		createdAt:      time.Unix(0, created),
		prefetchWindow: prefetchWindow,
	}
	fs.totalItems.Store(totalItems)
	fs.totalActiveItems.Store(totalItems)
	fs.maxExpireAt.Store(maxExpire)
	fs.state.Store(int32(Sealed))
	return fs, nil
}

func (fsg *File) ID() ID       { return fsg.id }
func (fsg *File) Rank() int    { return fsg.rank }
func (fsg *File) State() State { return State(fsg.state.Load()) }
func (fsg *File) Path() string { return fsg.path }

func (fsg *File) Info() Info {
	return Info{
		ID:               fsg.id,
		TotalItems:       int(fsg.totalItems.Load()),
		TotalActiveItems: int(fsg.totalActiveItems.Load()),
		MaxExpireAt:      fsg.maxExpireAt.Load(),
		CreatedAt:        fsg.createdAt,
	}
}

// Append writes one item at the current write cursor via a single positioned
// write, matching "single writer per rank" from the concurrency model.
func (fsg *File) Append(key, value []byte, expire int64) (offset int64, err error) {
	if fsg.State() != Open {
		return 0, ErrSealed
	}
	need := int64(ItemHeaderSize(len(key), len(value)) + len(key) + len(value))
	if need > fsg.cap {
		return 0, ErrTooLarge
	}

	fsg.mu.Lock()
	defer fsg.mu.Unlock()
	if fsg.State() != Open {
		return 0, ErrSealed
	}
	if fsg.size+need > fsg.cap {
		return 0, ErrNotEnoughSpace
	}
	buf := EncodeItem(make([]byte, 0, need), expire, key, value)
	if _, err := fsg.f.WriteAt(buf, fileHeaderSize+fsg.size); err != nil {
		return 0, fmt.Errorf("segment: write %s: %w", fsg.path, err)
	}
	offset = fsg.size
	fsg.size += int64(len(buf))
	fsg.totalItems.Add(1)
	fsg.totalActiveItems.Add(1)
	if expire > 0 {
		for {
			cur := fsg.maxExpireAt.Load()
			if expire <= cur {
				break
			}
			if fsg.maxExpireAt.CompareAndSwap(cur, expire) {
				break
			}
		}
	}
	return offset, nil
}

// ReadAt issues a positioned read sized from a conservative header guess;
// when the record is longer than that, it reads again with the size taken
// from the record's own header. It decodes the record and copies the value
// into out. Returns the
// required size (via ErrBufferTooSmall) if out is too small, per the
// "reads return size so callers can retry" contract.
func (fsg *File) ReadAt(offset int64, key []byte, out []byte) (n int, err error) {
	// First read enough for header + the expected key so we can decode
	// lengths; BaseFileDataReader-equivalent of a speculative read.
	guess := maxHeaderSize + len(key) + len(out)
	if guess < 256 {
		guess = 256
	}
	buf := make([]byte, guess)
	rn, rerr := fsg.f.ReadAt(buf, fileHeaderSize+offset)
	if rn == 0 && rerr != nil {
		return 0, fmt.Errorf("segment: read %s: %w", fsg.path, rerr)
	}
	buf = buf[:rn]
	_, k, v, _, derr := DecodeItem(buf)
	if derr != nil {
		// Record extends past what we read (large value): read it again,
		// sized from the record's own header.
		need, rest := 0, buf
		for i := 0; i < 3; i++ {
			x, m := binary.Uvarint(rest)
			if m <= 0 {
				return 0, derr
			}
			rest, need = rest[m:], need+m
			if i > 0 {
				need += int(x)
			}
		}
		buf2 := make([]byte, need)
		rn2, rerr2 := fsg.f.ReadAt(buf2, fileHeaderSize+offset)
		if rn2 == 0 && rerr2 != nil {
			return 0, fmt.Errorf("segment: read %s: %w", fsg.path, rerr2)
		}
		_, k, v, _, derr = DecodeItem(buf2[:rn2])
		if derr != nil {
			return 0, derr
		}
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

func (fsg *File) DecrementActive() { fsg.totalActiveItems.Add(-1) }

// Seal writes the final header (so a reopen can recover Info without a
// snapshot) and flags the file read-only for further Appends.
func (fsg *File) Seal() error {
	if !fsg.state.CompareAndSwap(int32(Open), int32(Sealed)) {
		return nil
	}
	var hdr [fileHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], fileMagic)
	binary.BigEndian.PutUint16(hdr[4:6], fileVersion)
	binary.BigEndian.PutUint64(hdr[6:14], uint64(fsg.id))
	binary.BigEndian.PutUint32(hdr[14:18], uint32(fsg.rank))
	binary.BigEndian.PutUint32(hdr[18:22], uint32(fsg.totalItems.Load()))
	binary.BigEndian.PutUint64(hdr[22:30], uint64(fsg.maxExpireAt.Load()))
	binary.BigEndian.PutUint64(hdr[30:38], uint64(fsg.createdAt.UnixNano()))
	if _, err := fsg.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("segment: seal header %s: %w", fsg.path, err)
	}
	return fsg.f.Sync()
}

// Scanner returns a sequential, prefetch-buffered iterator over the
// segment's items, used by the Scavenger.
func (fsg *File) Scanner() (Scanner, error) {
	r := io.NewSectionReader(fsg.f, fileHeaderSize, fsg.size)
	return &fileScanner{br: NewPrefetchBuffer(r, fsg.prefetchWindow)}, nil
}

// Recycle deletes the backing file; its ID becomes reusable by the engine's
// allocator once this returns.
func (fsg *File) Recycle() error {
	fsg.state.Store(int32(Recycled))
	fsg.mu.Lock()
	defer fsg.mu.Unlock()
	if fsg.f != nil {
		fsg.f.Close()
		fsg.f = nil
	}
	return os.Remove(fsg.path)
}

func (fsg *File) Close() error {
	fsg.mu.Lock()
	defer fsg.mu.Unlock()
	if fsg.f == nil {
		return nil
	}
	err := fsg.f.Close()
	fsg.f = nil
	return err
}

type fileScanner struct {
	br     *PrefetchBuffer
	offset int64
	cur    struct {
		expire int64
		key    []byte
		value  []byte
		offset int64
	}
	err error
}

// Next decodes one item from the buffered, prefetched stream. The scan
// covers only the bytes written so far, so a well-formed segment ends at a
// record boundary: io.EOF there is a clean end of stream, while a stream
// that ends inside a record's header or body leaves a truncated-record
// error in Err — see DESIGN.md.
func (s *fileScanner) Next() bool {
	if s.err != nil {
		return false
	}
	startOffset := s.offset
	expireB, err := s.br.ReadUvarint()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}
	keyLen, err := s.br.ReadUvarint()
	if err != nil {
		s.err = fmt.Errorf("segment: truncated trailing record: %w", err)
		return false
	}
	valueLen, err := s.br.ReadUvarint()
	if err != nil {
		s.err = fmt.Errorf("segment: truncated trailing record: %w", err)
		return false
	}
	key := make([]byte, keyLen)
	if _, err := s.br.ReadFull(key); err != nil {
		s.err = fmt.Errorf("segment: truncated trailing key: %w", err)
		return false
	}
	value := make([]byte, valueLen)
	if _, err := s.br.ReadFull(value); err != nil {
		s.err = fmt.Errorf("segment: truncated trailing value: %w", err)
		return false
	}
	s.cur.expire = int64(expireB)
	s.cur.key = key
	s.cur.value = value
	s.cur.offset = startOffset
	s.offset = startOffset + int64(uvarintLen(expireB)+uvarintLen(keyLen)+uvarintLen(valueLen)) + int64(keyLen) + int64(valueLen)
	return true
}

func (s *fileScanner) Item() (int64, []byte, []byte, int64) {
	return s.cur.expire, s.cur.key, s.cur.value, s.cur.offset
}
func (s *fileScanner) Err() error   { return s.err }
func (s *fileScanner) Close() error { return nil }

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}


var _ Segment = (*File)(nil)

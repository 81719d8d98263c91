// Package snapshot persists the cache's save/load state — facade counters,
// admission/throughput/random-controller state, the admission queue, the
// scavenger's dials, and the Memory Index's encoded slot array — into an
// embedded Badger key-value store, one store per cache's snapshot
// directory.
//
// Grounded on examples/disk_eject's use of github.com/dgraph-io/badger/v4
// as a second-level store, generalised from ad hoc eject-callback writes to
// the structured persisted-layout keys (`cache.data`, `ac.data`, `tc.data`,
// `rc.data`, `aq.data`, `scav.data`, `engine.data`).
//
// © 2025 carrotcache authors. MIT License.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Persisted-layout key names, one Badger key per document.
const (
	KeyCacheData = "cache.data"
	KeyACData    = "ac.data"
	KeyTCData    = "tc.data"
	KeyRCData    = "rc.data"
	KeyAQData    = "aq.data"
	KeyScavData  = "scav.data"
	KeyEngineData = "engine.data"
)

// CacheStats is the cache.data document: facade counters plus the epoch
// they were captured at.
type CacheStats struct {
	Epoch                 int64
	Gets                  int64
	Hits                  int64
	Writes                int64
	RejectedWrites        int64
	ExpiredEvictedBalance int64
}

// ScavengerState is the scav.data document.
type ScavengerState struct {
	DumpBelowRatio float64
}

// ThroughputState is the tc.data document.
type ThroughputState struct {
	TotalBytes     int64
	StartUnixNano  int64
}

// RandomAdmissionState is the rc.data document.
type RandomAdmissionState struct {
	Ratio float64
}

// AdmissionControllerState is the ac.data document: which admission policy
// is active and its scalar dials (the AQ's own entries live separately in
// aq.data).
type AdmissionControllerState struct {
	Policy          string // "aq", "random", "expiration", or "" (always-admit)
	ReadmitHitCount int
	RandomRatio     float64
}

// AdmissionQueueState is the aq.data document: the AQ's own encoded index
// blocks plus its per-hash hit counters.
type AdmissionQueueState struct {
	Blocks [][]byte
	Hits   map[uint64]int
	Size   int
}

// EngineData is the engine.data document: the Memory Index's encoded slot
// array plus the sealed file-segment ids it references, so a restart can
// reopen exactly those files before the index is loaded back in.
type EngineData struct {
	Blocks           [][]byte
	NumRanks         int
	SealedSegmentIDs []uint64
}

// Store wraps one cache's snapshot directory as a Badger database.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) the Badger store at dir.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) putGob(key string, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf.Bytes())
	})
}

func (s *Store) getGob(key string, v interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(v)
		})
	})
	if err != nil {
		return false, fmt.Errorf("snapshot: decode %s: %w", key, err)
	}
	return found, nil
}

func (s *Store) SaveCacheData(v CacheStats) error      { return s.putGob(KeyCacheData, v) }
func (s *Store) LoadCacheData() (CacheStats, bool, error) {
	var v CacheStats
	ok, err := s.getGob(KeyCacheData, &v)
	return v, ok, err
}

func (s *Store) SaveAdmissionControllerState(v AdmissionControllerState) error { return s.putGob(KeyACData, v) }
func (s *Store) LoadAdmissionControllerState() (AdmissionControllerState, bool, error) {
	var v AdmissionControllerState
	ok, err := s.getGob(KeyACData, &v)
	return v, ok, err
}

func (s *Store) SaveScavengerState(v ScavengerState) error { return s.putGob(KeyScavData, v) }
func (s *Store) LoadScavengerState() (ScavengerState, bool, error) {
	var v ScavengerState
	ok, err := s.getGob(KeyScavData, &v)
	return v, ok, err
}

func (s *Store) SaveThroughputState(v ThroughputState) error { return s.putGob(KeyTCData, v) }
func (s *Store) LoadThroughputState() (ThroughputState, bool, error) {
	var v ThroughputState
	ok, err := s.getGob(KeyTCData, &v)
	return v, ok, err
}

func (s *Store) SaveRandomAdmissionState(v RandomAdmissionState) error { return s.putGob(KeyRCData, v) }
func (s *Store) LoadRandomAdmissionState() (RandomAdmissionState, bool, error) {
	var v RandomAdmissionState
	ok, err := s.getGob(KeyRCData, &v)
	return v, ok, err
}

func (s *Store) SaveAdmissionQueueState(v AdmissionQueueState) error { return s.putGob(KeyAQData, v) }
func (s *Store) LoadAdmissionQueueState() (AdmissionQueueState, bool, error) {
	var v AdmissionQueueState
	ok, err := s.getGob(KeyAQData, &v)
	return v, ok, err
}

func (s *Store) SaveEngineData(v EngineData) error { return s.putGob(KeyEngineData, v) }
func (s *Store) LoadEngineData() (EngineData, bool, error) {
	var v EngineData
	ok, err := s.getGob(KeyEngineData, &v)
	return v, ok, err
}

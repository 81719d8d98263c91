// Package carrotcache is the Cache Facade: it composes the Memory Index,
// Storage Engine, Scavenger, admission controller, and Throughput
// Controller into the library's single public entry point, and owns the
// optional victim-cache relation between a RAM cache and a disk cache.
//
// Grounded on arena-cache's pkg/cache.go/config.go functional-options
// style, generalised from a generic Cache[K,V] over an in-process shard
// array to a byte-oriented facade over the Memory Index + Storage Engine
// pair, with configuration carried in a Config struct; functional Options
// set a subset of its fields.
//
// © 2025 carrotcache authors. MIT License.
package carrotcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/carrotcache/internal/admission"
	"github.com/Voskan/carrotcache/internal/clock"
	"github.com/Voskan/carrotcache/internal/scavenger"
	"github.com/Voskan/carrotcache/internal/storage"
	"github.com/Voskan/carrotcache/internal/throughput"
)

// AdmissionPolicy selects which pluggable admission controller guards Put.
type AdmissionPolicy int

const (
	AdmissionAlways AdmissionPolicy = iota
	AdmissionQueue
	AdmissionRandom
	AdmissionExpiration
)

// Config bundles every recognized configuration option, scoped per cache as
// the repo's `<cacheName>.<key>` convention describes (the Go API takes a
// single Config per Cache instance rather than a shared .conf file).
type Config struct {
	Name string // caches.name.list entry this instance corresponds to

	Backend     storage.Backend // caches.types.list: offheap|file
	SegmentSize int64           // cache.data.segment.size
	MaxSize     int64           // cache.data.max.size, 0 == unlimited
	DataDir     string          // data.dir.name
	SnapshotDir string          // snapshot.dir.name

	NumRanks        int  // cache.popularity.number.ranks, 8
	SLRUSegments    int  // eviction.slru.number.segments, 8
	SLRUInsertPoint int  // eviction.slru.insert.point, 4
	IndexSlotsPower uint // index.slots.power, 10 -> 1024 slots
	IndexEmbedded   bool // index.data.embedded
	IndexEmbedSize  int  // index.data.embedded.size, 100

	ScavengerStartRatio     float64       // scavenger.start.ratio, 0.95
	ScavengerStopRatio      float64       // scavenger.stop.ratio, 0.90
	DumpBelowStart          float64       // scavenger.dump.entry.below.start, 0.10
	DumpBelowStop           float64       // scavenger.dump.entry.below.stop, 0.50
	DumpBelowStep           float64       // scavenger.dump.entry.below.step, 0.10
	ScavengerRunInterval    time.Duration // scavenger.run.interval.sec, 60s
	MaxSegmentsBeforeStall  int           // scavenger.max.segments.before.stall, 10
	WritesMaxWait           time.Duration // cache.writes.max.wait.time.ms, 10ms
	MinActiveDatasetRatio   float64       // cache.minimum.active.dataset.ratio, 0.90

	AdmissionPolicy   AdmissionPolicy
	AQStartSize       int     // admission.queue.start.size
	AQMinSize         int     // admission.queue.min.size
	AQMaxSize         int     // admission.queue.max.size
	ReadmitHitCount   int     // cache.readmission.hit.count.min, 1
	RandomAdmitStart  float64 // cache.random.admission.ratio.start, 1.0
	RandomAdmitStop   float64 // cache.random.admission.ratio.stop, 0.0
	ExpireStartBinSec int     // cache.expire.start.bin.value, 60
	ExpireMultiplier  float64 // cache.expire.multiplier.value, 2

	ThroughputGoalBytesPerSec float64       // cache.write.avg.rate.limit, 52428800
	ThroughputCheckInterval   time.Duration // throughput.check.interval.sec, 3600s
	ThroughputTolerance       float64       // throughput.tolerance.limit, 0.05
	ThroughputAdjustSteps     int           // throughput.adjustment.steps, 10

	SparseFilesSupport    bool // sparse.files.support
	PrefetchWindow        int  // file.prefetch.buffer.size, 4 MiB
	StoragePoolSize       int  // cache.storage.pool.size, 32
	VictimPromotionOnHit  bool // cache.victim.promotion.on.hit, true
	EvictionDisabledMode  bool // cache.eviction.disabled.mode
	WriteRejectionThresh  float64

	Logger   *zap.Logger
	Registry *prometheus.Registry
	Clock    clock.Clock
}

// Option mutates a Config at construction time.
type Option func(*Config)

// DefaultConfig returns the configuration the repo's .conf template ships,
// for an off-heap (RAM) cache named name.
func DefaultConfig(name string) Config {
	return Config{
		Name:                      name,
		Backend:                   storage.BackendRAM,
		SegmentSize:               4 << 20,
		MaxSize:                   0,
		NumRanks:                  8,
		SLRUSegments:              8,
		SLRUInsertPoint:           4,
		IndexSlotsPower:           10,
		IndexEmbedSize:            100,
		ScavengerStartRatio:       0.95,
		ScavengerStopRatio:        0.90,
		DumpBelowStart:            0.10,
		DumpBelowStop:             0.50,
		DumpBelowStep:             0.10,
		ScavengerRunInterval:      60 * time.Second,
		MaxSegmentsBeforeStall:    10,
		WritesMaxWait:             10 * time.Millisecond,
		MinActiveDatasetRatio:     0.90,
		AdmissionPolicy:           AdmissionAlways,
		AQStartSize:               1000,
		AQMinSize:                 100,
		AQMaxSize:                 100000,
		ReadmitHitCount:           1,
		RandomAdmitStart:          1.0,
		RandomAdmitStop:           0.0,
		ExpireStartBinSec:         60,
		ExpireMultiplier:          2,
		ThroughputGoalBytesPerSec: 50 << 20,
		ThroughputCheckInterval:   3600 * time.Second,
		ThroughputTolerance:       0.05,
		ThroughputAdjustSteps:     10,
		PrefetchWindow:            4 << 20,
		StoragePoolSize:           32,
		VictimPromotionOnHit:      true,
		// write_rejection_threshold has no spec-given default; 0.98 is a
		// deliberate Design-Note choice (recorded in DESIGN.md) leaving a
		// small safety margin above the scavenger's own stop_ratio.
		WriteRejectionThresh: 0.98,
		Logger:               zap.NewNop(),
		Clock:                clock.Real{},
	}
}

func WithFileBackend(dataDir string) Option {
	return func(c *Config) {
		c.Backend = storage.BackendFile
		c.DataDir = dataDir
		if c.SegmentSize == 4<<20 { // still at the RAM default, switch to the file default
			c.SegmentSize = 256 << 20
		}
	}
}

func WithMaxSize(bytes int64) Option { return func(c *Config) { c.MaxSize = bytes } }

func WithSnapshotDir(dir string) Option { return func(c *Config) { c.SnapshotDir = dir } }

func WithAdmissionQueue(startSize, minSize, maxSize, readmitHitCount int) Option {
	return func(c *Config) {
		c.AdmissionPolicy = AdmissionQueue
		c.AQStartSize, c.AQMinSize, c.AQMaxSize, c.ReadmitHitCount = startSize, minSize, maxSize, readmitHitCount
	}
}

func WithRandomAdmission(start, stop float64) Option {
	return func(c *Config) {
		c.AdmissionPolicy = AdmissionRandom
		c.RandomAdmitStart, c.RandomAdmitStop = start, stop
	}
}

func WithExpirationAdmission(startBinSec int, multiplier float64) Option {
	return func(c *Config) {
		c.AdmissionPolicy = AdmissionExpiration
		c.ExpireStartBinSec, c.ExpireMultiplier = startBinSec, multiplier
	}
}

func WithMetrics(reg *prometheus.Registry) Option { return func(c *Config) { c.Registry = reg } }

func WithLogger(l *zap.Logger) Option { return func(c *Config) { c.Logger = l } }

func WithClock(c2 clock.Clock) Option { return func(c *Config) { c.Clock = c2 } }

func WithWriteRejectionThreshold(ratio float64) Option {
	return func(c *Config) { c.WriteRejectionThresh = ratio }
}

func WithSparseFiles() Option { return func(c *Config) { c.SparseFilesSupport = true } }

func (c Config) scavengerConfig() scavenger.Config {
	return scavenger.Config{
		CacheName:                c.Name,
		StartRatio:               c.ScavengerStartRatio,
		StopRatio:                c.ScavengerStopRatio,
		DumpBelowStart:           c.DumpBelowStart,
		DumpBelowStop:            c.DumpBelowStop,
		DumpBelowStep:            c.DumpBelowStep,
		MinimumActiveDatasetRato: c.MinActiveDatasetRatio,
		RunInterval:              c.ScavengerRunInterval,
		MaxSegmentsBeforeStall:   c.MaxSegmentsBeforeStall,
		WritesMaxWait:            c.WritesMaxWait,
		MaxSize:                  c.MaxSize,
		SegmentSize:              c.SegmentSize,
		Logger:                   c.Logger,
	}
}

func (c Config) throughputConfig() throughput.Config {
	return throughput.Config{
		CacheName:       c.Name,
		GoalBytesPerSec: c.ThroughputGoalBytesPerSec,
		CheckInterval:   c.ThroughputCheckInterval,
		Tolerance:       c.ThroughputTolerance,
		AdjustmentSteps: c.ThroughputAdjustSteps,
		Logger:          c.Logger,
	}
}

func (c Config) aqConfig() admission.AQConfig {
	return admission.AQConfig{
		StartSize:       c.AQStartSize,
		MinSize:         c.AQMinSize,
		MaxSize:         c.AQMaxSize,
		ReadmitHitCount: c.ReadmitHitCount,
	}
}

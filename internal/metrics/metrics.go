// Package metrics is a thin abstraction over Prometheus so carrotcache can
// be used with or without metrics. When the caller passes a
// *prometheus.Registry, labeled collectors are created and registered;
// otherwise a no-op sink is used and the hot path does not pay for updates.
//
// Grounded on arena-cache's pkg/metrics.go, generalised from the
// shard-labeled hit/miss/evict/rotation set to the full component set this
// cache exposes: facade hits/misses/rejects, segment seal/recycle,
// rehash start/finish, scavenger run summaries, admission-queue size, and
// the throughput controller's measured rate.
//
// © 2025 carrotcache authors. MIT License.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the internal interface every component depends on; Cache,
// Scavenger, and the Throughput Controller only know about these methods.
type Sink interface {
	IncHit(cacheName string)
	IncMiss(cacheName string)
	IncWrite(cacheName string)
	IncRejectedWrite(cacheName string)
	IncExpired(cacheName string)

	IncSegmentSealed(cacheName string)
	IncSegmentRecycled(cacheName string)

	IncRehashStarted(cacheName string)
	IncRehashFinished(cacheName string)
	SetSlotCount(cacheName string, n int)

	ObserveScavengerRun(cacheName string, released int, scanned int)
	SetDumpBelowRatio(cacheName string, ratio float64)

	SetAdmissionQueueSize(cacheName string, n int)
	SetThroughputRateBytesPerSec(cacheName string, rate float64)
}

// Noop is the zero-cost default sink.
type Noop struct{}

func (Noop) IncHit(string)                             {}
func (Noop) IncMiss(string)                             {}
func (Noop) IncWrite(string)                             {}
func (Noop) IncRejectedWrite(string)                     {}
func (Noop) IncExpired(string)                           {}
func (Noop) IncSegmentSealed(string)                     {}
func (Noop) IncSegmentRecycled(string)                   {}
func (Noop) IncRehashStarted(string)                     {}
func (Noop) IncRehashFinished(string)                    {}
func (Noop) SetSlotCount(string, int)                    {}
func (Noop) ObserveScavengerRun(string, int, int)        {}
func (Noop) SetDumpBelowRatio(string, float64)           {}
func (Noop) SetAdmissionQueueSize(string, int)           {}
func (Noop) SetThroughputRateBytesPerSec(string, float64) {}

var _ Sink = Noop{}

// Prom is the Prometheus-backed sink, one instance per process (collectors
// are labeled by cache name so several caches can share a registry).
type Prom struct {
	hits            *prometheus.CounterVec
	misses          *prometheus.CounterVec
	writes          *prometheus.CounterVec
	rejectedWrites  *prometheus.CounterVec
	expired         *prometheus.CounterVec
	segmentsSealed  *prometheus.CounterVec
	segmentsRecycle *prometheus.CounterVec
	rehashStarted   *prometheus.CounterVec
	rehashFinished  *prometheus.CounterVec
	slots           *prometheus.GaugeVec
	scavRuns        *prometheus.CounterVec
	scavReleased    *prometheus.CounterVec
	scavScanned     *prometheus.CounterVec
	dumpBelowRatio  *prometheus.GaugeVec
	aqSize          *prometheus.GaugeVec
	throughputRate  *prometheus.GaugeVec
}

// New creates and registers a Prom sink against reg. Passing a nil registry
// is a caller bug; use Noop{} instead when metrics are disabled.
func New(reg *prometheus.Registry) *Prom {
	label := []string{"cache"}
	p := &Prom{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "hits_total", Help: "Number of Get hits.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "misses_total", Help: "Number of Get misses.",
		}, label),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "writes_total", Help: "Number of accepted Put operations.",
		}, label),
		rejectedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "rejected_writes_total", Help: "Number of Put operations rejected (capacity or stall timeout).",
		}, label),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "expired_total", Help: "Number of entries reclaimed opportunistically as expired.",
		}, label),
		segmentsSealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "segments_sealed_total", Help: "Number of segments transitioned Open->Sealed.",
		}, label),
		segmentsRecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "segments_recycled_total", Help: "Number of segments released back to the free pool.",
		}, label),
		rehashStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "rehash_started_total", Help: "Number of incremental rehash generations begun.",
		}, label),
		rehashFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "rehash_finished_total", Help: "Number of rehash generations promoted (A := B).",
		}, label),
		slots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "carrotcache", Name: "index_slots", Help: "Current primary slot array size.",
		}, label),
		scavRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "scavenger_runs_total", Help: "Number of scavenger passes completed.",
		}, label),
		scavReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "scavenger_segments_released_total", Help: "Number of segments released by the scavenger.",
		}, label),
		scavScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carrotcache", Name: "scavenger_items_scanned_total", Help: "Number of items scanned by the scavenger.",
		}, label),
		dumpBelowRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "carrotcache", Name: "scavenger_dump_below_ratio", Help: "Current popularity threshold below which entries are dropped.",
		}, label),
		aqSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "carrotcache", Name: "admission_queue_size", Help: "Current admission queue target size.",
		}, label),
		throughputRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "carrotcache", Name: "throughput_rate_bytes_per_sec", Help: "Last measured sustained write rate.",
		}, label),
	}
	reg.MustRegister(
		p.hits, p.misses, p.writes, p.rejectedWrites, p.expired,
		p.segmentsSealed, p.segmentsRecycle, p.rehashStarted, p.rehashFinished,
		p.slots, p.scavRuns, p.scavReleased, p.scavScanned, p.dumpBelowRatio,
		p.aqSize, p.throughputRate,
	)
	return p
}

func (p *Prom) IncHit(c string)            { p.hits.WithLabelValues(c).Inc() }
func (p *Prom) IncMiss(c string)           { p.misses.WithLabelValues(c).Inc() }
func (p *Prom) IncWrite(c string)          { p.writes.WithLabelValues(c).Inc() }
func (p *Prom) IncRejectedWrite(c string)  { p.rejectedWrites.WithLabelValues(c).Inc() }
func (p *Prom) IncExpired(c string)        { p.expired.WithLabelValues(c).Inc() }
func (p *Prom) IncSegmentSealed(c string)  { p.segmentsSealed.WithLabelValues(c).Inc() }
func (p *Prom) IncSegmentRecycled(c string) { p.segmentsRecycle.WithLabelValues(c).Inc() }
func (p *Prom) IncRehashStarted(c string)  { p.rehashStarted.WithLabelValues(c).Inc() }
func (p *Prom) IncRehashFinished(c string) { p.rehashFinished.WithLabelValues(c).Inc() }
func (p *Prom) SetSlotCount(c string, n int) { p.slots.WithLabelValues(c).Set(float64(n)) }

func (p *Prom) ObserveScavengerRun(c string, released int, scanned int) {
	p.scavRuns.WithLabelValues(c).Inc()
	p.scavReleased.WithLabelValues(c).Add(float64(released))
	p.scavScanned.WithLabelValues(c).Add(float64(scanned))
}
func (p *Prom) SetDumpBelowRatio(c string, ratio float64) {
	p.dumpBelowRatio.WithLabelValues(c).Set(ratio)
}
func (p *Prom) SetAdmissionQueueSize(c string, n int) {
	p.aqSize.WithLabelValues(c).Set(float64(n))
}
func (p *Prom) SetThroughputRateBytesPerSec(c string, rate float64) {
	p.throughputRate.WithLabelValues(c).Set(rate)
}

var _ Sink = (*Prom)(nil)

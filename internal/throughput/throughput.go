// Package throughput implements the Throughput Controller: a purely
// advisory periodic check that measures the sustained write rate and, when
// it drifts outside tolerance of the configured goal, nudges either the
// admission queue's target size or the scavenger's dump-below ratio.
//
// Grounded on arena-cache's functional-options config idiom (pkg/config.go)
// for Option wiring, and on the teacher's single-scheduling-thread timer
// style (the cache's periodic maintenance), generalised to drive the two
// dials this controller owns instead of a TTL sweep.
//
// © 2025 carrotcache authors. MIT License.
package throughput

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/carrotcache/internal/admission"
	"github.com/Voskan/carrotcache/internal/clock"
	"github.com/Voskan/carrotcache/internal/metrics"
	"github.com/Voskan/carrotcache/internal/scavenger"
)

// Config bundles the controller's tunables.
type Config struct {
	CacheName string

	GoalBytesPerSec float64       // cache.write.avg.rate.limit, 52428800
	CheckInterval   time.Duration // throughput.check.interval.sec, 3600s
	Tolerance       float64       // throughput.tolerance.limit, 0.05
	AdjustmentSteps int           // throughput.adjustment.steps, 10

	// Logger receives Info-level notices when a dial is adjusted. Defaults
	// to a no-op logger.
	Logger *zap.Logger
}

// Controller measures ingress and adjusts dials. AQ and Scavenger are both
// optional: a cache without an AQ-based admission policy, or without a
// configured scavenger, simply skips that dial.
type Controller struct {
	cfg Config
	clk clock.Clock
	aq  *admission.AQ
	sc  *scavenger.Scavenger
	mx  metrics.Sink

	totalBytes atomic.Int64
	start      time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Controller. aq and sc may be nil.
func New(cfg Config, clk clock.Clock, aq *admission.AQ, sc *scavenger.Scavenger, sink metrics.Sink) *Controller {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 3600 * time.Second
	}
	if cfg.GoalBytesPerSec <= 0 {
		cfg.GoalBytesPerSec = 50 << 20
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 0.05
	}
	if cfg.AdjustmentSteps <= 0 {
		cfg.AdjustmentSteps = 10
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, clk: clk, aq: aq, sc: sc, mx: sink, start: clk.Now(), stop: make(chan struct{})}
}

// SetAQ rebinds the admission queue the controller adjusts, used when a
// snapshot restore replaces the AQ instance built at construction time.
func (c *Controller) SetAQ(aq *admission.AQ) { c.aq = aq }

// RecordWrite accounts n bytes toward the sustained-rate measurement; the
// facade calls this on every accepted Put.
func (c *Controller) RecordWrite(n int) { c.totalBytes.Add(int64(n)) }

// CurrentRate returns total_bytes / (now - start).
func (c *Controller) CurrentRate() float64 {
	elapsed := c.clk.Now().Sub(c.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(c.totalBytes.Load()) / elapsed
}

// Start launches the periodic check loop.
func (c *Controller) Start(ctx context.Context) {
	ticker := c.clk.NewTicker(c.cfg.CheckInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C():
				c.Check()
			}
		}
	}()
}

func (c *Controller) Stop() {
	close(c.stop)
	c.wg.Wait()
}

// Check performs one rate measurement and, if outside tolerance, adjusts
// one dial by one of AdjustmentSteps. Exported so tests can force an
// off-cycle evaluation.
func (c *Controller) Check() {
	rate := c.CurrentRate()
	c.mx.SetThroughputRateBytesPerSec(c.cfg.CacheName, rate)

	goal := c.cfg.GoalBytesPerSec
	delta := rate - goal
	if goal == 0 || absf(delta)/goal <= c.cfg.Tolerance {
		return
	}

	stepFrac := 1.0 / float64(c.cfg.AdjustmentSteps)
	if delta > 0 {
		// Ingress running hot: shrink the admission queue (admit less) or
		// raise the scavenger's dump-below ratio (evict more aggressively).
		if c.aq != nil {
			c.aq.Resize(-int(float64(c.aq.Size()) * stepFrac))
			c.mx.SetAdmissionQueueSize(c.cfg.CacheName, c.aq.Size())
			c.cfg.Logger.Info("throughput: admission queue shrunk",
				zap.String("cache", c.cfg.CacheName),
				zap.Float64("rate_bytes_per_sec", rate),
				zap.Int("new_aq_size", c.aq.Size()),
			)
			return
		}
		if c.sc != nil {
			c.sc.AdjustDumpBelowBy(c.sc.DumpBelowRatio() * stepFrac)
			c.cfg.Logger.Info("throughput: dump-below ratio raised",
				zap.String("cache", c.cfg.CacheName),
				zap.Float64("rate_bytes_per_sec", rate),
				zap.Float64("new_dump_below_ratio", c.sc.DumpBelowRatio()),
			)
		}
		return
	}
	// Ingress running cold: relax back toward the goal.
	if c.aq != nil {
		c.aq.Resize(int(float64(c.aq.Size()) * stepFrac))
		c.mx.SetAdmissionQueueSize(c.cfg.CacheName, c.aq.Size())
		c.cfg.Logger.Info("throughput: admission queue grown",
			zap.String("cache", c.cfg.CacheName),
			zap.Float64("rate_bytes_per_sec", rate),
			zap.Int("new_aq_size", c.aq.Size()),
		)
		return
	}
	if c.sc != nil {
		c.sc.AdjustDumpBelowBy(-c.sc.DumpBelowRatio() * stepFrac)
		c.cfg.Logger.Info("throughput: dump-below ratio lowered",
			zap.String("cache", c.cfg.CacheName),
			zap.Float64("rate_bytes_per_sec", rate),
			zap.Float64("new_dump_below_ratio", c.sc.DumpBelowRatio()),
		)
	}
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Package clock abstracts wall-clock time and periodic scheduling so the
// Scavenger, Throughput Controller, and snapshot writer can be driven by a
// deterministic fake clock in tests instead of a real timer thread.
//
// © 2025 carrotcache authors. MIT License.
package clock

import (
	"sync"
	"time"
)

// Clock is the minimal surface components depend on.
type Clock interface {
	Now() time.Time
	NowMillis() int64
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker so Real and Fake clocks are interchangeable.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real wraps the standard library's time package.
type Real struct{}

func (Real) Now() time.Time         { return time.Now() }
func (Real) NowMillis() int64       { return time.Now().UnixMilli() }
func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

var _ Clock = Real{}

// Fake is a manually-advanced clock for deterministic tests: Advance fires
// every ticker whose period has elapsed.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake returns a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NowMillis() int64 {
	return f.Now().UnixMilli()
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft := &fakeTicker{period: d, ch: make(chan time.Time, 1), next: f.now.Add(d)}
	f.tickers = append(f.tickers, ft)
	return ft
}

// Advance moves the clock forward by d, firing (non-blockingly) any ticker
// whose next deadline has been reached.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for _, t := range f.tickers {
		for !t.next.After(f.now) {
			select {
			case t.ch <- f.now:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

type fakeTicker struct {
	period time.Duration
	next   time.Time
	ch     chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

var _ Clock = (*Fake)(nil)

package throughput

import (
	"testing"
	"time"

	"github.com/Voskan/carrotcache/internal/admission"
	"github.com/Voskan/carrotcache/internal/clock"
	"github.com/Voskan/carrotcache/internal/metrics"
)

func TestControllerShrinksAQWhenOverGoal(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	aq := admission.NewAQ(admission.AQConfig{StartSize: 100, MinSize: 1, MaxSize: 1000})
	c := New(Config{
		CacheName:       "t",
		GoalBytesPerSec: 1000,
		Tolerance:       0.05,
		AdjustmentSteps: 10,
	}, clk, aq, nil, metrics.Noop{})

	c.RecordWrite(1_000_000) // far above goal once we advance the clock
	clk.Advance(time.Second)

	before := aq.Size()
	c.Check()
	if aq.Size() >= before {
		t.Fatalf("expected AQ to shrink under excess ingress: before=%d after=%d", before, aq.Size())
	}
}

func TestControllerNoopWithinTolerance(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	aq := admission.NewAQ(admission.AQConfig{StartSize: 100, MinSize: 1, MaxSize: 1000})
	c := New(Config{
		CacheName:       "t",
		GoalBytesPerSec: 1000,
		Tolerance:       0.5,
		AdjustmentSteps: 10,
	}, clk, aq, nil, metrics.Noop{})

	c.RecordWrite(1000)
	clk.Advance(time.Second)

	before := aq.Size()
	c.Check()
	if aq.Size() != before {
		t.Fatalf("expected no adjustment within tolerance: before=%d after=%d", before, aq.Size())
	}
}

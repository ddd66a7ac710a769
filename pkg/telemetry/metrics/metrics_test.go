package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	// None of these may panic.
	c.GenerateStarted()
	c.GenerateFinished()
	c.ResolutionStarted()
	c.ResolutionFinished()
	c.EvalStarted()
	c.EvalFinished()
	c.CacheHit()
	c.CacheMiss()
	c.EngineFailure("generate")

	if c.Registry() != nil {
		t.Error("Nil collector should have a nil registry")
	}
}

func TestCollectorTracksOutstandingCalls(t *testing.T) {
	c := New("test")

	c.GenerateStarted()
	c.GenerateStarted()
	c.GenerateFinished()

	if got := testutil.ToFloat64(c.outstandingGenerate); got != 1 {
		t.Errorf("outstanding generate = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.completed); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
}

func TestCollectorCountsCacheActivity(t *testing.T) {
	c := New("")

	c.CacheHit()
	c.CacheHit()
	c.CacheMiss()

	if got := testutil.ToFloat64(c.cacheHits); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.cacheMisses); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
}

func TestCollectorCountsEngineFailuresByCall(t *testing.T) {
	c := New("test")

	c.EngineFailure("generate")
	c.EngineFailure("generate")
	c.EngineFailure("evaluate")

	if got := testutil.ToFloat64(c.engineFailures.WithLabelValues("generate")); got != 2 {
		t.Errorf("generate failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.engineFailures.WithLabelValues("evaluate")); got != 1 {
		t.Errorf("evaluate failures = %v, want 1", got)
	}
}

// Package metrics exposes prometheus instrumentation for the orchestrator
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector tracks orchestrator activity. All methods are safe on a nil
// receiver so instrumentation can be disabled by simply not creating one.
type Collector struct {
	registry *prometheus.Registry

	outstandingGenerate prometheus.Gauge
	outstandingResolve  prometheus.Gauge
	outstandingEval     prometheus.Gauge

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	engineFailures *prometheus.CounterVec
	completed      prometheus.Counter
}

// New creates a collector with its own registry.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "stonemason"
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		outstandingGenerate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outstanding_generate_calls",
			Help:      "Number of generate calls currently in flight.",
		}),
		outstandingResolve: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outstanding_resolution_tasks",
			Help:      "Number of rule package resolution tasks currently in flight.",
		}),
		outstandingEval: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outstanding_evaluate_calls",
			Help:      "Number of attribute evaluation calls currently in flight.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_cache_hits_total",
			Help:      "Resolve requests answered from the handle cache.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_cache_misses_total",
			Help:      "Resolve requests that required engine work.",
		}),
		engineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_failures_total",
			Help:      "Engine calls that returned a failure status.",
		}, []string{"call"}),
		completed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generate_calls_completed_total",
			Help:      "Generate calls that ran to completion.",
		}),
	}
}

// Registry returns the collector's registry for scraping.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// GenerateStarted records a generate call entering flight.
func (c *Collector) GenerateStarted() {
	if c != nil {
		c.outstandingGenerate.Inc()
	}
}

// GenerateFinished records a generate call leaving flight.
func (c *Collector) GenerateFinished() {
	if c != nil {
		c.outstandingGenerate.Dec()
		c.completed.Inc()
	}
}

// ResolutionStarted records a resolution task entering flight.
func (c *Collector) ResolutionStarted() {
	if c != nil {
		c.outstandingResolve.Inc()
	}
}

// ResolutionFinished records a resolution task leaving flight.
func (c *Collector) ResolutionFinished() {
	if c != nil {
		c.outstandingResolve.Dec()
	}
}

// EvalStarted records an evaluation call entering flight.
func (c *Collector) EvalStarted() {
	if c != nil {
		c.outstandingEval.Inc()
	}
}

// EvalFinished records an evaluation call leaving flight.
func (c *Collector) EvalFinished() {
	if c != nil {
		c.outstandingEval.Dec()
	}
}

// CacheHit counts a resolve cache hit.
func (c *Collector) CacheHit() {
	if c != nil {
		c.cacheHits.Inc()
	}
}

// CacheMiss counts a resolve cache miss.
func (c *Collector) CacheMiss() {
	if c != nil {
		c.cacheMisses.Inc()
	}
}

// EngineFailure counts a failed engine call by kind.
func (c *Collector) EngineFailure(call string) {
	if c != nil {
		c.engineFailures.WithLabelValues(call).Inc()
	}
}

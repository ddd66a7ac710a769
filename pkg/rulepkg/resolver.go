// Package rulepkg caches engine resolve handles per rule package
package rulepkg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/stonemason/stonemason/pkg/interfaces"
	"github.com/stonemason/stonemason/pkg/logger"
	"github.com/stonemason/stonemason/pkg/telemetry/metrics"
	"github.com/stonemason/stonemason/pkg/types"
	"github.com/stonemason/stonemason/pkg/utils"
)

// ErrNoPackage is returned when a request carries no rule package.
var ErrNoPackage = errors.New("no rule package")

// Resolver caches resolve handles per rule-package identity and deduplicates
// concurrent resolution requests: for any never-yet-resolved package, the
// materialize + engine-resolve work executes exactly once no matter how many
// callers ask for it concurrently.
type Resolver struct {
	engine  interfaces.RuleEngine
	logger  logger.Logger
	rpkDir  string
	metrics *metrics.Collector

	mu       sync.Mutex
	cache    map[string]types.ResolveHandle
	inflight singleflight.Group
}

// NewResolver creates a resolver that materializes packages under rpkDir.
// Drain accounting is the caller's responsibility: the orchestrator registers
// its outstanding-call counters before invoking Resolve, so engine work never
// outlives the engine.
func NewResolver(
	engine interfaces.RuleEngine,
	log logger.Logger,
	rpkDir string,
	collector *metrics.Collector,
) *Resolver {
	return &Resolver{
		engine:  engine,
		logger:  log,
		rpkDir:  rpkDir,
		metrics: collector,
		cache:   make(map[string]types.ResolveHandle),
	}
}

// Resolve returns a channel that completes with the resolve handle for pkg.
// A cached handle completes immediately with no engine work; otherwise every
// concurrent caller for the same identity attaches to a single in-flight
// resolution. Failures complete with a nil handle; callers treat the package
// as unavailable and skip dependent shapes.
func (r *Resolver) Resolve(ctx context.Context, pkg *types.RulePackage) <-chan interfaces.Resolution {
	out := make(chan interfaces.Resolution, 1)

	if pkg == nil || pkg.ID == "" {
		out <- interfaces.Resolution{Err: ErrNoPackage}
		return out
	}

	r.mu.Lock()
	if handle, ok := r.cache[pkg.ID]; ok {
		r.mu.Unlock()
		r.metrics.CacheHit()
		out <- interfaces.Resolution{Handle: handle}
		return out
	}
	r.mu.Unlock()
	r.metrics.CacheMiss()

	ch := r.inflight.DoChan(pkg.ID, func() (interface{}, error) {
		return r.resolve(pkg)
	})

	go func() {
		res := <-ch
		if res.Err != nil {
			r.logger.Error("Rule package resolution failed",
				logger.WithField("package", pkg.ID),
				logger.WithField("error", res.Err))
			out <- interfaces.Resolution{Err: res.Err}
			return
		}
		out <- interfaces.Resolution{Handle: res.Val.(types.ResolveHandle)}
	}()

	return out
}

// resolve materializes the package to the rpk scratch tree and asks the
// engine for a resolve map. The cache insert happens before the in-flight
// entry is released, so late joiners either attach to the flight or hit the
// cache.
func (r *Resolver) resolve(pkg *types.RulePackage) (types.ResolveHandle, error) {
	path := filepath.Join(r.rpkDir, pkg.FileName())
	if err := utils.WriteFileEnsuringDir(path, pkg.Data); err != nil {
		return nil, fmt.Errorf("failed to materialize rule package %s: %w", pkg.ID, err)
	}

	handle, err := r.engine.CreateResolveMap(context.Background(), utils.FileURI(path))
	if err != nil {
		return nil, fmt.Errorf("engine resolve failed for %s: %w", pkg.ID, err)
	}

	r.mu.Lock()
	r.cache[pkg.ID] = handle
	r.mu.Unlock()

	r.logger.Debug("Resolved rule package", logger.WithField("package", pkg.ID))
	return handle, nil
}

// Evict removes the cached handle for pkg and flushes the engine result
// cache. The next Resolve re-triggers full resolution.
func (r *Resolver) Evict(pkg *types.RulePackage) {
	if pkg == nil {
		return
	}
	r.EvictByID(pkg.ID)
}

// EvictByID evicts by package identity.
func (r *Resolver) EvictByID(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()

	r.engine.FlushCache()
	r.logger.Debug("Evicted rule package from cache", logger.WithField("package", id))
}

// Clear drops every cached handle and flushes the engine result cache.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.cache = make(map[string]types.ResolveHandle)
	r.mu.Unlock()

	r.engine.FlushCache()
}

// Size returns the number of cached handles.
func (r *Resolver) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Package occlusion tracks engine occlusion handles per shape index
package occlusion

import (
	"fmt"
	"sync"

	"github.com/stonemason/stonemason/pkg/interfaces"
	"github.com/stonemason/stonemason/pkg/logger"
	"github.com/stonemason/stonemason/pkg/types"
)

// Registry maps shape indices to live occlusion handles. At most one handle
// exists per shape index at any time. One mutex guards the whole registry:
// the engine's occluder computation is not reentrant, so compute and record
// must form a single critical section, and the dispatcher extends that
// section across the generate call that consumes the handles.
type Registry struct {
	engine interfaces.RuleEngine
	logger logger.Logger

	mu      sync.Mutex
	handles map[int64]types.OcclusionHandle
}

// NewRegistry creates an empty registry bound to engine.
func NewRegistry(engine interfaces.RuleEngine, log logger.Logger) *Registry {
	return &Registry{
		engine:  engine,
		logger:  log,
		handles: make(map[int64]types.OcclusionHandle),
	}
}

// Lock acquires the registry mutex.
func (r *Registry) Lock() {
	r.mu.Lock()
}

// Unlock releases the registry mutex.
func (r *Registry) Unlock() {
	r.mu.Unlock()
}

// EnsureLocked computes occlusion handles for every shape that has none yet,
// issuing at most one batched engine call. Handles already present are
// looked up, never recomputed. Caller must hold the registry lock.
func (r *Registry) EnsureLocked(shapes []*types.NativeShape, sink interfaces.OutputSink) error {
	var missing []*types.NativeShape
	for _, shape := range shapes {
		if _, ok := r.handles[shape.Index]; !ok {
			missing = append(missing, shape)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	handles, err := r.engine.GenerateOccluders(missing, sink)
	if err != nil {
		return err
	}
	if len(handles) != len(missing) {
		return fmt.Errorf("engine returned %d occlusion handles for %d shapes", len(handles), len(missing))
	}

	for i, shape := range missing {
		r.handles[shape.Index] = handles[i]
	}
	return nil
}

// HandleLocked looks up the handle for a shape index. Caller must hold the
// registry lock.
func (r *Registry) HandleLocked(shapeIndex int64) (types.OcclusionHandle, bool) {
	handle, ok := r.handles[shapeIndex]
	return handle, ok
}

// InvalidateLocked disposes the handles for the given shape indices and
// removes the mappings. Caller must hold the registry lock.
func (r *Registry) InvalidateLocked(shapeIndices []int64) {
	var dispose []types.OcclusionHandle
	for _, index := range shapeIndices {
		if handle, ok := r.handles[index]; ok {
			dispose = append(dispose, handle)
		}
		delete(r.handles, index)
	}
	if len(dispose) > 0 {
		r.engine.DisposeOccluders(dispose)
	}
}

// Invalidate disposes the handles for the given shape indices. Must be called
// before a shape at one of these indices is regenerated with different
// geometry; a stale handle referencing old geometry would corrupt results.
func (r *Registry) Invalidate(shapeIndices ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InvalidateLocked(shapeIndices)
}

// InvalidateAll discards every handle and recreates the engine occlusion
// context. Used on structural resets.
func (r *Registry) InvalidateAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles = make(map[int64]types.OcclusionHandle)
	return r.engine.ResetOcclusionSet()
}

// Size returns the number of live handles.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Package orchestrator schedules batched calls into the procedural rule engine
package orchestrator

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/stonemason/stonemason/pkg/interfaces"
	"github.com/stonemason/stonemason/pkg/logger"
	"github.com/stonemason/stonemason/pkg/occlusion"
	"github.com/stonemason/stonemason/pkg/rulepkg"
	"github.com/stonemason/stonemason/pkg/telemetry/metrics"
	"github.com/stonemason/stonemason/pkg/types"
	"github.com/stonemason/stonemason/pkg/utils"
	"github.com/stonemason/stonemason/pkg/watcher"
)

// Orchestrator owns the engine session: it caches resolve handles, batches
// generate and evaluation calls through a bounded dispatch queue, tracks
// occlusion handles, and guarantees on shutdown that no engine call is still
// in flight when the engine library is released.
type Orchestrator struct {
	config    *types.OrchestratorConfig
	logger    logger.Logger
	engine    interfaces.RuleEngine
	resolver  interfaces.PackageResolver
	occlusion interfaces.OcclusionRegistry
	notifier  interfaces.GenerateNotifier
	metrics   *metrics.Collector
	queue     *DispatchQueue
	watcher   *watcher.PackageWatcher
	rpkDir    string

	initialized atomic.Bool

	// Outstanding call accounting. Counters are registered on the caller's
	// goroutine before the initialized flag is re-checked, so once a call
	// passes the check, Shutdown cannot release the engine until the call
	// finishes. Every increment is paired with exactly one decrement on
	// every path, including failures.
	generateCalls   atomic.Int64
	resolutionTasks atomic.Int64
	evalCalls       atomic.Int64

	// Armed when a generate call is dispatched, disarmed by the single
	// completion that runs the zero-outstanding work for a drain cycle.
	drainPending atomic.Bool

	observerMu           sync.Mutex
	generateCompleted    []func(remaining int)
	allGenerateCompleted []func(warnings, errors int)
}

// GenerateOptions tune one generate call.
type GenerateOptions struct {
	// EnableOcclusion makes shapes in the batch occlude each other using
	// cached occlusion handles.
	EnableOcclusion bool

	// Sink, when set, receives a streamed copy of all engine output in
	// addition to the assembled result.
	Sink interfaces.OutputSink
}

// New creates an orchestrator around engine with the given collaborators.
// Nil optional dependencies get defaults.
func New(config *types.OrchestratorConfig, log logger.Logger, deps interfaces.Dependencies) (*Orchestrator, error) {
	if deps.Engine == nil {
		return nil, errors.New("rule engine is required")
	}
	if config == nil {
		config = &types.OrchestratorConfig{}
	}
	config.ApplyDefaults()

	var collector *metrics.Collector
	if config.Metrics != nil && config.Metrics.Enabled {
		collector = metrics.New(config.Metrics.Namespace)
	}

	rpkDir, err := utils.CreateScratchDir(config.TempDir, "stonemason_")
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:    config,
		logger:    log,
		engine:    deps.Engine,
		occlusion: deps.Occlusion,
		notifier:  deps.Notifier,
		metrics:   collector,
		rpkDir:    rpkDir,
	}

	o.resolver = deps.Resolver
	if o.resolver == nil {
		o.resolver = rulepkg.NewResolver(deps.Engine, log, rpkDir, collector)
	}
	if o.occlusion == nil {
		o.occlusion = occlusion.NewRegistry(deps.Engine, log)
	}

	if config.WatchSources {
		w, err := watcher.New(log, o.resolver.EvictByID)
		if err != nil {
			log.Warn("Source watching disabled", logger.WithField("error", err))
		} else {
			o.watcher = w
		}
	}

	o.queue = NewDispatchQueue(log, deps.Notifier, config.Workers)
	o.queue.Start()
	o.initialized.Store(true)

	log.Info("Orchestrator started",
		logger.WithField("workers", config.Workers),
		logger.WithField("rpkDir", rpkDir))

	return o, nil
}

// Resolver returns the package resolver, for cache management and watchers.
func (o *Orchestrator) Resolver() interfaces.PackageResolver {
	return o.resolver
}

// Metrics returns the metrics collector, nil when instrumentation is
// disabled.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Resolve returns a future for pkg's engine handle. Cached packages complete
// immediately; otherwise the caller attaches to the shared in-flight
// resolution for the package identity.
func (o *Orchestrator) Resolve(ctx context.Context, pkg *types.RulePackage) *ResolveFuture {
	future := newFuture[types.ResolveHandle]()

	// Register with the drain before checking the flag: once the counter
	// is visible, Shutdown waits for this task before releasing the engine.
	o.resolutionTasks.Add(1)
	if !o.initialized.Load() {
		o.resolutionTasks.Add(-1)
		future.complete(nil, ErrNotInitialized)
		return future
	}
	o.metrics.ResolutionStarted()

	ch := o.resolver.Resolve(ctx, pkg)
	go func() {
		resolution := <-ch
		o.resolutionTasks.Add(-1)
		o.metrics.ResolutionFinished()
		if resolution.Err == nil {
			o.trackSource(pkg)
		}
		future.complete(resolution.Handle, resolution.Err)
	}()
	return future
}

// Generate schedules one batched generate call for shapes and returns a
// future that completes with the assembled result. The call never blocks:
// rule packages resolve asynchronously and the engine call runs on the
// dispatch queue. Shapes whose package fails to resolve are skipped with a
// warning; engine-call failures complete the future with ErrEngineCall and
// an empty result.
func (o *Orchestrator) Generate(shapes []*types.Shape, opts GenerateOptions) *GenerateFuture {
	future := newFuture[types.GenerateResultDescription]()

	if !o.initialized.Load() {
		future.complete(types.GenerateResultDescription{}, ErrNotInitialized)
		return future
	}
	if len(shapes) == 0 {
		future.complete(types.GenerateResultDescription{}, nil)
		return future
	}

	// Register with the drain before re-checking the flag: a call racing
	// Shutdown either rolls back here or holds the counter until its
	// request runs, so the engine is never released underneath it.
	o.generateCalls.Add(1)
	if !o.initialized.Load() {
		o.generateCalls.Add(-1)
		future.complete(types.GenerateResultDescription{}, ErrNotInitialized)
		return future
	}
	o.metrics.GenerateStarted()
	o.drainPending.Store(true)

	o.queue.Submit("generate", func() {
		future.complete(o.batchGenerate(shapes, opts))
	})
	return future
}

// Evaluate schedules one batched attribute evaluation for shapes and returns
// a future that completes with one attribute map per input shape, in input
// order. Entries for shapes whose package failed to resolve are nil.
func (o *Orchestrator) Evaluate(shapes []*types.Shape) *EvalFuture {
	future := newFuture[[]types.AttributeMap]()

	if !o.initialized.Load() {
		future.complete(nil, ErrNotInitialized)
		return future
	}
	if len(shapes) == 0 {
		future.complete([]types.AttributeMap{}, nil)
		return future
	}

	o.evalCalls.Add(1)
	if !o.initialized.Load() {
		o.evalCalls.Add(-1)
		future.complete(nil, ErrNotInitialized)
		return future
	}
	o.metrics.EvalStarted()

	o.queue.Submit("evaluate", func() {
		future.complete(o.batchEvaluate(shapes))
	})
	return future
}

// EvictCache removes pkg from the resolve cache, so the next call using it
// re-resolves against fresh content.
func (o *Orchestrator) EvictCache(pkg *types.RulePackage) {
	if !o.initialized.Load() {
		return
	}
	o.resolver.Evict(pkg)
}

// InvalidateOcclusion disposes cached occlusion handles for the given shape
// indices. Must be called before regenerating a shape with changed geometry.
func (o *Orchestrator) InvalidateOcclusion(shapeIndices ...int64) {
	if !o.initialized.Load() {
		return
	}
	o.occlusion.Invalidate(shapeIndices...)
}

// InvalidateAllOcclusion discards every occlusion handle and resets the
// engine occlusion context.
func (o *Orchestrator) InvalidateAllOcclusion() error {
	if !o.initialized.Load() {
		return ErrNotInitialized
	}
	return o.occlusion.InvalidateAll()
}

// OnGenerateCompleted registers an observer invoked after every generate
// call with the number of calls still outstanding.
func (o *Orchestrator) OnGenerateCompleted(fn func(remaining int)) {
	o.observerMu.Lock()
	o.generateCompleted = append(o.generateCompleted, fn)
	o.observerMu.Unlock()
}

// OnAllGenerateCompleted registers an observer invoked when the outstanding
// generate count drains to zero, with the engine warning and error counts
// accumulated since the previous drain.
func (o *Orchestrator) OnAllGenerateCompleted(fn func(warnings, errors int)) {
	o.observerMu.Lock()
	o.allGenerateCompleted = append(o.allGenerateCompleted, fn)
	o.observerMu.Unlock()
}

// OutstandingCalls reports the in-flight generate, resolution and evaluation
// counts, for diagnostics.
func (o *Orchestrator) OutstandingCalls() (generate, resolution, eval int64) {
	return o.generateCalls.Load(), o.resolutionTasks.Load(), o.evalCalls.Load()
}

// trackSource watches a package's source file so on-disk edits evict the
// resolve cache.
func (o *Orchestrator) trackSource(pkg *types.RulePackage) {
	if o.watcher == nil || pkg == nil || pkg.SourcePath == "" {
		return
	}
	if err := o.watcher.Track(pkg); err != nil {
		o.logger.Debug("Cannot watch rule package source",
			logger.WithField("package", pkg.ID),
			logger.WithField("error", err))
	}
}

// Shutdown drains all outstanding work and releases the engine. Safe to call
// once; calls arriving after shutdown starts complete with
// ErrNotInitialized. Blocks until every in-flight generate, resolution and
// evaluation call has finished.
func (o *Orchestrator) Shutdown() {
	if !o.initialized.CompareAndSwap(true, false) {
		return
	}

	generate, resolution, eval := o.OutstandingCalls()
	o.logger.Info("Shutting down orchestrator",
		logger.WithField("generateCalls", generate),
		logger.WithField("resolutionTasks", resolution),
		logger.WithField("evalCalls", eval))

	// Queued requests observe initialized=false and complete fast, so the
	// spin below only waits out calls already inside the engine.
	o.queue.Stop()

	for o.generateCalls.Load() != 0 || o.resolutionTasks.Load() != 0 || o.evalCalls.Load() != 0 {
		runtime.Gosched()
	}

	if o.watcher != nil {
		o.watcher.Close()
	}
	o.resolver.Clear()
	o.engine.Release()
	utils.RemoveTree(o.rpkDir)

	o.logger.Info("Orchestrator shutdown complete")
}

// notifyGenerateCompleted fires completion observers. When the outstanding
// count hits zero it drains the engine log buffer, tallies warnings and
// errors, and fires the all-completed observers and the notifier.
func (o *Orchestrator) notifyGenerateCompleted() {
	remaining := int(o.generateCalls.Load())

	o.observerMu.Lock()
	completed := make([]func(int), len(o.generateCompleted))
	copy(completed, o.generateCompleted)
	allCompleted := make([]func(int, int), len(o.allGenerateCompleted))
	copy(allCompleted, o.allGenerateCompleted)
	o.observerMu.Unlock()

	for _, fn := range completed {
		fn(remaining)
	}
	if o.notifier != nil {
		o.notifier.NotifyGenerateCompleted(remaining)
	}

	if remaining != 0 {
		return
	}
	// Several completions can observe zero concurrently; exactly one of
	// them runs the zero-outstanding work per drain cycle.
	if !o.drainPending.Swap(false) {
		return
	}

	warnings, errorCount := 0, 0
	for _, message := range o.engine.PopLogMessages() {
		switch message.Level {
		case interfaces.LogWarning:
			warnings++
			o.logger.Warn("Engine: " + message.Text)
		case interfaces.LogError, interfaces.LogFatal:
			errorCount++
			o.logger.Error("Engine: " + message.Text)
		}
	}

	for _, fn := range allCompleted {
		fn(warnings, errorCount)
	}
	if o.notifier != nil {
		o.notifier.NotifyAllGenerateCompleted(warnings, errorCount)
	}
}

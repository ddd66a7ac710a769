// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"

	"github.com/stonemason/stonemason/pkg/types"
)

// EncoderID selects the engine output pass.
type EncoderID string

const (
	// EncoderAttributeEval produces only evaluated attribute values.
	EncoderAttributeEval EncoderID = "com.stonemason.core.AttributeEvalEncoder"
	// EncoderGeometry produces geometry, instances and reports.
	EncoderGeometry EncoderID = "com.stonemason.core.GeometryEncoder"
)

// LogLevel classifies engine-side diagnostic messages.
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarning
	LogError
	LogFatal
)

// LogMessage is one diagnostic message collected from the engine.
type LogMessage struct {
	Level LogLevel
	Text  string
}

// OutputSink receives engine output. The engine invokes it synchronously
// during a generate call; implementations must be safe for concurrent use
// because the engine may report shapes from multiple worker threads.
type OutputSink interface {
	ReceiveGeometry(shapeIndex int64, part types.MeshPart)
	ReceiveInstance(shapeIndex int64, instance types.Instance)
	ReceiveAttributes(shapeIndex int64, attrs types.AttributeMap)
	ReceiveReports(shapeIndex int64, reports types.Reports)
}

// GenerateRequest is one batched engine invocation.
type GenerateRequest struct {
	Shapes           []*types.NativeShape
	Encoder          EncoderID
	EncoderOptions   types.AttributeMap
	OcclusionHandles []types.OcclusionHandle
	UseOcclusion     bool
	WorkerThreads    int
}

// RuleEngine is the narrow contract to the external procedural rule engine.
// Calls are expensive and complete (or fail) synchronously from the caller's
// perspective; the orchestrator is responsible for keeping them off the
// application's hot path.
type RuleEngine interface {
	// CreateResolveMap registers a materialized rule package given its
	// filesystem URI and returns an opaque handle to it.
	CreateResolveMap(ctx context.Context, fileURI string) (types.ResolveHandle, error)

	// RuleFileInfo fetches rule and attribute metadata for a resolved package.
	RuleFileInfo(handle types.ResolveHandle) (*types.RuleFileInfo, error)

	// Generate runs one batched generation or evaluation pass, emitting
	// output through sink.
	Generate(req GenerateRequest, sink OutputSink) error

	// GenerateOccluders computes one occlusion handle per shape. Not
	// reentrant; callers must serialize invocations.
	GenerateOccluders(shapes []*types.NativeShape, sink OutputSink) ([]types.OcclusionHandle, error)

	// DisposeOccluders releases engine-side occlusion data.
	DisposeOccluders(handles []types.OcclusionHandle)

	// ResetOcclusionSet discards the engine occlusion context and creates a
	// fresh one. All previously issued handles become invalid.
	ResetOcclusionSet() error

	// FlushCache drops the engine's internal result cache.
	FlushCache()

	// PopLogMessages drains the diagnostic messages accumulated since the
	// previous call.
	PopLogMessages() []LogMessage

	// Release frees the engine library. No call may follow it.
	Release()
}

// Resolution is the outcome of one resolve request. A nil Handle means
// generation is unavailable for the package; callers skip the affected
// shapes instead of failing the whole batch.
type Resolution struct {
	Handle types.ResolveHandle
	Err    error
}

// PackageResolver resolves rule packages into engine handles, caching per
// package identity and deduplicating concurrent requests.
type PackageResolver interface {
	Resolve(ctx context.Context, pkg *types.RulePackage) <-chan Resolution
	Evict(pkg *types.RulePackage)
	EvictByID(id string)
	Clear()
}

// OcclusionRegistry maps shape indices to live occlusion handles. The whole
// registry is guarded by one mutex because the engine's occluder computation
// is not reentrant; Lock/Unlock are exposed so the dispatcher can hold the
// critical section across occluder computation and the generate call that
// consumes the handles.
type OcclusionRegistry interface {
	Lock()
	Unlock()
	EnsureLocked(shapes []*types.NativeShape, sink OutputSink) error
	HandleLocked(shapeIndex int64) (types.OcclusionHandle, bool)
	InvalidateLocked(shapeIndices []int64)
	Invalidate(shapeIndices ...int64)
	InvalidateAll() error
	Size() int
}

// GenerateNotifier surfaces generation lifecycle events to the user.
type GenerateNotifier interface {
	NotifyGenerateCompleted(remaining int)
	NotifyAllGenerateCompleted(warnings int, errors int)
	NotifyGenerateFailure(err error)
	NotifyQueueStatus(active int, queued int)
}

// Dependencies contains all injectable collaborators of the orchestrator.
// Engine is required; nil optional dependencies are replaced by defaults
// (resolver, occlusion registry) or disabled (notifier).
type Dependencies struct {
	Engine    RuleEngine
	Resolver  PackageResolver
	Occlusion OcclusionRegistry
	Notifier  GenerateNotifier
}

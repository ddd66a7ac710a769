// Package mocks provides hand-written test doubles for the engine interfaces
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stonemason/stonemason/pkg/interfaces"
	"github.com/stonemason/stonemason/pkg/types"
)

// ResolveHandle is a trivial resolve handle for tests.
type ResolveHandle struct {
	URI  string
	Rule string
}

// RuleFile implements types.ResolveHandle.
func (h *ResolveHandle) RuleFile() string {
	return h.Rule
}

// MockRuleEngine is a configurable in-memory rule engine.
type MockRuleEngine struct {
	mu sync.Mutex

	// Behavior knobs
	ResolveDelay  time.Duration
	ResolveError  error
	RuleInfoError error
	GenerateError error
	OccluderError error

	// FailResolveContaining fails resolution of any URI containing the
	// substring, leaving other packages resolvable.
	FailResolveContaining string

	// GenerateFn, when set, replaces the default Generate behavior.
	GenerateFn func(req interfaces.GenerateRequest, sink interfaces.OutputSink) error

	// RuleInfo returned by RuleFileInfo; a default is used when nil.
	RuleInfo *types.RuleFileInfo

	// Call records
	ResolveCalls     int
	ResolveURIs      []string
	GenerateCalls    int
	GenerateRequests []interfaces.GenerateRequest
	OccluderCalls    int
	DisposedHandles  []types.OcclusionHandle
	ResetCalls       int
	FlushCalls       int
	ReleaseCalls     int

	// CallsAfterRelease counts engine invocations arriving after Release,
	// which a correct shutdown drain never allows.
	CallsAfterRelease int

	nextOcclusionHandle types.OcclusionHandle
	logMessages         []interfaces.LogMessage
}

// NewMockRuleEngine creates a mock engine with default behavior.
func NewMockRuleEngine() *MockRuleEngine {
	return &MockRuleEngine{
		nextOcclusionHandle: 1,
	}
}

// CreateResolveMap implements interfaces.RuleEngine.
func (m *MockRuleEngine) CreateResolveMap(ctx context.Context, fileURI string) (types.ResolveHandle, error) {
	m.mu.Lock()
	if m.ReleaseCalls > 0 {
		m.CallsAfterRelease++
	}
	delay := m.ResolveDelay
	m.ResolveCalls++
	m.ResolveURIs = append(m.ResolveURIs, fileURI)
	err := m.ResolveError
	if err == nil && m.FailResolveContaining != "" && strings.Contains(fileURI, m.FailResolveContaining) {
		err = fmt.Errorf("cannot resolve %s", fileURI)
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &ResolveHandle{URI: fileURI, Rule: "rules/main.cgb"}, nil
}

// RuleFileInfo implements interfaces.RuleEngine.
func (m *MockRuleEngine) RuleFileInfo(handle types.ResolveHandle) (*types.RuleFileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RuleInfoError != nil {
		return nil, m.RuleInfoError
	}
	if m.RuleInfo != nil {
		return m.RuleInfo, nil
	}
	return &types.RuleFileInfo{
		RuleFile: handle.RuleFile(),
		Rules: []types.RuleSignature{
			{Name: "Default$Init", StartRule: true},
		},
		Attributes: []types.AttributeDeclaration{
			{Name: "height", Default: 10.0},
		},
	}, nil
}

// Generate implements interfaces.RuleEngine. Without GenerateFn the default
// behavior reports per-shape output matching the requested encoder.
func (m *MockRuleEngine) Generate(req interfaces.GenerateRequest, sink interfaces.OutputSink) error {
	m.mu.Lock()
	if m.ReleaseCalls > 0 {
		m.CallsAfterRelease++
	}
	m.GenerateCalls++
	m.GenerateRequests = append(m.GenerateRequests, req)
	err := m.GenerateError
	fn := m.GenerateFn
	m.mu.Unlock()

	if fn != nil {
		return fn(req, sink)
	}
	if err != nil {
		return err
	}

	for _, shape := range req.Shapes {
		switch req.Encoder {
		case interfaces.EncoderAttributeEval:
			sink.ReceiveAttributes(shape.Index, shape.Attributes.Clone())
		case interfaces.EncoderGeometry:
			sink.ReceiveGeometry(shape.Index, types.MeshPart{
				ShapeIndex: shape.Index,
				Name:       fmt.Sprintf("shape-%d", shape.Index),
			})
			sink.ReceiveReports(shape.Index, types.Reports{"seed": shape.RandomSeed})
		}
	}
	return nil
}

// GenerateOccluders implements interfaces.RuleEngine, issuing sequential
// handles.
func (m *MockRuleEngine) GenerateOccluders(shapes []*types.NativeShape, sink interfaces.OutputSink) ([]types.OcclusionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReleaseCalls > 0 {
		m.CallsAfterRelease++
	}
	m.OccluderCalls++
	if m.OccluderError != nil {
		return nil, m.OccluderError
	}

	handles := make([]types.OcclusionHandle, len(shapes))
	for i := range shapes {
		handles[i] = m.nextOcclusionHandle
		m.nextOcclusionHandle++
	}
	return handles, nil
}

// DisposeOccluders implements interfaces.RuleEngine.
func (m *MockRuleEngine) DisposeOccluders(handles []types.OcclusionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisposedHandles = append(m.DisposedHandles, handles...)
}

// ResetOcclusionSet implements interfaces.RuleEngine.
func (m *MockRuleEngine) ResetOcclusionSet() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCalls++
	return nil
}

// FlushCache implements interfaces.RuleEngine.
func (m *MockRuleEngine) FlushCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlushCalls++
}

// PushLogMessage queues a diagnostic message for the next PopLogMessages.
func (m *MockRuleEngine) PushLogMessage(level interfaces.LogLevel, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logMessages = append(m.logMessages, interfaces.LogMessage{Level: level, Text: text})
}

// PopLogMessages implements interfaces.RuleEngine.
func (m *MockRuleEngine) PopLogMessages() []interfaces.LogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages := m.logMessages
	m.logMessages = nil
	return messages
}

// Release implements interfaces.RuleEngine.
func (m *MockRuleEngine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls++
}

// Snapshot returns call counters under the lock, for assertions racing
// background work.
func (m *MockRuleEngine) Snapshot() (resolveCalls, generateCalls, occluderCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ResolveCalls, m.GenerateCalls, m.OccluderCalls
}

// AfterReleaseCount returns the number of engine calls made after Release,
// under the lock.
func (m *MockRuleEngine) AfterReleaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallsAfterRelease
}

// FlushCount returns the number of FlushCache calls under the lock.
func (m *MockRuleEngine) FlushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FlushCalls
}

// MockOutputSink records everything it receives.
type MockOutputSink struct {
	mu         sync.Mutex
	Geometry   []types.MeshPart
	Instances  []types.Instance
	Attributes map[int64]types.AttributeMap
	Reports    map[int64]types.Reports
}

// NewMockOutputSink creates an empty recording sink.
func NewMockOutputSink() *MockOutputSink {
	return &MockOutputSink{
		Attributes: make(map[int64]types.AttributeMap),
		Reports:    make(map[int64]types.Reports),
	}
}

// ReceiveGeometry implements interfaces.OutputSink.
func (s *MockOutputSink) ReceiveGeometry(shapeIndex int64, part types.MeshPart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Geometry = append(s.Geometry, part)
}

// ReceiveInstance implements interfaces.OutputSink.
func (s *MockOutputSink) ReceiveInstance(shapeIndex int64, instance types.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Instances = append(s.Instances, instance)
}

// ReceiveAttributes implements interfaces.OutputSink.
func (s *MockOutputSink) ReceiveAttributes(shapeIndex int64, attrs types.AttributeMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attributes[shapeIndex] = attrs
}

// ReceiveReports implements interfaces.OutputSink.
func (s *MockOutputSink) ReceiveReports(shapeIndex int64, reports types.Reports) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reports[shapeIndex] = reports
}

// GeometryCount returns the number of received parts under the lock.
func (s *MockOutputSink) GeometryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Geometry)
}

// MockNotifier records notification calls.
type MockNotifier struct {
	mu            sync.Mutex
	Completed     []int
	AllCompleted  [][2]int
	Failures      []error
	QueueStatuses [][2]int
}

// NewMockNotifier creates an empty recording notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyGenerateCompleted implements interfaces.GenerateNotifier.
func (n *MockNotifier) NotifyGenerateCompleted(remaining int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Completed = append(n.Completed, remaining)
}

// NotifyAllGenerateCompleted implements interfaces.GenerateNotifier.
func (n *MockNotifier) NotifyAllGenerateCompleted(warnings int, errors int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.AllCompleted = append(n.AllCompleted, [2]int{warnings, errors})
}

// NotifyGenerateFailure implements interfaces.GenerateNotifier.
func (n *MockNotifier) NotifyGenerateFailure(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Failures = append(n.Failures, err)
}

// NotifyQueueStatus implements interfaces.GenerateNotifier.
func (n *MockNotifier) NotifyQueueStatus(active int, queued int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.QueueStatuses = append(n.QueueStatuses, [2]int{active, queued})
}

// FailureCount returns the number of failure notifications under the lock.
func (n *MockNotifier) FailureCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Failures)
}

// AllCompletedCount returns the number of all-completed notifications under
// the lock.
func (n *MockNotifier) AllCompletedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.AllCompleted)
}

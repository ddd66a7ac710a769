package rulepkg

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stonemason/stonemason/pkg/logger"
	"github.com/stonemason/stonemason/pkg/mocks"
	"github.com/stonemason/stonemason/pkg/types"
	"github.com/stonemason/stonemason/pkg/utils"
)

func newTestResolver(t *testing.T, engine *mocks.MockRuleEngine) *Resolver {
	t.Helper()
	log := logger.CreateLoggerWithOutput("", "debug", nil)
	return NewResolver(engine, log, t.TempDir(), nil)
}

func testPackage(id string) *types.RulePackage {
	return &types.RulePackage{ID: id, Name: id, Data: []byte("content-" + id)}
}

func TestResolveMaterializesAndCaches(t *testing.T) {
	engine := mocks.NewMockRuleEngine()
	resolver := newTestResolver(t, engine)

	pkg := testPackage("towers")
	resolution := <-resolver.Resolve(context.Background(), pkg)
	if resolution.Err != nil {
		t.Fatalf("Resolve failed: %v", resolution.Err)
	}
	if resolution.Handle == nil {
		t.Fatal("Expected a resolve handle")
	}

	// Second resolve hits the cache without engine work.
	resolution = <-resolver.Resolve(context.Background(), pkg)
	if resolution.Err != nil || resolution.Handle == nil {
		t.Fatalf("Cached resolve failed: %v", resolution.Err)
	}

	resolveCalls, _, _ := engine.Snapshot()
	if resolveCalls != 1 {
		t.Errorf("Expected 1 engine resolve, got %d", resolveCalls)
	}
	if resolver.Size() != 1 {
		t.Errorf("Expected 1 cached handle, got %d", resolver.Size())
	}

	// The materialized file is reachable from the URI the engine saw.
	if len(engine.ResolveURIs) != 1 || !strings.HasPrefix(engine.ResolveURIs[0], "file://") {
		t.Errorf("Unexpected resolve URI: %v", engine.ResolveURIs)
	}
	if !strings.HasSuffix(engine.ResolveURIs[0], "towers.rpk") {
		t.Errorf("URI missing package file name: %s", engine.ResolveURIs[0])
	}
}

func TestResolveDeduplicatesConcurrentRequests(t *testing.T) {
	engine := mocks.NewMockRuleEngine()
	engine.ResolveDelay = 30 * time.Millisecond
	resolver := newTestResolver(t, engine)

	pkg := testPackage("towers")
	const callers = 16

	var wg sync.WaitGroup
	handles := make([]types.ResolveHandle, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolution := <-resolver.Resolve(context.Background(), pkg)
			if resolution.Err != nil {
				t.Errorf("Caller %d failed: %v", i, resolution.Err)
				return
			}
			handles[i] = resolution.Handle
		}()
	}
	wg.Wait()

	resolveCalls, _, _ := engine.Snapshot()
	if resolveCalls != 1 {
		t.Errorf("Expected exactly 1 engine resolve for %d concurrent callers, got %d", callers, resolveCalls)
	}
	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("Caller %d got a different handle", i)
		}
	}
}

func TestResolveNilPackage(t *testing.T) {
	engine := mocks.NewMockRuleEngine()
	resolver := newTestResolver(t, engine)

	resolution := <-resolver.Resolve(context.Background(), nil)
	if !errors.Is(resolution.Err, ErrNoPackage) {
		t.Errorf("Expected ErrNoPackage, got %v", resolution.Err)
	}

	resolution = <-resolver.Resolve(context.Background(), &types.RulePackage{})
	if !errors.Is(resolution.Err, ErrNoPackage) {
		t.Errorf("Expected ErrNoPackage for empty ID, got %v", resolution.Err)
	}
}

func TestResolveFailureNotCached(t *testing.T) {
	engine := mocks.NewMockRuleEngine()
	engine.ResolveError = errors.New("corrupt package")
	resolver := newTestResolver(t, engine)

	pkg := testPackage("towers")
	resolution := <-resolver.Resolve(context.Background(), pkg)
	if resolution.Err == nil {
		t.Fatal("Expected resolve failure")
	}
	if resolver.Size() != 0 {
		t.Errorf("Failed resolution must not be cached, size=%d", resolver.Size())
	}

	// Once the failure clears, the next request retries.
	engine.ResolveError = nil
	resolution = <-resolver.Resolve(context.Background(), pkg)
	if resolution.Err != nil {
		t.Fatalf("Retry failed: %v", resolution.Err)
	}
	if resolver.Size() != 1 {
		t.Errorf("Expected 1 cached handle after retry, got %d", resolver.Size())
	}
}

func TestEvictForcesReresolution(t *testing.T) {
	engine := mocks.NewMockRuleEngine()
	resolver := newTestResolver(t, engine)

	pkg := testPackage("towers")
	<-resolver.Resolve(context.Background(), pkg)

	resolver.Evict(pkg)
	if engine.FlushCalls != 1 {
		t.Errorf("Evict should flush the engine cache, got %d flushes", engine.FlushCalls)
	}

	<-resolver.Resolve(context.Background(), pkg)
	resolveCalls, _, _ := engine.Snapshot()
	if resolveCalls != 2 {
		t.Errorf("Expected re-resolution after evict, got %d calls", resolveCalls)
	}
}

func TestClearDropsAllHandles(t *testing.T) {
	engine := mocks.NewMockRuleEngine()
	resolver := newTestResolver(t, engine)

	<-resolver.Resolve(context.Background(), testPackage("a"))
	<-resolver.Resolve(context.Background(), testPackage("b"))
	if resolver.Size() != 2 {
		t.Fatalf("Expected 2 cached handles, got %d", resolver.Size())
	}

	resolver.Clear()
	if resolver.Size() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", resolver.Size())
	}
	if engine.FlushCalls != 1 {
		t.Errorf("Clear should flush the engine cache, got %d flushes", engine.FlushCalls)
	}
}

func TestResolveWritesPackageData(t *testing.T) {
	engine := mocks.NewMockRuleEngine()
	rpkDir := t.TempDir()
	log := logger.CreateLoggerWithOutput("", "debug", nil)
	resolver := NewResolver(engine, log, rpkDir, nil)

	pkg := testPackage("towers")
	resolution := <-resolver.Resolve(context.Background(), pkg)
	if resolution.Err != nil {
		t.Fatalf("Resolve failed: %v", resolution.Err)
	}

	if !utils.Exists(filepath.Join(rpkDir, "towers.rpk")) {
		t.Error("Package data not materialized to the scratch tree")
	}
}

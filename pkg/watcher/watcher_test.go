package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stonemason/stonemason/pkg/logger"
	"github.com/stonemason/stonemason/pkg/types"
)

type evictRecorder struct {
	mu  sync.Mutex
	ids []string
	ch  chan string
}

func newEvictRecorder() *evictRecorder {
	return &evictRecorder{ch: make(chan string, 16)}
}

func (r *evictRecorder) evict(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	r.ch <- id
}

func newTestWatcher(t *testing.T) (*PackageWatcher, *evictRecorder) {
	t.Helper()
	recorder := newEvictRecorder()
	log := logger.CreateLoggerWithOutput("", "debug", nil)

	w, err := New(log, recorder.evict)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	w.SetSettlingDelay(10 * time.Millisecond)
	return w, recorder
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatalf("Failed to write source: %v", err)
	}
	return path
}

func TestWatcherEvictsOnSourceChange(t *testing.T) {
	w, recorder := newTestWatcher(t)

	dir := t.TempDir()
	path := writeSource(t, dir, "towers.rpk")

	pkg := &types.RulePackage{ID: "towers", SourcePath: path}
	if err := w.Track(pkg); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatalf("Failed to modify source: %v", err)
	}

	select {
	case id := <-recorder.ch:
		if id != "towers" {
			t.Errorf("Evicted wrong package: %s", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Source change did not trigger eviction")
	}
}

func TestWatcherIgnoresUntrackedPackages(t *testing.T) {
	w, _ := newTestWatcher(t)

	if err := w.Track(nil); err != nil {
		t.Errorf("Nil package should be ignored: %v", err)
	}
	if err := w.Track(&types.RulePackage{ID: "no-source"}); err != nil {
		t.Errorf("Package without source path should be ignored: %v", err)
	}
}

func TestWatcherTrackMissingFile(t *testing.T) {
	w, _ := newTestWatcher(t)

	pkg := &types.RulePackage{ID: "ghost", SourcePath: "/nonexistent/ghost.rpk"}
	if err := w.Track(pkg); err == nil {
		t.Error("Tracking a missing file should fail")
	}
}

func TestWatcherDebouncesWriteBursts(t *testing.T) {
	w, recorder := newTestWatcher(t)
	w.SetSettlingDelay(80 * time.Millisecond)

	dir := t.TempDir()
	path := writeSource(t, dir, "towers.rpk")
	if err := w.Track(&types.RulePackage{ID: "towers", SourcePath: path}); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0644); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Wait out the settling window plus slack.
	time.Sleep(400 * time.Millisecond)

	recorder.mu.Lock()
	count := len(recorder.ids)
	recorder.mu.Unlock()

	if count != 1 {
		t.Errorf("Expected 1 debounced eviction, got %d", count)
	}
}

func TestWatcherCloseStopsEvents(t *testing.T) {
	recorder := newEvictRecorder()
	log := logger.CreateLoggerWithOutput("", "debug", nil)
	w, err := New(log, recorder.evict)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	// Double close on the done channel would panic; Close is not required to
	// be idempotent, but a closed watcher must not deliver events.
	select {
	case id := <-recorder.ch:
		t.Errorf("Unexpected eviction after close: %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

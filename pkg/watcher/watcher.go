// Package watcher evicts cached rule packages when their source files change
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stonemason/stonemason/pkg/logger"
	"github.com/stonemason/stonemason/pkg/types"
)

// PackageWatcher watches rule-package source files and invokes the evict
// callback when one changes on disk, forcing re-resolution on next use.
type PackageWatcher struct {
	watcher  *fsnotify.Watcher
	logger   logger.Logger
	evict    func(packageID string)
	settling time.Duration

	mu       sync.Mutex
	packages map[string]string // source path -> package ID
	timers   map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher that calls evict with the package ID of any tracked
// package whose source file changes.
func New(log logger.Logger, evict func(packageID string)) (*PackageWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &PackageWatcher{
		watcher:  fsWatcher,
		logger:   log,
		evict:    evict,
		settling: 100 * time.Millisecond, // let editors finish writing
		packages: make(map[string]string),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// SetSettlingDelay sets the delay before a change triggers eviction.
func (w *PackageWatcher) SetSettlingDelay(delay time.Duration) {
	w.mu.Lock()
	w.settling = delay
	w.mu.Unlock()
}

// Track watches the source file of pkg. Packages without a source path are
// ignored.
func (w *PackageWatcher) Track(pkg *types.RulePackage) error {
	if pkg == nil || pkg.SourcePath == "" {
		return nil
	}

	path, err := filepath.Abs(pkg.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to resolve source path: %w", err)
	}

	w.mu.Lock()
	w.packages[path] = pkg.ID
	w.mu.Unlock()

	if err := w.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w.logger.Debug("Watching rule package source", logger.WithField("path", path))
	return nil
}

// Close stops watching and releases the underlying watcher.
func (w *PackageWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()

	return err
}

// Private methods

func (w *PackageWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleEviction(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", logger.WithField("error", err))
		}
	}
}

// scheduleEviction debounces rapid write bursts on the same file before
// evicting.
func (w *PackageWatcher) scheduleEviction(path string) {
	path, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	packageID, ok := w.packages[path]
	if !ok {
		return
	}

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.settling, func() {
		w.logger.Info("Rule package source changed, evicting from cache",
			logger.WithField("package", packageID))
		w.evict(packageID)
	})
}

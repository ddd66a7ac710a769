package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stonemason/stonemason/pkg/interfaces"
	"github.com/stonemason/stonemason/pkg/logger"
)

// dispatchRequest is one unit of queued engine work.
type dispatchRequest struct {
	ID     string
	Kind   string // "generate" or "evaluate"
	Run    func()
	Queued time.Time
}

// DispatchQueue runs batched engine calls off the caller's thread with a
// bounded number of concurrent workers. Requests run in submission order up
// to the worker limit.
type DispatchQueue struct {
	logger   logger.Logger
	notifier interfaces.GenerateNotifier
	workers  int

	mu      sync.Mutex
	pending []*dispatchRequest
	active  map[string]*dispatchRequest
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatchQueue creates a queue with the given worker limit.
func NewDispatchQueue(log logger.Logger, notifier interfaces.GenerateNotifier, workers int) *DispatchQueue {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &DispatchQueue{
		logger:   log,
		notifier: notifier,
		workers:  workers,
		active:   make(map[string]*dispatchRequest),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing queued requests.
func (q *DispatchQueue) Start() {
	q.wg.Add(1)
	go q.processLoop()
}

// Submit enqueues run and returns its request ID. The request executes when
// a worker slot frees up. After Stop, requests run inline on the caller's
// goroutine, so a submitted request always executes exactly once.
func (q *DispatchQueue) Submit(kind string, run func()) string {
	request := &dispatchRequest{
		ID:     uuid.New().String(),
		Kind:   kind,
		Run:    run,
		Queued: time.Now(),
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Debug("Queue stopped, running request inline",
			logger.WithField("id", request.ID),
			logger.WithField("kind", kind))
		request.Run()
		return request.ID
	}
	q.pending = append(q.pending, request)
	pendingCount := len(q.pending)
	activeCount := len(q.active)
	q.mu.Unlock()

	q.logger.Debug("Queued dispatch request",
		logger.WithField("id", request.ID),
		logger.WithField("kind", kind),
		logger.WithField("pending", pendingCount))

	if q.notifier != nil {
		q.notifier.NotifyQueueStatus(activeCount, pendingCount)
	}

	return request.ID
}

// Stop drains the queue. Running requests are waited for; requests still
// pending after the loop exits run synchronously so every submitted future
// completes.
func (q *DispatchQueue) Stop() {
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	remaining := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, request := range remaining {
		request.Run()
	}
}

// Size returns the number of pending requests.
func (q *DispatchQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of requests currently executing.
func (q *DispatchQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Private methods

func (q *DispatchQueue) processLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.processNext()
		}
	}
}

// processNext starts pending requests while worker slots are free.
func (q *DispatchQueue) processNext() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || len(q.active) >= q.workers {
			q.mu.Unlock()
			return
		}

		request := q.pending[0]
		q.pending = q.pending[1:]
		q.active[request.ID] = request
		q.mu.Unlock()

		q.wg.Add(1)
		go func(request *dispatchRequest) {
			defer q.wg.Done()

			waited := time.Since(request.Queued)
			q.logger.Debug("Dispatching request",
				logger.WithField("id", request.ID),
				logger.WithField("kind", request.Kind),
				logger.WithField("waited", waited.String()))

			request.Run()

			q.mu.Lock()
			delete(q.active, request.ID)
			q.mu.Unlock()
		}(request)
	}
}

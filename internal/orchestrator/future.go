package orchestrator

import (
	"context"
	"errors"

	"github.com/stonemason/stonemason/pkg/types"
)

var (
	// ErrNotInitialized is returned by calls made before Start or after
	// Shutdown.
	ErrNotInitialized = errors.New("orchestrator not initialized")

	// ErrEngineCall wraps engine-side failures of a batched call.
	ErrEngineCall = errors.New("engine call failed")
)

// Future is a single-assignment result slot. Submitting work returns the
// future immediately; the caller blocks in Wait only when it actually needs
// the result. Every future completes exactly once, success or failure.
type Future[T any] struct {
	done   chan struct{}
	result T
	err    error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// complete sets the result and releases all waiters. Must be called exactly
// once.
func (f *Future[T]) complete(result T, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Wait blocks until the future completes or ctx is cancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// GenerateFuture resolves to the outcome of one generate call.
type GenerateFuture = Future[types.GenerateResultDescription]

// ResolveFuture resolves to the engine handle of one rule package.
type ResolveFuture = Future[types.ResolveHandle]

// EvalFuture resolves to evaluated attribute maps, one per input shape in
// input order.
type EvalFuture = Future[[]types.AttributeMap]

package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/stonemason/stonemason/pkg/logger"
)

// SafeGroup wraps errgroup.Group with panic recovery so a panicking
// resolution task cannot take down the process.
type SafeGroup struct {
	group  *errgroup.Group
	ctx    context.Context
	logger logger.Logger
}

// NewSafeGroup creates a SafeGroup with optional concurrency limit.
// A limit of 0 or negative means no limit.
func NewSafeGroup(ctx context.Context, limit int, log logger.Logger) (*SafeGroup, context.Context) {
	group, groupCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}

	return &SafeGroup{
		group:  group,
		ctx:    groupCtx,
		logger: log,
	}, groupCtx
}

// Go runs fn in a goroutine with panic recovery.
// If fn panics, the panic is recovered, logged, and returned as an error.
func (sg *SafeGroup) Go(fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if sg.logger != nil {
					sg.logger.Error("Panic recovered in goroutine",
						logger.WithField("panic", fmt.Sprintf("%v", r)),
						logger.WithField("stack", string(stack)))
				}
				err = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return fn()
	})
}

// Wait waits for all goroutines to complete and returns the first error.
func (sg *SafeGroup) Wait() error {
	return sg.group.Wait()
}

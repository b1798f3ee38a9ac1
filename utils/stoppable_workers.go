// Package utils holds small concurrency helpers shared by the service and its tools.
package utils

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// StoppableWorkers runs goroutines that share a context and can all be stopped together. Errors
// returned by the workers are collected and reported by Wait and Stop; a worker returning because
// its context was canceled is not an error.
type StoppableWorkers struct {
	mu         sync.Mutex
	cancelCtx  context.Context
	cancelFunc func()
	workers    sync.WaitGroup
	err        error
}

// NewStoppableWorkers returns workers whose context is derived from ctx.
func NewStoppableWorkers(ctx context.Context) *StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(ctx)
	return &StoppableWorkers{cancelCtx: cancelCtx, cancelFunc: cancelFunc}
}

// Add starts fn in its own goroutine. Calls made after Stop return without starting anything.
func (sw *StoppableWorkers) Add(fn func(context.Context) error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer sw.workers.Done()
		if err := fn(sw.cancelCtx); err != nil && !errors.Is(err, context.Canceled) {
			sw.mu.Lock()
			sw.err = multierr.Append(sw.err, err)
			sw.mu.Unlock()
		}
	})
}

// Wait blocks until every worker has returned and reports their combined errors.
func (sw *StoppableWorkers) Wait() error {
	sw.workers.Wait()
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.err
}

// Stop cancels the workers' context and waits for them to return.
func (sw *StoppableWorkers) Stop() error {
	sw.mu.Lock()
	sw.cancelFunc()
	sw.mu.Unlock()
	return sw.Wait()
}

// Context returns the context the workers run with.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.cancelCtx
}

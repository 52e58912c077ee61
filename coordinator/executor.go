package coordinator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// executor runs slow storage and verification work on a bounded pool while
// the caller keeps holding the coordinator lock. A task whose caller stopped
// waiting still blocks later tasks until it finishes, so writes land in the
// order the coordinator issued them.
type executor struct {
	pool *workerpool.WorkerPool

	mu        sync.Mutex
	abandoned []chan struct{}
}

func newExecutor(workers int) *executor {
	if workers <= 0 {
		workers = 4
	}
	return &executor{pool: workerpool.New(workers)}
}

// run submits fn and waits for its result. A positive timeout bounds the wait.
func (e *executor) run(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := runValue(e, ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func runValue[T any](e *executor, ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if e.pool.Stopped() {
		return zero, interfaces.NewError(interfaces.KindInternal, interfaces.ErrCoordinatorStopped)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := e.settle(ctx); err != nil {
		return zero, interfaces.NewError(interfaces.KindStorage, fmt.Errorf("abandoned task still running: %w", err))
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	finished := make(chan struct{})
	e.pool.Submit(func() {
		defer close(finished)
		value, err := fn(ctx)
		done <- result{value, err}
	})

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		e.mu.Lock()
		e.abandoned = append(e.abandoned, finished)
		e.mu.Unlock()
		return zero, interfaces.NewError(interfaces.KindStorage, fmt.Errorf("offloaded task abandoned: %w", ctx.Err()))
	}
}

// settle waits until every abandoned task has finished.
func (e *executor) settle(ctx context.Context) error {
	e.mu.Lock()
	waiting := slices.Clone(e.abandoned)
	e.mu.Unlock()

	for _, finished := range waiting {
		select {
		case <-finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	e.abandoned = slices.DeleteFunc(e.abandoned, func(finished chan struct{}) bool {
		return slices.Contains(waiting, finished)
	})
	e.mu.Unlock()
	return nil
}

// stop waits for submitted work to finish.
func (e *executor) stop() {
	e.pool.StopWait()
}

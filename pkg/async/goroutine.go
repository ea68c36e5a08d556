package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/auditcore/pkg/observability"
)

var (
	// ErrPoolClosed is returned when work is submitted after Shutdown.
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrQueueFull is returned by TrySubmit when every queue slot is taken.
	ErrQueueFull = errors.New("worker pool queue full")
)

// Go runs fn on its own goroutine and returns a future for its result.
//
// The goroutine gets a context derived from parentCtx with the given timeout,
// and a panic in fn resolves the future with an error instead of crashing:
//
//	f := Go(ctx, time.Minute, "export generation", func(ctx context.Context) (*Result, error) {
//	    return generate(ctx)
//	})
//	res, err := f.Wait(ctx)
func Go[T any](parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		var zero T
		defer func() {
			if r := recover(); r != nil {
				observability.NewLogger(observability.ErrorLevel, nil).
					WithField("task", taskName).
					WithField("stack", string(debug.Stack())).
					Errorf("panic in task: %v", r)
				f.complete(zero, fmt.Errorf("%s: panic: %v", taskName, r))
			}
		}()

		value, err := fn(ctx)
		if err != nil {
			f.complete(zero, err)
			return
		}
		f.complete(value, nil)
	}()
	return f
}

// WorkerPool runs submitted tasks on a fixed number of goroutines.
// Each task gets its own timeout derived from the pool context.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	logger       *observability.Logger
	workCh       chan func(context.Context)
	doneCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	closed       bool
	shutdownOnce sync.Once
}

// NewWorkerPool starts workers goroutines reading from a queue of queueSize tasks.
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("pool", taskName),
		workCh:   make(chan func(context.Context), queueSize),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn. It blocks while the queue is full and fails once the pool is shut down.
func Submit[T any](p *WorkerPool, fn func(context.Context) (T, error)) *Future[T] {
	f, task := newTask(p, fn)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		var zero T
		f.complete(zero, ErrPoolClosed)
		return f
	}

	select {
	case p.workCh <- task:
	case <-p.ctx.Done():
		var zero T
		f.complete(zero, ErrPoolClosed)
	}
	return f
}

// TrySubmit queues fn without blocking. When the queue is full the returned
// future is already resolved with ErrQueueFull.
func TrySubmit[T any](p *WorkerPool, fn func(context.Context) (T, error)) *Future[T] {
	f, task := newTask(p, fn)

	p.mu.RLock()
	defer p.mu.RUnlock()
	var zero T
	if p.closed {
		f.complete(zero, ErrPoolClosed)
		return f
	}

	select {
	case p.workCh <- task:
	default:
		f.complete(zero, ErrQueueFull)
	}
	return f
}

// newTask wraps fn so that its result or panic resolves the returned future
func newTask[T any](p *WorkerPool, fn func(context.Context) (T, error)) (*Future[T], func(context.Context)) {
	f := NewFuture[T]()
	task := func(ctx context.Context) {
		var zero T
		defer func() {
			if r := recover(); r != nil {
				p.logger.WithField("stack", string(debug.Stack())).Errorf("panic in task: %v", r)
				f.complete(zero, fmt.Errorf("%s: panic: %v", p.taskName, r))
			}
		}()
		value, err := fn(ctx)
		if err != nil {
			f.complete(zero, err)
			return
		}
		f.complete(value, nil)
	}
	return f, task
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *WorkerPool) Pending() int {
	return len(p.workCh)
}

// Shutdown stops accepting work and waits up to timeout for queued tasks to drain.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) worker(id int) {
	for task := range p.workCh {
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		task(ctx)
		cancel()
	}
	p.logger.Debugf("worker %d stopped", id)
}

package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner executes named background tasks on a fixed pool of workers.
// Panics are recovered and surfaced as errors, so a bad task cannot take
// the process down. Submit never blocks: when the queue is full the task
// is rejected and the caller decides what to do.
type Runner struct {
	logger *zap.Logger
	tasks  chan job
	wg     sync.WaitGroup
	onDone func(name string, err error, d time.Duration)

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

type Option func(*Runner)

// WithOnDone registers a callback invoked after every task finishes,
// including panicked ones.
func WithOnDone(fn func(name string, err error, d time.Duration)) Option {
	return func(r *Runner) { r.onDone = fn }
}

func NewRunner(workers, queueSize int, logger *zap.Logger, opts ...Option) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		logger:  logger,
		tasks:   make(chan job, queueSize),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Submit queues fn for execution. Returns false when the queue is full
// or the runner has stopped.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return false
	}
	select {
	case r.tasks <- job{name: name, fn: fn}:
		return true
	default:
		return false
	}
}

// Stop rejects new submissions, drains the queue, and waits for in-flight
// tasks. When ctx expires first, running tasks are cancelled and Stop
// waits for them to notice.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.tasks)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for j := range r.tasks {
		start := time.Now()
		err := r.invoke(j)
		elapsed := time.Since(start)

		if err != nil {
			r.logger.Warn("task failed",
				zap.String("task", j.name),
				zap.Duration("duration", elapsed),
				zap.Error(err))
		}
		if r.onDone != nil {
			r.onDone(j.name, err, elapsed)
		}
	}
}

func (r *Runner) invoke(j job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s panicked: %v", j.name, rec)
			r.logger.Error("task panic",
				zap.String("task", j.name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	return j.fn(r.baseCtx)
}

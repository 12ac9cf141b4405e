// Package tasks runs fire-and-forget side effects (cache writes, hit-count
// updates, usage and audit records) off the request path.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is reported when a task is dropped because the buffer is full.
var ErrQueueFull = errors.New("task queue full")

// ErrClosed is reported when a task is submitted after Close.
var ErrClosed = errors.New("task queue closed")

// Func is one unit of background work.
type Func func(ctx context.Context) error

// Failure describes a task that returned an error or was dropped.
type Failure struct {
	Name string
	Err  error
}

func (f Failure) Error() string { return fmt.Sprintf("task %s: %v", f.Name, f.Err) }

type task struct {
	name string
	fn   Func
}

// Queue is a bounded pool of workers. Submit never blocks; failures are
// delivered on Errors and never reach the submitter.
type Queue struct {
	tasks   chan task
	errs    chan Failure
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	// pending counts submitted tasks that have not finished.
	pending sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithTimeout bounds each task. Zero means no bound.
func WithTimeout(d time.Duration) Option { return func(q *Queue) { q.timeout = d } }

// WithLogger sets the logger used for failures.
func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.logger = l } }

// New starts workers goroutines reading from a buffer of size.
func New(workers, size int, opts ...Option) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	q := &Queue{
		tasks:   make(chan task, size),
		errs:    make(chan Failure, 64),
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(q)
	}
	q.wg.Add(workers)
	for range workers {
		go q.worker()
	}
	return q
}

// Submit enqueues fn under name. It returns false when the task was dropped.
func (q *Queue) Submit(name string, fn Func) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		// Errors is already closed.
		q.logger.Warn("background task dropped", "task", name, "error", ErrClosed)
		return false
	}
	q.pending.Add(1)
	select {
	case q.tasks <- task{name: name, fn: fn}:
		return true
	default:
		q.pending.Done()
		q.report(Failure{Name: name, Err: ErrQueueFull})
		return false
	}
}

// Errors delivers task failures. Failures are dropped when nobody reads.
func (q *Queue) Errors() <-chan Failure { return q.errs }

// Wait blocks until every submitted task has finished.
func (q *Queue) Wait() { q.pending.Wait() }

// Close stops accepting tasks, drains the buffer, and closes Errors.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
	close(q.errs)
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	defer q.pending.Done()
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.fn(ctx)
	}()
	if err != nil {
		q.report(Failure{Name: t.name, Err: err})
	}
}

func (q *Queue) report(f Failure) {
	q.logger.Warn("background task failed", "task", f.Name, "error", f.Err)
	select {
	case q.errs <- f:
	default:
	}
}

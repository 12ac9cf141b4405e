package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/metrics"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// JobStore is the persistence the dispatcher needs.
type JobStore interface {
	Create(ctx context.Context, req models.GenerationRequest) (*models.GenerationJob, error)
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id, document string) error
	Fail(ctx context.Context, id string, kind models.ErrorKind, message string) error
}

// RunFunc executes the full pipeline for a background job and returns the
// validated document.
type RunFunc func(ctx context.Context, req models.GenerationRequest) (string, error)

// Dispatcher compares latency estimates against the synchronous budget and
// runs background jobs with bounded concurrency.
type Dispatcher struct {
	est     Estimator
	budget  time.Duration
	store   JobStore
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records dispatch decisions and terminal job states.
func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// New creates a Dispatcher. budget is the time a synchronous request may
// take, i.e. the platform deadline minus the safety margin.
func New(cfg config.DispatchConfig, budget time.Duration, store JobStore, opts ...Option) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		est:    NewEstimator(cfg),
		budget: budget,
		store:  store,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Estimate computes the decision without recording it.
func (d *Dispatcher) Estimate(p models.ComplexityProfile, mp models.ModelProfile) Decision {
	dec := Decision{Mode: ModeSync, Estimate: d.est.Estimate(p, mp), Budget: d.budget}
	if dec.Estimate > d.budget {
		dec.Mode = ModeBackground
	}
	return dec
}

// Decide returns sync when the estimate fits the budget.
func (d *Dispatcher) Decide(p models.ComplexityProfile, mp models.ModelProfile) Decision {
	dec := d.Estimate(p, mp)
	d.metrics.Dispatch(string(dec.Mode))
	return dec
}

// Budget is the synchronous time budget.
func (d *Dispatcher) Budget() time.Duration { return d.budget }

// Submit creates a pending job and starts a worker for it. It returns as
// soon as the job row exists.
func (d *Dispatcher) Submit(ctx context.Context, req models.GenerationRequest, run RunFunc) (*models.GenerationJob, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	job, err := d.store.Create(ctx, req)
	if err != nil {
		d.wg.Done()
		return nil, fmt.Errorf("create job: %w", err)
	}
	go d.work(job.ID, req, run)
	return job, nil
}

func (d *Dispatcher) work(id string, req models.GenerationRequest, run RunFunc) {
	defer d.wg.Done()
	logger := d.logger.With("job_id", id, "diagram_type", req.DiagramType)

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		d.finish(logger, id, "", models.NewError(models.KindInternal, "job cancelled before start", err))
		return
	}
	defer d.sem.Release(1)

	if err := d.store.MarkProcessing(d.ctx, id); err != nil {
		logger.Error("job could not start", "error", err)
		d.finish(logger, id, "", models.NewError(models.KindInternal, "job could not start", err))
		return
	}
	logger.Info("background job started")
	start := time.Now()
	doc, err := run(d.ctx, req)
	logger.Info("background job finished", "duration", time.Since(start), "error", err)
	d.finish(logger, id, doc, err)
}

// finish writes the terminal status. It uses a fresh context so a shutdown
// still records the outcome.
func (d *Dispatcher) finish(logger *slog.Logger, id, doc string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	status := models.JobCompleted
	if runErr != nil {
		status = models.JobFailed
		err = d.store.Fail(ctx, id, models.KindOf(runErr), models.UserMessage(runErr))
	} else {
		err = d.store.Complete(ctx, id, doc)
	}
	if err != nil {
		logger.Error("job terminal status not recorded", "status", status, "error", err)
		return
	}
	d.metrics.JobFinished(string(status))
}

// Close stops accepting jobs and waits for running ones. When ctx expires
// first, running jobs are cancelled and recorded as failed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/jobs"
	"github.com/pario-ai/flowsmith/pkg/models"
)

func dispatchConfig() config.DispatchConfig {
	return config.Default().Dispatch
}

func newJobs(t *testing.T) *jobs.Store {
	t.Helper()
	s, err := jobs.New(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var (
	small = models.ComplexityProfile{
		Length:                70,
		Counts:                models.SignalCounts{Actors: 1},
		EstimatedElements:     6,
		EstimatedOutputTokens: 600,
	}
	large = models.ComplexityProfile{
		Length:                2600,
		Counts:                models.SignalCounts{Actors: 6, Gateways: 4, Timers: 2},
		EstimatedElements:     40,
		EstimatedOutputTokens: 4000,
	}
	fast  = models.ModelProfile{Tier: models.TierFast, MaxOutputTokens: 8000, Fidelity: models.FidelityFull}
	smart = models.ModelProfile{Tier: models.TierSmart, MaxOutputTokens: 16000, Fidelity: models.FidelityFull}
)

func TestEstimateMonotonic(t *testing.T) {
	e := NewEstimator(dispatchConfig())

	base := e.Estimate(small, fast)
	assert.Greater(t, e.Estimate(small, smart), base, "smart tier writes slower")

	more := small
	more.Counts.Gateways = 3
	assert.Greater(t, e.Estimate(more, fast), base)

	longer := small
	longer.Length = 5000
	assert.Greater(t, e.Estimate(longer, fast), base)

	structure := smart
	structure.Fidelity = models.FidelityStructureOnly
	assert.Less(t, e.Estimate(large, structure), e.Estimate(large, smart))
}

func TestDecide(t *testing.T) {
	cfg := dispatchConfig()
	d := New(cfg, 45*time.Second, newJobs(t))
	defer d.Close(context.Background())

	dec := d.Decide(small, fast)
	assert.Equal(t, ModeSync, dec.Mode)
	assert.Equal(t, 45*time.Second, dec.Budget)

	dec = d.Decide(large, smart)
	assert.Equal(t, ModeBackground, dec.Mode)
	assert.Greater(t, dec.Estimate, 45*time.Second)
}

func TestEstimatedTime(t *testing.T) {
	assert.Equal(t, "12s", Decision{Estimate: 11200 * time.Millisecond}.EstimatedTime())
	assert.Equal(t, "1m35s", Decision{Estimate: 95 * time.Second}.EstimatedTime())
}

func TestSubmitCompletes(t *testing.T) {
	store := newJobs(t)
	d := New(dispatchConfig(), time.Minute, store)
	ctx := context.Background()

	job, err := d.Submit(ctx, models.GenerationRequest{Prompt: "p", DiagramType: models.DiagramBPMN},
		func(context.Context, models.GenerationRequest) (string, error) { return "<doc/>", nil })
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)

	require.NoError(t, d.Close(ctx))
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, "<doc/>", got.Document)
}

func TestSubmitFailureRecorded(t *testing.T) {
	store := newJobs(t)
	d := New(dispatchConfig(), time.Minute, store)
	ctx := context.Background()

	runErr := &models.GenerationError{Kind: models.KindValidation, Message: "could not produce a valid diagram", Attempts: 3, Err: models.ErrValidation}
	job, err := d.Submit(ctx, models.GenerationRequest{Prompt: "p", DiagramType: models.DiagramDMN},
		func(context.Context, models.GenerationRequest) (string, error) { return "", runErr })
	require.NoError(t, err)
	require.NoError(t, d.Close(ctx))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, models.KindValidation, got.ErrorKind)
	assert.Equal(t, "could not produce a valid diagram", got.ErrorMessage)
}

func TestWorkersBounded(t *testing.T) {
	cfg := dispatchConfig()
	cfg.Workers = 2
	d := New(cfg, time.Minute, newJobs(t))
	ctx := context.Background()

	var running, peak atomic.Int32
	run := func(context.Context, models.GenerationRequest) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return "<doc/>", nil
	}
	for range 6 {
		_, err := d.Submit(ctx, models.GenerationRequest{Prompt: "p", DiagramType: models.DiagramBPMN}, run)
		require.NoError(t, err)
	}
	require.NoError(t, d.Close(ctx))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCloseRejectsAndCancels(t *testing.T) {
	store := newJobs(t)
	d := New(dispatchConfig(), time.Minute, store)

	started := make(chan struct{})
	job, err := d.Submit(context.Background(), models.GenerationRequest{Prompt: "p", DiagramType: models.DiagramBPMN},
		func(ctx context.Context, _ models.GenerationRequest) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)

	_, err = d.Submit(context.Background(), models.GenerationRequest{Prompt: "p", DiagramType: models.DiagramBPMN}, nil)
	assert.True(t, errors.Is(err, ErrClosed))
}

// lockedStore fails MarkProcessing the way a busy database does.
type lockedStore struct {
	*jobs.Store
}

func (lockedStore) MarkProcessing(context.Context, string) error {
	return errors.New("database is locked")
}

func TestStartFailureRecordedAsFailed(t *testing.T) {
	store := newJobs(t)
	d := New(dispatchConfig(), time.Minute, lockedStore{store})
	ctx := context.Background()

	var ran atomic.Bool
	job, err := d.Submit(ctx, models.GenerationRequest{Prompt: "p", DiagramType: models.DiagramBPMN},
		func(context.Context, models.GenerationRequest) (string, error) {
			ran.Store(true)
			return "<doc/>", nil
		})
	require.NoError(t, err)
	require.NoError(t, d.Close(ctx))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ran.Load())
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, models.KindInternal, got.ErrorKind)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
}

// gatedStore holds Create until release is closed.
type gatedStore struct {
	*jobs.Store
	entered chan struct{}
	release chan struct{}
}

func (s gatedStore) Create(ctx context.Context, req models.GenerationRequest) (*models.GenerationJob, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.Create(ctx, req)
}

func TestSubmitCreatesJobsConcurrently(t *testing.T) {
	store := gatedStore{Store: newJobs(t), entered: make(chan struct{}, 2), release: make(chan struct{})}
	d := New(dispatchConfig(), time.Minute, store)
	ctx := context.Background()

	run := func(context.Context, models.GenerationRequest) (string, error) { return "<doc/>", nil }
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := d.Submit(ctx, models.GenerationRequest{Prompt: "p", DiagramType: models.DiagramBPMN}, run)
			errs <- err
		}()
	}
	for range 2 {
		select {
		case <-store.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("second Submit waited for the first job row to be written")
		}
	}
	close(store.release)
	for range 2 {
		require.NoError(t, <-errs)
	}
	require.NoError(t, d.Close(ctx))
}

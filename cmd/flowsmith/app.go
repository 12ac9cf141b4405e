package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pario-ai/flowsmith/pkg/audit"
	"github.com/pario-ai/flowsmith/pkg/budget"
	"github.com/pario-ai/flowsmith/pkg/cache"
	"github.com/pario-ai/flowsmith/pkg/cache/sqlite"
	"github.com/pario-ai/flowsmith/pkg/cache/weaviate"
	"github.com/pario-ai/flowsmith/pkg/complexity"
	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/dispatch"
	"github.com/pario-ai/flowsmith/pkg/generate"
	"github.com/pario-ai/flowsmith/pkg/jobs"
	"github.com/pario-ai/flowsmith/pkg/llm"
	"github.com/pario-ai/flowsmith/pkg/metrics"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/pipeline"
	"github.com/pario-ai/flowsmith/pkg/router"
	"github.com/pario-ai/flowsmith/pkg/selector"
	"github.com/pario-ai/flowsmith/pkg/tasks"
	"github.com/pario-ai/flowsmith/pkg/tracker"
)

// app holds every long-lived component of a running flowsmith process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	queue      *tasks.Queue
	cacheStore *sqlite.Store
	cache      *cache.Manager
	jobs       *jobs.Store
	dispatcher *dispatch.Dispatcher
	tracker    *tracker.SQLiteTracker
	audit      *audit.Logger
	quota      *budget.Enforcer
	pipeline   *pipeline.Pipeline

	shutdownTracing func(context.Context) error
	closers         []func() error
}

// newApp wires the pipeline from cfg. The returned app must be closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.shutdownTracing, err = setupTracing(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.queue = tasks.New(cfg.Tasks.Workers, cfg.Tasks.QueueSize, tasks.WithLogger(logger))
	go func(errs <-chan tasks.Failure) {
		for f := range errs {
			a.metrics.TaskFailed(f.Name)
		}
	}(a.queue.Errors())

	providers := llm.NewRegistry()
	for _, pc := range cfg.Providers {
		c := llm.NewOpenAIClient(pc, logger)
		if pc.Name == cfg.Embedding.Provider || (cfg.Embedding.Provider == "" && len(cfg.Providers) > 0 && pc.Name == cfg.Providers[0].Name) {
			c.WithEmbeddings(cfg.Embedding.Model, cfg.Embedding.Dimensions)
		}
		providers.Register(c)
	}
	if len(cfg.Providers) == 0 {
		logger.Warn("no providers configured, generation requests will fail")
	}

	if a.cacheStore, err = sqlite.New(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	a.closers = append(a.closers, a.cacheStore.Close)
	cacheOpts := []cache.Option{cache.WithTasks(a.queue), cache.WithMetrics(a.metrics), cache.WithLogger(logger)}
	if cfg.Cache.SemanticEnabled {
		opt, err := a.semantic(ctx, providers)
		if err != nil {
			return nil, err
		}
		cacheOpts = append(cacheOpts, opt)
	}
	a.cache = cache.NewManager(a.cacheStore, cfg.Cache, cacheOpts...)

	if a.jobs, err = jobs.New(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("init job store: %w", err)
	}
	a.closers = append(a.closers, a.jobs.Close)
	a.dispatcher = dispatch.New(cfg.Dispatch, cfg.SyncBudget(), a.jobs,
		dispatch.WithMetrics(a.metrics), dispatch.WithLogger(logger))

	if a.tracker, err = tracker.New(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	a.closers = append(a.closers, a.tracker.Close)

	opts := []pipeline.Option{
		pipeline.WithDispatcher(a.dispatcher),
		pipeline.WithTasks(a.queue),
		pipeline.WithUsage(a.tracker),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(logger),
	}
	if len(cfg.Quotas) > 0 {
		a.quota = budget.New(cfg.Quotas, a.tracker)
		opts = append(opts, pipeline.WithQuota(a.quota))
	}
	if cfg.Audit.Enabled {
		if a.audit, err = audit.New(cfg.Audit); err != nil {
			return nil, fmt.Errorf("init audit log: %w", err)
		}
		a.closers = append(a.closers, a.audit.Close)
		opts = append(opts, pipeline.WithAudit(a.audit))
	}

	rt := router.New(cfg)
	analyzerOpts := []complexity.Option{complexity.WithLogger(logger)}
	if route, rerr := rt.Primary(models.TierFast); rerr == nil {
		analyzerOpts = append(analyzerOpts, complexity.WithClassifier(
			complexity.NewLLMClassifier(providers, route.Provider.Name, route.Model)))
	}
	exec := generate.New(providers, cfg.Generation,
		generate.WithMetrics(a.metrics), generate.WithLogger(logger))

	a.pipeline = pipeline.New(
		complexity.New(cfg.Complexity, analyzerOpts...),
		selector.New(cfg.Selector, rt),
		a.cache,
		exec,
		opts...,
	)
	return a, nil
}

// semantic builds the semantic cache tier: an embedder from the provider
// registry and either the sqlite vectors or a Weaviate class as the index.
func (a *app) semantic(ctx context.Context, providers *llm.Registry) (cache.Option, error) {
	embedder, err := providers.Client(a.cfg.Embedding.Provider)
	if err != nil {
		return nil, fmt.Errorf("semantic cache needs an embedding provider: %w", err)
	}
	var index cache.VectorIndex = a.cacheStore.Vectors()
	if a.cfg.Cache.VectorBackend == "weaviate" {
		ix, err := weaviate.NewIndex(a.cfg.Cache.Weaviate, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init weaviate: %w", err)
		}
		if err := ix.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("weaviate schema: %w", err)
		}
		index = ix
	}
	a.logger.Info("semantic cache enabled", "backend", a.cfg.Cache.VectorBackend, "threshold", a.cfg.Cache.SemanticThreshold)
	return cache.WithSemantic(index, embedder), nil
}

// Close waits for background jobs (until ctx expires), drains the task
// queue and closes the stores.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}
	if a.queue != nil {
		a.queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Package pipeline runs one generation request end to end: normalization,
// cache lookup, complexity routing, model selection, dispatch and the
// generate/validate loop. The same pipeline serves every diagram type.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pario-ai/flowsmith/pkg/cache"
	"github.com/pario-ai/flowsmith/pkg/complexity"
	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/dispatch"
	"github.com/pario-ai/flowsmith/pkg/generate"
	"github.com/pario-ai/flowsmith/pkg/metrics"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/normalize"
	"github.com/pario-ai/flowsmith/pkg/selector"
	"github.com/pario-ai/flowsmith/pkg/tasks"
	"github.com/pario-ai/flowsmith/pkg/validate"
)

var tracer = otel.Tracer("flowsmith/pipeline")

// Outcome names the shape of a response.
type Outcome string

const (
	OutcomeDocument Outcome = "document"
	OutcomeSplit    Outcome = "split"
	OutcomeQueued   Outcome = "queued"
)

// Response is the result of Handle. Which fields are set depends on Outcome.
type Response struct {
	Outcome   Outcome
	RequestID string

	Document   string
	Cached     bool
	Similarity *float64
	Simplified bool
	Attempts   int

	JobID         string
	EstimatedTime string

	SubPrompts []string
	Reasoning  string
}

// UsageSink receives one record per finished request.
type UsageSink interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// QuotaChecker rejects generation once a token quota is used up.
type QuotaChecker interface {
	Check(ctx context.Context, model string) error
}

// AuditSink receives one entry per finished request.
type AuditSink interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// Pipeline wires the components together. It holds no per-request state.
type Pipeline struct {
	analyzer   *complexity.Analyzer
	selector   *selector.Selector
	cache      *cache.Manager
	executor   *generate.Executor
	dispatcher *dispatch.Dispatcher
	queue      *tasks.Queue
	usage      UsageSink
	audit      AuditSink
	quota      QuotaChecker
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDispatcher enables deadline-aware background execution. Without it
// every request runs inline with no time budget.
func WithDispatcher(d *dispatch.Dispatcher) Option { return func(p *Pipeline) { p.dispatcher = d } }

// WithTasks runs usage and audit writes on q.
func WithTasks(q *tasks.Queue) Option { return func(p *Pipeline) { p.queue = q } }

// WithUsage records usage per request.
func WithUsage(u UsageSink) Option { return func(p *Pipeline) { p.usage = u } }

// WithAudit records an audit entry per request.
func WithAudit(a AuditSink) Option { return func(p *Pipeline) { p.audit = a } }

// WithQuota checks token quotas before anything is sent to a provider.
// Cache hits are never limited.
func WithQuota(q QuotaChecker) Option { return func(p *Pipeline) { p.quota = q } }

// WithMetrics records router outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New creates a Pipeline. The cache manager may be nil.
func New(a *complexity.Analyzer, s *selector.Selector, c *cache.Manager, e *generate.Executor, opts ...Option) *Pipeline {
	p := &Pipeline{
		analyzer: a,
		selector: s,
		cache:    c,
		executor: e,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// plan is the per-request working state.
type plan struct {
	id         string
	req        models.GenerationRequest
	input      models.NormalizedInput
	language   models.Language
	key        cache.Key
	profile    models.ComplexityProfile
	model      models.ModelProfile
	prompt     string
	simplified bool
	start      time.Time
	background bool
}

// prepare validates req and normalizes its prompt. A prompt that is blank
// once normalized (an empty envelope, a bare code fence) is an input error.
func (p *Pipeline) prepare(req models.GenerationRequest) (*plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	in := normalize.Normalize(req.Prompt)
	if strings.TrimSpace(in.Content) == "" {
		return nil, models.NewError(models.KindInput, "prompt is required", models.ErrInputInvalid)
	}
	lang := in.Language
	if req.Language != "" {
		lang = models.Language{Code: strings.ToLower(req.Language), Name: req.Language}
	}
	return &plan{
		id:       uuid.NewString(),
		req:      req,
		input:    in,
		language: lang,
		key:      cache.Key{Content: in.Content, DiagramType: req.DiagramType, Language: lang.Code},
		prompt:   in.Content,
		start:    time.Now(),
	}, nil
}

// Handle runs the pipeline for a request. Only input errors, rate limits and
// exhausted generation failures are returned as errors.
func (p *Pipeline) Handle(ctx context.Context, req models.GenerationRequest) (*Response, error) {
	pl, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("request_id", pl.id, "diagram_type", req.DiagramType)

	ctx, span := tracer.Start(ctx, "pipeline.handle", trace.WithAttributes(
		attribute.String("request.id", pl.id),
		attribute.String("diagram.type", string(req.DiagramType)),
		attribute.Bool("skip_cache", req.SkipCache),
	))
	defer span.End()

	if resp, ok := p.fromCache(ctx, pl, logger); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return resp, nil
	}

	p.analyze(ctx, pl)
	span.SetAttributes(
		attribute.Float64("complexity.score", pl.profile.Score),
		attribute.String("complexity.recommendation", string(pl.profile.Recommendation)),
	)

	if pl.profile.Recommendation == models.RecommendSplit {
		if parts := complexity.Split(pl.input.Content, pl.profile); len(parts) >= 2 {
			logger.Info("prompt split", "parts", len(parts), "score", pl.profile.Score)
			p.record(pl, nil, nil, "split")
			return &Response{
				Outcome:    OutcomeSplit,
				RequestID:  pl.id,
				SubPrompts: parts,
				Reasoning:  reasoning(pl.profile, len(parts)),
			}, nil
		}
		logger.Info("split recommended but prompt has a single sentence, generating as is")
	}
	p.route(pl)
	if err := p.checkQuota(ctx, pl); err != nil {
		return nil, err
	}

	if p.dispatcher != nil {
		dec := p.dispatcher.Decide(pl.profile, pl.model)
		logger.Info("dispatch decision", "mode", dec.Mode, "estimate", dec.Estimate, "budget", dec.Budget)
		if dec.Mode == dispatch.ModeBackground {
			return p.enqueue(ctx, pl, dec, logger)
		}
	}

	gctx := ctx
	if p.dispatcher != nil {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, p.dispatcher.Budget())
		defer cancel()
	}
	res, err := p.generate(gctx, pl, logger)
	if err != nil {
		if models.KindOf(err) == models.KindTimeoutBudget && p.dispatcher != nil && ctx.Err() == nil {
			logger.Warn("synchronous budget exhausted, moving request to a background job", "error", err)
			p.metrics.Dispatch("fallback")
			dec := dispatch.Decision{Mode: dispatch.ModeBackground, Estimate: p.dispatcher.Budget(), Budget: p.dispatcher.Budget()}
			return p.enqueue(ctx, pl, dec, logger)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &Response{
		Outcome:    OutcomeDocument,
		RequestID:  pl.id,
		Document:   res.Document,
		Simplified: pl.simplified,
		Attempts:   res.Attempts,
	}, nil
}

// RunJob is the background worker body: the same pipeline without the
// synchronous budget or the split shortcut.
func (p *Pipeline) RunJob(ctx context.Context, req models.GenerationRequest) (string, error) {
	pl, err := p.prepare(req)
	if err != nil {
		return "", err
	}
	pl.background = true
	logger := p.logger.With("request_id", pl.id, "diagram_type", req.DiagramType, "background", true)

	if resp, ok := p.fromCache(ctx, pl, logger); ok {
		return resp.Document, nil
	}
	p.analyze(ctx, pl)
	p.route(pl)
	if err := p.checkQuota(ctx, pl); err != nil {
		return "", err
	}
	res, err := p.generate(ctx, pl, logger)
	if err != nil {
		return "", err
	}
	return res.Document, nil
}

func (p *Pipeline) fromCache(ctx context.Context, pl *plan, logger *slog.Logger) (*Response, bool) {
	if pl.req.SkipCache || p.cache == nil {
		return nil, false
	}
	hit, ok := p.cache.Lookup(ctx, pl.key)
	if !ok {
		return nil, false
	}
	logger.Info("cache hit", "tier", hit.Tier, "similarity", hit.Similarity)
	resp := &Response{
		Outcome:   OutcomeDocument,
		RequestID: pl.id,
		Document:  hit.Entry.ResultDocument,
		Cached:    true,
	}
	if hit.Tier == cache.TierSemantic {
		sim := hit.Similarity
		resp.Similarity = &sim
	}
	p.record(pl, &generate.Result{Document: resp.Document, Model: "cache"}, nil, "cached")
	return resp, true
}

func (p *Pipeline) analyze(ctx context.Context, pl *plan) {
	pl.profile = p.analyzer.Analyze(pl.input.Content, pl.req.DiagramType)
	if pl.req.AgentMode {
		pl.profile = p.analyzer.Refine(ctx, pl.input.Content, pl.req.DiagramType, pl.profile)
	}
	p.metrics.Recommendation(string(pl.req.DiagramType), string(pl.profile.Recommendation))
}

func (p *Pipeline) route(pl *plan) {
	if pl.profile.Recommendation == models.RecommendSimplify {
		if simple := complexity.Simplify(pl.input.Content); simple != "" {
			pl.prompt = simple
			pl.simplified = true
		}
	}
	pl.model = p.selector.Select(pl.req.DiagramType, pl.profile, pl.req.AgentMode)
}

func (p *Pipeline) checkQuota(ctx context.Context, pl *plan) error {
	if p.quota == nil {
		return nil
	}
	if err := p.quota.Check(ctx, pl.model.Model); err != nil {
		p.logger.Warn("token quota exhausted", "request_id", pl.id, "model", pl.model.Model, "error", err)
		p.record(pl, nil, err, "failed")
		return err
	}
	return nil
}

func (p *Pipeline) generate(ctx context.Context, pl *plan, logger *slog.Logger) (*generate.Result, error) {
	res, err := p.executor.Generate(ctx, generate.Request{
		Prompt:      pl.prompt,
		DiagramType: pl.req.DiagramType,
		Language:    pl.language,
		Profile:     pl.model,
	})
	if err != nil {
		if models.KindOf(err) != models.KindTimeoutBudget {
			p.record(pl, nil, err, "failed")
		}
		return nil, err
	}

	if p.cache != nil {
		stored := res.Document
		if canon, cerr := validate.Canonicalize(res.Document, diagram.For(pl.req.DiagramType)); cerr == nil {
			stored = canon
		} else {
			logger.Debug("canonicalization failed, caching document as produced", "error", cerr)
		}
		p.cache.Store(pl.key, pl.input.Content, stored)
	}
	p.record(pl, res, nil, "generated")
	return res, nil
}

func (p *Pipeline) enqueue(ctx context.Context, pl *plan, dec dispatch.Decision, logger *slog.Logger) (*Response, error) {
	job, err := p.dispatcher.Submit(ctx, pl.req, p.RunJob)
	if err != nil {
		logger.Error("job creation failed", "error", err)
		return nil, models.NewError(models.KindInternal, "could not schedule background generation", err)
	}
	logger.Info("background job created", "job_id", job.ID, "estimate", dec.Estimate)
	p.record(pl, nil, nil, "queued")
	return &Response{
		Outcome:       OutcomeQueued,
		RequestID:     pl.id,
		JobID:         job.ID,
		EstimatedTime: dec.EstimatedTime(),
		Simplified:    pl.simplified,
	}, nil
}

// record writes usage and audit rows off the request path.
func (p *Pipeline) record(pl *plan, res *generate.Result, genErr error, outcome string) {
	if p.usage == nil && p.audit == nil {
		return
	}
	latency := time.Since(pl.start).Milliseconds()
	entry := models.AuditEntry{
		RequestID:   pl.id,
		DiagramType: pl.req.DiagramType,
		Model:       pl.model.Model,
		Provider:    pl.model.Provider,
		Prompt:      pl.input.Content,
		Outcome:     outcome,
		Cached:      outcome == "cached",
		Score:       pl.profile.Score,
		LatencyMs:   latency,
		CreatedAt:   time.Now().UTC(),
	}
	if res != nil {
		entry.Model = res.Model
		entry.Document = res.Document
		entry.Attempts = res.Attempts
	}
	if genErr != nil {
		entry.ErrorKind = models.KindOf(genErr)
		var ge *models.GenerationError
		if errors.As(genErr, &ge) {
			entry.Attempts = ge.Attempts
		}
	}

	if p.audit != nil {
		p.background("audit", func(ctx context.Context) error { return p.audit.Log(ctx, entry) })
	}
	if p.usage != nil && res != nil {
		rec := models.UsageRecord{
			RequestID:        pl.id,
			Model:            entry.Model,
			DiagramType:      pl.req.DiagramType,
			Fidelity:         string(res.Fidelity),
			Attempts:         res.Attempts,
			Cached:           entry.Cached,
			Background:       pl.background,
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
			LatencyMs:        latency,
			CreatedAt:        entry.CreatedAt,
		}
		p.background("usage", func(ctx context.Context) error { return p.usage.Record(ctx, rec) })
	}
}

func (p *Pipeline) background(name string, fn tasks.Func) {
	if p.queue != nil {
		p.queue.Submit(name, fn)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			p.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

func reasoning(pr models.ComplexityProfile, parts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "complexity score %.1f", pr.Score)
	c := pr.Counts
	fmt.Fprintf(&b, " (%d actors, %d decisions, %d events, %d timers, %d characters)",
		c.Actors, c.Gateways, c.Events, c.Timers, pr.Length)
	if pr.Escalated && len(pr.Reasons) > 0 {
		fmt.Fprintf(&b, "; %s", pr.Reasons[0])
	}
	fmt.Fprintf(&b, "; generate the %d parts separately", parts)
	return b.String()
}

// Package generate runs the bounded generate, sanitize and validate loop
// against a provider.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/layout"
	"github.com/pario-ai/flowsmith/pkg/llm"
	"github.com/pario-ai/flowsmith/pkg/metrics"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/validate"
)

var tracer = otel.Tracer("flowsmith/generate")

// Request is one generation run.
type Request struct {
	Prompt      string
	DiagramType models.DiagramType
	Language    models.Language
	Profile     models.ModelProfile
}

// Result is a validated document and what it cost to produce.
type Result struct {
	Document string
	Attempts int
	Model    string
	Fidelity models.FidelityMode
	Usage    models.Usage
	// Repairs counts sanitizer fixes applied to the accepted document.
	Repairs int
	// LaidOut is set when the layout section was computed locally.
	LaidOut bool
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor calls the provider until it returns a valid document or the
// attempt bound is reached.
type Executor struct {
	provider llm.Provider
	layout   layout.Engine
	cfg      config.GenerationConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    SleepFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithLayout sets the engine used for structure-only output.
func WithLayout(l layout.Engine) Option { return func(e *Executor) { e.layout = l } }

// WithMetrics records attempts and durations.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(s SleepFunc) Option { return func(e *Executor) { e.sleep = s } }

// New creates an Executor.
func New(p llm.Provider, cfg config.GenerationConfig, opts ...Option) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	e := &Executor{
		provider: p,
		layout:   layout.NewLayered(),
		cfg:      cfg,
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Generate runs the retry loop. Rate limits and unclassified provider
// failures end the loop at once; overload, empty responses and validation
// failures are retried with exponential backoff.
func (e *Executor) Generate(ctx context.Context, req Request) (*Result, error) {
	s := diagram.For(req.DiagramType)
	mp := req.Profile
	logger := e.logger.With("diagram_type", req.DiagramType, "model", mp.Model, "fidelity", mp.Fidelity)

	ctx, span := tracer.Start(ctx, "generate.run", trace.WithAttributes(
		attribute.String("diagram.type", string(req.DiagramType)),
		attribute.String("model", mp.Model),
		attribute.String("fidelity", string(mp.Fidelity)),
	))
	defer span.End()

	start := time.Now()
	res, err := e.loop(ctx, req, s, logger)
	e.metrics.Generation(string(req.DiagramType), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("attempts", res.Attempts))
	return res, nil
}

func (e *Executor) loop(ctx context.Context, req Request, s *diagram.Strategy, logger *slog.Logger) (*Result, error) {
	mp := req.Profile
	var (
		usage       models.Usage
		last        models.ValidationResult
		providerErr error
	)
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.backoff(attempt-1)); err != nil {
				return nil, budgetError(err, attempt-1)
			}
		}

		actx, span := tracer.Start(ctx, "generate.attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))
		comp, err := e.provider.Complete(actx, llm.CompletionRequest{
			Provider:    mp.Provider,
			Model:       mp.Model,
			System:      s.SystemPrompt(mp.Fidelity),
			Prompt:      BuildPrompt(req.Prompt, req.Language, s, mp.Fidelity, attempt, last),
			MaxTokens:   mp.MaxOutputTokens,
			Temperature: mp.Temperature,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			if ctx.Err() != nil {
				return nil, budgetError(ctx.Err(), attempt)
			}
			kind := models.KindOf(err)
			e.metrics.Attempt(mp.Model, string(kind))
			logger.Warn("provider attempt failed", "attempt", attempt, "kind", kind, "error", err)
			switch kind {
			case models.KindOverloaded:
				providerErr = err
				continue
			case models.KindEmptyResponse:
				providerErr = nil
				last = models.Invalid(models.ViolationEmptyResponse, "the previous response contained no document")
				continue
			default:
				return nil, withAttempts(err, attempt)
			}
		}
		providerErr = nil
		usage.Add(comp.Usage)

		doc, res, report, laidOut := e.check(ExtractPayload(comp.Content, s), s, mp.Fidelity)
		span.SetAttributes(attribute.Bool("valid", res.Valid), attribute.String("violation", string(res.Kind)))
		span.End()

		if res.Valid {
			e.metrics.Attempt(mp.Model, "valid")
			logger.Info("document accepted", "attempt", attempt, "repairs", repairs(report), "laid_out", laidOut)
			model := comp.Model
			if model == "" {
				model = mp.Model
			}
			return &Result{
				Document: doc,
				Attempts: attempt,
				Model:    model,
				Fidelity: mp.Fidelity,
				Usage:    usage,
				Repairs:  repairs(report),
				LaidOut:  laidOut,
			}, nil
		}
		e.metrics.Attempt(mp.Model, "invalid")
		logger.Info("document rejected", "attempt", attempt, "violation", res.Kind, "details", res.Details)
		last = res
	}

	if providerErr != nil {
		return nil, withAttempts(providerErr, e.cfg.MaxAttempts)
	}
	return nil, &models.GenerationError{
		Kind:     models.KindValidation,
		Message:  "could not produce a valid diagram: " + last.String(),
		Attempts: e.cfg.MaxAttempts,
		Err:      models.ErrValidation,
	}
}

// check sanitizes and validates one payload. Structure-only output is first
// checked without the layout requirement, then laid out locally and checked
// again as a complete document.
func (e *Executor) check(payload string, s *diagram.Strategy, mode models.FidelityMode) (string, models.ValidationResult, validate.SanitizeReport, bool) {
	doc, report := validate.Sanitize(payload, s)
	if mode != models.FidelityStructureOnly || !s.SupportsAutoLayout || e.layout == nil {
		return doc, validate.Validate(doc, s, validate.Options{}), report, false
	}
	if res := validate.Validate(doc, s, validate.Options{LayoutPending: true}); !res.Valid {
		return doc, res, report, false
	}
	merged, err := e.layout.Apply(doc, s)
	if err != nil {
		return doc, models.Invalid(models.ViolationLayoutFailed, err.Error()), report, false
	}
	return merged, validate.Validate(merged, s, validate.Options{}), report, merged != doc
}

func (e *Executor) backoff(failed int) time.Duration {
	return e.cfg.BaseBackoff * time.Duration(1<<(failed-1))
}

func repairs(r validate.SanitizeReport) int {
	n := r.RenamedPrefixes + r.ClosedTags + r.EscapedAmpersands
	for _, c := range r.Removed {
		n += c
	}
	return n
}

func withAttempts(err error, attempts int) error {
	var ge *models.GenerationError
	if errors.As(err, &ge) {
		cp := *ge
		cp.Attempts = attempts
		return &cp
	}
	return &models.GenerationError{Kind: models.KindOf(err), Message: err.Error(), Attempts: attempts, Err: err}
}

func budgetError(err error, attempts int) error {
	return &models.GenerationError{
		Kind:     models.KindTimeoutBudget,
		Message:  "generation did not finish within the execution budget",
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %w", models.ErrBudgetExceeded, err),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

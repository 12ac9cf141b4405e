// Package complexity scores normalized prompts and decides whether they can be
// generated in one pass, should be simplified first, or must be split.
package complexity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// Classifier is an optional second opinion for borderline prompts.
type Classifier interface {
	Classify(ctx context.Context, prompt string, dt models.DiagramType) (models.Recommendation, error)
}

// Analyzer computes ComplexityProfiles. The zero-value weights are never used;
// construct with New.
type Analyzer struct {
	cfg        config.ComplexityConfig
	classifier Classifier
	logger     *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClassifier enables borderline refinement.
func WithClassifier(c Classifier) Option {
	return func(a *Analyzer) { a.classifier = c }
}

// WithLogger sets the logger used for refinement outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New creates an Analyzer.
func New(cfg config.ComplexityConfig, opts ...Option) *Analyzer {
	a := &Analyzer{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	if a.cfg.MaxScore <= 0 {
		a.cfg.MaxScore = 10
	}
	return a
}

// Analyze is a pure function of the prompt and diagram type.
func (a *Analyzer) Analyze(prompt string, dt models.DiagramType) models.ComplexityProfile {
	counts := Count(prompt)
	p := a.Profile(counts, len(prompt), dt)
	s := diagram.For(dt)
	p.EstimatedElements = estimateElements(counts, countSteps(prompt))
	p.EstimatedOutputTokens = p.EstimatedElements * s.TokensPerElement
	return p
}

// Profile scores pre-computed counts. It is exposed so the monotonicity of the
// scoring function can be checked without synthesising text.
func (a *Analyzer) Profile(c models.SignalCounts, length int, dt models.DiagramType) models.ComplexityProfile {
	score := a.Score(c, length)
	rec := a.recommend(score)
	p := models.ComplexityProfile{
		Score:          score,
		Counts:         c,
		Length:         length,
		Recommendation: rec,
	}

	switch {
	case c.Actors >= 2 && c.Timers >= 1 && c.Routing >= 1:
		p.Reasons = append(p.Reasons, "multi-actor prompt with timers and routing")
		p.Escalated = true
	case dt == models.DiagramPID && score >= a.cfg.T1/2:
		p.Reasons = append(p.Reasons, "pid diagrams are prone to truncation")
		p.Escalated = true
	}
	if p.Escalated && rec != models.RecommendSplit {
		p.Recommendation = rec.Escalate()
	}
	if !p.Escalated {
		p.Reasons = append(p.Reasons, fmt.Sprintf("score %.2f against thresholds %.1f/%.1f", score, a.cfg.T1, a.cfg.T2))
	}
	return p
}

// Score combines the counts with the named weights, clamped to [0, MaxScore].
func (a *Analyzer) Score(c models.SignalCounts, length int) float64 {
	w := a.cfg.Weights
	raw := w.Actor*float64(c.Actors) +
		w.Gateway*float64(c.Gateways) +
		w.Event*float64(c.Events) +
		w.Timer*float64(c.Timers) +
		w.Loop*float64(c.Loops) +
		w.Swimlane*float64(c.Swimlanes) +
		w.Subprocess*float64(c.Subprocesses) +
		w.LengthPer1K*float64(length)/1000
	raw = math.Round(raw*100) / 100
	return math.Max(0, math.Min(a.cfg.MaxScore, raw))
}

func (a *Analyzer) recommend(score float64) models.Recommendation {
	switch {
	case score >= a.cfg.T2:
		return models.RecommendSplit
	case score >= a.cfg.T1:
		return models.RecommendSimplify
	}
	return models.RecommendGenerate
}

// Borderline reports whether score sits close enough to a threshold to be
// worth a provider opinion.
func (a *Analyzer) Borderline(score float64) bool {
	band := a.cfg.BorderlineBand
	if band <= 0 {
		return false
	}
	return math.Abs(score-a.cfg.T1) <= band || math.Abs(score-a.cfg.T2) <= band
}

type classifyResult struct {
	rec models.Recommendation
	err error
}

// Refine asks the classifier about borderline prompts. The heuristic result is
// kept on timeout, error, or an answer more than one tier away. The classifier
// call is abandoned, not cancelled, when the timeout fires.
func (a *Analyzer) Refine(ctx context.Context, prompt string, dt models.DiagramType, p models.ComplexityProfile) models.ComplexityProfile {
	if a.classifier == nil || !a.Borderline(p.Score) {
		return p
	}
	timeout := a.cfg.RefineTimeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}

	done := make(chan classifyResult, 1)
	go func() {
		rec, err := a.classifier.Classify(ctx, prompt, dt)
		done <- classifyResult{rec, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			a.logger.Debug("complexity refinement failed", "error", res.err)
			return p
		}
		diff := res.rec.Severity() - p.Recommendation.Severity()
		if diff == 0 || diff > 1 || diff < -1 {
			return p
		}
		out := p
		out.Recommendation = res.rec
		out.Refined = true
		out.Reasons = append(append([]string(nil), p.Reasons...), "refined by provider classification")
		return out
	case <-timer.C:
		a.logger.Debug("complexity refinement timed out", "timeout", timeout)
		return p
	case <-ctx.Done():
		return p
	}
}

// estimateElements approximates how many diagram elements a prompt yields:
// start and end events, the described steps, and the structural signals.
func estimateElements(c models.SignalCounts, steps int) int {
	return 2 + steps + 2*c.Gateways + c.Timers + c.Loops + 3*c.Subprocesses + c.Swimlanes
}

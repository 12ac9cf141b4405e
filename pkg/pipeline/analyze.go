package pipeline

import (
	"context"

	"github.com/pario-ai/flowsmith/pkg/complexity"
	"github.com/pario-ai/flowsmith/pkg/dispatch"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// Analysis is a dry run of the routing decisions for a request. Nothing is
// generated or cached.
type Analysis struct {
	Language         models.Language          `json:"language"`
	Profile          models.ComplexityProfile `json:"profile"`
	Model            models.ModelProfile      `json:"model"`
	Dispatch         dispatch.Mode            `json:"dispatch,omitempty"`
	EstimatedTime    string                   `json:"estimatedTime,omitempty"`
	SimplifiedPrompt string                   `json:"simplifiedPrompt,omitempty"`
	SubPrompts       []string                 `json:"subPrompts,omitempty"`
	PromptHash       string                   `json:"promptHash"`
}

// Analyze reports how Handle would route req.
func (p *Pipeline) Analyze(ctx context.Context, req models.GenerationRequest) (*Analysis, error) {
	pl, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	p.analyze(ctx, pl)

	out := &Analysis{
		Language:   pl.language,
		Profile:    pl.profile,
		PromptHash: pl.key.Hash(),
	}
	if pl.profile.Recommendation == models.RecommendSplit {
		out.SubPrompts = complexity.Split(pl.input.Content, pl.profile)
	}
	p.route(pl)
	out.Model = pl.model
	if pl.simplified {
		out.SimplifiedPrompt = pl.prompt
	}
	if p.dispatcher != nil {
		dec := p.dispatcher.Estimate(pl.profile, pl.model)
		out.Dispatch = dec.Mode
		out.EstimatedTime = dec.EstimatedTime()
	}
	return out, nil
}

package complexity

import (
	"context"
	"fmt"
	"strings"

	"github.com/pario-ai/flowsmith/pkg/llm"
	"github.com/pario-ai/flowsmith/pkg/models"
)

const classifySystem = `You grade how hard it is to draw a process description as a single diagram.
Answer with exactly one word:
generate - small enough to draw in one pass
simplify - draw after trimming elaboration
split - too large, must be split into parts`

// LLMClassifier asks a provider for a one-word recommendation.
type LLMClassifier struct {
	provider llm.Provider
	target   llm.CompletionRequest
}

// NewLLMClassifier uses provider/model with a small deterministic budget.
func NewLLMClassifier(p llm.Provider, providerName, model string) *LLMClassifier {
	return &LLMClassifier{
		provider: p,
		target: llm.CompletionRequest{
			Provider:    providerName,
			Model:       model,
			System:      classifySystem,
			MaxTokens:   5,
			Temperature: 0,
		},
	}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, prompt string, dt models.DiagramType) (models.Recommendation, error) {
	req := c.target
	req.Prompt = fmt.Sprintf("Diagram type: %s\n\n%s", dt, prompt)
	out, err := c.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return ParseRecommendation(out.Content)
}

// ParseRecommendation reads the first recognised word of a classifier answer.
func ParseRecommendation(s string) (models.Recommendation, error) {
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,:;!\"'`*")
		switch models.Recommendation(w) {
		case models.RecommendGenerate, models.RecommendSimplify, models.RecommendSplit:
			return models.Recommendation(w), nil
		}
	}
	return "", fmt.Errorf("unrecognised recommendation %q", s)
}

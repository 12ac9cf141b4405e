// Package selector maps a diagram type and complexity profile to the model
// configuration used for generation.
package selector

import (
	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/router"
)

// minOutputTokens keeps small prompts from getting a truncating budget.
const minOutputTokens = 2048

// Selector is a pure mapping; it never fails.
type Selector struct {
	cfg    config.SelectorConfig
	router *router.Router
}

// New creates a Selector. A nil router resolves to the tier default models on
// the default provider.
func New(cfg config.SelectorConfig, r *router.Router) *Selector {
	return &Selector{cfg: cfg, router: r}
}

// Tier picks the capability tier. P&ID, high scores, anything the router did
// not clear for direct generation, and agent mode all go to the smart tier.
func (s *Selector) Tier(dt models.DiagramType, p models.ComplexityProfile, agentMode bool) models.Tier {
	if dt == models.DiagramPID || agentMode ||
		p.Score >= s.cfg.HighComplexityScore ||
		p.Recommendation != models.RecommendGenerate {
		return models.TierSmart
	}
	return models.TierFast
}

// Select returns the ModelProfile for one request.
func (s *Selector) Select(dt models.DiagramType, p models.ComplexityProfile, agentMode bool) models.ModelProfile {
	tier := s.Tier(dt, p, agentMode)
	mp := models.ModelProfile{Tier: tier}

	if tier == models.TierSmart {
		mp.Temperature = s.cfg.SmartTemperature
		mp.MaxOutputTokens = s.cfg.SmartMaxTokens
	} else {
		mp.Temperature = s.cfg.FastTemperature
		mp.MaxOutputTokens = s.cfg.FastMaxTokens
	}
	if mp.MaxOutputTokens < minOutputTokens {
		mp.MaxOutputTokens = minOutputTokens
	}

	strategy := diagram.For(dt)
	mp.Fidelity = strategy.Fidelity(p.EstimatedOutputTokens)
	// A full-fidelity document that cannot fit the budget drops to compact.
	if mp.Fidelity == models.FidelityFull && p.EstimatedOutputTokens > mp.MaxOutputTokens {
		mp.Fidelity = models.FidelityCompact
	}

	mp.Model = router.DefaultModels[tier]
	if s.router != nil {
		if route, err := s.router.Primary(tier); err == nil {
			mp.Provider = route.Provider.Name
			mp.Model = route.Model
		}
	}
	return mp
}

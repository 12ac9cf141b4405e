package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/router"
)

func newSelector() *Selector {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{Name: "openai"}}
	cfg.Router.Routes = []config.RouteConfig{
		{Tier: models.TierSmart, Targets: []config.RouteTarget{{Provider: "openai", Model: "big-model"}}},
		{Tier: models.TierFast, Targets: []config.RouteTarget{{Provider: "openai", Model: "small-model"}}},
	}
	return New(cfg.Selector, router.New(cfg))
}

func simple() models.ComplexityProfile {
	return models.ComplexityProfile{Score: 1, Recommendation: models.RecommendGenerate, EstimatedOutputTokens: 900}
}

func TestSelectFastForSimpleBPMN(t *testing.T) {
	mp := newSelector().Select(models.DiagramBPMN, simple(), false)
	assert.Equal(t, models.TierFast, mp.Tier)
	assert.Equal(t, "small-model", mp.Model)
	assert.Equal(t, "openai", mp.Provider)
	assert.Equal(t, float32(0.5), mp.Temperature)
	assert.Equal(t, models.FidelityFull, mp.Fidelity)
}

func TestSelectSmartTier(t *testing.T) {
	s := newSelector()
	cases := map[string]struct {
		dt    models.DiagramType
		p     models.ComplexityProfile
		agent bool
	}{
		"pid":        {models.DiagramPID, simple(), false},
		"high score": {models.DiagramBPMN, models.ComplexityProfile{Score: 6, Recommendation: models.RecommendSimplify}, false},
		"simplify":   {models.DiagramBPMN, models.ComplexityProfile{Score: 1, Recommendation: models.RecommendSimplify}, false},
		"agent mode": {models.DiagramBPMN, simple(), true},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			mp := s.Select(c.dt, c.p, c.agent)
			assert.Equal(t, models.TierSmart, mp.Tier)
			assert.Equal(t, "big-model", mp.Model)
			assert.Equal(t, float32(0.2), mp.Temperature)
			assert.Greater(t, mp.MaxOutputTokens, config.Default().Selector.FastMaxTokens)
		})
	}
}

func TestFidelityEscalation(t *testing.T) {
	s := newSelector()
	p := simple()

	p.EstimatedOutputTokens = 6000
	assert.Equal(t, models.FidelityCompact, s.Select(models.DiagramBPMN, p, false).Fidelity)

	p.EstimatedOutputTokens = 20000
	assert.Equal(t, models.FidelityStructureOnly, s.Select(models.DiagramBPMN, p, false).Fidelity)

	// DMN never drops layout entirely.
	assert.Equal(t, models.FidelityCompact, s.Select(models.DiagramDMN, p, false).Fidelity)
}

func TestSelectWithoutRouter(t *testing.T) {
	mp := New(config.Default().Selector, nil).Select(models.DiagramBPMN, simple(), false)
	assert.Equal(t, router.DefaultModels[models.TierFast], mp.Model)
	assert.Empty(t, mp.Provider)
}

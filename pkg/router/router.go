package router

import (
	"fmt"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// DefaultModels is used for a tier with no configured route.
var DefaultModels = map[models.Tier]string{
	models.TierFast:  "gpt-4o-mini",
	models.TierSmart: "gpt-4o",
}

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router resolves capability tiers to ordered provider+model chains.
type Router struct {
	cfg *config.Config
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve returns an ordered list of routes for the tier.
// If the tier matches a configured route, the route's targets are returned.
// Otherwise, the first provider is used with the tier's default model.
func (r *Router) Resolve(tier models.Tier) ([]Route, error) {
	if len(r.cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	providerIndex := make(map[string]config.ProviderConfig, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		providerIndex[p.Name] = p
	}

	for _, route := range r.cfg.Router.Routes {
		if route.Tier != tier {
			continue
		}
		var routes []Route
		for _, target := range route.Targets {
			provider, ok := providerIndex[target.Provider]
			if !ok {
				continue // skip unknown providers
			}
			model := target.Model
			if model == "" {
				model = DefaultModels[tier]
			}
			routes = append(routes, Route{Provider: provider, Model: model})
		}
		if len(routes) == 0 {
			return nil, fmt.Errorf("route %q: all providers unknown", tier)
		}
		return routes, nil
	}

	model, ok := DefaultModels[tier]
	if !ok {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	return []Route{{Provider: r.cfg.Providers[0], Model: model}}, nil
}

// Primary returns the first route for the tier.
func (r *Router) Primary(tier models.Tier) (Route, error) {
	routes, err := r.Resolve(tier)
	if err != nil {
		return Route{}, err
	}
	return routes[0], nil
}

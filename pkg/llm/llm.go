// Package llm wraps OpenAI-compatible providers behind the small interfaces
// the pipeline needs and maps their failures onto the generation error kinds.
package llm

import (
	"context"
	"fmt"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// CompletionRequest is one provider call.
type CompletionRequest struct {
	Provider    string
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Completion is the raw provider output.
type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        models.Usage
}

// Provider generates text.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req CompletionRequest) (*Completion, error)

// Complete implements Provider.
func (f ProviderFunc) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	return f(ctx, req)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Registry dispatches completions to named providers.
type Registry struct {
	clients map[string]*OpenAIClient
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*OpenAIClient)}
}

// Register adds a client. The first registered client is the default.
func (r *Registry) Register(c *OpenAIClient) {
	if _, ok := r.clients[c.name]; !ok {
		r.order = append(r.order, c.name)
	}
	r.clients[c.name] = c
}

// Client returns the named client, or the default for an empty name.
func (r *Registry) Client(name string) (*OpenAIClient, error) {
	if name == "" {
		if len(r.order) == 0 {
			return nil, fmt.Errorf("no providers configured")
		}
		name = r.order[0]
	}
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return c, nil
}

// Complete implements Provider.
func (r *Registry) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	c, err := r.Client(req.Provider)
	if err != nil {
		return nil, models.NewError(models.KindProvider, err.Error(), err)
	}
	return c.Complete(ctx, req)
}

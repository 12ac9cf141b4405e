package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// StatusOverloaded is the non-standard status some providers use for overload.
const StatusOverloaded = 529

// OpenAIClient talks to one OpenAI-compatible endpoint.
type OpenAIClient struct {
	name    string
	client  *openai.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	embedModel string
	embedDims  int
}

// NewOpenAIClient builds a client for a configured provider.
func NewOpenAIClient(pc config.ProviderConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	var cc openai.ClientConfig
	if pc.Type == "azure" {
		cc = openai.DefaultAzureConfig(pc.APIKey, pc.URL)
	} else {
		cc = openai.DefaultConfig(pc.APIKey)
		if pc.URL != "" {
			cc.BaseURL = strings.TrimRight(pc.URL, "/")
		}
	}
	timeout := pc.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	cc.HTTPClient = &http.Client{Timeout: timeout}

	c := &OpenAIClient{
		name:   pc.Name,
		client: openai.NewClientWithConfig(cc),
		logger: logger.With("provider", pc.Name),
	}
	if pc.RequestsPerSecond > 0 {
		burst := pc.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(pc.RequestsPerSecond), burst)
	}
	return c
}

// WithEmbeddings configures the embedding model used by Embed.
func (c *OpenAIClient) WithEmbeddings(model string, dims int) *OpenAIClient {
	c.embedModel = model
	c.embedDims = dims
	return c
}

// Name returns the configured provider name.
func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return models.NewError(models.KindRateLimited, "local request budget exhausted", fmt.Errorf("%w: %w", models.ErrRateLimited, err))
	}
	return nil
}

// Complete implements Provider.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		c.logger.Warn("chat completion failed", "model", req.Model, "error", err)
		return nil, Classify(err)
	}
	c.logger.Debug("chat completion", "model", resp.Model, "latency_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, models.NewError(models.KindEmptyResponse, "provider returned no content", models.ErrEmptyResponse)
	}
	return &Completion{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Embed implements Embedder.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedModel == "" {
		return nil, fmt.Errorf("provider %s: no embedding model configured", c.name)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.embedModel),
		Dimensions: c.embedDims,
	})
	if err != nil {
		return nil, Classify(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("provider %s: empty embedding", c.name)
	}
	return resp.Data[0].Embedding, nil
}

// Classify maps a provider error onto the generation error kinds: 429 is a
// rate limit, 503/529 or an overloaded error type is transient overload, and
// anything else is a non-retryable provider failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ge *models.GenerationError
	if errors.As(err, &ge) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Type, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, "", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.KindOverloaded, "provider call timed out", fmt.Errorf("%w: %w", models.ErrOverloaded, err))
	}
	return models.NewError(models.KindProvider, "provider request failed", err)
}

func classifyStatus(status int, errType string, err error) error {
	switch {
	case status == http.StatusTooManyRequests || errType == "rate_limit_error":
		return models.NewError(models.KindRateLimited, "provider rate limit reached", fmt.Errorf("%w: %w", models.ErrRateLimited, err))
	case status == http.StatusServiceUnavailable || status == StatusOverloaded || errType == "overloaded_error":
		return models.NewError(models.KindOverloaded, "provider overloaded", fmt.Errorf("%w: %w", models.ErrOverloaded, err))
	}
	return models.NewError(models.KindProvider, fmt.Sprintf("provider error (status %d)", status), err)
}

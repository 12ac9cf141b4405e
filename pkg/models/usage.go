package models

import "time"

// Usage represents token usage from a provider response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

// UsageRecord tracks one finished generation.
type UsageRecord struct {
	ID               int64       `json:"id"`
	RequestID        string      `json:"request_id"`
	Model            string      `json:"model"`
	DiagramType      DiagramType `json:"diagram_type"`
	Fidelity         string      `json:"fidelity,omitempty"`
	Attempts         int         `json:"attempts"`
	Cached           bool        `json:"cached"`
	Background       bool        `json:"background"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	TotalTokens      int         `json:"total_tokens"`
	LatencyMs        int64       `json:"latency_ms"`
	CreatedAt        time.Time   `json:"created_at"`
}

// UsageSummary aggregates usage per model and diagram type.
type UsageSummary struct {
	Model           string      `json:"model"`
	DiagramType     DiagramType `json:"diagram_type"`
	RequestCount    int         `json:"request_count"`
	CachedCount     int         `json:"cached_count"`
	TotalAttempts   int         `json:"total_attempts"`
	TotalPrompt     int         `json:"total_prompt"`
	TotalCompletion int         `json:"total_completion"`
	TotalTokens     int         `json:"total_tokens"`
	AvgLatencyMs    float64     `json:"avg_latency_ms"`
}

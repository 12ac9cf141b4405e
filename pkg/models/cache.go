package models

import "time"

// CacheEntry stores a validated generation result.
type CacheEntry struct {
	ID             string      `json:"id"`
	PromptHash     string      `json:"prompt_hash"`
	PromptText     string      `json:"prompt_text"`
	Embedding      []float32   `json:"embedding,omitempty"`
	DiagramType    DiagramType `json:"diagram_type"`
	Language       string      `json:"language"`
	ResultDocument string      `json:"result_document"`
	HitCount       int64       `json:"hit_count"`
	CreatedAt      time.Time   `json:"created_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries        int64 `json:"entries"`
	WithEmbeddings int64 `json:"with_embeddings"`
	TotalHits      int64 `json:"total_hits"`
	Hits           int64 `json:"hits"`
	SemanticHits   int64 `json:"semantic_hits"`
	Misses         int64 `json:"misses"`
}

// Package weaviate stores cache embeddings in a Weaviate class so the
// semantic tier can run nearest-neighbour queries outside SQLite.
package weaviate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	wmodels "github.com/weaviate/weaviate/entities/models"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// objectNamespace derives stable object IDs from cache keys, so re-indexing a
// key overwrites the previous vector.
var objectNamespace = uuid.MustParse("7d1c3f0e-5b7a-4a8e-9f3c-2e6b1d0a9c41")

// Index is a vector index over cache entries.
type Index struct {
	client *weaviate.Client
	class  string
	logger *slog.Logger
}

// NewIndex connects to the Weaviate instance described by cfg.
func NewIndex(cfg config.WeaviateConfig, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	class := cfg.Class
	if class == "" {
		class = "DiagramCache"
	}
	return &Index{client: client, class: class, logger: logger}, nil
}

// Schema returns the class definition used for cache vectors.
func (ix *Index) Schema() *wmodels.Class {
	filterable := true
	field := func(name, desc string) *wmodels.Property {
		return &wmodels.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     desc,
			IndexFilterable: &filterable,
			Tokenization:    "field",
		}
	}
	return &wmodels.Class{
		Class:       ix.class,
		Description: "Embeddings of prompts with a cached diagram document.",
		Vectorizer:  "none",
		Properties: []*wmodels.Property{
			field("promptHash", "Exact-tier key of the cached entry."),
			field("diagramType", "Diagram family of the cached document."),
			field("language", "Detected prompt language."),
		},
	}
}

// EnsureSchema creates the class if it does not exist. It is idempotent.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	if _, err := ix.client.Schema().ClassGetter().WithClassName(ix.class).Do(ctx); err == nil {
		return nil
	}
	ix.logger.Info("creating weaviate cache class", "class", ix.class)
	if err := ix.client.Schema().ClassCreator().WithClass(ix.Schema()).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class %s: %w", ix.class, err)
	}
	return nil
}

// ObjectID returns the Weaviate object ID for a cache key.
func ObjectID(promptHash string, dt models.DiagramType) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(promptHash+"|"+string(dt))).String())
}

// Index writes the entry's embedding. Entries without one are skipped.
func (ix *Index) Index(ctx context.Context, e models.CacheEntry) error {
	if len(e.Embedding) == 0 {
		return nil
	}
	obj := &wmodels.Object{
		Class:  ix.class,
		ID:     ObjectID(e.PromptHash, e.DiagramType),
		Vector: e.Embedding,
		Properties: map[string]interface{}{
			"promptHash":  e.PromptHash,
			"diagramType": string(e.DiagramType),
			"language":    e.Language,
		},
	}
	res, err := ix.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate index: %w", err)
	}
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate index: %s", r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Nearest returns the prompt hash of the closest vector of type dt and its
// cosine similarity.
func (ix *Index) Nearest(ctx context.Context, vec []float32, dt models.DiagramType) (string, float64, error) {
	where := filters.Where().
		WithPath([]string{"diagramType"}).
		WithOperator(filters.Equal).
		WithValueString(string(dt))

	nearVector := ix.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "promptHash"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	result, err := ix.client.GraphQL().Get().
		WithClassName(ix.class).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("weaviate nearest: %w", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return "", 0, fmt.Errorf("weaviate nearest: %s", strings.Join(msgs, "; "))
	}
	return parseNearest(result.Data, ix.class)
}

// parseNearest reads the first hit of a Get query. The class uses the
// default cosine distance, so similarity is 1 - distance.
func parseNearest(data map[string]wmodels.JSONObject, class string) (string, float64, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return "", 0, fmt.Errorf("weaviate nearest: unexpected response shape")
	}
	hits, _ := get[class].([]interface{})
	if len(hits) == 0 {
		return "", 0, models.ErrNotFound
	}
	hit, ok := hits[0].(map[string]interface{})
	if !ok {
		return "", 0, fmt.Errorf("weaviate nearest: unexpected hit shape")
	}
	hash, _ := hit["promptHash"].(string)
	if hash == "" {
		return "", 0, models.ErrNotFound
	}
	add, _ := hit["_additional"].(map[string]interface{})
	dist, ok := add["distance"].(float64)
	if !ok {
		return "", 0, fmt.Errorf("weaviate nearest: missing distance")
	}
	return hash, 1 - dist, nil
}

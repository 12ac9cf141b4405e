// Package cache is the two-tier result cache: an exact tier keyed by the
// prompt hash and an optional semantic tier over prompt embeddings. Reads are
// best-effort and never fail a request; writes happen off the request path.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/llm"
	"github.com/pario-ai/flowsmith/pkg/metrics"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/normalize"
	"github.com/pario-ai/flowsmith/pkg/tasks"
)

var tracer = otel.Tracer("flowsmith/cache")

// Store persists cache entries. Upsert must be unique on
// (PromptHash, DiagramType) and update on conflict.
type Store interface {
	Get(ctx context.Context, promptHash string, dt models.DiagramType) (*models.CacheEntry, error)
	Upsert(ctx context.Context, e models.CacheEntry) error
	RecordHit(ctx context.Context, promptHash string, dt models.DiagramType) error
	Stats(ctx context.Context) (models.CacheStats, error)
}

// VectorIndex answers nearest-neighbour queries over entry embeddings.
type VectorIndex interface {
	Index(ctx context.Context, e models.CacheEntry) error
	Nearest(ctx context.Context, vec []float32, dt models.DiagramType) (promptHash string, similarity float64, err error)
}

// Key identifies a request for caching purposes.
type Key struct {
	Content     string
	DiagramType models.DiagramType
	Language    string
}

// Hash is the exact-tier key.
func (k Key) Hash() string {
	return HashPrompt(k.Content, k.DiagramType, k.Language)
}

// HashPrompt derives the prompt hash from the normalized content, diagram
// type and language. Casing and whitespace differences do not change it.
func HashPrompt(content string, dt models.DiagramType, language string) string {
	h := sha256.New()
	h.Write([]byte(normalize.CanonicalKey(content)))
	h.Write([]byte{0})
	h.Write([]byte(dt))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(language)))
	return hex.EncodeToString(h.Sum(nil))
}

// Tier names used in hits and metrics.
const (
	TierExact    = "exact"
	TierSemantic = "semantic"
)

// Hit is a successful lookup.
type Hit struct {
	Entry      *models.CacheEntry
	Similarity float64
	Tier       string
}

// Manager coordinates both tiers.
type Manager struct {
	store    Store
	vectors  VectorIndex
	embedder llm.Embedder
	queue    *tasks.Queue
	cfg      config.CacheConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	hits         atomic.Int64
	semanticHits atomic.Int64
	misses       atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithSemantic enables the semantic tier with the given index and embedder.
func WithSemantic(v VectorIndex, e llm.Embedder) Option {
	return func(m *Manager) {
		m.vectors = v
		m.embedder = e
	}
}

// WithTasks runs hit updates and writes on q instead of bare goroutines.
func WithTasks(q *tasks.Queue) Option { return func(m *Manager) { m.queue = q } }

// WithMetrics records lookup outcomes.
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager creates a Manager over store.
func NewManager(store Store, cfg config.CacheConfig, opts ...Option) *Manager {
	m := &Manager{store: store, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	if m.cfg.LookupTimeout <= 0 {
		m.cfg.LookupTimeout = 2 * time.Second
	}
	if m.cfg.SemanticThreshold <= 0 {
		m.cfg.SemanticThreshold = 0.9
	}
	return m
}

func (m *Manager) semantic() bool {
	return m.cfg.SemanticEnabled && m.vectors != nil && m.embedder != nil
}

// Lookup returns a hit or false. Errors and timeouts count as misses.
func (m *Manager) Lookup(ctx context.Context, k Key) (*Hit, bool) {
	if m == nil || !m.cfg.Enabled {
		return nil, false
	}
	ctx, span := tracer.Start(ctx, "cache.lookup")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.LookupTimeout)
	defer cancel()

	type outcome struct {
		hit *Hit
		ok  bool
	}
	ch := make(chan outcome, 1)
	go func() {
		hit, ok := m.lookup(ctx, k)
		ch <- outcome{hit, ok}
	}()

	var (
		hit *Hit
		ok  bool
	)
	select {
	case o := <-ch:
		hit, ok = o.hit, o.ok
	case <-ctx.Done():
		m.logger.Warn("cache lookup timed out", "timeout", m.cfg.LookupTimeout)
		m.metrics.CacheLookup("any", "timeout")
	}

	if !ok {
		m.misses.Add(1)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}
	if hit.Tier == TierSemantic {
		m.semanticHits.Add(1)
	} else {
		m.hits.Add(1)
	}
	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.String("cache.tier", hit.Tier),
		attribute.Float64("cache.similarity", hit.Similarity),
	)
	m.recordHit(hit.Entry.PromptHash, hit.Entry.DiagramType)
	return hit, true
}

func (m *Manager) lookup(ctx context.Context, k Key) (*Hit, bool) {
	hash := k.Hash()
	e, err := m.store.Get(ctx, hash, k.DiagramType)
	switch {
	case err == nil:
		m.metrics.CacheLookup(TierExact, "hit")
		return &Hit{Entry: e, Similarity: 1.0, Tier: TierExact}, true
	case errors.Is(err, models.ErrNotFound):
		m.metrics.CacheLookup(TierExact, "miss")
	default:
		m.metrics.CacheLookup(TierExact, "error")
		m.logger.Warn("exact cache lookup failed", "error", err)
	}

	if !m.semantic() {
		return nil, false
	}
	vec, err := m.embedder.Embed(ctx, k.Content)
	if err != nil {
		m.metrics.CacheLookup(TierSemantic, "error")
		m.logger.Warn("embedding for cache lookup failed", "error", err)
		return nil, false
	}
	near, sim, err := m.vectors.Nearest(ctx, vec, k.DiagramType)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			m.metrics.CacheLookup(TierSemantic, "miss")
		} else {
			m.metrics.CacheLookup(TierSemantic, "error")
			m.logger.Warn("semantic cache lookup failed", "error", err)
		}
		return nil, false
	}
	if sim < m.cfg.SemanticThreshold {
		m.metrics.CacheLookup(TierSemantic, "below_threshold")
		m.logger.Debug("semantic candidate below threshold", "similarity", sim, "threshold", m.cfg.SemanticThreshold)
		return nil, false
	}
	e, err = m.store.Get(ctx, near, k.DiagramType)
	if err != nil {
		// The index can briefly run ahead of or behind the store.
		m.metrics.CacheLookup(TierSemantic, "error")
		m.logger.Warn("semantic cache entry not loadable", "prompt_hash", near, "error", err)
		return nil, false
	}
	m.metrics.CacheLookup(TierSemantic, "hit")
	return &Hit{Entry: e, Similarity: sim, Tier: TierSemantic}, true
}

func (m *Manager) recordHit(hash string, dt models.DiagramType) {
	m.background("cache_hit", func(ctx context.Context) error {
		return m.store.RecordHit(ctx, hash, dt)
	})
}

// Store schedules an upsert of a validated document. It returns at once;
// failures are logged and never reach the caller.
func (m *Manager) Store(k Key, promptText, document string) {
	if m == nil || !m.cfg.Enabled || strings.TrimSpace(document) == "" {
		return
	}
	m.background("cache_store", func(ctx context.Context) error {
		return m.Put(ctx, k, promptText, document)
	})
}

// Put writes the entry synchronously: the store row and, with the semantic
// tier on, the embedding index in parallel.
func (m *Manager) Put(ctx context.Context, k Key, promptText, document string) error {
	e := models.CacheEntry{
		PromptHash:     k.Hash(),
		PromptText:     promptText,
		DiagramType:    k.DiagramType,
		Language:       k.Language,
		ResultDocument: document,
	}
	if m.semantic() {
		vec, err := m.embedder.Embed(ctx, k.Content)
		if err != nil {
			m.logger.Warn("embedding for cache store failed, storing exact entry only", "error", err)
		} else {
			e.Embedding = vec
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.store.Upsert(gctx, e) })
	if m.semantic() && len(e.Embedding) > 0 {
		g.Go(func() error { return m.vectors.Index(gctx, e) })
	}
	if err := g.Wait(); err != nil {
		return models.NewError(models.KindCachePersistence, "cache store failed", err)
	}
	return nil
}

func (m *Manager) background(name string, fn tasks.Func) {
	if m.queue != nil {
		m.queue.Submit(name, fn)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.logger.Warn("background cache task failed", "task", name, "error", err)
		}
	}()
}

// Stats merges stored row counts with this process's lookup counters.
func (m *Manager) Stats(ctx context.Context) (models.CacheStats, error) {
	st, err := m.store.Stats(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	st.Hits = m.hits.Load()
	st.SemanticHits = m.semanticHits.Load()
	st.Misses = m.misses.Load()
	return st, nil
}

// Enabled reports whether lookups can ever hit.
func (m *Manager) Enabled() bool { return m != nil && m.cfg.Enabled }

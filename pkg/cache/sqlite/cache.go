package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// Store is the persistent result cache backed by SQLite. Rows are unique on
// (prompt_hash, diagram_type); a second write for the same key updates the
// existing row.
type Store struct {
	db *sql.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	id TEXT NOT NULL,
	prompt_hash TEXT NOT NULL,
	diagram_type TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	prompt_text TEXT NOT NULL,
	embedding BLOB,
	result_document TEXT NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (prompt_hash, diagram_type)
);
CREATE INDEX IF NOT EXISTS idx_cache_type ON cache_entries(diagram_type);
`

// New opens (or creates) the cache database at dbPath.
func New(dbPath string) (*Store, error) {
	// Concurrent writers on one file wait for the lock instead of failing.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &Store{db: db}, nil
}

const selectEntry = `SELECT id, prompt_hash, diagram_type, language, prompt_text, embedding, result_document,
	hit_count, created_at, last_accessed_at FROM cache_entries`

// Get returns the entry for a key, or models.ErrNotFound.
func (s *Store) Get(ctx context.Context, promptHash string, dt models.DiagramType) (*models.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE prompt_hash = ? AND diagram_type = ?`, promptHash, string(dt))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return e, nil
}

// Upsert inserts an entry or replaces the content of the existing row for
// the same key. The hit count is left alone; an existing embedding is kept
// when the new entry has none.
func (s *Store) Upsert(ctx context.Context, e models.CacheEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (id, prompt_hash, diagram_type, language, prompt_text, embedding,
			result_document, hit_count, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(prompt_hash, diagram_type) DO UPDATE SET
			prompt_text = excluded.prompt_text,
			language = excluded.language,
			result_document = excluded.result_document,
			embedding = COALESCE(excluded.embedding, cache_entries.embedding),
			last_accessed_at = excluded.last_accessed_at`,
		e.ID, e.PromptHash, string(e.DiagramType), e.Language, e.PromptText, encodeVector(e.Embedding),
		e.ResultDocument, now, now,
	)
	if err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

// RecordHit increments the hit count and refreshes the access time.
func (s *Store) RecordHit(ctx context.Context, promptHash string, dt models.DiagramType) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_accessed_at = ?
		 WHERE prompt_hash = ? AND diagram_type = ?`,
		time.Now().UTC(), promptHash, string(dt),
	)
	if err != nil {
		return fmt.Errorf("cache record hit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Nearest returns the stored entry of type dt whose embedding is most similar
// to vec by cosine similarity. Entries without embeddings are ignored.
func (s *Store) Nearest(ctx context.Context, vec []float32, dt models.DiagramType) (*models.CacheEntry, float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt_hash, embedding FROM cache_entries WHERE diagram_type = ? AND embedding IS NOT NULL`,
		string(dt),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("cache nearest: %w", err)
	}
	defer rows.Close()

	best, bestSim := "", -1.0
	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, 0, fmt.Errorf("cache nearest scan: %w", err)
		}
		other := decodeVector(blob)
		if len(other) != len(vec) {
			continue
		}
		if sim := Cosine(vec, other); sim > bestSim {
			best, bestSim = hash, sim
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("cache nearest: %w", err)
	}
	if best == "" {
		return nil, 0, models.ErrNotFound
	}
	e, err := s.Get(ctx, best, dt)
	if err != nil {
		return nil, 0, err
	}
	return e, bestSim, nil
}

// Stats returns row counts. Hit and miss counters live in the cache manager.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var st models.CacheStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(embedding), COALESCE(SUM(hit_count), 0) FROM cache_entries`,
	).Scan(&st.Entries, &st.WithEmbeddings, &st.TotalHits)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return st, nil
}

// Clear removes entries. With olderThan > 0 only entries not accessed within
// that window are removed. It returns the number of rows deleted.
func (s *Store) Clear(ctx context.Context, olderThan time.Duration) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if olderThan > 0 {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE last_accessed_at < ?`, time.Now().UTC().Add(-olderThan))
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (*models.CacheEntry, error) {
	var (
		e    models.CacheEntry
		dt   string
		blob []byte
	)
	if err := r.Scan(&e.ID, &e.PromptHash, &dt, &e.Language, &e.PromptText, &blob, &e.ResultDocument,
		&e.HitCount, &e.CreatedAt, &e.LastAccessedAt); err != nil {
		return nil, err
	}
	e.DiagramType = models.DiagramType(dt)
	e.Embedding = decodeVector(blob)
	return &e, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// Vectors exposes the embedding column as a vector index.
func (s *Store) Vectors() *Vectors { return &Vectors{store: s} }

// Vectors is the in-database similarity index used when no external vector
// backend is configured.
type Vectors struct {
	store *Store
}

// Index is a no-op: Upsert already stores the embedding.
func (v *Vectors) Index(context.Context, models.CacheEntry) error { return nil }

// Nearest returns the prompt hash of the most similar entry.
func (v *Vectors) Nearest(ctx context.Context, vec []float32, dt models.DiagramType) (string, float64, error) {
	e, sim, err := v.store.Nearest(ctx, vec, dt)
	if err != nil {
		return "", 0, err
	}
	return e.PromptHash, sim, nil
}

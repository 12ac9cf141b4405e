// Package tracker records one usage row per finished generation and answers
// summary queries over them.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// Tracker records and queries generation usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Recent returns records created since a given time, newest first.
	Recent(ctx context.Context, since time.Time, limit int) ([]models.UsageRecord, error)
	// TotalTokens returns tokens spent since a given time, optionally for one model.
	TotalTokens(ctx context.Context, model string, since time.Time) (int64, error)
	// Summary returns usage aggregated by model and diagram type.
	Summary(ctx context.Context, dt models.DiagramType) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	model TEXT NOT NULL,
	diagram_type TEXT NOT NULL,
	fidelity TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	cached INTEGER NOT NULL DEFAULT 0,
	background INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_model_time ON usage_records(model, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_type ON usage_records(diagram_type);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (request_id, model, diagram_type, fidelity, attempts, cached, background,
			prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Model, string(rec.DiagramType), rec.Fidelity, rec.Attempts, rec.Cached, rec.Background,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Recent returns usage records since a given time.
func (t *SQLiteTracker) Recent(ctx context.Context, since time.Time, limit int) ([]models.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, model, diagram_type, fidelity, attempts, cached, background,
			prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at
		 FROM usage_records WHERE created_at >= ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var dt string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Model, &dt, &r.Fidelity, &r.Attempts, &r.Cached, &r.Background,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.DiagramType = models.DiagramType(dt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalTokens returns total tokens since a given time. An empty model sums
// across all models.
func (t *SQLiteTracker) TotalTokens(ctx context.Context, model string, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE created_at >= ?`
	args := []any{since}
	if model != "" {
		query += ` AND model = ?`
		args = append(args, model)
	}
	var total int64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by model and diagram type,
// optionally filtered by diagram type.
func (t *SQLiteTracker) Summary(ctx context.Context, dt models.DiagramType) ([]models.UsageSummary, error) {
	query := `SELECT model, diagram_type, COUNT(*), COALESCE(SUM(cached), 0), SUM(attempts),
			SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), AVG(latency_ms)
		 FROM usage_records`
	var args []any
	if dt != "" {
		query += ` WHERE diagram_type = ?`
		args = append(args, string(dt))
	}
	query += ` GROUP BY model, diagram_type ORDER BY model, diagram_type`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		var typ string
		if err := rows.Scan(&s.Model, &typ, &s.RequestCount, &s.CachedCount, &s.TotalAttempts,
			&s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.DiagramType = models.DiagramType(typ)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

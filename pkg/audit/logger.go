// Package audit keeps a record of finished generations (prompt, document and
// outcome) in a dedicated SQLite database for later dataset extraction.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pario-ai/flowsmith/pkg/models"
	_ "modernc.org/sqlite"
)

// Logger writes and queries audit entries in a dedicated SQLite database.
type Logger struct {
	db      *sql.DB
	cfg     models.AuditConfig
	done    chan struct{}
	wg      sync.WaitGroup
	include map[string]bool
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	inc := make(map[string]bool)
	for _, v := range cfg.Include {
		inc[v] = true
	}

	l := &Logger{
		db:      db,
		cfg:     cfg,
		done:    make(chan struct{}),
		include: inc,
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		request_id   TEXT PRIMARY KEY,
		diagram_type TEXT NOT NULL,
		model        TEXT NOT NULL,
		provider     TEXT,
		prompt       TEXT,
		document     TEXT,
		outcome      TEXT NOT NULL,
		error_kind   TEXT,
		attempts     INTEGER,
		cached       INTEGER,
		score        REAL,
		latency_ms   INTEGER,
		redacted     TEXT,
		created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_log(diagram_type)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit_log(outcome)`)
	return err
}

// Log inserts an audit entry, respecting the include and redaction settings.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}

	prompt := entry.Prompt
	document := entry.Document
	if !l.include["prompts"] {
		prompt = ""
	}
	if !l.include["documents"] {
		document = ""
	}
	if l.cfg.RedactPII && prompt != "" {
		prompt, entry.Redacted = Redact(prompt)
	}

	if l.cfg.MaxBodySize > 0 {
		if len(prompt) > l.cfg.MaxBodySize {
			prompt = prompt[:l.cfg.MaxBodySize]
		}
		if len(document) > l.cfg.MaxBodySize {
			document = document[:l.cfg.MaxBodySize]
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_log
		(request_id, diagram_type, model, provider, prompt, document, outcome, error_kind,
		 attempts, cached, score, latency_ms, redacted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, string(entry.DiagramType), entry.Model, entry.Provider,
		prompt, document, entry.Outcome, string(entry.ErrorKind),
		entry.Attempts, entry.Cached, entry.Score, entry.LatencyMs,
		strings.Join(entry.Redacted, ","), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	return nil
}

// Query returns audit entries matching the given options.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, diagram_type, model, provider, prompt, document, outcome, error_kind,
		attempts, cached, score, latency_ms, redacted, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.DiagramType != "" {
		q += " AND diagram_type = ?"
		args = append(args, string(opts.DiagramType))
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, opts.Outcome)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e                                     models.AuditEntry
			dt                                    string
			provider, prompt, doc, kind, redacted sql.NullString
		)
		if err := rows.Scan(
			&e.RequestID, &dt, &e.Model, &provider, &prompt, &doc, &e.Outcome, &kind,
			&e.Attempts, &e.Cached, &e.Score, &e.LatencyMs, &redacted, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.DiagramType = models.DiagramType(dt)
		e.Provider = provider.String
		e.Prompt = prompt.String
		e.Document = doc.String
		e.ErrorKind = models.ErrorKind(kind.String)
		if redacted.String != "" {
			e.Redacted = strings.Split(redacted.String, ",")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by diagram type, outcome and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT diagram_type, outcome, date(created_at) as day, count(*) as cnt
		 FROM audit_log GROUP BY diagram_type, outcome, day ORDER BY day DESC, diagram_type, outcome`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var dt string
		var day sql.NullString
		if err := rows.Scan(&dt, &s.Outcome, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.DiagramType = models.DiagramType(dt)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

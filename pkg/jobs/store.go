// Package jobs persists background generation jobs. Status changes are
// conditional updates, so a job only ever moves forward and a terminal
// status is written at most once.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// ErrInvalidTransition is returned when a status change would move a job
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is a SQLite-backed job store.
type Store struct {
	db *sql.DB
}

const createJobsTable = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	input TEXT NOT NULL,
	document TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON generation_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON generation_jobs(created_at);
`

// New opens (or creates) the job database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}
	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate jobs db: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a pending job for req and returns it.
func (s *Store) Create(ctx context.Context, req models.GenerationRequest) (*models.GenerationJob, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode job input: %w", err)
	}
	now := time.Now().UTC()
	job := &models.GenerationJob{
		ID:        uuid.NewString(),
		Status:    models.JobPending,
		Input:     req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generation_jobs (id, status, input, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), string(input), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get returns the job with id, or models.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.GenerationJob, error) {
	row := s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// MarkProcessing moves a pending job to processing.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.JobProcessing, "", "", "")
}

// Complete records the result document of a processing job.
func (s *Store) Complete(ctx context.Context, id, document string) error {
	return s.transition(ctx, id, models.JobCompleted, document, "", "")
}

// Fail records the terminal error of a pending or processing job.
func (s *Store) Fail(ctx context.Context, id string, kind models.ErrorKind, message string) error {
	return s.transition(ctx, id, models.JobFailed, "", string(kind), message)
}

func (s *Store) transition(ctx context.Context, id string, next models.JobStatus, document, kind, message string) error {
	var from []any
	for _, st := range []models.JobStatus{models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed} {
		if st.CanTransition(next) {
			from = append(from, string(st))
		}
	}
	now := time.Now().UTC()
	var completedAt any
	if next.Terminal() {
		completedAt = now
	}

	args := []any{string(next), document, kind, message, now, completedAt, id}
	args = append(args, from...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = ?, document = ?, error_kind = ?, error_message = ?, updated_at = ?,
			completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status models.JobStatus, limit int) ([]models.GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectJob
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectJob = `SELECT id, status, input, document, error_message, error_kind, created_at, updated_at,
	completed_at FROM generation_jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(r scanner) (*models.GenerationJob, error) {
	var (
		job         models.GenerationJob
		status      string
		input       string
		kind        string
		completedAt sql.NullTime
	)
	if err := r.Scan(&job.ID, &status, &input, &job.Document, &job.ErrorMessage, &kind,
		&job.CreatedAt, &job.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(input), &job.Input); err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	job.Status = models.JobStatus(status)
	job.ErrorKind = models.ErrorKind(kind)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func placeholders(n int) string {
	if n == 0 {
		return "NULL"
	}
	b := make([]byte, 0, 2*n)
	for i := range n {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

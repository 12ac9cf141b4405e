package models

import "time"

// AuditEntry is one recorded generation, kept for offline dataset extraction.
type AuditEntry struct {
	RequestID   string      `json:"request_id"`
	DiagramType DiagramType `json:"diagram_type"`
	Model       string      `json:"model"`
	Provider    string      `json:"provider"`
	Prompt      string      `json:"prompt,omitempty"`
	Document    string      `json:"document,omitempty"`
	Outcome     string      `json:"outcome"`
	ErrorKind   ErrorKind   `json:"error_kind,omitempty"`
	Attempts    int         `json:"attempts"`
	Cached      bool        `json:"cached"`
	Score       float64     `json:"score"`
	LatencyMs   int64       `json:"latency_ms"`
	Redacted    []string    `json:"redacted,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DBPath        string   `yaml:"db_path"`
	RetentionDays int      `yaml:"retention_days"`
	RedactPII     bool     `yaml:"redact_pii"`
	Include       []string `yaml:"include"` // "prompts", "documents"
	MaxBodySize   int      `yaml:"max_body_size"`
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	DiagramType DiagramType
	Model       string
	Outcome     string
	Since       time.Time
	RequestID   string
	Limit       int
}

// AuditStat holds aggregate audit counts for a type/outcome/day combination.
type AuditStat struct {
	DiagramType DiagramType
	Outcome     string
	Day         string
	Count       int
}

package models

import "time"

// JobStatus is the lifecycle state of a background generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether s -> next is a forward transition.
// A pending job may fail before a worker picks it up.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing || next == JobFailed
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// GenerationJob is created when a request is deferred to background execution.
type GenerationJob struct {
	ID           string            `json:"id"`
	Status       JobStatus         `json:"status"`
	Input        GenerationRequest `json:"input"`
	Document     string            `json:"document,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	ErrorKind    ErrorKind         `json:"errorKind,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
}

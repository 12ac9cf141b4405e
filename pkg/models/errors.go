package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for propagation and retry decisions.
type ErrorKind string

const (
	KindInput            ErrorKind = "input"
	KindRateLimited      ErrorKind = "rate_limited"
	KindOverloaded       ErrorKind = "overloaded"
	KindEmptyResponse    ErrorKind = "empty_response"
	KindValidation       ErrorKind = "validation"
	KindTimeoutBudget    ErrorKind = "timeout_budget"
	KindCachePersistence ErrorKind = "cache_persistence"
	KindMetrics          ErrorKind = "metrics"
	KindProvider         ErrorKind = "provider"
	KindInternal         ErrorKind = "internal"
)

// Sentinel errors matched with errors.Is.
var (
	ErrInputInvalid   = errors.New("invalid input")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrOverloaded     = errors.New("provider overloaded")
	ErrEmptyResponse  = errors.New("provider returned empty response")
	ErrValidation     = errors.New("document failed validation")
	ErrBudgetExceeded = errors.New("execution budget exceeded")
	ErrNotFound       = errors.New("not found")
	ErrQuotaExceeded  = errors.New("token quota exceeded")
)

// GenerationError is the single terminal error surfaced to callers.
type GenerationError struct {
	Kind     ErrorKind
	Message  string
	Attempts int
	Err      error
}

// NewError builds a GenerationError wrapping err.
func NewError(kind ErrorKind, msg string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Message: msg, Err: err}
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: %s (attempts: %d)", e.Kind, msg, e.Attempts)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of err, falling back to sentinel matching.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	switch {
	case errors.Is(err, ErrInputInvalid):
		return KindInput
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrQuotaExceeded):
		return KindRateLimited
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrEmptyResponse):
		return KindEmptyResponse
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrBudgetExceeded):
		return KindTimeoutBudget
	}
	return KindInternal
}

// Retryable reports whether a provider failure may succeed on another attempt.
// Rate limits are surfaced immediately so the caller can back off.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindOverloaded, KindEmptyResponse, KindValidation:
		return true
	}
	return false
}

// HTTPStatus maps an error to the status code returned to API callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindOverloaded:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// UserMessage returns the single terminal message shown to callers.
func UserMessage(err error) string {
	var ge *GenerationError
	if errors.As(err, &ge) && ge.Message != "" {
		return ge.Message
	}
	switch KindOf(err) {
	case KindRateLimited:
		return "the generation provider is rate limiting requests, retry later"
	case KindOverloaded:
		return "the generation provider is overloaded, retry later"
	case KindValidation:
		return "could not produce a valid diagram, try rephrasing the description"
	}
	return "generation failed"
}

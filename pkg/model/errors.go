package model

import (
	"fmt"
	"time"
)

// APIError is the failure surface projected to external consumers.
// Stack traces never cross this boundary.
type APIError struct {
	Code       string            `json:"error_code"`
	Message    string            `json:"error"`
	Details    map[string]string `json:"details,omitempty"`
	RetryAfter time.Duration     `json:"retry_after,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes used across the core.
const (
	CodeValidation  = "validation_error"
	CodeTransientIO = "transient_io_error"
	CodeRecord      = "record_error"
	CodeFatalRun    = "fatal_run_error"
	CodeRateLimited = "rate_limited"
	CodeNotFound    = "not_found"
	CodeConflict    = "merge_conflict"
)

// NewValidationError reports a record that failed input validation.
func NewValidationError(field, msg string) *APIError {
	return &APIError{
		Code:    CodeValidation,
		Message: msg,
		Details: map[string]string{"field": field},
	}
}

// NewRateLimitError reports an upstream rate-limit response.
func NewRateLimitError(retryAfter time.Duration) *APIError {
	return &APIError{
		Code:       CodeRateLimited,
		Message:    "upstream rate limit",
		RetryAfter: retryAfter,
	}
}

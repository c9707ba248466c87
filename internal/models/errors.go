package models

import "errors"

// Sentinel errors shared across packages. Handlers map these to the wire
// error codes below.
var (
	ErrNotFound        = errors.New("not found")
	ErrOutcomeConflict = errors.New("outcome already recorded with a different value")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInvalidInput    = errors.New("invalid input")
	ErrDuplicateRule   = errors.New("duplicate rule name")
	ErrBatchTooLarge   = errors.New("batch exceeds maximum size")
)

// Wire error codes carried in {error_code, message, request_id} payloads.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeSchemaViolation = "SCHEMA_VIOLATION"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeOutcomeConflict = "OUTCOME_CONFLICT"
	ErrCodeBatchTooLarge   = "BATCH_TOO_LARGE"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// APIError is the wire form of a failure, used standalone inside batch
// results and as the body of non-2xx responses.
type APIError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return e.ErrorCode + ": " + e.Message
}

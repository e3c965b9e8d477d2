package domain

import (
	"errors"
	"fmt"
	"time"
)

// Lifecycle errors surfaced to API callers.
var (
	ErrNotFound             = errors.New("not found")
	ErrNoDraft              = errors.New("no draft analysis to finalize")
	ErrAlreadyFinalized     = errors.New("encounter already finalized")
	ErrNotFinalized         = errors.New("encounter has no finalized result")
	ErrEncounterUnavailable = errors.New("cannot finalize without an encounter")
	ErrPredictionFailed     = errors.New("live prediction unavailable")
)

// APIError is the standardized error payload returned by the HTTP surface.
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeEncounter      = "ENCOUNTER_ERROR"
	ErrCodeFinalize       = "FINALIZE_ERROR"
	ErrCodeNotFinalized   = "NOT_FINALIZED"
	ErrCodeDatabase       = "DATABASE_ERROR"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

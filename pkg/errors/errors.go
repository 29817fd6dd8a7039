package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness. Details carries
// machine-readable diagnostics (measured distance, the conflicting session id)
// so clients can render a meaningful retry prompt.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	ErrNotOwner      = New("NOT_OWNER", http.StatusForbidden, "caller does not own this class")
	ErrSessionActive = New("SESSION_ALREADY_ACTIVE", http.StatusBadRequest, "an active session already exists for this class")
	ErrSessionEnded  = New("SESSION_ENDED", http.StatusBadRequest, "session is no longer active")
	ErrAlreadyMarked = New("ALREADY_MARKED", http.StatusBadRequest, "attendance already marked for this session")
	ErrInvalidQR     = New("INVALID_QR", http.StatusBadRequest, "submitted QR code does not match the active code")
	ErrOutOfRange    = New("OUT_OF_RANGE", http.StatusBadRequest, "submitted location is outside the session geofence")
	ErrWrongNetwork  = New("WRONG_NETWORK", http.StatusBadRequest, "submitted network does not match the expected SSID")
	ErrFraudBlocked  = New("FRAUD_BLOCKED", http.StatusBadRequest, "marking blocked by fraud heuristics")
	ErrDuplicateScan = New("DUPLICATE_SCAN", http.StatusBadRequest, "duplicate scan detected, slow down")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying diagnostic payload.
func WithDetails(err *Error, details map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}

// Is reports whether err carries the same code as target.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}

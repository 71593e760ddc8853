// Package errors provides the error taxonomy for the reconciliation service.
//
// Classification outcomes (update detected, deletion detected, multiple
// matches, ignored reasons) are never errors. Errors here are the failures
// that abort a handler transaction and leave the message to be redelivered,
// or the failures that reach the HTTP housekeeping surface.
//
// Import Path: dpsrecon.io/reconciliation/internal/pkg/errors
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("not found")

	// ErrSerializationConflict marks an aborted SERIALIZABLE transaction.
	// The job is retried by the queue; it is never surfaced as a domain error.
	ErrSerializationConflict = errors.New("serialization conflict")

	// ErrMovementHistoryUnavailable marks a failed or rejected call to the
	// movement history API (including an open circuit breaker).
	ErrMovementHistoryUnavailable = errors.New("movement history unavailable")
)

// Error codes reported over HTTP.
const (
	CodeInvalidTimeRange           = "INVALID_TIME_RANGE"
	CodeMovementHistoryUnavailable = "MOVEMENT_HISTORY_UNAVAILABLE"
	CodeLedgerConflict             = "LEDGER_CONFLICT"
	CodeInternal                   = "INTERNAL_ERROR"
	CodeUnauthorized               = "UNAUTHORIZED"
	CodeForbidden                  = "FORBIDDEN"
)

// AppError is a structured application error with HTTP status and error code.
type AppError struct {
	// Code is a machine-readable error code (e.g., "INVALID_TIME_RANGE").
	Code string `json:"code"`

	Message string `json:"message"`

	HTTPStatus int `json:"-"`

	// Err is the wrapped underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap wraps an existing error into an AppError.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

func BadRequest(code, message string) *AppError {
	return New(code, message, http.StatusBadRequest)
}

// FromError maps a service error onto an AppError for the HTTP layer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := IsAppError(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, ErrSerializationConflict):
		return Wrap(err, CodeLedgerConflict, "ledger was modified concurrently, retry the request", http.StatusConflict)
	case errors.Is(err, ErrMovementHistoryUnavailable):
		return Wrap(err, CodeMovementHistoryUnavailable, "movement history could not be retrieved", http.StatusBadGateway)
	default:
		return Wrap(err, CodeInternal, "an internal error occurred", http.StatusInternalServerError)
	}
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

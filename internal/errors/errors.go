// Package errors provides standardized domain errors with codes for the Stacks API.
//
// Usage:
//
//	// In services - return typed errors
//	if job.Terminal() {
//	    return errors.Conflict("job already finished")
//	}
//
//	// In handlers - check with errors.Is
//	if errors.Is(err, errors.ErrExpired) {
//	    // results aged out, distinct from never-existed
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeExpired      Code = "EXPIRED" // Existed once, aged out of retention
	CodeConflict     Code = "CONFLICT"
	CodeValidation   Code = "VALIDATION"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeInternal     Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeExpired:
		return http.StatusGone
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	cause     error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:      e.Code,
		Message:   e.Message,
		Details:   details,
		Retryable: e.Retryable,
		cause:     e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		Retryable: e.Retryable,
		cause:     err,
	}
}

// WithRetryable marks whether the caller may safely retry the operation.
func (e *Error) WithRetryable(retryable bool) *Error {
	return &Error{
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		Retryable: retryable,
		cause:     e.cause,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "not found"}
	ErrExpired      = &Error{Code: CodeExpired, Message: "expired"}
	ErrConflict     = &Error{Code: CodeConflict, Message: "conflict"}
	ErrValidation   = &Error{Code: CodeValidation, Message: "validation error"}
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrRateLimited  = &Error{Code: CodeRateLimited, Message: "rate limited", Retryable: true}
	ErrUnavailable  = &Error{Code: CodeUnavailable, Message: "unavailable", Retryable: true}
	ErrInternal     = &Error{Code: CodeInternal, Message: "internal error"}
)

// Constructor functions for creating errors with custom messages.

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Expired creates an expired error. Used when a job or result set existed
// but has passed its retention window, so clients can distinguish "too late"
// from "never existed".
func Expired(msg string) *Error {
	return &Error{Code: CodeExpired, Message: msg}
}

// Expiredf creates an expired error with formatted message.
func Expiredf(format string, args ...any) *Error {
	return &Error{Code: CodeExpired, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// RateLimited creates a rate limited error. Always retryable.
func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Message: msg, Retryable: true}
}

// Unavailable creates an unavailable error. Always retryable.
func Unavailable(msg string) *Error {
	return &Error{Code: CodeUnavailable, Message: msg, Retryable: true}
}

// Unavailablef creates an unavailable error with formatted message.
func Unavailablef(format string, args ...any) *Error {
	return &Error{Code: CodeUnavailable, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

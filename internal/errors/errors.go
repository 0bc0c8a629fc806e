// Package errors provides coded service errors shared by the repository,
// service and handler layers.
package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorCode classifies a service error.
type ErrorCode string

const (
	ErrCodeInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeConflict              ErrorCode = "CONFLICT"
	ErrCodeAlreadyResolved       ErrorCode = "ALREADY_RESOLVED"
	ErrCodeConcurrentConflict    ErrorCode = "CONCURRENT_CONFLICT"
	ErrCodeRuleSourceUnavailable ErrorCode = "RULE_SOURCE_UNAVAILABLE"
	ErrCodeDispatchFailure       ErrorCode = "DISPATCH_FAILURE"
	ErrCodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal              ErrorCode = "INTERNAL"
)

// Error is a service error carrying a code, a message and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Is matches two service errors by code, so errors.Is(err, ErrAlreadyResolved) works
// for any error carrying that code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the caller may retry the operation unchanged.
func (e *Error) Retryable() bool {
	return e.Code == ErrCodeConcurrentConflict
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound              = &Error{Code: ErrCodeNotFound, Message: "not found"}
	ErrInvalidInput          = &Error{Code: ErrCodeInvalidInput, Message: "invalid input"}
	ErrAlreadyResolved       = &Error{Code: ErrCodeAlreadyResolved, Message: "already resolved"}
	ErrConcurrentConflict    = &Error{Code: ErrCodeConcurrentConflict, Message: "concurrent conflict"}
	ErrRuleSourceUnavailable = &Error{Code: ErrCodeRuleSourceUnavailable, Message: "rule source unavailable"}
)

// New creates an error with the given code.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates err with a code and message. The cause keeps a stack trace.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: pkgerrors.WithStack(err)}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// AlreadyResolved reports a decision attempted on a request with no active step.
func AlreadyResolved(requestID string) *Error {
	return &Error{Code: ErrCodeAlreadyResolved, Message: fmt.Sprintf("request %s has no pending approval step", requestID)}
}

// ConcurrentConflict reports a lost race during a step transition. Retryable.
func ConcurrentConflict(resource, id string) *Error {
	return &Error{Code: ErrCodeConcurrentConflict, Message: fmt.Sprintf("%s %s was modified concurrently", resource, id)}
}

// Code returns the code of a service error, or ErrCodeInternal.
func Code(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides the structured error taxonomy used across the
// verification orchestrator: every error that crosses a package boundary is
// an *AppError carrying a machine-checkable Type.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError. The verification-domain kinds
// (Authorization, Conflict, TransientStorage, NonRetryableActivity) map
// directly onto the error taxonomy of the orchestrator's saga and signal
// handling.
type ErrorType string

const (
	ErrorTypeValidation           ErrorType = "validation"
	ErrorTypeAuth                 ErrorType = "auth"
	ErrorTypeAuthorization        ErrorType = "authorization"
	ErrorTypeNotFound             ErrorType = "not_found"
	ErrorTypeConflict             ErrorType = "conflict"
	ErrorTypeTimeout              ErrorType = "timeout"
	ErrorTypeRateLimit            ErrorType = "rate_limit"
	ErrorTypeDatabase             ErrorType = "database"
	ErrorTypeTransientStorage     ErrorType = "transient_storage"
	ErrorTypeNonRetryableActivity ErrorType = "non_retryable_activity"
	ErrorTypeNetwork              ErrorType = "network"
	ErrorTypeInternal             ErrorType = "internal"
)

// AppError is the single error type returned across package boundaries.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func statusCodeFor(t ErrorType) int {
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeDatabase, ErrorTypeTransientStorage:
		return http.StatusInternalServerError
	case ErrorTypeNetwork:
		return http.StatusInternalServerError
	case ErrorTypeNonRetryableActivity:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

// Wrap wraps an existing error with a type and message.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		Cause:      cause,
		StatusCode: statusCodeFor(t),
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches details to an error in place and returns it.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted details to an error in place.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// NewValidationError creates a validation AppError.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewAuthError creates an authentication AppError.
func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

// NewAuthorizationError creates a verifier-authorization AppError.
func NewAuthorizationError(message string) *AppError {
	return New(ErrorTypeAuthorization, message)
}

// NewNotFoundError creates a not-found AppError for the named resource.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a conflict AppError.
func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

// NewTimeoutError creates a timeout AppError for the named operation.
func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

// NewDatabaseError wraps a database driver error for the named operation.
func NewDatabaseError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeDatabase, fmt.Sprintf("database operation failed: %s", operation))
}

// NewTransientStorageError wraps a storage error that retry-with-backoff may
// still resolve.
func NewTransientStorageError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeTransientStorage, fmt.Sprintf("transient storage error: %s", operation))
}

// NewNonRetryableActivityError wraps a programmer error or impossible-state
// condition surfaced from an activity; retrying it can never succeed.
func NewNonRetryableActivityError(activity string, cause error) *AppError {
	return Wrap(cause, ErrorTypeNonRetryableActivity, fmt.Sprintf("non-retryable activity failure: %s", activity))
}

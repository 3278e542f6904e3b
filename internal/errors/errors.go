// Package errors defines the service error taxonomy shared by the HTTP layer
// and the domain services.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error category. Codes are stable and safe to expose to
// API clients.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeConflict          Code = "CONFLICT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeExternalService   Code = "EXTERNAL_SERVICE_FAILURE"
	CodeRateLimited       Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// ServiceError carries an error code, a human-readable message, the HTTP
// status it maps to, and optional structured details for the caller.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a key/value pair, returning the same error for
// chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, cause: cause}
}

// Validation reports malformed or incomplete input.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// Conflict reports a version mismatch, duplicate open application, or active
// cooldown.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// InvalidTransition reports a disallowed status edge.
func InvalidTransition(from, to string) *ServiceError {
	e := newError(CodeInvalidTransition, http.StatusUnprocessableEntity,
		fmt.Sprintf("transition from %s to %s is not allowed", from, to), nil)
	return e.WithDetails("from", from).WithDetails("to", to)
}

// NotFound reports an unknown application, applicant or record.
func NotFound(what string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, what+" not found", nil)
}

// Unauthorized reports a missing or invalid actor identity.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// Forbidden reports insufficient actor rights.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "insufficient permissions"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// ExternalService reports a chat-platform or other upstream failure.
func ExternalService(message string, cause error) *ServiceError {
	return newError(CodeExternalService, http.StatusBadGateway, message, cause)
}

// RateLimitExceeded reports that the caller exceeded the request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil)
	return e.WithDetails("limit", limit).WithDetails("window", window)
}

// Internal reports an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, cause)
}

// GetServiceError extracts a *ServiceError from err, or nil if none is
// present in the chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

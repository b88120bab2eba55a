// Package apierr defines ContextCache's typed error taxonomy and the
// mapping from error kind to HTTP status, so handlers never need to
// inspect error strings (spec §7).
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of a small number of handling
// strategies shared across every HTTP handler.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindRateLimited  Kind = "rate_limited"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindUnavailable  Kind = "unavailable"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal"
)

// Error is a typed, wrapped error carrying the Kind used to pick an HTTP
// status and a machine-readable code for API responses.
type Error struct {
	Kind        Kind
	Code        string
	Message     string
	RetryAfter  int // seconds, only meaningful for KindRateLimited/KindQuotaExceeded
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a Kind/code/message to an underlying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithRetryAfter returns a copy of e carrying a retry-after hint.
func (e *Error) WithRetryAfter(seconds int) *Error {
	cp := *e
	cp.RetryAfter = seconds
	return &cp
}

// NotFound builds a KindNotFound error for the named resource.
func NotFound(resource, id string) *Error {
	return New(KindNotFound, "not_found", fmt.Sprintf("%s %q not found", resource, id))
}

// Validation builds a KindValidation error.
func Validation(msg string) *Error {
	return New(KindValidation, "invalid_request", msg)
}

// Unavailable wraps a downstream dependency failure (spec §7: Postgres/
// Redis/ClickHouse/vector-store failures surface as 503, never 500).
func Unavailable(dependency string, cause error) *Error {
	return Wrap(KindUnavailable, "dependency_unavailable", dependency+" unavailable", cause)
}

// StatusFor maps a Kind to the HTTP status code the API surface returns.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, if one is present anywhere in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode returns the HTTP status that should be written for err,
// defaulting to 500 when err does not carry an apierr.Error.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return StatusFor(e.Kind)
	}
	return http.StatusInternalServerError
}

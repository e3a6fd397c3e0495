package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType represents the category of error that occurred during a fetch operation
type ErrorType string

const (
	// ErrorTypeNetwork indicates a network-level error (connection refused, DNS, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRateLimit indicates the request was rejected due to rate limiting (HTTP 429 or a provider throttle note)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeServer indicates a server error (HTTP 5xx)
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient indicates a client error (HTTP 4xx except 408 and 429)
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeValidation indicates the response was received but data validation failed
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout indicates the request timed out
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeCanceled indicates the run was stopped before the fetch completed
	ErrorTypeCanceled ErrorType = "canceled"
	// ErrorTypeUnknown indicates an error of unknown type
	ErrorTypeUnknown ErrorType = "unknown"
)

// FetchError represents a structured error from a fetch operation
type FetchError struct {
	Type       ErrorType
	Retryable  bool
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Type, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a network error
func NewNetworkError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeNetwork,
		Retryable: true,
		Message:   "network request failed",
		Cause:     cause,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(statusCode int) *FetchError {
	return &FetchError{
		Type:       ErrorTypeRateLimit,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    "rate limit exceeded",
	}
}

// NewThrottleError creates a rate limit error for a provider that answers
// 200 with a throttle notice in the body.
func NewThrottleError(notice string) *FetchError {
	return &FetchError{
		Type:      ErrorTypeRateLimit,
		Retryable: true,
		Message:   notice,
	}
}

// NewServerError creates a server error
func NewServerError(statusCode int) *FetchError {
	return &FetchError{
		Type:       ErrorTypeServer,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    "server returned an error",
	}
}

// NewClientError creates a client error
func NewClientError(statusCode int, message string) *FetchError {
	return &FetchError{
		Type:       ErrorTypeClient,
		Retryable:  false,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewValidationError creates a validation error. Validation errors cover
// missing fields and empty results; they are never retried.
func NewValidationError(format string, args ...any) *FetchError {
	return &FetchError{
		Type:      ErrorTypeValidation,
		Retryable: false,
		Message:   fmt.Sprintf(format, args...),
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeTimeout,
		Retryable: true,
		Message:   "request timed out",
		Cause:     cause,
	}
}

// NewCanceledError creates an error for a fetch abandoned because its run
// was stopped.
func NewCanceledError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeCanceled,
		Retryable: false,
		Message:   "fetch abandoned",
		Cause:     cause,
	}
}

// ClassifyHTTPError classifies an HTTP status code into an appropriate FetchError
func ClassifyHTTPError(statusCode int) *FetchError {
	switch {
	case statusCode == 429:
		return NewRateLimitError(statusCode)
	case statusCode == 408:
		return &FetchError{
			Type:       ErrorTypeTimeout,
			Retryable:  true,
			StatusCode: statusCode,
			Message:    "server timed out waiting for the request",
		}
	case statusCode >= 500:
		return NewServerError(statusCode)
	case statusCode >= 400:
		return NewClientError(statusCode, fmt.Sprintf("client error: HTTP %d", statusCode))
	default:
		return &FetchError{
			Type:       ErrorTypeUnknown,
			Retryable:  false,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", statusCode),
		}
	}
}

// Classify maps any error onto the FetchError taxonomy. Errors that already
// carry a FetchError are returned as is.
func Classify(err error) *FetchError {
	if err == nil {
		return nil
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.Canceled) {
		return NewCanceledError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// A host that does not resolve will not start resolving on retry.
		return &FetchError{
			Type:      ErrorTypeNetwork,
			Retryable: dnsErr.IsTemporary || dnsErr.IsTimeout,
			Message:   "dns lookup failed",
			Cause:     err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTimeoutError(err)
		}
		return NewNetworkError(err)
	}

	return &FetchError{
		Type:    ErrorTypeUnknown,
		Message: "fetch failed",
		Cause:   err,
	}
}

// TypeOf returns the taxonomy class of err, or "" for a nil error.
func TypeOf(err error) ErrorType {
	if fe := Classify(err); fe != nil {
		return fe.Type
	}
	return ""
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if fe := Classify(err); fe != nil {
		return fe.Retryable
	}
	return false
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category classifies a terminal error for trace recording and reporting.
type Category string

// Error categories recorded on flow and step executions.
const (
	CategoryAPIError   Category = "api_error"
	CategoryValidation Category = "validation_error"
	CategoryTimeout    Category = "timeout"
	CategoryUnknown    Category = "unknown"
)

// APIError describes a failed call to a remote system, carrying the HTTP
// status so the retry layer can decide whether the failure is transient.
type APIError struct {
	Service    string
	Operation  string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		if e.Message != "" {
			return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Operation, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("%s %s: status %d", e.Service, e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s", e.Service, e.Operation, e.Message)
}

// HTTPStatus extracts an embedded HTTP status code from the error tree.
// Returns 0 when the error carries no status.
func HTTPStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// networkFailurePatterns are transport-level failure signatures that are
// always considered transient.
var networkFailurePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"fetch failed",
	"EOF",
}

// Classify maps an error onto the shared taxonomy. The same rules are applied
// at the retry-decision layer and at the trace-recording layer.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryAPIError
	}

	if errors.Is(err, ErrInvalidInput) {
		return CategoryValidation
	}

	if status := HTTPStatus(err); status > 0 {
		return CategoryAPIError
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return CategoryAPIError
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return CategoryTimeout
	}
	for _, pattern := range networkFailurePatterns {
		if strings.Contains(msg, strings.ToLower(pattern)) {
			return CategoryAPIError
		}
	}

	return CategoryUnknown
}

// Retryable reports whether a failed remote call may be attempted again.
//
// Rules, in priority order:
//   - network-level transport failures are retryable
//   - HTTP status >= 500 or == 429 is retryable
//   - any other HTTP status in [400, 500) is not retryable
//   - authentication, authorization and not-found failures are not retryable
//   - validation failures are not retryable
//   - anything unclassified is retryable, so an unrecoverable bug surfaces
//     through exhausted-attempts propagation instead of silently never retrying
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if status := HTTPStatus(err); status > 0 {
		if status >= 500 || status == 429 {
			return true
		}
		if status >= 400 {
			return false
		}
	}

	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range networkFailurePatterns {
		if strings.Contains(msg, strings.ToLower(pattern)) {
			return true
		}
	}

	return true
}

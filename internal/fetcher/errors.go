package fetcher

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error that occurred during a request
type ErrorType string

const (
	// ErrorTypeNetwork indicates a network-level error (connection refused, DNS, reset)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout indicates the request did not complete within the client timeout
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeRateLimit indicates the upstream rejected the request with HTTP 429
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUpstream indicates any other 4xx/5xx response
	ErrorTypeUpstream ErrorType = "upstream"
	// ErrorTypeDecode indicates the response body could not be parsed
	ErrorTypeDecode ErrorType = "decode"
)

// FetchError represents a structured error from one request
type FetchError struct {
	Type       ErrorType
	Retryable  bool
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a transient network error
func NewNetworkError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeNetwork,
		Retryable: true,
		Message:   fmt.Sprintf("network request failed: %v", cause),
		Cause:     cause,
	}
}

// NewTimeoutError creates a transient timeout error
func NewTimeoutError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeTimeout,
		Retryable: true,
		Message:   "request timed out",
		Cause:     cause,
	}
}

// NewRateLimitError creates a transient rate limit error
func NewRateLimitError(statusCode int, body string) *FetchError {
	msg := "rate limit exceeded"
	if body != "" {
		msg = fmt.Sprintf("rate limit exceeded: %s", body)
	}
	return &FetchError{
		Type:       ErrorTypeRateLimit,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    msg,
	}
}

// NewUpstreamError creates a non-retryable error for a 4xx/5xx response
func NewUpstreamError(statusCode int, body string) *FetchError {
	msg := fmt.Sprintf("HTTP %d", statusCode)
	if body != "" {
		msg = fmt.Sprintf("HTTP %d: %s", statusCode, body)
	}
	return &FetchError{
		Type:       ErrorTypeUpstream,
		Retryable:  false,
		StatusCode: statusCode,
		Message:    msg,
	}
}

// NewDecodeError creates an error for a response body that could not be parsed
func NewDecodeError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeDecode,
		Retryable: false,
		Message:   fmt.Sprintf("invalid response body: %v", cause),
		Cause:     cause,
	}
}

// ClassifyHTTPError classifies a non-2xx status code into a FetchError.
// Only 429 is transient: a malformed request does not become valid by waiting.
func ClassifyHTTPError(statusCode int, body string) *FetchError {
	switch {
	case statusCode == 429:
		return NewRateLimitError(statusCode, body)
	case statusCode >= 400:
		return NewUpstreamError(statusCode, body)
	default:
		return &FetchError{
			Type:       ErrorTypeUpstream,
			Retryable:  false,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", statusCode),
		}
	}
}

// IsTransient reports whether err is a FetchError worth retrying
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// TypeOf returns the ErrorType of err, or "" if err is not a FetchError
func TypeOf(err error) ErrorType {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Type
	}
	return ""
}

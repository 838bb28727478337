package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a provider failure for retry policy decisions.
type ErrorKind string

const (
	// KindRateLimited indicates the provider rejected the request for
	// exceeding its rate limit (HTTP 429).
	KindRateLimited ErrorKind = "rate_limited"

	// KindServerError indicates a provider-side failure (HTTP 5xx).
	KindServerError ErrorKind = "server_error"

	// KindNetwork indicates the request never produced an HTTP response.
	KindNetwork ErrorKind = "network"

	// KindAuth indicates invalid or missing credentials (HTTP 401/403).
	KindAuth ErrorKind = "auth"

	// KindBadRequest indicates the request itself was rejected (HTTP 4xx
	// other than 401/403/429).
	KindBadRequest ErrorKind = "bad_request"
)

// APIError represents an error returned by an LLM provider API.
type APIError struct {
	// Provider is the name of the LLM provider (e.g., "openai", "gemini").
	Provider string
	// StatusCode is the HTTP status code returned by the API.
	StatusCode int
	// Message is the error message from the API.
	Message string
	// Type is the error type classification from the API.
	Type string
	// Code is the provider-specific error code (if available).
	Code string
	// Kind is the retry classification derived from the status code.
	Kind ErrorKind
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient returns true if the error may succeed on retry: rate limiting,
// server errors, and network errors. Auth and bad-request errors are
// permanent for a given request.
func (e *APIError) IsTransient() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindNetwork:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status code to an ErrorKind. A status of zero
// means no HTTP response was received.
func classifyStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == 0:
		return KindNetwork
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuth
	case statusCode >= 500:
		return KindServerError
	default:
		return KindBadRequest
	}
}

// KindOf extracts the ErrorKind from an error chain. Errors that are not
// APIErrors (malformed payloads, JSON the caller could not parse) report an
// empty kind.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// isTransientError reports whether err is a transient APIError.
func isTransientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	return false
}

// newNetworkError wraps a transport failure as an APIError with KindNetwork.
func newNetworkError(provider, message string) *APIError {
	return &APIError{
		Provider:   provider,
		StatusCode: 0,
		Message:    message,
		Type:       "network_error",
		Kind:       KindNetwork,
	}
}

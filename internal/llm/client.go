// Package llm provides chat completion adapters for the model providers the
// enrichment engine can run against. Each adapter performs a single request;
// retry policy belongs to the caller, which needs the error classification
// to choose its backoff.
package llm

import (
	"context"
)

// CompletionRequest is a single chat completion call: an optional system
// instruction plus the user prompt.
type CompletionRequest struct {
	// System is the system instruction. Callers must fold it into User
	// before calling providers whose SupportsSystemRole is false.
	System string
	// User is the user prompt.
	User string
	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
	// Temperature is the sampling temperature.
	Temperature float64
}

// CompletionResponse is the text result of a completion call.
type CompletionResponse struct {
	// Content is the raw model output.
	Content string
	// Model is the model identifier that produced the response.
	Model string
	// InputTokens is the prompt token count reported by the provider.
	InputTokens int
	// OutputTokens is the completion token count reported by the provider.
	OutputTokens int
}

// Provider is a chat completion backend.
//
// Implementations should:
//   - Respect context cancellation
//   - Return *APIError for HTTP and transport failures
//   - Perform exactly one request per Complete call
type Provider interface {
	// Complete sends one completion request and returns the model output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Provider returns the provider name (e.g., "openai").
	Provider() string

	// Model returns the model identifier being used.
	Model() string

	// SupportsSystemRole reports whether the provider accepts a separate
	// system instruction. When false, callers fold the system text into
	// the user prompt.
	SupportsSystemRole() bool
}

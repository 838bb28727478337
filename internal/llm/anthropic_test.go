package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicSuccessBody(text string) string {
	resp := messagesResponse{
		ID:    "msg_123",
		Type:  "message",
		Role:  "assistant",
		Model: "claude-3-5-haiku-20241022",
		Content: []contentBlock{
			{Type: "text", Text: text},
		},
		Usage: anthropicUsage{InputTokens: 90, OutputTokens: 35},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestAnthropicProvider_Complete(t *testing.T) {
	t.Run("successful completion", func(t *testing.T) {
		var gotReq messagesRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			fmt.Fprint(w, anthropicSuccessBody(`{"lay_summary": "ok"}`))
		}))
		defer server.Close()

		provider := NewAnthropicProvider(AnthropicConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
		}, 5*time.Second)

		resp, err := provider.Complete(context.Background(), CompletionRequest{
			System:      "You are a classifier.",
			User:        "Classify this.",
			MaxTokens:   512,
			Temperature: 0.2,
		})
		require.NoError(t, err)
		assert.Equal(t, `{"lay_summary": "ok"}`, resp.Content)
		assert.Equal(t, 90, resp.InputTokens)
		assert.Equal(t, 35, resp.OutputTokens)

		assert.Equal(t, "You are a classifier.", gotReq.System)
		require.Len(t, gotReq.Messages, 1)
		assert.Equal(t, "user", gotReq.Messages[0].Role)
		assert.Equal(t, 512, gotReq.MaxTokens)
	})

	t.Run("api error is classified", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`)
		}))
		defer server.Close()

		provider := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL}, 5*time.Second)
		_, err := provider.Complete(context.Background(), CompletionRequest{User: "hello"})

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "anthropic", apiErr.Provider)
		assert.Equal(t, KindRateLimited, apiErr.Kind)
		assert.Equal(t, "slow down", apiErr.Message)
		assert.Equal(t, "rate_limit_error", apiErr.Type)
	})

	t.Run("skips non-text content blocks", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"content": [{"type": "thinking"}, {"type": "text", "text": "answer"}], "model": "m"}`)
		}))
		defer server.Close()

		provider := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL}, 5*time.Second)
		resp, err := provider.Complete(context.Background(), CompletionRequest{User: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "answer", resp.Content)
	})

	t.Run("no text content blocks is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"content": []}`)
		}))
		defer server.Close()

		provider := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL}, 5*time.Second)
		_, err := provider.Complete(context.Background(), CompletionRequest{User: "hello"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no text content blocks")
	})

	t.Run("defaults", func(t *testing.T) {
		p := NewAnthropicProvider(AnthropicConfig{APIKey: "k"}, 0)
		assert.Equal(t, "anthropic", p.Provider())
		assert.Equal(t, defaultAnthropicModel, p.Model())
		assert.True(t, p.SupportsSystemRole())
	})
}

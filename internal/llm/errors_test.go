package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       ErrorKind
	}{
		{"no response", 0, KindNetwork},
		{"rate limited", http.StatusTooManyRequests, KindRateLimited},
		{"unauthorized", http.StatusUnauthorized, KindAuth},
		{"forbidden", http.StatusForbidden, KindAuth},
		{"bad request", http.StatusBadRequest, KindBadRequest},
		{"not found", http.StatusNotFound, KindBadRequest},
		{"internal error", http.StatusInternalServerError, KindServerError},
		{"bad gateway", http.StatusBadGateway, KindServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStatus(tt.statusCode))
		})
	}
}

func TestAPIError_IsTransient(t *testing.T) {
	assert.True(t, (&APIError{Kind: KindRateLimited}).IsTransient())
	assert.True(t, (&APIError{Kind: KindServerError}).IsTransient())
	assert.True(t, (&APIError{Kind: KindNetwork}).IsTransient())
	assert.False(t, (&APIError{Kind: KindAuth}).IsTransient())
	assert.False(t, (&APIError{Kind: KindBadRequest}).IsTransient())
}

func TestAPIError_Error(t *testing.T) {
	withType := &APIError{Provider: "openai", StatusCode: 429, Message: "slow down", Type: "rate_limit_error"}
	assert.Contains(t, withType.Error(), "rate_limit_error")
	assert.Contains(t, withType.Error(), "openai")

	withoutType := &APIError{Provider: "gemini", StatusCode: 500, Message: "oops"}
	assert.Contains(t, withoutType.Error(), "status 500")
}

func TestKindOf(t *testing.T) {
	apiErr := &APIError{Provider: "openai", StatusCode: 429, Kind: KindRateLimited}
	assert.Equal(t, KindRateLimited, KindOf(apiErr))
	assert.Equal(t, KindRateLimited, KindOf(fmt.Errorf("wrapped: %w", apiErr)))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain error")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, isTransientError(&APIError{Kind: KindServerError}))
	assert.False(t, isTransientError(&APIError{Kind: KindAuth}))
	assert.False(t, isTransientError(errors.New("not an api error")))
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Default values for the OpenAI-compatible providers.
const (
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGroqBaseURL    = "https://api.groq.com/openai/v1"
	defaultGroqModel      = "llama-3.3-70b-versatile"
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-small-latest"
	defaultMaxTokens      = 1024
)

// chatRequest represents the Chat Completions API request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage represents a single message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the Chat Completions API response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// chatChoice represents a single completion choice.
type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage contains token usage information.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatErrorResponse represents an error response from a Chat Completions API.
type chatErrorResponse struct {
	Error chatErrorDetail `json:"error"`
}

// chatErrorDetail contains error details from a Chat Completions API.
type chatErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAICompatProvider implements Provider against the OpenAI Chat
// Completions wire format. Groq and Mistral expose the same API under
// different base URLs, so all three share this adapter.
type OpenAICompatProvider struct {
	httpClient *http.Client
	name       string
	apiKey     string
	model      string
	baseURL    string
}

var _ Provider = (*OpenAICompatProvider)(nil)

// OpenAIConfig holds the parameters needed to create an OpenAI-compatible
// provider. This is defined in the llm package to avoid importing the
// config package.
type OpenAIConfig struct {
	// APIKey is the provider API key.
	APIKey string
	// Model is the model identifier (empty means the provider default).
	Model string
	// BaseURL is the API base URL (empty means the provider default).
	BaseURL string
}

// NewOpenAIProvider creates a Provider backed by the OpenAI Chat
// Completions API.
func NewOpenAIProvider(cfg OpenAIConfig, timeout time.Duration) *OpenAICompatProvider {
	return newCompatProvider("openai", defaultOpenAIBaseURL, defaultOpenAIModel, cfg, timeout)
}

// NewGroqProvider creates a Provider backed by the Groq API, which speaks
// the OpenAI Chat Completions wire format.
func NewGroqProvider(cfg OpenAIConfig, timeout time.Duration) *OpenAICompatProvider {
	return newCompatProvider("groq", defaultGroqBaseURL, defaultGroqModel, cfg, timeout)
}

// NewMistralProvider creates a Provider backed by the Mistral API, which
// speaks the OpenAI Chat Completions wire format.
func NewMistralProvider(cfg OpenAIConfig, timeout time.Duration) *OpenAICompatProvider {
	return newCompatProvider("mistral", defaultMistralBaseURL, defaultMistralModel, cfg, timeout)
}

func newCompatProvider(name, defaultBaseURL, defaultModel string, cfg OpenAIConfig, timeout time.Duration) *OpenAICompatProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAICompatProvider{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		name:    name,
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
	}
}

// Complete sends one request to the Chat Completions API.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	chatReq := chatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", p.name, err)
	}

	endpoint := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", p.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: request cancelled: %w", p.name, ctx.Err())
		}
		return nil, newNetworkError(p.name, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, newNetworkError(p.name, fmt.Sprintf("failed to read response body: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseAPIError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("%s: failed to unmarshal response: %w", p.name, err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices in response", p.name)
	}

	model := chatResp.Model
	if model == "" {
		model = p.model
	}

	return &CompletionResponse{
		Content:      chatResp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

// Provider returns the provider name.
func (p *OpenAICompatProvider) Provider() string {
	return p.name
}

// Model returns the model identifier being used.
func (p *OpenAICompatProvider) Model() string {
	return p.model
}

// SupportsSystemRole reports that these providers accept a system message.
func (p *OpenAICompatProvider) SupportsSystemRole() bool {
	return true
}

// parseAPIError parses an API error from the response status code and body.
func (p *OpenAICompatProvider) parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   p.name,
		StatusCode: statusCode,
		Message:    string(body),
		Kind:       classifyStatus(statusCode),
	}

	var errResp chatErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}

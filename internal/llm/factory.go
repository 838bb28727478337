package llm

import (
	"fmt"
	"time"
)

// FactoryConfig holds the parameters needed to create a Provider. This is
// defined in the llm package to avoid importing the config package, keeping
// the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the provider name ("openai", "anthropic", "groq",
	// "mistral", or "gemini").
	Provider string
	// Timeout is the timeout for API calls.
	Timeout time.Duration
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
	// Groq contains Groq-specific settings.
	Groq OpenAIConfig
	// Mistral contains Mistral-specific settings.
	Mistral OpenAIConfig
	// Gemini contains Gemini-specific settings.
	Gemini GeminiConfig
}

// NewProvider creates a Provider based on the configuration. Returns an
// error for unsupported or empty provider values.
func NewProvider(cfg FactoryConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI, cfg.Timeout), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic, cfg.Timeout), nil
	case "groq":
		return NewGroqProvider(cfg.Groq, cfg.Timeout), nil
	case "mistral":
		return NewMistralProvider(cfg.Mistral, cfg.Timeout), nil
	case "gemini":
		return NewGeminiProvider(cfg.Gemini, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

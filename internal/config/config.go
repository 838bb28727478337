// Package config provides configuration management for the publications
// pipeline. Every knob has a default so the binary runs unconfigured; the
// one fail-fast case is selecting an enrichment provider without its
// credential.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/renalworks/publications-pipeline/internal/domain"
)

// Config holds all configuration for the publications pipeline.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings for the cache
	// document store. An empty host selects the in-memory store.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains text-generation provider settings for enrichment.
	LLM LLMConfig `mapstructure:"llm"`
	// PubMed contains literature API settings.
	PubMed PubMedConfig `mapstructure:"pubmed"`
	// Cache contains cache document and refresh lock settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Pipeline contains orchestrator fan-out settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Kafka contains optional refresh-event publishing settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Researchers is the set of investigators whose publications are
	// harvested, usually supplied via the config file.
	Researchers []ResearcherConfig `mapstructure:"researchers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the keep-alive idle timeout.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname. Empty means no database;
	// the cache then lives in process memory.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (environment only).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of pooled connections.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of pooled connections.
	MinConns int32 `mapstructure:"min_conns"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// Configured reports whether a database host was supplied.
func (c *DatabaseConfig) Configured() bool {
	return c.Host != ""
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// LLMConfig holds text-generation provider configuration.
type LLMConfig struct {
	// Enabled turns enrichment on. When false the pipeline harvests and
	// caches without calling any provider.
	Enabled bool `mapstructure:"enabled"`
	// Provider selects the adapter (openai, anthropic, groq, mistral, gemini).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for provider API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay for malformed-output and QA retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// RateLimitRetryDelay is the base delay for rate-limit retries.
	RateLimitRetryDelay time.Duration `mapstructure:"rate_limit_retry_delay"`
	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens bounds the provider response length.
	MaxTokens int `mapstructure:"max_tokens"`
	// MaxSummarySentences truncates lay summaries to this many sentences.
	MaxSummarySentences int `mapstructure:"max_summary_sentences"`
	// MinAbstractLength is the shortest abstract worth enriching.
	MinAbstractLength int `mapstructure:"min_abstract_length"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	// Groq contains Groq-specific settings.
	Groq ProviderConfig `mapstructure:"groq"`
	// Mistral contains Mistral-specific settings.
	Mistral ProviderConfig `mapstructure:"mistral"`
	// Gemini contains Google Gemini-specific settings.
	Gemini ProviderConfig `mapstructure:"gemini"`
}

// ProviderConfig holds the settings for one text-generation provider.
type ProviderConfig struct {
	// APIKey is the provider API key (environment only, see loadSecrets).
	APIKey string `mapstructure:"-"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// PubMedConfig holds literature API configuration.
type PubMedConfig struct {
	// BaseURL is the E-utilities base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the NCBI API key (environment only); raises the rate limit.
	APIKey string `mapstructure:"-"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the linear backoff step between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the maximum request burst.
	BurstSize int `mapstructure:"burst_size"`
	// MaxResults is the default maximum results per researcher query.
	MaxResults int `mapstructure:"max_results"`
	// ChunkSize is the identifier batch size for summary/abstract calls.
	ChunkSize int `mapstructure:"chunk_size"`
}

// CacheConfig holds cache document and refresh lock configuration.
type CacheConfig struct {
	// Key identifies the shared cache document.
	Key string `mapstructure:"key"`
	// MaxAge is the staleness threshold for the cache document.
	MaxAge time.Duration `mapstructure:"max_age"`
	// LockTTL is the age after which a held refresh lock is presumed
	// abandoned and may be force-cleared.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// LockRetryAttempts bounds the optimistic lock acquisition cycle.
	LockRetryAttempts int `mapstructure:"lock_retry_attempts"`
}

// PipelineConfig holds orchestrator fan-out configuration.
type PipelineConfig struct {
	// EnrichWidth is the enrichment fan-out width (1 = strictly
	// sequential, the free-tier-friendly default).
	EnrichWidth int `mapstructure:"enrich_width"`
	// BatchDelay is the fixed delay between successive enrichment batches.
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	// MaxPerResearcher bounds results fetched per researcher query.
	MaxPerResearcher int `mapstructure:"max_per_researcher"`
}

// KafkaConfig holds refresh-event publishing settings.
type KafkaConfig struct {
	// Enabled controls whether refresh events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the topic refresh events are published to.
	Topic string `mapstructure:"topic"`
	// BatchTimeout is the maximum time to wait before flushing a batch.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ResearcherConfig describes one harvested investigator.
type ResearcherConfig struct {
	// ID is the stable researcher identifier used in provenance.
	ID string `mapstructure:"id"`
	// Name is the display name.
	Name string `mapstructure:"name"`
	// Query is the literature-database boolean query string.
	Query string `mapstructure:"query"`
}

// DomainResearchers converts the configured researcher list to domain values.
func (c *Config) DomainResearchers() []domain.Researcher {
	out := make([]domain.Researcher, 0, len(c.Researchers))
	for _, r := range c.Researchers {
		out = append(out, domain.Researcher{ID: r.ID, Name: r.Name, Query: r.Query})
	}
	return out
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PUBPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/publications-pipeline")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment
// variables. These fields use mapstructure:"-" so config files cannot set
// them.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("PUBPIPE_DATABASE_PASSWORD")
	cfg.PubMed.APIKey = os.Getenv("PUBPIPE_PUBMED_API_KEY")

	cfg.LLM.OpenAI.APIKey = os.Getenv("PUBPIPE_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv("PUBPIPE_LLM_ANTHROPIC_API_KEY")
	cfg.LLM.Groq.APIKey = os.Getenv("PUBPIPE_LLM_GROQ_API_KEY")
	cfg.LLM.Mistral.APIKey = os.Getenv("PUBPIPE_LLM_MISTRAL_API_KEY")
	cfg.LLM.Gemini.APIKey = os.Getenv("PUBPIPE_LLM_GEMINI_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m") // a forced refresh may run long
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults. Host intentionally empty: without a database the
	// coordinator uses the in-memory store.
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pubpipe")
	v.SetDefault("database.name", "publications_pipeline")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// LLM defaults. API keys are loaded exclusively from environment
	// variables (see loadSecrets).
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_delay", "1s")
	v.SetDefault("llm.rate_limit_retry_delay", "5s")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.max_summary_sentences", 3)
	v.SetDefault("llm.min_abstract_length", 50)
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-20241022")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.mistral.model", "mistral-small-latest")
	v.SetDefault("llm.mistral.base_url", "https://api.mistral.ai/v1")
	v.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")

	// PubMed defaults. NCBI recommends max 3 req/sec without an API key.
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.timeout", "15s")
	v.SetDefault("pubmed.max_retries", 2)
	v.SetDefault("pubmed.retry_delay", "500ms")
	v.SetDefault("pubmed.rate_limit", 3.0)
	v.SetDefault("pubmed.burst_size", 3)
	v.SetDefault("pubmed.max_results", 100)
	v.SetDefault("pubmed.chunk_size", 200)

	// Cache defaults
	v.SetDefault("cache.key", domain.DefaultCacheKey)
	v.SetDefault("cache.max_age", "24h")
	v.SetDefault("cache.lock_ttl", "2m")
	v.SetDefault("cache.lock_retry_attempts", 5)

	// Pipeline defaults
	v.SetDefault("pipeline.enrich_width", 1)
	v.SetDefault("pipeline.batch_delay", "1s")
	v.SetDefault("pipeline.max_per_researcher", 100)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "publications.refresh.completed")
	v.SetDefault("kafka.batch_timeout", "10ms")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Database.Configured() {
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache max_age must be positive")
	}
	if c.Cache.LockTTL <= 0 {
		return fmt.Errorf("cache lock_ttl must be positive")
	}
	if c.Pipeline.EnrichWidth < 1 {
		return fmt.Errorf("pipeline enrich_width must be at least 1")
	}
	if c.PubMed.ChunkSize < 1 {
		return fmt.Errorf("pubmed chunk_size must be at least 1")
	}

	// Fail fast on a selected provider without its credential. Missing
	// credentials are configuration errors, never retried.
	if c.LLM.Enabled {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai":
			if c.LLM.OpenAI.APIKey == "" {
				return fmt.Errorf("LLM provider %q requires PUBPIPE_LLM_OPENAI_API_KEY to be set", c.LLM.Provider)
			}
		case "anthropic":
			if c.LLM.Anthropic.APIKey == "" {
				return fmt.Errorf("LLM provider %q requires PUBPIPE_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider)
			}
		case "groq":
			if c.LLM.Groq.APIKey == "" {
				return fmt.Errorf("LLM provider %q requires PUBPIPE_LLM_GROQ_API_KEY to be set", c.LLM.Provider)
			}
		case "mistral":
			if c.LLM.Mistral.APIKey == "" {
				return fmt.Errorf("LLM provider %q requires PUBPIPE_LLM_MISTRAL_API_KEY to be set", c.LLM.Provider)
			}
		case "gemini":
			if c.LLM.Gemini.APIKey == "" {
				return fmt.Errorf("LLM provider %q requires PUBPIPE_LLM_GEMINI_API_KEY to be set", c.LLM.Provider)
			}
		default:
			return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	for i, r := range c.Researchers {
		if r.ID == "" {
			return fmt.Errorf("researchers[%d]: id is required", i)
		}
		if r.Query == "" {
			return fmt.Errorf("researchers[%d]: query is required", i)
		}
	}

	return nil
}

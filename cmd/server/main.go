// Package main provides the entry point for the publications pipeline HTTP
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/renalworks/publications-pipeline/internal/cache"
	"github.com/renalworks/publications-pipeline/internal/config"
	"github.com/renalworks/publications-pipeline/internal/database"
	"github.com/renalworks/publications-pipeline/internal/enrich"
	"github.com/renalworks/publications-pipeline/internal/events"
	"github.com/renalworks/publications-pipeline/internal/litsource/pubmed"
	"github.com/renalworks/publications-pipeline/internal/llm"
	"github.com/renalworks/publications-pipeline/internal/observability"
	"github.com/renalworks/publications-pipeline/internal/pipeline"
	httpserver "github.com/renalworks/publications-pipeline/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("publications-pipeline server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Document store: PostgreSQL when configured, process memory otherwise.
	var store cache.DocumentStore
	var health httpserver.HealthChecker
	if cfg.Database.Configured() {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer func() {
				if closeErr := migrator.Close(); closeErr != nil {
					logger.Error().Err(closeErr).Msg("failed to close migrator")
				}
			}()
			if err := migrator.Up(); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		store = cache.NewPgDocumentStore(db.Pool(), logger)
		health = db
	} else {
		logger.Warn().Msg("no database configured, cache lives in process memory")
		store = cache.NewMemoryDocumentStore()
	}

	coordinator := cache.NewCoordinator(store, cache.Config{
		Key:               cfg.Cache.Key,
		LockTTL:           cfg.Cache.LockTTL,
		LockRetryAttempts: cfg.Cache.LockRetryAttempts,
	}, logger, metrics)

	fetcher := pubmed.New(pubmed.Config{
		BaseURL:    cfg.PubMed.BaseURL,
		APIKey:     cfg.PubMed.APIKey,
		Timeout:    cfg.PubMed.Timeout,
		MaxRetries: cfg.PubMed.MaxRetries,
		RetryDelay: cfg.PubMed.RetryDelay,
		RateLimit:  cfg.PubMed.RateLimit,
		BurstSize:  cfg.PubMed.BurstSize,
		MaxResults: cfg.PubMed.MaxResults,
		ChunkSize:  cfg.PubMed.ChunkSize,
	}, logger)

	enricher, err := buildEnricher(cfg, logger, metrics)
	if err != nil {
		return err
	}

	var publisher events.Publisher
	if cfg.Kafka.Enabled {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer func() {
			if closeErr := kp.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close kafka publisher")
			}
		}()
		publisher = kp
	}

	orch := pipeline.New(fetcher, enricher, coordinator, publisher, cfg.DomainResearchers(), pipeline.Config{
		EnrichWidth:      cfg.Pipeline.EnrichWidth,
		BatchDelay:       cfg.Pipeline.BatchDelay,
		MaxPerResearcher: cfg.Pipeline.MaxPerResearcher,
		CacheMaxAge:      cfg.Cache.MaxAge,
	}, logger, metrics)

	var metricsRegistry *prometheus.Registry
	if cfg.Metrics.Enabled {
		metricsRegistry = registry
	}
	srv := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     cfg.Metrics.Path,
	}, orch, health, metricsRegistry, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return nil
}

// buildEnricher creates the enrichment engine, or returns nil when
// enrichment is disabled.
func buildEnricher(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (pipeline.Enricher, error) {
	if !cfg.LLM.Enabled {
		logger.Info().Msg("enrichment disabled, records are cached without summaries")
		return nil, nil
	}

	provider, err := llm.NewProvider(llm.FactoryConfig{
		Provider:  cfg.LLM.Provider,
		Timeout:   cfg.LLM.Timeout,
		OpenAI:    llm.OpenAIConfig{APIKey: cfg.LLM.OpenAI.APIKey, Model: cfg.LLM.OpenAI.Model, BaseURL: cfg.LLM.OpenAI.BaseURL},
		Anthropic: llm.AnthropicConfig{APIKey: cfg.LLM.Anthropic.APIKey, Model: cfg.LLM.Anthropic.Model, BaseURL: cfg.LLM.Anthropic.BaseURL},
		Groq:      llm.OpenAIConfig{APIKey: cfg.LLM.Groq.APIKey, Model: cfg.LLM.Groq.Model, BaseURL: cfg.LLM.Groq.BaseURL},
		Mistral:   llm.OpenAIConfig{APIKey: cfg.LLM.Mistral.APIKey, Model: cfg.LLM.Mistral.Model, BaseURL: cfg.LLM.Mistral.BaseURL},
		Gemini:    llm.GeminiConfig{APIKey: cfg.LLM.Gemini.APIKey, Model: cfg.LLM.Gemini.Model, BaseURL: cfg.LLM.Gemini.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}

	engine := enrich.New(provider, enrich.Config{
		MaxRetries:          cfg.LLM.MaxRetries,
		RetryDelay:          cfg.LLM.RetryDelay,
		RateLimitRetryDelay: cfg.LLM.RateLimitRetryDelay,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		MaxSummarySentences: cfg.LLM.MaxSummarySentences,
		MinAbstractLength:   cfg.LLM.MinAbstractLength,
	}, logger, metrics)
	return engine, nil
}

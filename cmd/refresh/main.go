// Package main provides a one-shot refresh binary for scheduled
// invocation. A partially failed run (dropped chunks, unenriched records)
// still exits 0: the cache was updated with whatever succeeded. Only
// configuration, coordination, and store failures exit non-zero.
package main

import (
	"context"
	"flag"
	"fmt"
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
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	force := flag.Bool("force", false, "refresh even when the cache is still fresh")
	flag.Parse()

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
	logger = logger.With().Str("component", "refresh").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var store cache.DocumentStore
	if cfg.Database.Configured() {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		store = cache.NewPgDocumentStore(db.Pool(), logger)
	} else {
		// An in-memory cache is discarded on exit; a one-shot refresh
		// against it only makes sense for smoke testing.
		logger.Warn().Msg("no database configured, refresh results are not persisted")
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

	stats, err := orch.Refresh(ctx, *force)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	if stats.Skipped {
		logger.Info().Str("run_id", stats.RunID).Msg("cache fresh, nothing to do")
		return nil
	}
	logger.Info().
		Str("run_id", stats.RunID).
		Int("fetched", stats.Fetched).
		Int("new", stats.NewRecords).
		Int("updated", stats.Updated).
		Int("enriched", stats.Enriched).
		Int("enrich_failed", stats.EnrichFailed).
		Int("chunks_failed", stats.ChunksFailed).
		Dur("duration", stats.Duration).
		Msg("refresh finished")
	return nil
}

// buildEnricher creates the enrichment engine, or returns nil when
// enrichment is disabled.
func buildEnricher(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (pipeline.Enricher, error) {
	if !cfg.LLM.Enabled {
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

	return enrich.New(provider, enrich.Config{
		MaxRetries:          cfg.LLM.MaxRetries,
		RetryDelay:          cfg.LLM.RetryDelay,
		RateLimitRetryDelay: cfg.LLM.RateLimitRetryDelay,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		MaxSummarySentences: cfg.LLM.MaxSummarySentences,
		MinAbstractLength:   cfg.LLM.MinAbstractLength,
	}, logger, metrics), nil
}

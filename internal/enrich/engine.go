// Package enrich generates lay summaries and taxonomy classifications for
// fetched publications using a pluggable completion provider, with response
// sanitization, QA gates, and bounded retry.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/renalworks/publications-pipeline/internal/domain"
	"github.com/renalworks/publications-pipeline/internal/llm"
	"github.com/renalworks/publications-pipeline/internal/observability"
)

// Default values for the enrichment engine.
const (
	DefaultMaxRetries          = 2
	DefaultRetryDelay          = 1 * time.Second
	DefaultRateLimitRetryDelay = 5 * time.Second
	DefaultTemperature         = 0.2
	DefaultMaxTokens           = 1024
	DefaultMaxSummarySentences = 3
	DefaultMinAbstractLength   = 50
)

// Config holds the configuration for the enrichment engine.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryDelay is the base delay for malformed-response and QA retries.
	// The wait is RetryDelay multiplied by the attempt number.
	RetryDelay time.Duration

	// RateLimitRetryDelay is the base delay for rate-limit retries.
	RateLimitRetryDelay time.Duration

	// Temperature is the sampling temperature passed to the provider.
	Temperature float64

	// MaxTokens caps the provider response length.
	MaxTokens int

	// MaxSummarySentences truncates summaries to this many sentences.
	MaxSummarySentences int

	// MinAbstractLength is the minimum abstract length worth enriching.
	// Shorter abstracts short-circuit without a provider call.
	MinAbstractLength int
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RateLimitRetryDelay == 0 {
		c.RateLimitRetryDelay = DefaultRateLimitRetryDelay
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxSummarySentences == 0 {
		c.MaxSummarySentences = DefaultMaxSummarySentences
	}
	if c.MinAbstractLength == 0 {
		c.MinAbstractLength = DefaultMinAbstractLength
	}
}

// Engine runs the enrichment pipeline: prompt, provider call, extraction,
// sanitization, canonicalization, and retry.
type Engine struct {
	provider llm.Provider
	config   Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// New creates an enrichment engine around the given provider.
func New(provider llm.Provider, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	cfg.applyDefaults()
	return &Engine{
		provider: provider,
		config:   cfg,
		logger:   logger.With().Str("component", "enrich").Str("provider", provider.Provider()).Logger(),
		metrics:  metrics,
	}
}

// Enrichable reports whether an abstract is long enough to be worth a
// provider call. Callers can use it to separate "nothing to enrich" from
// retry exhaustion, since Enrich reports both as a nil enrichment.
func (e *Engine) Enrichable(abstract string) bool {
	return len(strings.TrimSpace(abstract)) >= e.config.MinAbstractLength
}

// Enrich produces a lay summary plus classification for one record. A nil
// enrichment with a nil error means no enrichment is available right now:
// the abstract was too short, or retries were exhausted on transient
// failures. Auth and bad-request errors propagate immediately.
func (e *Engine) Enrich(ctx context.Context, title, abstract string) (*domain.Enrichment, error) {
	if len(strings.TrimSpace(abstract)) < e.config.MinAbstractLength {
		return nil, nil
	}

	system, user := buildEnrichmentPrompt(title, abstract, e.config.MaxSummarySentences)
	return e.run(ctx, system, user, title, true)
}

// Classify produces a classification without a summary, for re-running
// taxonomy over records that already carry one. It shares the extraction,
// canonicalization, and retry machinery with Enrich.
func (e *Engine) Classify(ctx context.Context, title, abstract string) (*domain.Enrichment, error) {
	if len(strings.TrimSpace(abstract)) < e.config.MinAbstractLength {
		return nil, nil
	}

	system, user := buildClassificationPrompt(title, abstract)
	return e.run(ctx, system, user, title, false)
}

// run executes the provider call with retry. wantSummary selects whether
// the summary pipeline (sanitization + QA) applies.
func (e *Engine) run(ctx context.Context, system, user, title string, wantSummary bool) (*domain.Enrichment, error) {
	// Providers without a system role get the instructions folded into
	// the user turn.
	if !e.provider.SupportsSystemRole() {
		user = system + "\n\n" + user
		system = ""
	}

	req := llm.CompletionRequest{
		System:      system,
		User:        user,
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	}

	start := time.Now()
	defer func() {
		e.metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())
	}()

	var lastCause string
	for attempt := 1; attempt <= e.config.MaxRetries+1; attempt++ {
		e.metrics.EnrichmentsAttempted.WithLabelValues(e.provider.Provider()).Inc()

		resp, err := e.provider.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			kind := llm.KindOf(err)
			if kind == llm.KindAuth || kind == llm.KindBadRequest {
				return nil, fmt.Errorf("enrichment request rejected: %w", err)
			}
			lastCause = retryCause(kind)
		} else {
			enrichment, perr := e.processResponse(resp.Content, title, wantSummary)
			if perr == nil {
				e.metrics.EnrichmentsSucceeded.WithLabelValues(e.provider.Provider()).Inc()
				return enrichment, nil
			}
			lastCause = perr.cause
			e.logger.Debug().Err(perr.err).
				Int("attempt", attempt).
				Msg("enrichment response rejected")
		}

		if attempt > e.config.MaxRetries {
			break
		}

		e.metrics.EnrichmentRetries.WithLabelValues(lastCause).Inc()
		if err := e.wait(ctx, e.retryDelay(lastCause, attempt)); err != nil {
			return nil, err
		}
	}

	e.metrics.EnrichmentsFailed.WithLabelValues(e.provider.Provider(), lastCause).Inc()
	e.logger.Warn().
		Str("cause", lastCause).
		Int("attempts", e.config.MaxRetries+1).
		Msg("enrichment exhausted retries")
	return nil, nil
}

// processError pairs a rejection with its retry cause label.
type processError struct {
	err   error
	cause string
}

// processResponse runs the response pipeline: extraction, summary
// sanitization and QA, taxonomy canonicalization, exclude coercion.
func (e *Engine) processResponse(content, title string, wantSummary bool) (*domain.Enrichment, *processError) {
	parsed, err := decodeResponse(content)
	if err != nil {
		return nil, &processError{err: err, cause: "malformed"}
	}

	enrichment := &domain.Enrichment{}
	enrichment.Topics, enrichment.StudyDesign, enrichment.MethodologicalFocus = canonicalizeTags(
		parsed.Topics, parsed.StudyDesign, parsed.MethodologicalFocus)
	enrichment.Exclude = coerceExclude(parsed.Exclude)

	if wantSummary {
		summary := sanitizeSummary(parsed.LaySummary, title, e.config.MaxSummarySentences)
		if err := validateSummary(summary); err != nil {
			return nil, &processError{err: err, cause: "qa"}
		}
		enrichment.LaySummary = summary
	}

	return enrichment, nil
}

// retryDelay computes the linear backoff for the given cause and attempt.
func (e *Engine) retryDelay(cause string, attempt int) time.Duration {
	base := e.config.RetryDelay
	if cause == "rate_limited" {
		base = e.config.RateLimitRetryDelay
	}
	return base * time.Duration(attempt)
}

// retryCause labels a transient provider error kind for metrics and delay
// selection.
func retryCause(kind llm.ErrorKind) string {
	switch kind {
	case llm.KindRateLimited:
		return "rate_limited"
	case llm.KindServerError:
		return "server_error"
	case llm.KindNetwork:
		return "network"
	default:
		return "malformed"
	}
}

// wait blocks for the given duration, honoring context cancellation.
func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry wait: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/renalworks/publications-pipeline/internal/domain"
	"github.com/renalworks/publications-pipeline/internal/observability"
)

// Default values for the cache coordinator.
const (
	DefaultLockTTL           = 2 * time.Minute
	DefaultLockRetryAttempts = 5
)

// Config holds the configuration for the cache coordinator.
type Config struct {
	// Key identifies the cache document. Defaults to
	// domain.DefaultCacheKey.
	Key string

	// LockTTL is how long a held refresh lock is honored before it is
	// considered abandoned and force-cleared.
	LockTTL time.Duration

	// LockRetryAttempts bounds the read-decide-write acquisition cycles.
	LockRetryAttempts int
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.Key == "" {
		c.Key = domain.DefaultCacheKey
	}
	if c.LockTTL == 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.LockRetryAttempts == 0 {
		c.LockRetryAttempts = DefaultLockRetryAttempts
	}
}

// IncrementalWrite carries the per-record deltas of one refresh run. It is
// what keeps a daily refresh cheap when only a handful of records are new:
// new and updated records are patched by key, counters are adjusted by
// delta, nothing is bulk-replaced.
type IncrementalWrite struct {
	// New maps record id to publication for records not yet cached.
	New map[string]domain.Publication

	// Updated maps record id to publication for cached records whose
	// content changed.
	Updated map[string]domain.Publication

	// ProvenanceDelta maps record id to researcher IDs to append. Union
	// semantics apply at read time.
	ProvenanceDelta map[string][]string

	// EnrichedDelta is the net change in records carrying a lay summary.
	EnrichedDelta int

	// Duration is the wall-clock duration of the run.
	Duration time.Duration

	// Failures is the per-record failure count of the run.
	Failures int
}

// Coordinator mediates all access to the shared cache document. Mutual
// exclusion for refreshes piggy-backs on the document store's revision
// marker rather than a separate lock service.
type Coordinator struct {
	store   DocumentStore
	config  Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewCoordinator creates a cache coordinator over the given store.
func NewCoordinator(store DocumentStore, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		store:   store,
		config:  cfg,
		logger:  logger.With().Str("component", "cache").Str("cache_key", cfg.Key).Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Read returns the cache document, or nil when it has never been written.
// Provenance is normalized on the way out so append-based deltas collapse
// into sets.
func (c *Coordinator) Read(ctx context.Context) (*domain.CacheDocument, error) {
	c.metrics.CacheReads.Inc()

	stored, err := c.store.Get(ctx, c.config.Key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	stored.Doc.Provenance.Normalize()
	return stored.Doc, nil
}

// WithLock runs fn while holding the refresh lock, releasing it afterward
// whether fn succeeds or fails. Returns domain.ErrRefreshInProgress when
// another refresh holds the lock.
func (c *Coordinator) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	c.metrics.LockAcquisitions.Inc()

	defer func() {
		if err := c.release(ctx); err != nil {
			c.logger.Error().Err(err).Msg("failed to release refresh lock")
		}
	}()

	return fn(ctx)
}

// acquire runs bounded read-decide-write cycles against the revision marker.
func (c *Coordinator) acquire(ctx context.Context) error {
	for attempt := 0; attempt < c.config.LockRetryAttempts; attempt++ {
		stored, err := c.store.Get(ctx, c.config.Key)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			// First refresh ever: create the document already locked.
			doc := domain.NewCacheDocument(c.config.Key)
			c.setLock(doc)
			if _, err := c.store.Insert(ctx, c.config.Key, doc); err != nil {
				if errors.Is(err, domain.ErrAlreadyExists) {
					// Another caller created it first.
					c.metrics.RevisionConflicts.Inc()
					continue
				}
				return err
			}
			return nil
		}

		doc := stored.Doc
		now := c.now()

		if doc.RefreshInProgress {
			if !doc.LockStale(c.config.LockTTL, now) {
				c.metrics.LockContentions.Inc()
				return domain.ErrRefreshInProgress
			}
			// Abandoned lock: clear it, then re-run the cycle.
			abandonedAt := derefTime(doc.RefreshStartedAt)
			doc.RefreshInProgress = false
			doc.RefreshStartedAt = nil
			if _, err := c.store.UpdateWithRevision(ctx, c.config.Key, doc, stored.Revision); err != nil {
				if errors.Is(err, domain.ErrRevisionConflict) {
					c.metrics.RevisionConflicts.Inc()
					continue
				}
				return err
			}
			c.metrics.StaleLocksCleared.Inc()
			c.logger.Warn().
				Time("started_at", abandonedAt).
				Msg("cleared stale refresh lock")
			continue
		}

		c.setLock(doc)
		if _, err := c.store.UpdateWithRevision(ctx, c.config.Key, doc, stored.Revision); err != nil {
			if errors.Is(err, domain.ErrRevisionConflict) {
				// Someone raced ahead; re-run the cycle.
				c.metrics.RevisionConflicts.Inc()
				continue
			}
			return err
		}
		return nil
	}

	return fmt.Errorf("could not acquire refresh lock after %d attempts: %w",
		c.config.LockRetryAttempts, domain.ErrRefreshInProgress)
}

// release clears the lock flags, tolerating revision bumps from the work
// performed while the lock was held.
func (c *Coordinator) release(ctx context.Context) error {
	for attempt := 0; attempt < c.config.LockRetryAttempts; attempt++ {
		stored, err := c.store.Get(ctx, c.config.Key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		if !stored.Doc.RefreshInProgress {
			return nil
		}

		stored.Doc.RefreshInProgress = false
		stored.Doc.RefreshStartedAt = nil
		if _, err := c.store.UpdateWithRevision(ctx, c.config.Key, stored.Doc, stored.Revision); err != nil {
			if errors.Is(err, domain.ErrRevisionConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("could not release refresh lock after %d attempts", c.config.LockRetryAttempts)
}

// ClearLock force-clears the refresh lock regardless of TTL. A refresh in
// flight polls the lock between batches and treats its disappearance as a
// cancellation signal.
func (c *Coordinator) ClearLock(ctx context.Context) error {
	return c.release(ctx)
}

// IsLockHeld reports whether a live (non-stale) refresh lock is held.
func (c *Coordinator) IsLockHeld(ctx context.Context) (bool, error) {
	stored, err := c.store.Get(ctx, c.config.Key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	doc := stored.Doc
	return doc.RefreshInProgress && !doc.LockStale(c.config.LockTTL, c.now()), nil
}

// Write replaces the document content wholesale, refreshing GeneratedAt.
// Lock flags are carried over from the stored document so a full write
// inside WithLock does not accidentally release the lock.
func (c *Coordinator) Write(ctx context.Context, doc *domain.CacheDocument) error {
	c.metrics.CacheWrites.WithLabelValues("full").Inc()

	doc.CacheKey = c.config.Key
	doc.GeneratedAt = c.now()

	for attempt := 0; attempt < c.config.LockRetryAttempts; attempt++ {
		stored, err := c.store.Get(ctx, c.config.Key)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if _, err := c.store.Insert(ctx, c.config.Key, doc); err != nil {
				if errors.Is(err, domain.ErrAlreadyExists) {
					continue
				}
				return err
			}
			return nil
		}

		doc.RefreshInProgress = stored.Doc.RefreshInProgress
		doc.RefreshStartedAt = stored.Doc.RefreshStartedAt
		if _, err := c.store.UpdateWithRevision(ctx, c.config.Key, doc, stored.Revision); err != nil {
			if errors.Is(err, domain.ErrRevisionConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("could not write cache document after %d attempts", c.config.LockRetryAttempts)
}

// WriteIncremental applies per-record deltas: new and updated records are
// patched by key, provenance deltas are appended, counters are adjusted by
// delta. If the document does not exist yet, it degrades to a full Write.
func (c *Coordinator) WriteIncremental(ctx context.Context, delta IncrementalWrite) error {
	if _, err := c.store.Get(ctx, c.config.Key); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return c.writeFromDelta(ctx, delta)
	}

	c.metrics.CacheWrites.WithLabelValues("incremental").Inc()
	key := c.config.Key

	for id, pub := range delta.New {
		if err := c.store.PatchPath(ctx, key, []string{"publications", id}, pub); err != nil {
			return fmt.Errorf("failed to add record %s: %w", id, err)
		}
	}
	for id, pub := range delta.Updated {
		if err := c.store.PatchPath(ctx, key, []string{"publications", id}, pub); err != nil {
			return fmt.Errorf("failed to update record %s: %w", id, err)
		}
	}
	for id, researchers := range delta.ProvenanceDelta {
		values := make([]any, len(researchers))
		for i, r := range researchers {
			values[i] = r
		}
		if err := c.store.AppendToArray(ctx, key, []string{"provenance", id}, values...); err != nil {
			return fmt.Errorf("failed to append provenance for %s: %w", id, err)
		}
	}

	if n := len(delta.New); n != 0 {
		if err := c.store.IncrementField(ctx, key, []string{"stats", "publication_count"}, int64(n)); err != nil {
			return err
		}
	}
	if delta.EnrichedDelta != 0 {
		if err := c.store.IncrementField(ctx, key, []string{"stats", "enriched_count"}, int64(delta.EnrichedDelta)); err != nil {
			return err
		}
	}
	if err := c.store.PatchPath(ctx, key, []string{"stats", "last_run_duration_ms"}, delta.Duration.Milliseconds()); err != nil {
		return err
	}
	if err := c.store.PatchPath(ctx, key, []string{"stats", "last_run_failures"}, delta.Failures); err != nil {
		return err
	}
	return c.store.PatchPath(ctx, key, []string{"generated_at"}, c.now().Format(time.RFC3339Nano))
}

// writeFromDelta materializes a full document from an incremental payload
// when no document exists to patch.
func (c *Coordinator) writeFromDelta(ctx context.Context, delta IncrementalWrite) error {
	doc := domain.NewCacheDocument(c.config.Key)
	for id, pub := range delta.New {
		doc.Publications[id] = pub
	}
	for id, pub := range delta.Updated {
		doc.Publications[id] = pub
	}
	for id, researchers := range delta.ProvenanceDelta {
		for _, r := range researchers {
			doc.Provenance.Add(id, r)
		}
	}
	doc.Stats = domain.CacheStats{
		PublicationCount:  len(doc.Publications),
		EnrichedCount:     delta.EnrichedDelta,
		LastRunDurationMS: delta.Duration.Milliseconds(),
		LastRunFailures:   delta.Failures,
	}
	return c.Write(ctx, doc)
}

// setLock marks the document locked as of now.
func (c *Coordinator) setLock(doc *domain.CacheDocument) {
	started := c.now()
	doc.RefreshInProgress = true
	doc.RefreshStartedAt = &started
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

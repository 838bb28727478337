// Package pipeline orchestrates the end-to-end refresh: per-researcher
// fetch, deduplication with provenance union, enrichment fan-out, and the
// incremental cache write, all under the coordinator's refresh lock.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/renalworks/publications-pipeline/internal/cache"
	"github.com/renalworks/publications-pipeline/internal/domain"
	"github.com/renalworks/publications-pipeline/internal/events"
	"github.com/renalworks/publications-pipeline/internal/litsource/pubmed"
	"github.com/renalworks/publications-pipeline/internal/observability"
)

// Default values for the orchestrator.
const (
	DefaultEnrichWidth      = 1
	DefaultBatchDelay       = 1 * time.Second
	DefaultMaxPerResearcher = 100
	DefaultCacheMaxAge      = 24 * time.Hour
)

// Fetcher retrieves publications for one researcher query.
type Fetcher interface {
	Fetch(ctx context.Context, query string, maxResults int) (*pubmed.FetchResult, error)
}

// Enricher generates a lay summary and classification for one record.
// Enrich may return (nil, nil) when no enrichment is available; Enrichable
// distinguishes records not worth a provider call from retry exhaustion.
type Enricher interface {
	Enrichable(abstract string) bool
	Enrich(ctx context.Context, title, abstract string) (*domain.Enrichment, error)
}

// Config holds the orchestrator configuration.
type Config struct {
	// EnrichWidth is the enrichment fan-out width. 1 means strictly
	// sequential, the free-tier-friendly default.
	EnrichWidth int

	// BatchDelay is the fixed delay between successive enrichment batches.
	BatchDelay time.Duration

	// MaxPerResearcher bounds results fetched per researcher query.
	MaxPerResearcher int

	// CacheMaxAge is the staleness threshold for the cache document.
	CacheMaxAge time.Duration
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.EnrichWidth < 1 {
		c.EnrichWidth = DefaultEnrichWidth
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.MaxPerResearcher == 0 {
		c.MaxPerResearcher = DefaultMaxPerResearcher
	}
	if c.CacheMaxAge == 0 {
		c.CacheMaxAge = DefaultCacheMaxAge
	}
}

// PublicationSet is the consumer-facing view of the cache: the sorted,
// display-ready publication list with its provenance. Records marked
// exclude are omitted along with their provenance entries.
type PublicationSet struct {
	Publications []domain.Publication `json:"publications"`
	Provenance   domain.ProvenanceMap `json:"provenance"`
	GeneratedAt  time.Time            `json:"generated_at"`
	Stats        domain.CacheStats    `json:"stats"`
}

// Orchestrator drives refresh runs and serves the enriched publication
// list. It assumes it is the sole writer once the coordinator's lock is
// held and performs no additional internal locking.
type Orchestrator struct {
	fetcher     Fetcher
	enricher    Enricher
	coordinator *cache.Coordinator
	publisher   events.Publisher
	researchers []domain.Researcher
	config      Config
	logger      zerolog.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// New creates an orchestrator. enricher may be nil, in which case records
// are harvested and cached without enrichment.
func New(
	fetcher Fetcher,
	enricher Enricher,
	coordinator *cache.Coordinator,
	publisher events.Publisher,
	researchers []domain.Researcher,
	cfg Config,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	cfg.applyDefaults()
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	return &Orchestrator{
		fetcher:     fetcher,
		enricher:    enricher,
		coordinator: coordinator,
		publisher:   publisher,
		researchers: researchers,
		config:      cfg,
		logger:      logger.With().Str("component", "pipeline").Logger(),
		metrics:     metrics,
		now:         time.Now,
	}
}

// GetEnrichedPublications serves the publication list from the cache,
// refreshing it first when stale. A refresh already running elsewhere is
// not an error for readers: they get the current, possibly stale, view.
func (o *Orchestrator) GetEnrichedPublications(ctx context.Context) (*PublicationSet, error) {
	doc, err := o.coordinator.Read(ctx)
	if err != nil {
		return nil, err
	}

	if doc == nil || doc.IsStale(o.config.CacheMaxAge, o.now()) {
		if _, err := o.Refresh(ctx, false); err != nil {
			if !errors.Is(err, domain.ErrRefreshInProgress) {
				return nil, err
			}
			o.logger.Info().Msg("cache stale but refresh already in progress, serving current view")
		}
		if doc, err = o.coordinator.Read(ctx); err != nil {
			return nil, err
		}
	}

	if doc == nil {
		return &PublicationSet{
			Publications: []domain.Publication{},
			Provenance:   domain.ProvenanceMap{},
		}, nil
	}
	return presentDocument(doc), nil
}

// presentDocument materializes the display view of a cache document,
// dropping excluded records and their provenance.
func presentDocument(doc *domain.CacheDocument) *PublicationSet {
	pubs := make([]domain.Publication, 0, len(doc.Publications))
	prov := make(domain.ProvenanceMap, len(doc.Publications))
	for _, p := range doc.SortedPublications() {
		if p.Enrichment.Exclude {
			continue
		}
		pubs = append(pubs, p)
		if ids := doc.Provenance[p.PMID]; len(ids) > 0 {
			prov[p.PMID] = ids
		}
	}
	return &PublicationSet{
		Publications: pubs,
		Provenance:   prov,
		GeneratedAt:  doc.GeneratedAt,
		Stats:        doc.Stats,
	}
}

// Refresh runs one refresh: fetch all researcher queries, deduplicate,
// enrich what needs it, and write the deltas. When the cache is fresh and
// force is false the run is skipped. Per-record failures never abort the
// run; only coordination, context, and provider auth failures propagate.
func (o *Orchestrator) Refresh(ctx context.Context, force bool) (*domain.RefreshStats, error) {
	stats := &domain.RefreshStats{RunID: uuid.New().String()}
	logger := o.logger.With().Str("run_id", stats.RunID).Logger()

	if !force {
		doc, err := o.coordinator.Read(ctx)
		if err != nil {
			return nil, err
		}
		if doc != nil && !doc.IsStale(o.config.CacheMaxAge, o.now()) {
			o.metrics.RefreshesSkipped.Inc()
			stats.Skipped = true
			logger.Debug().Time("generated_at", doc.GeneratedAt).Msg("cache fresh, refresh skipped")
			return stats, nil
		}
	}

	o.metrics.RefreshesStarted.Inc()
	start := o.now()
	logger.Info().Bool("force", force).Int("researchers", len(o.researchers)).Msg("refresh started")

	err := o.coordinator.WithLock(ctx, func(ctx context.Context) error {
		return o.runRefresh(ctx, logger, stats, start)
	})
	stats.Duration = o.now().Sub(start)

	if err != nil {
		if errors.Is(err, domain.ErrRefreshInProgress) {
			logger.Info().Msg("refresh already in progress")
			return nil, err
		}
		o.metrics.RefreshesFailed.Inc()
		logger.Error().Err(err).Dur("duration", stats.Duration).Msg("refresh failed")
		return nil, err
	}

	o.metrics.RefreshesCompleted.Inc()
	o.metrics.RefreshDuration.Observe(stats.Duration.Seconds())
	logger.Info().
		Int("fetched", stats.Fetched).
		Int("new", stats.NewRecords).
		Int("updated", stats.Updated).
		Int("enriched", stats.Enriched).
		Int("enrich_failed", stats.EnrichFailed).
		Int("chunks_failed", stats.ChunksFailed).
		Dur("duration", stats.Duration).
		Msg("refresh completed")

	if err := o.publisher.PublishRefreshCompleted(ctx, *stats); err != nil {
		logger.Warn().Err(err).Msg("failed to publish refresh event")
	}
	return stats, nil
}

// candidate is one record selected for enrichment.
type candidate struct {
	id        string
	pub       domain.Publication
	wasCached bool
}

// runRefresh executes the refresh body while the lock is held.
func (o *Orchestrator) runRefresh(ctx context.Context, logger zerolog.Logger, stats *domain.RefreshStats, start time.Time) error {
	cached, err := o.coordinator.Read(ctx)
	if err != nil {
		return err
	}

	merged, provenance := o.fetchAll(ctx, logger, stats)

	newRecs, updated := o.diff(cached, merged)
	provDelta := provenanceDelta(cached, provenance)

	if err := o.enrichAll(ctx, logger, stats, cached, newRecs, updated); err != nil {
		return err
	}

	stats.NewRecords = len(newRecs)
	stats.Updated = len(updated)

	enrichedDelta := 0
	for _, p := range newRecs {
		if p.Enrichment.HasSummary() {
			enrichedDelta++
		}
	}
	for id, p := range updated {
		had := false
		if cached != nil {
			had = cached.Publications[id].Enrichment.HasSummary()
		}
		if p.Enrichment.HasSummary() && !had {
			enrichedDelta++
		}
	}

	return o.coordinator.WriteIncremental(ctx, cache.IncrementalWrite{
		New:             newRecs,
		Updated:         updated,
		ProvenanceDelta: provDelta,
		EnrichedDelta:   enrichedDelta,
		Duration:        o.now().Sub(start),
		Failures:        stats.ChunksFailed + stats.EnrichFailed,
	})
}

// fetchAll runs every researcher query sequentially and merges the results
// by record identifier. A failed query drops that researcher's results for
// this run and the run continues with partial data.
func (o *Orchestrator) fetchAll(ctx context.Context, logger zerolog.Logger, stats *domain.RefreshStats) (map[string]domain.Publication, domain.ProvenanceMap) {
	merged := make(map[string]domain.Publication)
	provenance := make(domain.ProvenanceMap)

	for _, r := range o.researchers {
		result, err := o.fetcher.Fetch(ctx, r.Query, o.config.MaxPerResearcher)
		if err != nil {
			stats.ChunksFailed++
			o.metrics.FetchChunksDropped.Inc()
			logger.Warn().Err(err).Str("researcher", r.ID).Msg("researcher query failed, continuing with partial data")
			continue
		}

		stats.Fetched += len(result.Publications)
		stats.ChunksFailed += result.ChunksFailed
		o.metrics.RecordsFetched.Add(float64(len(result.Publications)))
		o.metrics.FetchChunksDropped.Add(float64(result.ChunksFailed))

		for _, pub := range result.Publications {
			provenance.Add(pub.PMID, r.ID)
			existing, ok := merged[pub.PMID]
			if !ok {
				merged[pub.PMID] = pub
				continue
			}
			o.metrics.RecordsDeduplicated.Inc()
			// Keep the first copy unless a later one fills in a missing
			// abstract (its chunk may have failed for the first query).
			if existing.Abstract == "" && pub.Abstract != "" {
				merged[pub.PMID] = pub
			}
		}
	}
	return merged, provenance
}

// diff splits fetched records into new and content-changed relative to the
// cached document. Unchanged records are dropped from the write entirely;
// changed records carry the cached enrichment forward so a title fix does
// not discard a summary.
func (o *Orchestrator) diff(cached *domain.CacheDocument, merged map[string]domain.Publication) (newRecs, updated map[string]domain.Publication) {
	newRecs = make(map[string]domain.Publication)
	updated = make(map[string]domain.Publication)

	for id, pub := range merged {
		if cached == nil {
			newRecs[id] = pub
			continue
		}
		old, ok := cached.Publications[id]
		if !ok {
			newRecs[id] = pub
			continue
		}
		if contentChanged(old, pub) {
			pub.Enrichment = old.Enrichment
			updated[id] = pub
		}
	}
	return newRecs, updated
}

// contentChanged reports whether the bibliographic content of a record
// differs from its cached copy. Enrichment and fetch timestamps are not
// content.
func contentChanged(old, fetched domain.Publication) bool {
	if old.Title != fetched.Title || old.Abstract != fetched.Abstract {
		return true
	}
	if old.Journal != fetched.Journal || old.PublishedAt != fetched.PublishedAt {
		return true
	}
	if old.DOI != fetched.DOI || old.URL != fetched.URL {
		return true
	}
	return !equalStrings(old.Authors, fetched.Authors)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// provenanceDelta returns, per record, the researcher IDs not yet present
// in the cached provenance. Only genuine additions are appended; the store
// normalizes to a set on read either way.
func provenanceDelta(cached *domain.CacheDocument, fetched domain.ProvenanceMap) map[string][]string {
	delta := make(map[string][]string)
	for pmid, ids := range fetched {
		var known []string
		if cached != nil {
			known = cached.Provenance[pmid]
		}
		for _, id := range ids {
			if !containsString(known, id) {
				delta[pmid] = append(delta[pmid], id)
			}
		}
	}
	return delta
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// enrichAll selects the records needing enrichment and runs them through
// the enricher in batches of EnrichWidth, with a fixed delay between
// batches. Between batches the lock is polled: a cleared lock is the
// cooperative cancellation signal and stops further enrichment without
// failing the run. Per-record exhaustion leaves the record unenriched.
func (o *Orchestrator) enrichAll(ctx context.Context, logger zerolog.Logger, stats *domain.RefreshStats, cached *domain.CacheDocument, newRecs, updated map[string]domain.Publication) error {
	if o.enricher == nil {
		return nil
	}

	candidates := o.selectCandidates(cached, newRecs, updated)
	if len(candidates) == 0 {
		return nil
	}
	logger.Info().Int("candidates", len(candidates)).Int("width", o.config.EnrichWidth).Msg("enriching records")

	results := make([]*domain.Enrichment, len(candidates))
	width := o.config.EnrichWidth

	for batchStart := 0; batchStart < len(candidates); batchStart += width {
		if batchStart > 0 {
			held, err := o.coordinator.IsLockHeld(ctx)
			if err == nil && !held {
				logger.Warn().Int("processed", batchStart).Msg("refresh lock cleared, stopping enrichment early")
				break
			}
			if err := o.sleep(ctx, o.config.BatchDelay); err != nil {
				return err
			}
		}

		batchEnd := min(batchStart+width, len(candidates))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(width)
		for i := batchStart; i < batchEnd; i++ {
			g.Go(func() error {
				c := candidates[i]
				enrichment, err := o.enricher.Enrich(gctx, c.pub.Title, c.pub.Abstract)
				if err != nil {
					return err
				}
				results[i] = enrichment
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for i, c := range candidates {
		if results[i] == nil {
			stats.EnrichFailed++
			continue
		}
		stats.Enriched++
		c.pub.Enrichment = *results[i]
		if c.wasCached {
			updated[c.id] = c.pub
		} else {
			newRecs[c.id] = c.pub
		}
	}
	return nil
}

// selectCandidates picks the records worth a provider call: anything new
// or updated without a lay summary, plus cached records that never got one
// and now have a usable abstract. Records already marked exclude were
// evaluated once and are not re-sent.
func (o *Orchestrator) selectCandidates(cached *domain.CacheDocument, newRecs, updated map[string]domain.Publication) []candidate {
	var out []candidate
	seen := make(map[string]struct{})

	// Mark every id seen on first sight so a stale cached copy never
	// shadows the freshly fetched one.
	add := func(id string, pub domain.Publication, wasCached bool) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		if pub.Enrichment.HasSummary() || pub.Enrichment.Exclude {
			return
		}
		if !o.enricher.Enrichable(pub.Abstract) {
			return
		}
		out = append(out, candidate{id: id, pub: pub, wasCached: wasCached})
	}

	for id, pub := range newRecs {
		add(id, pub, false)
	}
	for id, pub := range updated {
		add(id, pub, true)
	}
	if cached != nil {
		for id, pub := range cached.Publications {
			add(id, pub, true)
		}
	}

	// Deterministic order keeps retries and logs stable run to run.
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

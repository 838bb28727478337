package domain

import (
	"sort"
	"time"
)

// DefaultCacheKey is the identifier of the single shared cache document.
const DefaultCacheKey = "publications"

// CacheDocument is the single persisted aggregate shared by all
// invocations. It is created on first refresh, read on every page render,
// and mutated only while the refresh lock is held.
//
// Publications and provenance are keyed by record identifier so that
// incremental updates address individual records without a bulk replace.
type CacheDocument struct {
	// CacheKey identifies the document in the store.
	CacheKey string `json:"cache_key"`

	// GeneratedAt is when the document content was last written.
	// Staleness is judged purely by its age; there is no separate version.
	GeneratedAt time.Time `json:"generated_at"`

	// Publications maps record identifier to publication.
	Publications map[string]Publication `json:"publications"`

	// Provenance maps record identifier to matching researcher IDs.
	Provenance ProvenanceMap `json:"provenance"`

	// RefreshInProgress and RefreshStartedAt together form the refresh
	// lock. Ownership is not tracked by identity; callers are assumed
	// cooperative.
	RefreshInProgress bool       `json:"refresh_in_progress"`
	RefreshStartedAt  *time.Time `json:"refresh_started_at"`

	// Stats holds aggregate counters maintained with deltas on
	// incremental writes.
	Stats CacheStats `json:"stats"`
}

// CacheStats holds aggregate counters for the cache document.
type CacheStats struct {
	// PublicationCount is the number of records in Publications.
	PublicationCount int `json:"publication_count"`

	// EnrichedCount is the number of records with a lay summary.
	EnrichedCount int `json:"enriched_count"`

	// LastRunDurationMS is the wall-clock duration of the last refresh.
	LastRunDurationMS int64 `json:"last_run_duration_ms"`

	// LastRunFailures is the number of per-record failures in the last
	// refresh (dropped fetch chunks, exhausted enrichment retries).
	LastRunFailures int `json:"last_run_failures"`
}

// NewCacheDocument returns an empty document for the given key.
func NewCacheDocument(key string) *CacheDocument {
	if key == "" {
		key = DefaultCacheKey
	}
	return &CacheDocument{
		CacheKey:     key,
		Publications: make(map[string]Publication),
		Provenance:   make(ProvenanceMap),
	}
}

// IsStale reports whether the document content is older than maxAge.
func (d *CacheDocument) IsStale(maxAge time.Duration, now time.Time) bool {
	if d.GeneratedAt.IsZero() {
		return true
	}
	return now.Sub(d.GeneratedAt) > maxAge
}

// LockStale reports whether a held refresh lock has outlived ttl and may be
// force-cleared. A document without a held lock is never lock-stale.
func (d *CacheDocument) LockStale(ttl time.Duration, now time.Time) bool {
	if !d.RefreshInProgress {
		return false
	}
	if d.RefreshStartedAt == nil {
		return true
	}
	return now.Sub(*d.RefreshStartedAt) > ttl
}

// SortedPublications materializes the publication map as a slice ordered by
// canonical date descending, ties broken by PMID for determinism.
func (d *CacheDocument) SortedPublications() []Publication {
	out := make([]Publication, 0, len(d.Publications))
	for _, p := range d.Publications {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt != out[j].PublishedAt {
			return out[i].PublishedAt > out[j].PublishedAt
		}
		return out[i].PMID > out[j].PMID
	})
	return out
}

// RefreshStats summarizes one refresh run for callers and events.
type RefreshStats struct {
	RunID        string        `json:"run_id"`
	Skipped      bool          `json:"skipped"`
	Fetched      int           `json:"fetched"`
	NewRecords   int           `json:"new_records"`
	Updated      int           `json:"updated"`
	Enriched     int           `json:"enriched"`
	EnrichFailed int           `json:"enrich_failed"`
	ChunksFailed int           `json:"chunks_failed"`
	Duration     time.Duration `json:"duration"`
}

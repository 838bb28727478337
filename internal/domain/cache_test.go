package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvenanceMap_Add(t *testing.T) {
	t.Run("adds new researcher", func(t *testing.T) {
		p := make(ProvenanceMap)
		p.Add("123", "r1")
		p.Add("123", "r2")
		assert.ElementsMatch(t, []string{"r1", "r2"}, p["123"])
	})

	t.Run("is idempotent", func(t *testing.T) {
		p := make(ProvenanceMap)
		p.Add("123", "r1")
		p.Add("123", "r1")
		assert.Equal(t, []string{"r1"}, p["123"])
	})
}

func TestProvenanceMap_Merge(t *testing.T) {
	a := ProvenanceMap{"1": {"r1"}, "2": {"r2"}}
	b := ProvenanceMap{"1": {"r1", "r3"}, "3": {"r1"}}

	a.Merge(b)

	assert.ElementsMatch(t, []string{"r1", "r3"}, a["1"])
	assert.Equal(t, []string{"r2"}, a["2"])
	assert.Equal(t, []string{"r1"}, a["3"])
}

func TestProvenanceMap_Normalize(t *testing.T) {
	p := ProvenanceMap{"1": {"r2", "r1", "r2", "r1"}}
	p.Normalize()
	assert.Equal(t, []string{"r1", "r2"}, p["1"])
}

func TestCacheDocument_IsStale(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	t.Run("zero generated_at is stale", func(t *testing.T) {
		doc := NewCacheDocument("")
		assert.True(t, doc.IsStale(24*time.Hour, now))
	})

	t.Run("fresh document", func(t *testing.T) {
		doc := NewCacheDocument("")
		doc.GeneratedAt = now.Add(-time.Hour)
		assert.False(t, doc.IsStale(24*time.Hour, now))
	})

	t.Run("expired document", func(t *testing.T) {
		doc := NewCacheDocument("")
		doc.GeneratedAt = now.Add(-25 * time.Hour)
		assert.True(t, doc.IsStale(24*time.Hour, now))
	})
}

func TestCacheDocument_LockStale(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	ttl := 2 * time.Minute

	t.Run("unlocked document is never lock-stale", func(t *testing.T) {
		doc := NewCacheDocument("")
		assert.False(t, doc.LockStale(ttl, now))
	})

	t.Run("lock without start time is stale", func(t *testing.T) {
		doc := NewCacheDocument("")
		doc.RefreshInProgress = true
		assert.True(t, doc.LockStale(ttl, now))
	})

	t.Run("lock within ttl", func(t *testing.T) {
		doc := NewCacheDocument("")
		doc.RefreshInProgress = true
		started := now.Add(-time.Minute)
		doc.RefreshStartedAt = &started
		assert.False(t, doc.LockStale(ttl, now))
	})

	t.Run("lock beyond ttl", func(t *testing.T) {
		doc := NewCacheDocument("")
		doc.RefreshInProgress = true
		started := now.Add(-3 * time.Minute)
		doc.RefreshStartedAt = &started
		assert.True(t, doc.LockStale(ttl, now))
	})
}

func TestCacheDocument_SortedPublications(t *testing.T) {
	doc := NewCacheDocument("")
	doc.Publications["1"] = Publication{PMID: "1", PublishedAt: "2023-06-05T00:00:00Z"}
	doc.Publications["2"] = Publication{PMID: "2", PublishedAt: "2024-01-01T00:00:00Z"}
	doc.Publications["3"] = Publication{PMID: "3", PublishedAt: "2023-06-05T00:00:00Z"}

	pubs := doc.SortedPublications()
	require.Len(t, pubs, 3)
	assert.Equal(t, "2", pubs[0].PMID)
	// Equal dates break ties by PMID descending.
	assert.Equal(t, "3", pubs[1].PMID)
	assert.Equal(t, "1", pubs[2].PMID)
}

func TestErrorUnwrapping(t *testing.T) {
	assert.True(t, errors.Is(NewNotFoundError("cache", "publications"), ErrNotFound))
	assert.True(t, errors.Is(NewAlreadyExistsError("cache", "publications"), ErrAlreadyExists))
	assert.True(t, errors.Is(NewValidationError("query", "required"), ErrInvalidInput))
	assert.True(t, errors.Is(NewRateLimitError("pubmed", time.Second), ErrRateLimited))
}

func TestEnrichment_HasSummary(t *testing.T) {
	assert.False(t, Enrichment{}.HasSummary())
	assert.False(t, Enrichment{LaySummary: "   "}.HasSummary())
	assert.True(t, Enrichment{LaySummary: "A short summary."}.HasSummary())
}

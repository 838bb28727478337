package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the publications pipeline,
// organized by subsystem: refresh runs, literature fetches, enrichment,
// and cache coordination.
type Metrics struct {
	// RefreshesStarted counts refresh runs initiated.
	RefreshesStarted prometheus.Counter

	// RefreshesCompleted counts refresh runs that finished successfully.
	RefreshesCompleted prometheus.Counter

	// RefreshesSkipped counts refresh runs skipped because the cache was fresh.
	RefreshesSkipped prometheus.Counter

	// RefreshesFailed counts refresh runs that ended in failure.
	RefreshesFailed prometheus.Counter

	// RefreshDuration observes end-to-end refresh duration in seconds.
	RefreshDuration prometheus.Histogram

	// FetchRequests counts literature API requests, labeled by endpoint.
	FetchRequests *prometheus.CounterVec

	// FetchFailures counts failed literature API requests, labeled by endpoint.
	FetchFailures *prometheus.CounterVec

	// FetchChunksDropped counts identifier chunks dropped after exhausting retries.
	FetchChunksDropped prometheus.Counter

	// RecordsFetched counts bibliographic records returned by fetches.
	RecordsFetched prometheus.Counter

	// RecordsDeduplicated counts records merged away during deduplication.
	RecordsDeduplicated prometheus.Counter

	// EnrichmentsAttempted counts enrichment attempts, labeled by provider.
	EnrichmentsAttempted *prometheus.CounterVec

	// EnrichmentsSucceeded counts successful enrichments, labeled by provider.
	EnrichmentsSucceeded *prometheus.CounterVec

	// EnrichmentsFailed counts enrichments that exhausted retries, labeled
	// by provider and failure class.
	EnrichmentsFailed *prometheus.CounterVec

	// EnrichmentRetries counts retried enrichment attempts, labeled by cause.
	EnrichmentRetries *prometheus.CounterVec

	// EnrichmentDuration observes per-record enrichment duration in seconds.
	EnrichmentDuration prometheus.Histogram

	// LockAcquisitions counts successful refresh lock acquisitions.
	LockAcquisitions prometheus.Counter

	// LockContentions counts acquisition attempts rejected because another
	// refresh held the lock.
	LockContentions prometheus.Counter

	// StaleLocksCleared counts locks force-cleared after exceeding the TTL.
	StaleLocksCleared prometheus.Counter

	// RevisionConflicts counts conditional writes rejected by the store.
	RevisionConflicts prometheus.Counter

	// CacheReads counts cache document reads.
	CacheReads prometheus.Counter

	// CacheWrites counts cache document writes, labeled by mode (full, incremental).
	CacheWrites *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RefreshesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_refreshes_started_total",
			Help: "Total number of refresh runs initiated.",
		}),
		RefreshesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_refreshes_completed_total",
			Help: "Total number of refresh runs completed successfully.",
		}),
		RefreshesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_refreshes_skipped_total",
			Help: "Total number of refresh runs skipped because the cache was fresh.",
		}),
		RefreshesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_refreshes_failed_total",
			Help: "Total number of refresh runs that failed.",
		}),
		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pubpipe_refresh_duration_seconds",
			Help:    "End-to-end refresh duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		FetchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_fetch_requests_total",
			Help: "Literature API requests by endpoint.",
		}, []string{"endpoint"}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_fetch_failures_total",
			Help: "Failed literature API requests by endpoint.",
		}, []string{"endpoint"}),
		FetchChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_fetch_chunks_dropped_total",
			Help: "Identifier chunks dropped after exhausting retries.",
		}),
		RecordsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_records_fetched_total",
			Help: "Bibliographic records returned by literature fetches.",
		}),
		RecordsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_records_deduplicated_total",
			Help: "Records merged away during deduplication.",
		}),
		EnrichmentsAttempted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_enrichments_attempted_total",
			Help: "Enrichment attempts by provider.",
		}, []string{"provider"}),
		EnrichmentsSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_enrichments_succeeded_total",
			Help: "Successful enrichments by provider.",
		}, []string{"provider"}),
		EnrichmentsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_enrichments_failed_total",
			Help: "Enrichments that exhausted retries, by provider and failure class.",
		}, []string{"provider", "class"}),
		EnrichmentRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_enrichment_retries_total",
			Help: "Retried enrichment attempts by cause.",
		}, []string{"cause"}),
		EnrichmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pubpipe_enrichment_duration_seconds",
			Help:    "Per-record enrichment duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		LockAcquisitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_lock_acquisitions_total",
			Help: "Successful refresh lock acquisitions.",
		}),
		LockContentions: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_lock_contentions_total",
			Help: "Lock acquisition attempts rejected because a refresh was active.",
		}),
		StaleLocksCleared: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_stale_locks_cleared_total",
			Help: "Refresh locks force-cleared after exceeding the TTL.",
		}),
		RevisionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_revision_conflicts_total",
			Help: "Conditional cache writes rejected by the store.",
		}),
		CacheReads: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_cache_reads_total",
			Help: "Cache document reads.",
		}),
		CacheWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_cache_writes_total",
			Help: "Cache document writes by mode.",
		}, []string{"mode"}),
	}
}

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/publications-pipeline/internal/domain"
	"github.com/renalworks/publications-pipeline/internal/pipeline"
)

// stubPipeline implements Pipeline with canned results.
type stubPipeline struct {
	set        *pipeline.PublicationSet
	setErr     error
	stats      *domain.RefreshStats
	refreshErr error
	lastForce  bool
}

func (p *stubPipeline) GetEnrichedPublications(context.Context) (*pipeline.PublicationSet, error) {
	return p.set, p.setErr
}

func (p *stubPipeline) Refresh(_ context.Context, force bool) (*domain.RefreshStats, error) {
	p.lastForce = force
	return p.stats, p.refreshErr
}

func newTestServer(pipe Pipeline) *Server {
	return NewServer(Config{Address: "127.0.0.1:0"}, pipe, nil, nil, zerolog.Nop())
}

func TestListPublications(t *testing.T) {
	t.Run("returns the publication set", func(t *testing.T) {
		pipe := &stubPipeline{set: &pipeline.PublicationSet{
			Publications: []domain.Publication{{PMID: "1001", Title: "Dialysis outcomes"}},
			Provenance:   domain.ProvenanceMap{"1001": {"researcher-a"}},
			GeneratedAt:  time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
		}}
		srv := newTestServer(pipe)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/publications", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var got pipeline.PublicationSet
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got.Publications, 1)
		assert.Equal(t, "1001", got.Publications[0].PMID)
		assert.Equal(t, []string{"researcher-a"}, got.Provenance["1001"])
	})

	t.Run("maps pipeline failure to 500", func(t *testing.T) {
		pipe := &stubPipeline{setErr: assert.AnError}
		srv := newTestServer(pipe)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/publications", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestTriggerRefresh(t *testing.T) {
	stats := &domain.RefreshStats{
		RunID:      "run-1",
		Fetched:    10,
		NewRecords: 3,
		Enriched:   2,
		Duration:   1500 * time.Millisecond,
	}

	t.Run("empty body runs a non-forced refresh", func(t *testing.T) {
		pipe := &stubPipeline{stats: stats}
		srv := newTestServer(pipe)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, pipe.lastForce)

		var got refreshResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, 3, got.NewRecords)
		assert.Equal(t, int64(1500), got.DurationMS)
	})

	t.Run("force flag is honored", func(t *testing.T) {
		pipe := &stubPipeline{stats: stats}
		srv := newTestServer(pipe)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", strings.NewReader(`{"force": true}`))
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, pipe.lastForce)
	})

	t.Run("invalid JSON body rejected", func(t *testing.T) {
		pipe := &stubPipeline{stats: stats}
		srv := newTestServer(pipe)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", strings.NewReader(`{"force":`))
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("overlong reason rejected", func(t *testing.T) {
		pipe := &stubPipeline{stats: stats}
		srv := newTestServer(pipe)

		body := `{"reason": "` + strings.Repeat("x", 501) + `"}`
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", strings.NewReader(body))
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("refresh in progress maps to 409", func(t *testing.T) {
		pipe := &stubPipeline{refreshErr: domain.ErrRefreshInProgress}
		srv := newTestServer(pipe)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "refresh already in progress")
	})

	t.Run("other failures map to 500", func(t *testing.T) {
		pipe := &stubPipeline{refreshErr: assert.AnError}
		srv := newTestServer(pipe)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("healthz without database reports memory store", func(t *testing.T) {
		srv := newTestServer(&stubPipeline{})

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"store":"memory"`)
	})

	t.Run("readyz without database is ready", func(t *testing.T) {
		srv := newTestServer(&stubPipeline{})

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "pubpipe_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	srv := NewServer(Config{Address: "127.0.0.1:0"}, &stubPipeline{}, nil, registry, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pubpipe_test_total 1")
}

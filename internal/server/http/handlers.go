package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/renalworks/publications-pipeline/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies

// refreshRequest is the JSON request body for triggering a refresh. The
// body is optional; an empty body means a non-forced refresh.
type refreshRequest struct {
	// Force refreshes even when the cache is still fresh.
	Force bool `json:"force"`

	// Reason is recorded in the logs for manually triggered refreshes.
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// refreshResponse is the JSON response for a refresh run.
type refreshResponse struct {
	RunID        string `json:"run_id"`
	Skipped      bool   `json:"skipped"`
	Fetched      int    `json:"fetched"`
	NewRecords   int    `json:"new_records"`
	Updated      int    `json:"updated"`
	Enriched     int    `json:"enriched"`
	EnrichFailed int    `json:"enrich_failed"`
	ChunksFailed int    `json:"chunks_failed"`
	DurationMS   int64  `json:"duration_ms"`
}

// listPublications handles GET /api/v1/publications. A stale cache is
// refreshed first, so the call may take a while on a cold start.
func (s *Server) listPublications(w http.ResponseWriter, r *http.Request) {
	set, err := s.pipeline.GetEnrichedPublications(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get publications")
		writeError(w, http.StatusInternalServerError, "failed to load publications")
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// triggerRefresh handles POST /api/v1/refresh. A refresh already running
// elsewhere maps to 409 Conflict.
func (s *Server) triggerRefresh(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req refreshRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON request body")
			return
		}
		if err := s.validate.Struct(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
	}

	if req.Reason != "" {
		s.logger.Info().Str("reason", req.Reason).Bool("force", req.Force).Msg("manual refresh triggered")
	}

	stats, err := s.pipeline.Refresh(r.Context(), req.Force)
	if err != nil {
		if errors.Is(err, domain.ErrRefreshInProgress) {
			writeError(w, http.StatusConflict, "refresh already in progress")
			return
		}
		s.logger.Error().Err(err).Msg("refresh failed")
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		RunID:        stats.RunID,
		Skipped:      stats.Skipped,
		Fetched:      stats.Fetched,
		NewRecords:   stats.NewRecords,
		Updated:      stats.Updated,
		Enriched:     stats.Enriched,
		EnrichFailed: stats.EnrichFailed,
		ChunksFailed: stats.ChunksFailed,
		DurationMS:   stats.Duration.Milliseconds(),
	})
}

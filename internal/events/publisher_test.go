package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/publications-pipeline/internal/domain"
)

func TestRefreshCompletedEvent_Payload(t *testing.T) {
	event := RefreshCompletedEvent{
		Type:       EventRefreshCompleted,
		OccurredAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Stats: domain.RefreshStats{
			RunID:      "run-123",
			Fetched:    40,
			NewRecords: 3,
			Enriched:   3,
			Duration:   90 * time.Second,
		},
	}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "publications.refresh.completed", decoded["type"])

	stats, ok := decoded["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-123", stats["run_id"])
	assert.Equal(t, float64(3), stats["new_records"])
}

func TestNopPublisher(t *testing.T) {
	p := NewNopPublisher()
	assert.NoError(t, p.PublishRefreshCompleted(context.Background(), domain.RefreshStats{RunID: "x"}))
	assert.NoError(t, p.Close())
}

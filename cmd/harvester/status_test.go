package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/coordinator"
)

func TestRenderStatus(t *testing.T) {
	stats := models.NewLedgerStats()
	stats.Add(models.ItemRecord{Key: "a", Status: models.ItemStatusCompleted, OwnerNode: 1})
	stats.Add(models.ItemRecord{Key: "b", Status: models.ItemStatusFailed, OwnerNode: 0})

	progress := models.NewProgressState("abc123", time.Now())
	progress.RecordDiscovery([]models.ItemRef{{Key: "a"}, {Key: "b"}})
	progress.Phase = models.SessionStateProcessing

	var buf bytes.Buffer
	renderStatus(&buf, &coordinator.StatusReport{SessionID: "abc123", Ledger: stats, Progress: progress})

	out := strings.ToLower(buf.String())
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "session abc123")
	assert.Contains(t, out, "processing")
	assert.Contains(t, out, "items by owner node", "title fits on one line")
}

func TestRenderStatus_NoProgress(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, &coordinator.StatusReport{SessionID: "abc123", Ledger: models.NewLedgerStats()})
	assert.Contains(t, buf.String(), "No progress recorded on this node for session abc123")
}

func TestRenderSummary(t *testing.T) {
	start := time.Now()
	var buf bytes.Buffer
	renderSummary(&buf, &models.SessionSummary{
		SessionID:   "abc123",
		State:       models.SessionStateAborted,
		Completed:   3,
		FailedItems: map[string]string{"https://x.example/c": "timeout"},
		Error:       "ledger unavailable",
		StartedAt:   start,
		FinishedAt:  start.Add(2 * time.Second),
	})

	out := buf.String()
	assert.Contains(t, out, "aborted")
	assert.Contains(t, out, "ledger unavailable")
	assert.Contains(t, out, "https://x.example/c")
}

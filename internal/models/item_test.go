package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ItemStatus
		want     bool
	}{
		{ItemStatusDiscovered, ItemStatusInProgress, true},
		{ItemStatusDiscovered, ItemStatusCompleted, true},
		{ItemStatusInProgress, ItemStatusInProgress, true},
		{ItemStatusInProgress, ItemStatusFailed, true},
		{ItemStatusInProgress, ItemStatusDiscovered, false},
		{ItemStatusFailed, ItemStatusInProgress, true},
		{ItemStatusFailed, ItemStatusCompleted, true},
		{ItemStatusCompleted, ItemStatusCompleted, true},
		{ItemStatusCompleted, ItemStatusInProgress, false},
		{ItemStatusCompleted, ItemStatusFailed, false},
		{ItemStatus("bogus"), ItemStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNextRecord_Lifecycle(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	rec, ok := NextRecord(nil, ItemUpdate{Key: "k", Status: ItemStatusDiscovered, OwnerNode: 1, SessionID: "s1"}, t0)
	require.True(t, ok)
	assert.Equal(t, "s1", rec.DiscoveredAtSession)
	assert.Zero(t, rec.AttemptCount)

	// Re-discovery by a later session leaves the record untouched
	again, ok := NextRecord(&rec, ItemUpdate{Key: "k", Status: ItemStatusDiscovered, OwnerNode: 2, SessionID: "s2"}, t1)
	require.True(t, ok)
	assert.Equal(t, rec, again)

	rec, ok = NextRecord(&rec, ItemUpdate{Key: "k", Status: ItemStatusInProgress, OwnerNode: 1}, t1)
	require.True(t, ok)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Equal(t, t1, rec.UpdatedAt)
	assert.Equal(t, t0, rec.CreatedAt)

	rec, ok = NextRecord(&rec, ItemUpdate{Key: "k", Status: ItemStatusFailed, OwnerNode: 1, Error: "timeout"}, t1)
	require.True(t, ok)
	assert.Equal(t, "timeout", rec.LastError)

	rec, ok = NextRecord(&rec, ItemUpdate{Key: "k", Status: ItemStatusInProgress, OwnerNode: 1}, t1)
	require.True(t, ok)
	assert.Equal(t, 2, rec.AttemptCount)

	rec, ok = NextRecord(&rec, ItemUpdate{Key: "k", Status: ItemStatusCompleted, OwnerNode: 1}, t1)
	require.True(t, ok)
	assert.Empty(t, rec.LastError)

	_, ok = NextRecord(&rec, ItemUpdate{Key: "k", Status: ItemStatusInProgress, OwnerNode: 0}, t1)
	assert.False(t, ok, "completed items never regress")
}

func TestLedgerStats_Add(t *testing.T) {
	stats := NewLedgerStats()
	stats.Add(ItemRecord{Status: ItemStatusDiscovered, OwnerNode: 0})
	stats.Add(ItemRecord{Status: ItemStatusCompleted, OwnerNode: 1})
	stats.Add(ItemRecord{Status: ItemStatusCompleted, OwnerNode: 1})

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[ItemStatusCompleted])
	assert.Equal(t, map[int]int{1: 2}, stats.ByNode)
}

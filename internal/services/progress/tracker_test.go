package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/storage/memory"
)

// failingStore fails every Save after the first n
type failingStore struct {
	*memory.ProgressStorage
	allowed int
}

func (s *failingStore) Save(ctx context.Context, state *models.ProgressState) error {
	if s.allowed <= 0 {
		return interfaces.ErrProgressStorage
	}
	s.allowed--
	return s.ProgressStorage.Save(ctx, state)
}

func refs(keys ...string) []models.ItemRef {
	out := make([]models.ItemRef, len(keys))
	for i, k := range keys {
		out[i] = models.ItemRef{Key: k, URL: k}
	}
	return out
}

func TestLoadOrInit_New(t *testing.T) {
	store := memory.NewProgressStorage()
	tracker, err := LoadOrInit(context.Background(), store, "s1", arbor.NewLogger())
	require.NoError(t, err)

	assert.False(t, tracker.Loaded())
	assert.True(t, tracker.IsDone())
	assert.Empty(t, tracker.Remaining())
	assert.Equal(t, 0, store.Saves(), "nothing is written before the first mutation")
}

func TestRecordDiscovery_Idempotent(t *testing.T) {
	ctx := context.Background()
	tracker, err := LoadOrInit(ctx, memory.NewProgressStorage(), "s1", arbor.NewLogger())
	require.NoError(t, err)

	added, err := tracker.RecordDiscovery(ctx, refs("x1", "x2", "x3"))
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = tracker.RecordDiscovery(ctx, refs("x2", "x4", "x1", "x4"))
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	assert.Equal(t, []string{"x1", "x2", "x3", "x4"}, tracker.Snapshot().DiscoveredItems)
}

func TestBegin_EpochSurvivesResume(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProgressStorage()

	tracker, err := LoadOrInit(ctx, store, "s1", arbor.NewLogger())
	require.NoError(t, err)
	assert.Empty(t, tracker.Epoch())

	require.NoError(t, tracker.Begin(ctx, 0, 1, []string{"seed"}))
	epoch := tracker.Epoch()
	require.NotEmpty(t, epoch)

	resumed, err := LoadOrInit(ctx, store, "s1", arbor.NewLogger())
	require.NoError(t, err)
	require.NoError(t, resumed.Begin(ctx, 0, 1, []string{"seed"}))
	assert.Equal(t, epoch, resumed.Epoch())

	require.NoError(t, store.Delete(ctx, "s1"))
	fresh, err := LoadOrInit(ctx, store, "s1", arbor.NewLogger())
	require.NoError(t, err)
	require.NoError(t, fresh.Begin(ctx, 0, 1, []string{"seed"}))
	assert.NotEqual(t, epoch, fresh.Epoch(), "a cleared session starts a new epoch")
}

func TestMarkOutOfOrder(t *testing.T) {
	ctx := context.Background()
	tracker, err := LoadOrInit(ctx, memory.NewProgressStorage(), "s1", arbor.NewLogger())
	require.NoError(t, err)
	_, err = tracker.RecordDiscovery(ctx, refs("x1", "x2"))
	require.NoError(t, err)

	err = tracker.MarkCompleted(ctx, "x2")
	assert.True(t, errors.Is(err, models.ErrCursorMismatch))
	assert.Equal(t, 0, tracker.Snapshot().Cursor)
}

func TestResumeAfterInterruption(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProgressStorage()
	logger := arbor.NewLogger()

	first, err := LoadOrInit(ctx, store, "s1", logger)
	require.NoError(t, err)
	_, err = first.RecordDiscovery(ctx, refs("x1", "x2", "x3", "x4", "x5"))
	require.NoError(t, err)
	require.NoError(t, first.MarkCompleted(ctx, "x1"))
	require.NoError(t, first.MarkFailed(ctx, "x2", "boom"))
	// Process dies here

	second, err := LoadOrInit(ctx, store, "s1", logger)
	require.NoError(t, err)
	assert.True(t, second.Loaded())
	assert.Equal(t, []string{"x3", "x4", "x5"}, second.Remaining())

	require.NoError(t, second.MarkCompleted(ctx, "x3"))
	require.NoError(t, second.MarkSkipped(ctx, "x4", models.SkipReasonNotOwned))
	require.NoError(t, second.MarkCompleted(ctx, "x5"))
	assert.True(t, second.IsDone())

	final := second.Snapshot()
	assert.Equal(t, map[string]bool{"x1": true, "x3": true, "x5": true}, final.CompletedItems)
	assert.Equal(t, map[string]string{"x2": "boom"}, final.FailedItems)
	assert.Equal(t, 5, final.Cursor)
}

func TestSaveFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{ProgressStorage: memory.NewProgressStorage(), allowed: 1}

	tracker, err := LoadOrInit(ctx, store, "s1", arbor.NewLogger())
	require.NoError(t, err)
	_, err = tracker.RecordDiscovery(ctx, refs("x1", "x2"))
	require.NoError(t, err)

	err = tracker.MarkCompleted(ctx, "x1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrProgressStorage))

	snap := tracker.Snapshot()
	assert.Equal(t, 0, snap.Cursor)
	assert.Empty(t, snap.CompletedItems)
}

func TestLoadOrInit_CorruptState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProgressStorage()

	bad := models.NewProgressState("s1", testNow())
	bad.DiscoveredItems = []string{"x1"}
	bad.Cursor = 5
	require.NoError(t, store.Save(ctx, bad))

	_, err := LoadOrInit(ctx, store, "s1", arbor.NewLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrProgressStorage))
}

func testNow() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

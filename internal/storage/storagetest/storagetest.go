// Package storagetest holds behaviour suites shared by every ledger and progress backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// LedgerFactory opens a fresh, empty ledger for one subtest
type LedgerFactory func(t *testing.T) interfaces.LedgerStorage

// ProgressFactory opens a fresh, empty progress store for one subtest
type ProgressFactory func(t *testing.T) interfaces.ProgressStorage

// RunLedgerSuite exercises the LedgerStorage contract
func RunLedgerSuite(t *testing.T, open LedgerFactory) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		ledger := open(t)
		_, err := ledger.Get(ctx, "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, interfaces.ErrItemNotFound))
	})

	t.Run("Lifecycle", func(t *testing.T) {
		ledger := open(t)
		key := "https://ocw.mit.edu/courses/6-0001"

		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusDiscovered, SessionID: "s1"}))
		rec, err := ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusDiscovered, rec.Status)
		assert.Equal(t, "s1", rec.DiscoveredAtSession)
		assert.Equal(t, 0, rec.AttemptCount)
		assert.False(t, rec.CreatedAt.IsZero())

		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusInProgress, OwnerNode: 1, SessionID: "s2"}))
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusFailed, OwnerNode: 1, Error: "timeout"}))
		rec, err = ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusFailed, rec.Status)
		assert.Equal(t, 1, rec.AttemptCount)
		assert.Equal(t, 1, rec.OwnerNode)
		assert.Equal(t, "timeout", rec.LastError)
		assert.Equal(t, "s1", rec.DiscoveredAtSession, "first discovering session is kept")

		// Explicit retry
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusInProgress, OwnerNode: 1}))
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusCompleted, OwnerNode: 1}))
		rec, err = ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusCompleted, rec.Status)
		assert.Equal(t, 2, rec.AttemptCount)
		assert.Empty(t, rec.LastError)
	})

	t.Run("ClaimToken", func(t *testing.T) {
		ledger := open(t)
		key := "k"

		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusDiscovered, SessionID: "s1", Token: "ignored"}))
		rec, err := ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, rec.ClaimToken, "discovery never claims")

		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusInProgress, Token: "epoch-1"}))
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusDiscovered, SessionID: "s2", Token: "epoch-2"}))
		rec, err = ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "epoch-1", rec.ClaimToken)

		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusCompleted, Token: "epoch-2"}))
		rec, err = ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "epoch-2", rec.ClaimToken)
	})

	t.Run("RediscoveryDoesNotReset", func(t *testing.T) {
		ledger := open(t)
		key := "k"
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusInProgress, OwnerNode: 0, SessionID: "s1"}))
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusDiscovered, SessionID: "s2"}))

		rec, err := ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusInProgress, rec.Status)
		assert.Equal(t, 1, rec.AttemptCount)
		assert.Equal(t, "s1", rec.DiscoveredAtSession)

		keys, err := ledger.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})

	t.Run("CompletedIsTerminal", func(t *testing.T) {
		ledger := open(t)
		key := "done"
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusCompleted, OwnerNode: 0}))

		for _, status := range []models.ItemStatus{models.ItemStatusInProgress, models.ItemStatusFailed} {
			err := ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: status, OwnerNode: 1, Error: "x"})
			require.Error(t, err, "completed -> %s", status)
			assert.True(t, errors.Is(err, models.ErrInvalidTransition))
		}

		// Completing twice, e.g. from two nodes after a node-count change, is harmless
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusCompleted, OwnerNode: 1}))
		// Rediscovery is a no-op rather than an error
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusDiscovered}))

		rec, err := ledger.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusCompleted, rec.Status)
		assert.Empty(t, rec.LastError)
	})

	t.Run("KeySetsAndStats", func(t *testing.T) {
		ledger := open(t)
		updates := []models.ItemUpdate{
			{Key: "a", Status: models.ItemStatusCompleted, OwnerNode: 0},
			{Key: "b", Status: models.ItemStatusCompleted, OwnerNode: 1},
			{Key: "c", Status: models.ItemStatusFailed, OwnerNode: 1, Error: "boom"},
			{Key: "d", Status: models.ItemStatusDiscovered},
		}
		for _, u := range updates {
			require.NoError(t, ledger.Upsert(ctx, u))
		}

		completed, err := ledger.CompletedKeys(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, completed)

		all, err := ledger.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		stats, err := ledger.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Total)
		assert.Equal(t, 2, stats.ByStatus[models.ItemStatusCompleted])
		assert.Equal(t, 1, stats.ByStatus[models.ItemStatusFailed])
		assert.Equal(t, 1, stats.ByStatus[models.ItemStatusDiscovered])
		assert.Equal(t, 1, stats.ByNode[0])
		assert.Equal(t, 2, stats.ByNode[1])

		deleted, err := ledger.DeleteKeys(ctx, []string{"a", "c", "zzz"})
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		all, err = ledger.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]struct{}{"b": {}, "d": {}}, all)
	})

	t.Run("ConcurrentDisjointUpserts", func(t *testing.T) {
		ledger := open(t)
		const workers, perWorker = 4, 25

		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker*2)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					key := fmt.Sprintf("node%d-item%d", w, i)
					errs <- ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusInProgress, OwnerNode: w})
					errs <- ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusCompleted, OwnerNode: w})
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		completed, err := ledger.CompletedKeys(ctx)
		require.NoError(t, err)
		assert.Len(t, completed, workers*perWorker)
	})
}

// RunProgressSuite exercises the ProgressStorage contract
func RunProgressSuite(t *testing.T, open ProgressFactory) {
	ctx := context.Background()

	t.Run("LoadMissing", func(t *testing.T) {
		store := open(t)
		_, err := store.Load(ctx, "nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, interfaces.ErrProgressNotFound))
	})

	t.Run("SaveLoadReplace", func(t *testing.T) {
		store := open(t)
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		state := models.NewProgressState("abcd1234", now)
		state.NodeID, state.TotalNodes = 1, 2
		state.Seeds = []string{"A", "B"}
		state.RecordDiscovery([]models.ItemRef{{Key: "x1", Title: "One"}, {Key: "x2"}, {Key: "x3"}})
		state.DiscoveryComplete = true
		require.NoError(t, state.MarkCompleted("x1"))
		require.NoError(t, state.MarkFailed("x2", "boom"))
		state.Phase = models.SessionStateProcessing
		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx, "abcd1234")
		require.NoError(t, err)
		assert.Equal(t, []string{"x1", "x2", "x3"}, loaded.DiscoveredItems)
		assert.Equal(t, 2, loaded.Cursor)
		assert.Equal(t, []string{"x3"}, loaded.Remaining())
		assert.True(t, loaded.CompletedItems["x1"])
		assert.Equal(t, "boom", loaded.FailedItems["x2"])
		assert.Equal(t, "One", loaded.Items["x1"].Title)
		assert.Equal(t, []string{"A", "B"}, loaded.Seeds)
		assert.Equal(t, 2, loaded.TotalNodes)
		assert.True(t, loaded.DiscoveryComplete)
		assert.Equal(t, models.SessionStateProcessing, loaded.Phase)
		assert.True(t, now.Equal(loaded.CreatedAt))
		require.NoError(t, loaded.Validate())

		require.NoError(t, loaded.MarkSkipped("x3", models.SkipReasonNotOwned))
		require.NoError(t, store.Save(ctx, loaded))

		again, err := store.Load(ctx, "abcd1234")
		require.NoError(t, err)
		assert.True(t, again.IsDone())
		assert.Equal(t, models.SkipReasonNotOwned, again.SkippedItems["x3"])
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		store := open(t)
		now := time.Now()
		for _, id := range []string{"bbbb0000", "aaaa0000"} {
			require.NoError(t, store.Save(ctx, models.NewProgressState(id, now)))
		}

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"aaaa0000", "bbbb0000"}, ids)

		require.NoError(t, store.Delete(ctx, "aaaa0000"))
		require.NoError(t, store.Delete(ctx, "never-saved"))

		_, err = store.Load(ctx, "aaaa0000")
		assert.True(t, errors.Is(err, interfaces.ErrProgressNotFound))

		ids, err = store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"bbbb0000"}, ids)
	})
}

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/storage/storagetest"
)

func setupBadgerDB(t *testing.T, path string) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: path})
	require.NoError(t, err)
	return db
}

func TestLedgerStorage(t *testing.T) {
	storagetest.RunLedgerSuite(t, func(t *testing.T) interfaces.LedgerStorage {
		db := setupBadgerDB(t, t.TempDir())
		t.Cleanup(func() { db.Close() })
		return NewLedgerStorage(db, arbor.NewLogger())
	})
}

func TestProgressStorage(t *testing.T) {
	storagetest.RunProgressSuite(t, func(t *testing.T) interfaces.ProgressStorage {
		db := setupBadgerDB(t, t.TempDir())
		t.Cleanup(func() { db.Close() })
		return NewProgressStorage(db, arbor.NewLogger())
	})
}

// Ledger and progress records share one database without colliding on keys
func TestSharedDatabase(t *testing.T) {
	ctx := context.Background()
	db := setupBadgerDB(t, t.TempDir())
	defer db.Close()

	ledger := NewLedgerStorage(db, arbor.NewLogger())
	progress := NewProgressStorage(db, arbor.NewLogger())

	require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: "abcd1234", Status: models.ItemStatusCompleted}))
	require.NoError(t, progress.Save(ctx, models.NewProgressState("abcd1234", testTime())))

	rec, err := ledger.Get(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusCompleted, rec.Status)

	state, err := progress.Load(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", state.SessionID)

	keys, err := ledger.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestProgressStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db := setupBadgerDB(t, dir)
	state := models.NewProgressState("s1", testTime())
	state.RecordDiscovery([]models.ItemRef{{Key: "x1"}, {Key: "x2"}})
	require.NoError(t, state.MarkCompleted("x1"))
	require.NoError(t, NewProgressStorage(db, arbor.NewLogger()).Save(ctx, state))
	require.NoError(t, db.Close())

	reopened := setupBadgerDB(t, dir)
	defer reopened.Close()

	loaded, err := NewProgressStorage(reopened, arbor.NewLogger()).Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x2"}, loaded.Remaining())
}

func testTime() time.Time {
	return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
}

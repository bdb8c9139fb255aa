package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/storage/badger"
	"github.com/ternarybob/harvester/internal/storage/file"
	"github.com/ternarybob/harvester/internal/storage/sqlite"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()
	config := common.NewDefaultConfig()
	config.Storage.SQLite.Path = filepath.Join(dir, "ledger.db")
	config.Storage.Badger.Path = filepath.Join(dir, "badger")
	config.Storage.File.Dir = filepath.Join(dir, "progress")
	return config
}

func TestNewStorageManager_Defaults(t *testing.T) {
	config := testConfig(t)

	m, err := NewStorageManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	defer m.Close()

	assert.IsType(t, &sqlite.LedgerStorage{}, m.LedgerStorage())
	assert.IsType(t, &badger.ProgressStorage{}, m.ProgressStorage())
	assert.DirExists(t, NodeDir(config.Storage.Badger.Path, 0))
}

func TestNewStorageManager_SharedBadger(t *testing.T) {
	config := testConfig(t)
	config.Storage.Ledger = "badger"

	m, err := NewStorageManager(arbor.NewLogger(), config)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.LedgerStorage().Upsert(ctx, models.ItemUpdate{Key: "k1", Status: models.ItemStatusCompleted}))
	require.NoError(t, m.ProgressStorage().Save(ctx, models.NewProgressState("s1", testNow())))
	require.NoError(t, m.Close())

	// Reopening proves the directory lock was released exactly once
	m, err = NewStorageManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	defer m.Close()

	rec, err := m.LedgerStorage().Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusCompleted, rec.Status)

	_, err = m.ProgressStorage().Load(ctx, "s1")
	assert.NoError(t, err)
}

func TestNewStorageManager_FileProgressPerNode(t *testing.T) {
	config := testConfig(t)
	config.Storage.Progress = "file"
	config.Coordinator.TotalNodes = 2
	config.Coordinator.NodeID = 1

	m, err := NewStorageManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	defer m.Close()

	assert.IsType(t, &file.ProgressStorage{}, m.ProgressStorage())
	require.NoError(t, m.ProgressStorage().Save(context.Background(), models.NewProgressState("s1", testNow())))
	assert.FileExists(t, filepath.Join(config.Storage.File.Dir, "node-1", "s1.progress.json"))
}

func TestNewStorageManager_Unsupported(t *testing.T) {
	config := testConfig(t)
	config.Storage.Progress = "s3"

	_, err := NewStorageManager(arbor.NewLogger(), config)
	assert.Error(t, err)
}

func TestNewStorageManager_PostgresUnreachable(t *testing.T) {
	config := testConfig(t)
	config.Storage.Ledger = "postgres"
	config.Storage.Postgres.DSN = "postgres://harvester@127.0.0.1:1/harvester?sslmode=disable&connect_timeout=1"

	_, err := NewStorageManager(arbor.NewLogger(), config)
	assert.ErrorIs(t, err, interfaces.ErrLedgerUnavailable)
}

func testNow() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

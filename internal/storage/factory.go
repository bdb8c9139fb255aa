package storage

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/storage/badger"
	"github.com/ternarybob/harvester/internal/storage/file"
	"github.com/ternarybob/harvester/internal/storage/memory"
	"github.com/ternarybob/harvester/internal/storage/postgres"
	"github.com/ternarybob/harvester/internal/storage/sqlite"
)

// Manager implements interfaces.StorageManager over the configured backends
type Manager struct {
	ledger   interfaces.LedgerStorage
	progress interfaces.ProgressStorage
	badgerDB *badger.BadgerDB
	logger   arbor.ILogger
}

// NodeDir returns the per-node subdirectory of a storage root.
// Progress is keyed by session id, which every node of a session shares.
func NodeDir(root string, nodeID int) string {
	return filepath.Join(root, fmt.Sprintf("node-%d", nodeID))
}

// NewStorageManager opens the ledger and progress backends named in config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (*Manager, error) {
	m := &Manager{logger: logger}
	nodeID := config.Coordinator.NodeID

	ledger, err := m.openLedger(config, nodeID)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.ledger = ledger

	progress, err := m.openProgress(config, nodeID)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.progress = progress

	logger.Info().
		Str("ledger", config.Storage.Ledger).
		Str("progress", config.Storage.Progress).
		Int("node_id", nodeID).
		Msg("Storage manager initialized")

	return m, nil
}

func (m *Manager) openLedger(config *common.Config, nodeID int) (interfaces.LedgerStorage, error) {
	switch config.Storage.Ledger {
	case "sqlite", "":
		db, err := sqlite.NewSQLiteDB(m.logger, &config.Storage.SQLite)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
		}
		return sqlite.NewLedgerStorage(db, m.logger), nil
	case "postgres":
		db, err := postgres.NewPostgresConnection(&config.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
		}
		return postgres.NewLedgerRepository(db, m.logger), nil
	case "badger":
		db, err := m.openBadger(config, nodeID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
		}
		return badger.NewLedgerStorage(db, m.logger), nil
	case "memory":
		return memory.NewLedgerStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger storage: %s", config.Storage.Ledger)
	}
}

func (m *Manager) openProgress(config *common.Config, nodeID int) (interfaces.ProgressStorage, error) {
	switch config.Storage.Progress {
	case "badger", "":
		db, err := m.openBadger(config, nodeID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrProgressStorage, err)
		}
		return badger.NewProgressStorage(db, m.logger), nil
	case "file":
		store, err := file.NewProgressStorage(NodeDir(config.Storage.File.Dir, nodeID), m.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrProgressStorage, err)
		}
		return store, nil
	case "memory":
		return memory.NewProgressStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported progress storage: %s", config.Storage.Progress)
	}
}

// openBadger opens the node's Badger directory once and shares it between backends
func (m *Manager) openBadger(config *common.Config, nodeID int) (*badger.BadgerDB, error) {
	if m.badgerDB != nil {
		return m.badgerDB, nil
	}
	db, err := badger.NewBadgerDB(m.logger, &common.BadgerConfig{
		Path: NodeDir(config.Storage.Badger.Path, nodeID),
	})
	if err != nil {
		return nil, err
	}
	m.badgerDB = db
	return db, nil
}

// LedgerStorage returns the ledger backend
func (m *Manager) LedgerStorage() interfaces.LedgerStorage {
	return m.ledger
}

// ProgressStorage returns the progress backend
func (m *Manager) ProgressStorage() interfaces.ProgressStorage {
	return m.progress
}

// Close closes every backend, then the shared Badger database
func (m *Manager) Close() error {
	var errs []error
	if m.progress != nil {
		errs = append(errs, m.progress.Close())
	}
	if m.ledger != nil {
		errs = append(errs, m.ledger.Close())
	}
	if m.badgerDB != nil {
		errs = append(errs, m.badgerDB.Close())
		m.badgerDB = nil
	}
	m.ledger, m.progress = nil, nil
	return errors.Join(errs...)
}

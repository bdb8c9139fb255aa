package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// maxConflictRetries bounds optimistic transaction retries on concurrent writes to one key
const maxConflictRetries = 5

// LedgerStorage implements interfaces.LedgerStorage for Badger.
//
// Usable for single-node runs only: the directory lock keeps other processes out.
type LedgerStorage struct {
	db      *BadgerDB
	logger  arbor.ILogger
	nowFunc func() time.Time
}

// NewLedgerStorage creates a new LedgerStorage instance
func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) *LedgerStorage {
	return &LedgerStorage{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Upsert reads and writes the record in one Badger transaction
func (s *LedgerStorage) Upsert(ctx context.Context, update models.ItemUpdate) error {
	if update.Key == "" {
		return fmt.Errorf("%w: empty item key", interfaces.ErrInvalidInput)
	}

	store := s.db.Store()
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = store.Badger().Update(func(tx *badger.Txn) error {
			var current *models.ItemRecord
			var existing models.ItemRecord
			getErr := store.TxGet(tx, update.Key, &existing)
			switch {
			case getErr == nil:
				current = &existing
			case errors.Is(getErr, badgerhold.ErrNotFound):
			default:
				return getErr
			}

			next, ok := models.NextRecord(current, update, s.nowFunc())
			if !ok {
				return fmt.Errorf("%w: %s %s -> %s", models.ErrInvalidTransition, update.Key, existing.Status, update.Status)
			}
			if current != nil && next == *current {
				return nil
			}
			return store.TxUpsert(tx, update.Key, next)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrInvalidTransition):
		return err
	default:
		return fmt.Errorf("%w: upsert %s: %v", interfaces.ErrLedgerUnavailable, update.Key, err)
	}
}

func (s *LedgerStorage) Get(ctx context.Context, key string) (*models.ItemRecord, error) {
	var rec models.ItemRecord
	err := s.db.Store().Get(key, &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrItemNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", interfaces.ErrLedgerUnavailable, key, err)
	}
	return &rec, nil
}

func (s *LedgerStorage) CompletedKeys(ctx context.Context) (map[string]struct{}, error) {
	var records []models.ItemRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("Status").Eq(models.ItemStatusCompleted)); err != nil {
		return nil, fmt.Errorf("%w: completed keys: %v", interfaces.ErrLedgerUnavailable, err)
	}
	return keySet(records), nil
}

func (s *LedgerStorage) Keys(ctx context.Context) (map[string]struct{}, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	return keySet(records), nil
}

func (s *LedgerStorage) Stats(ctx context.Context) (*models.LedgerStats, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	stats := models.NewLedgerStats()
	for _, rec := range records {
		stats.Add(rec)
	}
	return stats, nil
}

func (s *LedgerStorage) DeleteKeys(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	err := s.db.Store().Badger().Update(func(tx *badger.Txn) error {
		for _, key := range keys {
			err := s.db.Store().TxDelete(tx, key, models.ItemRecord{})
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete keys: %v", interfaces.ErrLedgerUnavailable, err)
	}
	return deleted, nil
}

func (s *LedgerStorage) all() ([]models.ItemRecord, error) {
	var records []models.ItemRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("%w: list records: %v", interfaces.ErrLedgerUnavailable, err)
	}
	return records, nil
}

func keySet(records []models.ItemRecord) map[string]struct{} {
	keys := make(map[string]struct{}, len(records))
	for _, rec := range records {
		keys[rec.Key] = struct{}{}
	}
	return keys
}

// Close is a no-op; the BadgerDB is closed by the storage manager that opened it
func (s *LedgerStorage) Close() error {
	return nil
}

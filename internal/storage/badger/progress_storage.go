package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// ProgressStorage implements interfaces.ProgressStorage for Badger.
// Each state is one value written in a single transaction, so a save is all-or-nothing.
type ProgressStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProgressStorage creates a new ProgressStorage instance
func NewProgressStorage(db *BadgerDB, logger arbor.ILogger) *ProgressStorage {
	return &ProgressStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProgressStorage) Load(ctx context.Context, sessionID string) (*models.ProgressState, error) {
	var state models.ProgressState
	err := s.db.Store().Get(sessionID, &state)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrProgressNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", interfaces.ErrProgressStorage, sessionID, err)
	}
	return &state, nil
}

func (s *ProgressStorage) Save(ctx context.Context, state *models.ProgressState) error {
	if state == nil || state.SessionID == "" {
		return fmt.Errorf("%w: progress state without session id", interfaces.ErrProgressStorage)
	}
	if err := s.db.Store().Upsert(state.SessionID, state); err != nil {
		return fmt.Errorf("%w: save %s: %v", interfaces.ErrProgressStorage, state.SessionID, err)
	}
	return nil
}

func (s *ProgressStorage) Delete(ctx context.Context, sessionID string) error {
	err := s.db.Store().Delete(sessionID, models.ProgressState{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("%w: delete %s: %v", interfaces.ErrProgressStorage, sessionID, err)
	}
	return nil
}

func (s *ProgressStorage) List(ctx context.Context) ([]string, error) {
	var states []models.ProgressState
	if err := s.db.Store().Find(&states, nil); err != nil {
		return nil, fmt.Errorf("%w: list: %v", interfaces.ErrProgressStorage, err)
	}

	ids := make([]string, 0, len(states))
	for _, state := range states {
		ids = append(ids, state.SessionID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op; the BadgerDB is closed by the storage manager that opened it
func (s *ProgressStorage) Close() error {
	return nil
}

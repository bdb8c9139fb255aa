package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// ProgressStorage keeps deep copies of progress states keyed by session id
type ProgressStorage struct {
	mu     sync.RWMutex
	states map[string]*models.ProgressState
	saves  int
}

// NewProgressStorage creates an empty store
func NewProgressStorage() *ProgressStorage {
	return &ProgressStorage{states: make(map[string]*models.ProgressState)}
}

func (s *ProgressStorage) Load(ctx context.Context, sessionID string) (*models.ProgressState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrProgressNotFound, sessionID)
	}
	return state.Clone(), nil
}

func (s *ProgressStorage) Save(ctx context.Context, state *models.ProgressState) error {
	if state == nil || state.SessionID == "" {
		return fmt.Errorf("%w: progress state without session id", interfaces.ErrProgressStorage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SessionID] = state.Clone()
	s.saves++
	return nil
}

func (s *ProgressStorage) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	return nil
}

func (s *ProgressStorage) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Saves returns how many times Save succeeded
func (s *ProgressStorage) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *ProgressStorage) Close() error {
	return nil
}

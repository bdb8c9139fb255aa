// Package memory provides in-process ledger and progress storage. State lives only as long
// as the process; it backs tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// LedgerStorage is a map-backed ledger
type LedgerStorage struct {
	mu      sync.RWMutex
	records map[string]models.ItemRecord
	nowFunc func() time.Time
}

// NewLedgerStorage creates an empty ledger
func NewLedgerStorage() *LedgerStorage {
	return &LedgerStorage{
		records: make(map[string]models.ItemRecord),
		nowFunc: time.Now,
	}
}

// SetClock overrides the timestamp source
func (s *LedgerStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

func (s *LedgerStorage) Upsert(ctx context.Context, update models.ItemUpdate) error {
	if update.Key == "" {
		return fmt.Errorf("%w: empty item key", interfaces.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.ItemRecord
	if rec, ok := s.records[update.Key]; ok {
		current = &rec
	}

	next, ok := models.NextRecord(current, update, s.nowFunc())
	if !ok {
		from := models.ItemStatus("absent")
		if current != nil {
			from = current.Status
		}
		return fmt.Errorf("%w: %s %s -> %s", models.ErrInvalidTransition, update.Key, from, update.Status)
	}
	s.records[update.Key] = next
	return nil
}

func (s *LedgerStorage) Get(ctx context.Context, key string) (*models.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrItemNotFound, key)
	}
	return &rec, nil
}

func (s *LedgerStorage) CompletedKeys(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make(map[string]struct{})
	for key, rec := range s.records {
		if rec.Status == models.ItemStatusCompleted {
			keys[key] = struct{}{}
		}
	}
	return keys, nil
}

func (s *LedgerStorage) Keys(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make(map[string]struct{}, len(s.records))
	for key := range s.records {
		keys[key] = struct{}{}
	}
	return keys, nil
}

func (s *LedgerStorage) Stats(ctx context.Context) (*models.LedgerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.NewLedgerStats()
	for _, rec := range s.records {
		stats.Add(rec)
	}
	return stats, nil
}

func (s *LedgerStorage) DeleteKeys(ctx context.Context, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, key := range keys {
		if _, ok := s.records[key]; ok {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Records returns all records sorted by key
func (s *LedgerStorage) Records() []models.ItemRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ItemRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *LedgerStorage) Close() error {
	return nil
}

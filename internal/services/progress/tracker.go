package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// Tracker owns the progress state of one session.
//
// Every mutation is applied to a copy, persisted, and only then made visible, so the
// in-memory state never runs ahead of what storage holds. Tracker is safe for concurrent
// use; writes are serialized.
type Tracker struct {
	mu      sync.Mutex
	store   interfaces.ProgressStorage
	state   *models.ProgressState
	loaded  bool
	logger  arbor.ILogger
	nowFunc func() time.Time
}

// LoadOrInit reads the persisted state for sessionID or creates an empty one.
// A new state is not written until its first mutation.
func LoadOrInit(ctx context.Context, store interfaces.ProgressStorage, sessionID string, logger arbor.ILogger) (*Tracker, error) {
	t := &Tracker{
		store:   store,
		logger:  logger,
		nowFunc: time.Now,
	}

	state, err := store.Load(ctx, sessionID)
	switch {
	case err == nil:
		if err := state.Validate(); err != nil {
			return nil, fmt.Errorf("%w: stored progress for session %s is corrupt: %v", interfaces.ErrProgressStorage, sessionID, err)
		}
		t.state = state
		t.loaded = true
		logger.Debug().
			Str("session_id", sessionID).
			Int("discovered", len(state.DiscoveredItems)).
			Int("cursor", state.Cursor).
			Msg("Loaded progress state")
	case errors.Is(err, interfaces.ErrProgressNotFound):
		t.state = models.NewProgressState(sessionID, t.nowFunc())
	default:
		return nil, err
	}

	return t, nil
}

// Loaded reports whether the state came from storage rather than being created fresh
func (t *Tracker) Loaded() bool {
	return t.loaded
}

// SessionID returns the tracked session id
func (t *Tracker) SessionID() string {
	return t.state.SessionID
}

// Snapshot returns a deep copy of the current state
func (t *Tracker) Snapshot() *models.ProgressState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// IsDone reports whether every discovered item has been finalised
func (t *Tracker) IsDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsDone()
}

// Remaining returns the keys not yet finalised, in discovery order
func (t *Tracker) Remaining() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Remaining()
}

// Ref returns the discovery metadata recorded for key
func (t *Tracker) Ref(key string) (models.ItemRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.state.Items[key]
	return ref, ok
}

// Epoch returns the token that ledger claims made under this state carry. It is assigned by
// the first Begin and survives resumes; a cleared session gets a new one.
func (t *Tracker) Epoch() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Epoch
}

// Begin records the node layout and seeds of the run that is about to start
func (t *Tracker) Begin(ctx context.Context, nodeID, totalNodes int, seeds []string) error {
	return t.update(ctx, func(s *models.ProgressState) error {
		if s.Epoch == "" {
			s.Epoch = uuid.New().String()
		}
		s.NodeID = nodeID
		s.TotalNodes = totalNodes
		s.Seeds = append([]string(nil), seeds...)
		return nil
	})
}

// RecordDiscovery appends keys not yet known, preserving order. Re-recording known keys is a no-op.
func (t *Tracker) RecordDiscovery(ctx context.Context, refs []models.ItemRef) (int, error) {
	added := 0
	err := t.update(ctx, func(s *models.ProgressState) error {
		added = s.RecordDiscovery(refs)
		s.DiscoveryComplete = true
		return nil
	})
	return added, err
}

// SetPhase records the coordinator state for status reporting
func (t *Tracker) SetPhase(ctx context.Context, phase models.SessionState) error {
	return t.update(ctx, func(s *models.ProgressState) error {
		s.Phase = phase
		return nil
	})
}

// MarkCompleted finalises the item at the cursor as completed and persists
func (t *Tracker) MarkCompleted(ctx context.Context, key string) error {
	return t.update(ctx, func(s *models.ProgressState) error {
		return s.MarkCompleted(key)
	})
}

// MarkFailed finalises the item at the cursor as failed and persists
func (t *Tracker) MarkFailed(ctx context.Context, key string, reason string) error {
	return t.update(ctx, func(s *models.ProgressState) error {
		return s.MarkFailed(key, reason)
	})
}

// MarkSkipped finalises the item at the cursor without processing it and persists
func (t *Tracker) MarkSkipped(ctx context.Context, key string, reason string) error {
	return t.update(ctx, func(s *models.ProgressState) error {
		return s.MarkSkipped(key, reason)
	})
}

func (t *Tracker) update(ctx context.Context, mutate func(*models.ProgressState) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.state.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	next.UpdatedAt = t.nowFunc()

	if err := t.store.Save(ctx, next); err != nil {
		return err
	}
	t.state = next
	return nil
}

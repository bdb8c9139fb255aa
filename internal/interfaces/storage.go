package interfaces

import (
	"context"

	"github.com/ternarybob/harvester/internal/models"
)

// LedgerStorage is the durable, cross-session and cross-node record of item status.
//
// Every Upsert is durable before it returns. Concurrent upserts from several processes on
// disjoint keys must not corrupt storage; last writer wins per key. Implementations wrap
// storage failures with ErrLedgerUnavailable.
type LedgerStorage interface {
	// Upsert applies an update, inserting the key when absent.
	// Returns models.ErrInvalidTransition when the update would regress the item.
	Upsert(ctx context.Context, update models.ItemUpdate) error

	// Get returns the record for key, or ErrItemNotFound
	Get(ctx context.Context, key string) (*models.ItemRecord, error)

	// CompletedKeys returns every key whose status is completed
	CompletedKeys(ctx context.Context) (map[string]struct{}, error)

	// Keys returns every key in the ledger
	Keys(ctx context.Context) (map[string]struct{}, error)

	// Stats returns counts by status and owner node
	Stats(ctx context.Context) (*models.LedgerStats, error)

	// DeleteKeys removes the given keys, returning how many existed
	DeleteKeys(ctx context.Context, keys []string) (int, error)

	// Close releases the underlying storage
	Close() error
}

// ProgressStorage persists ProgressState records keyed by session id.
// Save is atomic: a reader never observes a half-written state.
// Implementations wrap storage failures with ErrProgressStorage.
type ProgressStorage interface {
	// Load returns the stored state, or ErrProgressNotFound
	Load(ctx context.Context, sessionID string) (*models.ProgressState, error)

	// Save replaces the stored state for state.SessionID
	Save(ctx context.Context, state *models.ProgressState) error

	// Delete removes the state for a session; deleting an unknown session is not an error
	Delete(ctx context.Context, sessionID string) error

	// List returns the session ids with stored state
	List(ctx context.Context) ([]string, error)

	// Close releases the underlying storage
	Close() error
}

// StorageManager owns the storage backends selected by configuration
type StorageManager interface {
	LedgerStorage() LedgerStorage
	ProgressStorage() ProgressStorage
	Close() error
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// deleteBatchSize keeps DELETE ... IN (...) under SQLite's bound-parameter limit
const deleteBatchSize = 500

// LedgerStorage implements interfaces.LedgerStorage on SQLite.
//
// Status transitions are enforced inside a single upsert statement, so two processes
// writing the same file cannot interleave a read and a write.
type LedgerStorage struct {
	db      *SQLiteDB
	logger  arbor.ILogger
	mu      sync.Mutex // Serializes writers in this process; other processes wait on busy_timeout
	nowFunc func() time.Time
}

// NewLedgerStorage creates a new LedgerStorage instance
func NewLedgerStorage(db *SQLiteDB, logger arbor.ILogger) *LedgerStorage {
	return &LedgerStorage{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}
}

const insertDiscoveredSQL = `
	INSERT INTO ledger_items (item_key, status, owner_node, attempt_count, last_error, discovered_at_session, created_at, updated_at)
	VALUES (?, 'discovered', ?, 0, NULL, ?, ?, ?)
	ON CONFLICT(item_key) DO NOTHING`

const upsertSQL = `
	INSERT INTO ledger_items (item_key, status, owner_node, attempt_count, last_error, discovered_at_session, claim_token, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(item_key) DO UPDATE SET
		status = excluded.status,
		owner_node = excluded.owner_node,
		claim_token = excluded.claim_token,
		attempt_count = ledger_items.attempt_count + CASE WHEN excluded.status = 'in_progress' THEN 1 ELSE 0 END,
		last_error = CASE excluded.status
			WHEN 'failed' THEN excluded.last_error
			WHEN 'completed' THEN NULL
			ELSE ledger_items.last_error
		END,
		updated_at = excluded.updated_at
	WHERE NOT (ledger_items.status = 'completed' AND excluded.status <> 'completed')`

// Upsert applies an update; the commit is durable before Upsert returns
func (s *LedgerStorage) Upsert(ctx context.Context, update models.ItemUpdate) error {
	if update.Key == "" {
		return fmt.Errorf("%w: empty item key", interfaces.ErrInvalidInput)
	}
	if !update.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, update.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UnixMilli()

	if update.Status == models.ItemStatusDiscovered {
		_, err := s.db.db.ExecContext(ctx, insertDiscoveredSQL, update.Key, update.OwnerNode, update.SessionID, now, now)
		if err != nil {
			return fmt.Errorf("%w: upsert %s: %v", interfaces.ErrLedgerUnavailable, update.Key, err)
		}
		return nil
	}

	attempts := 0
	if update.Status == models.ItemStatusInProgress {
		attempts = 1
	}
	var lastError sql.NullString
	if update.Status == models.ItemStatusFailed {
		lastError = sql.NullString{String: update.Error, Valid: true}
	}

	result, err := s.db.db.ExecContext(ctx, upsertSQL,
		update.Key, string(update.Status), update.OwnerNode, attempts, lastError, update.SessionID, update.Token, now, now)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", interfaces.ErrLedgerUnavailable, update.Key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", interfaces.ErrLedgerUnavailable, update.Key, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s completed -> %s", models.ErrInvalidTransition, update.Key, update.Status)
	}
	return nil
}

const selectColumns = `item_key, status, owner_node, attempt_count, last_error, discovered_at_session, claim_token, created_at, updated_at`

func scanRecord(scan func(dest ...any) error) (*models.ItemRecord, error) {
	var (
		rec                  models.ItemRecord
		status               string
		lastError            sql.NullString
		createdAt, updatedAt int64
	)
	if err := scan(&rec.Key, &status, &rec.OwnerNode, &rec.AttemptCount, &lastError,
		&rec.DiscoveredAtSession, &rec.ClaimToken, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Status = models.ItemStatus(status)
	rec.LastError = lastError.String
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

// Get returns the record for key
func (s *LedgerStorage) Get(ctx context.Context, key string) (*models.ItemRecord, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM ledger_items WHERE item_key = ?`, key)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrItemNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", interfaces.ErrLedgerUnavailable, key, err)
	}
	return rec, nil
}

// CompletedKeys returns every completed key
func (s *LedgerStorage) CompletedKeys(ctx context.Context) (map[string]struct{}, error) {
	return s.keySet(ctx, `SELECT item_key FROM ledger_items WHERE status = 'completed'`)
}

// Keys returns every key in the ledger
func (s *LedgerStorage) Keys(ctx context.Context) (map[string]struct{}, error) {
	return s.keySet(ctx, `SELECT item_key FROM ledger_items`)
}

func (s *LedgerStorage) keySet(ctx context.Context, query string) (map[string]struct{}, error) {
	rows, err := s.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", interfaces.ErrLedgerUnavailable, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: scan key: %v", interfaces.ErrLedgerUnavailable, err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", interfaces.ErrLedgerUnavailable, err)
	}
	return keys, nil
}

// Stats returns counts by status and by owner node
func (s *LedgerStorage) Stats(ctx context.Context) (*models.LedgerStats, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT status, owner_node, COUNT(*) FROM ledger_items GROUP BY status, owner_node`)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %v", interfaces.ErrLedgerUnavailable, err)
	}
	defer rows.Close()

	stats := models.NewLedgerStats()
	for rows.Next() {
		var (
			status string
			node   int
			count  int
		)
		if err := rows.Scan(&status, &node, &count); err != nil {
			return nil, fmt.Errorf("%w: scan stats: %v", interfaces.ErrLedgerUnavailable, err)
		}
		stats.Total += count
		stats.ByStatus[models.ItemStatus(status)] += count
		if models.ItemStatus(status) != models.ItemStatusDiscovered {
			stats.ByNode[node] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: stats: %v", interfaces.ErrLedgerUnavailable, err)
	}
	return stats, nil
}

// DeleteKeys removes keys in batches inside one transaction
func (s *LedgerStorage) DeleteKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin delete: %v", interfaces.ErrLedgerUnavailable, err)
	}
	defer tx.Rollback()

	deleted := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		batch := keys[start:end]

		args := make([]any, len(batch))
		for i, key := range batch {
			args[i] = key
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		result, err := tx.ExecContext(ctx, `DELETE FROM ledger_items WHERE item_key IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("%w: delete keys: %v", interfaces.ErrLedgerUnavailable, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%w: delete keys: %v", interfaces.ErrLedgerUnavailable, err)
		}
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit delete: %v", interfaces.ErrLedgerUnavailable, err)
	}
	s.logger.Debug().Int("deleted", deleted).Msg("Deleted ledger items")
	return deleted, nil
}

// Close closes the underlying database
func (s *LedgerStorage) Close() error {
	return s.db.Close()
}

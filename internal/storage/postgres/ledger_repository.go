package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// LedgerRepository implements interfaces.LedgerStorage on PostgreSQL.
// Transitions are checked by the upsert's WHERE clause, inside the database.
type LedgerRepository struct {
	db      *sqlx.DB
	logger  arbor.ILogger
	nowFunc func() time.Time
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB, logger arbor.ILogger) *LedgerRepository {
	return &LedgerRepository{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// itemRow is the database shape of models.ItemRecord
type itemRow struct {
	Key                 string         `db:"item_key"`
	Status              string         `db:"status"`
	OwnerNode           int            `db:"owner_node"`
	AttemptCount        int            `db:"attempt_count"`
	LastError           sql.NullString `db:"last_error"`
	DiscoveredAtSession string         `db:"discovered_at_session"`
	ClaimToken          string         `db:"claim_token"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r itemRow) record() *models.ItemRecord {
	return &models.ItemRecord{
		Key:                 r.Key,
		Status:              models.ItemStatus(r.Status),
		OwnerNode:           r.OwnerNode,
		AttemptCount:        r.AttemptCount,
		LastError:           r.LastError.String,
		DiscoveredAtSession: r.DiscoveredAtSession,
		ClaimToken:          r.ClaimToken,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

// Upsert applies an update in one statement
func (r *LedgerRepository) Upsert(ctx context.Context, update models.ItemUpdate) error {
	if update.Key == "" {
		return fmt.Errorf("%w: empty item key", interfaces.ErrInvalidInput)
	}
	if !update.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, update.Status)
	}

	now := r.nowFunc().UTC()

	if update.Status == models.ItemStatusDiscovered {
		query := `
			INSERT INTO ledger_items (item_key, status, owner_node, attempt_count, last_error, discovered_at_session, created_at, updated_at)
			VALUES ($1, 'discovered', $2, 0, NULL, $3, $4, $4)
			ON CONFLICT (item_key) DO NOTHING
		`
		if _, err := r.db.ExecContext(ctx, query, update.Key, update.OwnerNode, update.SessionID, now); err != nil {
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

	query := `
		INSERT INTO ledger_items (item_key, status, owner_node, attempt_count, last_error, discovered_at_session, claim_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (item_key) DO UPDATE SET
			status = EXCLUDED.status,
			owner_node = EXCLUDED.owner_node,
			claim_token = EXCLUDED.claim_token,
			attempt_count = ledger_items.attempt_count + CASE WHEN EXCLUDED.status = 'in_progress' THEN 1 ELSE 0 END,
			last_error = CASE EXCLUDED.status
				WHEN 'failed' THEN EXCLUDED.last_error
				WHEN 'completed' THEN NULL
				ELSE ledger_items.last_error
			END,
			updated_at = EXCLUDED.updated_at
		WHERE NOT (ledger_items.status = 'completed' AND EXCLUDED.status <> 'completed')
	`

	result, err := r.db.ExecContext(ctx, query,
		update.Key, string(update.Status), update.OwnerNode, attempts, lastError, update.SessionID, update.Token, now)
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

// Get returns the record for key
func (r *LedgerRepository) Get(ctx context.Context, key string) (*models.ItemRecord, error) {
	query := `
		SELECT item_key, status, owner_node, attempt_count, last_error, discovered_at_session, claim_token, created_at, updated_at
		FROM ledger_items
		WHERE item_key = $1
	`

	var row itemRow
	err := r.db.GetContext(ctx, &row, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrItemNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", interfaces.ErrLedgerUnavailable, key, err)
	}
	return row.record(), nil
}

// CompletedKeys returns every completed key
func (r *LedgerRepository) CompletedKeys(ctx context.Context) (map[string]struct{}, error) {
	return r.keySet(ctx, `SELECT item_key FROM ledger_items WHERE status = 'completed'`)
}

// Keys returns every key in the ledger
func (r *LedgerRepository) Keys(ctx context.Context) (map[string]struct{}, error) {
	return r.keySet(ctx, `SELECT item_key FROM ledger_items`)
}

func (r *LedgerRepository) keySet(ctx context.Context, query string) (map[string]struct{}, error) {
	var keys []string
	if err := r.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", interfaces.ErrLedgerUnavailable, err)
	}

	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set, nil
}

// Stats returns counts by status and by owner node
func (r *LedgerRepository) Stats(ctx context.Context) (*models.LedgerStats, error) {
	query := `
		SELECT status, owner_node, COUNT(*) AS count
		FROM ledger_items
		GROUP BY status, owner_node
	`

	var rows []struct {
		Status    string `db:"status"`
		OwnerNode int    `db:"owner_node"`
		Count     int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("%w: stats: %v", interfaces.ErrLedgerUnavailable, err)
	}

	stats := models.NewLedgerStats()
	for _, row := range rows {
		status := models.ItemStatus(row.Status)
		stats.Total += row.Count
		stats.ByStatus[status] += row.Count
		if status != models.ItemStatusDiscovered {
			stats.ByNode[row.OwnerNode] += row.Count
		}
	}
	return stats, nil
}

// DeleteKeys removes the given keys in one statement
func (r *LedgerRepository) DeleteKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM ledger_items WHERE item_key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return 0, fmt.Errorf("%w: delete keys: %v", interfaces.ErrLedgerUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: delete keys: %v", interfaces.ErrLedgerUnavailable, err)
	}
	return int(n), nil
}

// Close closes the connection pool
func (r *LedgerRepository) Close() error {
	return r.db.Close()
}

// Package postgres implements the ledger on PostgreSQL for nodes running on different hosts.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ternarybob/harvester/internal/common"
)

const (
	// DefaultConnMaxLifetime is used when the config leaves conn_max_lifetime empty
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultPingTimeout bounds the startup connectivity check
	DefaultPingTimeout = 5 * time.Second
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ledger_items (
	item_key TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK (status IN ('discovered', 'in_progress', 'completed', 'failed')),
	owner_node INTEGER NOT NULL DEFAULT 0,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	discovered_at_session TEXT NOT NULL DEFAULT '',
	claim_token TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE ledger_items ADD COLUMN IF NOT EXISTS claim_token TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_ledger_items_status ON ledger_items(status);
CREATE INDEX IF NOT EXISTS idx_ledger_items_session ON ledger_items(discovered_at_session);
`

// NewPostgresConnection opens the pool, verifies it and ensures the ledger schema exists
func NewPostgresConnection(config *common.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(common.ParseDuration(config.ConnMaxLifetime, DefaultConnMaxLifetime))

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// EnsureSchema creates the ledger table if it does not exist
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

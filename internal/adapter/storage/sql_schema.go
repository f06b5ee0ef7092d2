package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		owner_id VARCHAR(128) NOT NULL,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		org_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		role VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (org_id, user_id),
		INDEX idx_memberships_user (user_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS warehouses (
		id VARCHAR(64) PRIMARY KEY,
		org_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_warehouses_org (org_id)
	)`,
	`CREATE TABLE IF NOT EXISTS storage_locations (
		id VARCHAR(64) PRIMARY KEY,
		org_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id VARCHAR(64) PRIMARY KEY,
		org_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id VARCHAR(64) PRIMARY KEY,
		org_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		name_key VARCHAR(255) NOT NULL,
		unit VARCHAR(32) NOT NULL,
		min_stock DECIMAL(14,4) NOT NULL DEFAULT 0,
		default_tag_id VARCHAR(64) NULL,
		target_quantity DECIMAL(14,4) NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_items_org_name (org_id, name_key)
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id VARCHAR(64) PRIMARY KEY,
		org_id VARCHAR(64) NOT NULL,
		warehouse_id VARCHAR(64) NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		quantity DECIMAL(14,4) NOT NULL,
		expiry_date DATE NULL,
		storage_location_id VARCHAR(64) NULL,
		tag_id VARCHAR(64) NULL,
		create_key VARCHAR(255) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_batches_org_item (org_id, item_id),
		UNIQUE KEY uq_batches_item_create_key (item_id, create_key),
		CONSTRAINT chk_batches_quantity CHECK (quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id VARCHAR(64) PRIMARY KEY,
		org_id VARCHAR(64) NOT NULL,
		batch_id VARCHAR(64) NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		type VARCHAR(16) NOT NULL,
		quantity_delta DECIMAL(14,4) NOT NULL,
		quantity_after DECIMAL(14,4) NOT NULL,
		note TEXT NOT NULL,
		source VARCHAR(16) NOT NULL,
		idempotency_key VARCHAR(255) NULL,
		actor_id VARCHAR(128) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_transactions_batch_key (batch_id, idempotency_key),
		INDEX idx_transactions_org_created (org_id, created_at)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		org_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (org_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_warehouses_org ON warehouses (org_id)`,
	`CREATE TABLE IF NOT EXISTS storage_locations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL,
		unit TEXT NOT NULL,
		min_stock NUMERIC(14,4) NOT NULL DEFAULT 0,
		default_tag_id TEXT NULL,
		target_quantity NUMERIC(14,4) NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (org_id, name_key)
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		quantity NUMERIC(14,4) NOT NULL CHECK (quantity >= 0),
		expiry_date DATE NULL,
		storage_location_id TEXT NULL,
		tag_id TEXT NULL,
		create_key TEXT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (item_id, create_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_org_item ON batches (org_id, item_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity_delta NUMERIC(14,4) NOT NULL,
		quantity_after NUMERIC(14,4) NOT NULL,
		note TEXT NOT NULL,
		source TEXT NOT NULL,
		idempotency_key TEXT NULL,
		actor_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (batch_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_org_created ON transactions (org_id, created_at)`,
}

// SQLite keeps quantities as TEXT to preserve exact decimals and timestamps in
// sqliteTimeLayout.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		org_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS storage_locations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL,
		unit TEXT NOT NULL,
		min_stock TEXT NOT NULL DEFAULT '0',
		default_tag_id TEXT NULL,
		target_quantity TEXT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (org_id, name_key)
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		expiry_date TEXT NULL,
		storage_location_id TEXT NULL,
		tag_id TEXT NULL,
		create_key TEXT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (item_id, create_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_org_item ON batches (org_id, item_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity_delta TEXT NOT NULL,
		quantity_after TEXT NOT NULL,
		note TEXT NOT NULL,
		source TEXT NOT NULL,
		idempotency_key TEXT NULL,
		actor_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (batch_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_org_created ON transactions (org_id, created_at)`,
}

// Migrate creates the tables for d when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB, d Dialect) error {
	var stmts []string
	switch d {
	case DialectMySQL:
		stmts = mysqlSchema
	case DialectPostgres:
		stmts = postgresSchema
	case DialectSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("no schema for dialect %q", d)
	}

	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

package database

import (
	"context"
	"fmt"
)

// Amounts are stored as decimal TEXT since base-unit totals may exceed int64.
var commonSchema = []string{
	`CREATE TABLE IF NOT EXISTS receipts (
		request_id   TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		kind         TEXT NOT NULL,
		body         TEXT NOT NULL,
		receipt_hash TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		log_seq      BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS receipt_tip (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		receipt_hash TEXT NOT NULL
	)`,
	`INSERT INTO receipt_tip (id, receipt_hash) VALUES (1, '') ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS spend_ledger (
		day        TEXT NOT NULL,
		category   TEXT NOT NULL,
		total      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (day, category)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_ids (
		id            TEXT PRIMARY KEY,
		first_seen_at BIGINT NOT NULL,
		expires_at    BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS processed_ids_expires_at ON processed_ids (expires_at)`,
}

var logSchema = map[Dialect]string{
	DialectSQLite: `CREATE TABLE IF NOT EXISTS receipt_log (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id        TEXT NOT NULL,
		receipt_hash      TEXT NOT NULL,
		prev_receipt_hash TEXT,
		body              TEXT NOT NULL
	)`,
	DialectPostgres: `CREATE TABLE IF NOT EXISTS receipt_log (
		seq               BIGSERIAL PRIMARY KEY,
		request_id        TEXT NOT NULL,
		receipt_hash      TEXT NOT NULL,
		prev_receipt_hash TEXT,
		body              TEXT NOT NULL
	)`,
}

// Migrate creates every table actsafe uses. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := append([]string{}, commonSchema...)
	logDDL, ok := logSchema[d.Dialect]
	if !ok {
		return fmt.Errorf("database: unsupported dialect %q", d.Dialect)
	}
	stmts = append(stmts, logDDL)

	for i, stmt := range stmts {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("database: migration %d: %w", i, err)
		}
	}
	return nil
}

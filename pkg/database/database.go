// Package database opens the SQL stores shared by the receipt, spend and replay
// backends and owns their schema.
//
// Two dialects are supported: SQLite (modernc.org/sqlite, pure Go) for single
// host deployments and Postgres (lib/pq). Queries are written with '?'
// placeholders and rebound per dialect.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL flavour and locking strategy.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB is a *sql.DB tagged with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// New wraps an existing handle. Used by tests with sqlmock.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, Dialect: dialect}
}

// Open connects to the store and verifies it is reachable.
//
// SQLite handles are opened with BEGIN IMMEDIATE transactions so that a
// read-then-write inside a transaction holds the write lock from its first
// statement, and with a single pooled connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	case DialectPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("database: unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping %s: %w", dialect, err)
	}
	return New(db, dialect), nil
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Rebind rewrites '?' placeholders to the dialect's form.
func (d *DB) Rebind(query string) string {
	if d.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ForUpdate returns the row-lock suffix for a SELECT inside a write
// transaction. SQLite relies on the immediate transaction lock instead.
func (d *DB) ForUpdate() string {
	if d.Dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// WithTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: commit: %w", err)
	}
	return nil
}

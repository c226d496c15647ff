package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.Rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	assert.Equal(t, " FOR UPDATE", pg.ForUpdate())

	lite := &DB{Dialect: DialectSQLite}
	assert.Equal(t, "SELECT a FROM t WHERE x = ?", lite.Rebind("SELECT a FROM t WHERE x = ?"))
	assert.Equal(t, "", lite.ForUpdate())
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("a.db"))
	assert.Contains(t, sqliteDSN("file:a.db?mode=rwc"), "mode=rwc&_txlock=immediate")
}

func TestOpen_UnsupportedDialect(t *testing.T) {
	_, err := Open(context.Background(), Dialect("oracle"), "x")
	require.Error(t, err)
}

func TestMigrate_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "actsafe.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migrations must be idempotent")

	var tip string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT receipt_hash FROM receipt_tip WHERE id = 1").Scan(&tip))
	assert.Equal(t, "", tip)
}

func TestMigrate_Postgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	db := New(sqlDB, DialectPostgres)
	for range commonSchema {
		mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("BIGSERIAL").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	db := New(sqlDB, DialectPostgres)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = db.WithTx(context.Background(), func(_ *sql.Tx) error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

package spend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/database"
)

// SQLStorage keeps totals in the spend_ledger table. Each Update is one
// transaction: SQLite takes the write lock at BEGIN, Postgres locks the row
// with SELECT ... FOR UPDATE after ensuring it exists.
type SQLStorage struct {
	db *database.DB
}

func NewSQLStorage(db *database.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

func (s *SQLStorage) Update(ctx context.Context, day, category string, fn UpdateFunc) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO spend_ledger (day, category, total, updated_at) VALUES (?, ?, '0', ?)
			ON CONFLICT (day, category) DO NOTHING`), day, category, now); err != nil {
			return fmt.Errorf("spend: ensure row: %w", err)
		}

		var raw string
		err := tx.QueryRowContext(ctx, s.db.Rebind(
			`SELECT total FROM spend_ledger WHERE day = ? AND category = ?`+s.db.ForUpdate()),
			day, category).Scan(&raw)
		if err != nil {
			return fmt.Errorf("spend: read total: %w", err)
		}
		current, err := parseTotal(raw)
		if err != nil {
			return fmt.Errorf("spend: %s/%s: %w", day, category, err)
		}

		next, write, err := fn(current)
		if err != nil || !write {
			return err
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(
			`UPDATE spend_ledger SET total = ?, updated_at = ? WHERE day = ? AND category = ?`),
			strconv.FormatUint(next, 10), now, day, category)
		return err
	})
}

func (s *SQLStorage) Get(ctx context.Context, day, category string) (uint64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT total FROM spend_ledger WHERE day = ? AND category = ?`), day, category).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseTotal(raw)
}

func (s *SQLStorage) Day(ctx context.Context, day string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT category, total FROM spend_ledger WHERE day = ? ORDER BY category`), day)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Entry{}
	for rows.Next() {
		var cat, raw string
		if err := rows.Scan(&cat, &raw); err != nil {
			return nil, err
		}
		total, err := parseTotal(raw)
		if err != nil {
			return nil, fmt.Errorf("spend: %s/%s: %w", day, cat, err)
		}
		if total == 0 {
			continue
		}
		out = append(out, Entry{Day: day, Category: cat, Total: total})
	}
	return out, rows.Err()
}

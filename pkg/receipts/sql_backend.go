package receipts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/database"
)

// SQLBackend stores receipts in the tables created by database.Migrate. The
// append transaction locks the tip row, so appenders are serialised by the
// database.
type SQLBackend struct {
	db *database.DB
}

func NewSQLBackend(db *database.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (b *SQLBackend) Append(ctx context.Context, requestID string, fn AppendFunc) error {
	return b.db.WithTx(ctx, func(tx *sql.Tx) error {
		var tip string
		err := tx.QueryRowContext(ctx, b.db.Rebind(`SELECT receipt_hash FROM receipt_tip WHERE id = 1`+b.db.ForUpdate())).Scan(&tip)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("receipts: read tip: %w", err)
		}

		var current []byte
		var body string
		err = tx.QueryRowContext(ctx, b.db.Rebind(`SELECT body FROM receipts WHERE request_id = ?`), requestID).Scan(&body)
		switch {
		case err == nil:
			current = []byte(body)
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("receipts: read current: %w", err)
		}

		rec, err := fn(current, tip)
		if err != nil {
			return err
		}

		prev := sql.NullString{String: rec.PrevHash, Valid: rec.PrevHash != ""}
		var seq int64
		err = tx.QueryRowContext(ctx, b.db.Rebind(
			`INSERT INTO receipt_log (request_id, receipt_hash, prev_receipt_hash, body) VALUES (?, ?, ?, ?) RETURNING seq`),
			rec.RequestID, rec.Hash, prev, string(rec.Body)).Scan(&seq)
		if err != nil {
			return fmt.Errorf("receipts: append log: %w", err)
		}

		_, err = tx.ExecContext(ctx, b.db.Rebind(`INSERT INTO receipts (request_id, status, kind, body, receipt_hash, updated_at, log_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (request_id) DO UPDATE SET
				status = excluded.status,
				kind = excluded.kind,
				body = excluded.body,
				receipt_hash = excluded.receipt_hash,
				updated_at = excluded.updated_at,
				log_seq = excluded.log_seq`),
			rec.RequestID, string(rec.Status), rec.Kind, string(rec.Body), rec.Hash,
			rec.UpdatedAt.UTC().Format(time.RFC3339Nano), seq)
		if err != nil {
			return fmt.Errorf("receipts: upsert receipt: %w", err)
		}

		_, err = tx.ExecContext(ctx, b.db.Rebind(`INSERT INTO receipt_tip (id, receipt_hash) VALUES (1, ?)
			ON CONFLICT (id) DO UPDATE SET receipt_hash = excluded.receipt_hash`), rec.Hash)
		if err != nil {
			return fmt.Errorf("receipts: advance tip: %w", err)
		}
		return nil
	})
}

func (b *SQLBackend) Get(ctx context.Context, requestID string) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx, b.db.Rebind(`SELECT body FROM receipts WHERE request_id = ?`), requestID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("receipts: get: %w", err)
	}
	return []byte(body), nil
}

func (b *SQLBackend) List(ctx context.Context, limit int) ([][]byte, error) {
	query := `SELECT body FROM receipts ORDER BY log_seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return b.bodies(ctx, query, args...)
}

func (b *SQLBackend) Log(ctx context.Context) ([][]byte, error) {
	return b.bodies(ctx, `SELECT body FROM receipt_log ORDER BY seq`)
}

func (b *SQLBackend) bodies(ctx context.Context, query string, args ...any) ([][]byte, error) {
	rows, err := b.db.QueryContext(ctx, b.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("receipts: query: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("receipts: scan: %w", err)
		}
		out = append(out, []byte(body))
	}
	return out, rows.Err()
}

func (b *SQLBackend) Tip(ctx context.Context) (string, error) {
	var tip string
	err := b.db.QueryRowContext(ctx, `SELECT receipt_hash FROM receipt_tip WHERE id = 1`).Scan(&tip)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("receipts: read tip: %w", err)
	}
	return tip, nil
}

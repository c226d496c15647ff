package replayguard

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/database"
)

// SQLStore keeps entries in the processed_ids table.
type SQLStore struct {
	db    *database.DB
	clock func() time.Time
}

func NewSQLStore(db *database.DB) *SQLStore {
	return NewSQLStoreWithClock(db, time.Now)
}

func NewSQLStoreWithClock(db *database.DB, clock func() time.Time) *SQLStore {
	return &SQLStore{db: db, clock: clock}
}

func (s *SQLStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) error {
	if err := validate("replayguard.MarkProcessed", id, ttl); err != nil {
		return err
	}
	now := s.clock()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO processed_ids (id, first_seen_at, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET expires_at = excluded.expires_at`),
		id, now.UnixMilli(), now.Add(ttl).UnixMilli())
	return err
}

func (s *SQLStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	now := s.clock().UnixMilli()
	var seen bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM processed_ids WHERE expires_at <= ?`), now); err != nil {
			return err
		}
		var one int
		err := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM processed_ids WHERE id = ?`), id).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return err
		}
		seen = true
		return nil
	})
	return seen, err
}

func (s *SQLStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, first_seen_at, expires_at FROM processed_ids
		WHERE expires_at > ? ORDER BY first_seen_at, id`), s.clock().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Entry{}
	for rows.Next() {
		var (
			e              Entry
			first, expires int64
		)
		if err := rows.Scan(&e.ID, &first, &expires); err != nil {
			return nil, err
		}
		e.FirstSeenAt = time.UnixMilli(first).UTC()
		e.ExpiresAt = time.UnixMilli(expires).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

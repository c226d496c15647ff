package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/idempotency"
)

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 20

// Store is the hash-chained receipt collection.
type Store struct {
	backend Backend
	clock   func() time.Time
	logger  *slog.Logger
}

func NewStore(b Backend) *Store {
	return NewStoreWithClock(b, time.Now)
}

func NewStoreWithClock(b Backend, clock func() time.Time) *Store {
	return &Store{
		backend: b,
		clock:   clock,
		logger:  slog.Default().With("component", "receipts"),
	}
}

func (s *Store) now() time.Time {
	return s.clock().UTC().Round(0)
}

// Create returns a new, unsaved planned receipt for p. When a receipt already
// exists for the same requestId its createdAt is reused, so a retried action
// keeps its original creation time.
func (s *Store) Create(ctx context.Context, p action.Params) (*Receipt, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	id, err := idempotency.Derive(p)
	if err != nil {
		return nil, err
	}

	now := s.now()
	created := now
	existing, err := s.Load(ctx, id)
	switch {
	case err == nil:
		created = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	return &Receipt{
		RequestID: id,
		Status:    StatusPlanned,
		Kind:      p.Kind(),
		Params:    p,
		CreatedAt: created,
		UpdatedAt: now,
	}, nil
}

// Save persists r as the next link of the chain. The transition from the
// stored status is checked inside the backend's write scope, createdAt of the
// stored record is kept, and updatedAt, prevReceiptHash and receiptHash are
// recomputed. On success r holds exactly what was written.
func (s *Store) Save(ctx context.Context, r *Receipt) error {
	return s.save(ctx, "receipts.Save", r, nil)
}

// CompareAndSave is Save guarded by the stored receipt hash: r is written only
// when the stored record still hashes to expected, checked inside the same
// write scope as the append. A record that moved on fails with ErrConflict.
func (s *Store) CompareAndSave(ctx context.Context, r *Receipt, expected string) error {
	return s.save(ctx, "receipts.CompareAndSave", r, &expected)
}

func (s *Store) save(ctx context.Context, op string, r *Receipt, expected *string) error {
	if r == nil {
		return acterr.Validation(op, "receipt is nil")
	}

	var saved *Receipt
	err := s.backend.Append(ctx, string(r.RequestID), func(current []byte, tip string) (*Record, error) {
		next := *r
		var from Status
		if current != nil {
			stored, err := decodeVerified(op, current)
			if err != nil {
				return nil, err
			}
			from = stored.Status
			next.CreatedAt = stored.CreatedAt
			if expected != nil && stored.ReceiptHash != *expected {
				return nil, acterr.Wrap(acterr.KindPrecondition, op, "receipt_conflict",
					fmt.Errorf("%w: stored %s is now %q", ErrConflict, stored.RequestID.Short(), stored.Status))
			}
		} else if expected != nil {
			return nil, acterr.Wrap(acterr.KindPrecondition, op, "receipt_conflict",
				fmt.Errorf("%w: no stored receipt", ErrConflict))
		}
		if !CanTransition(from, next.Status) {
			return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_transition",
				fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, next.Status))
		}

		now := s.now()
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		next.PrevReceiptHash = nil
		if tip != "" {
			prev := tip
			next.PrevReceiptHash = &prev
		}
		next.ReceiptHash = ""
		if err := next.Validate(); err != nil {
			return nil, err
		}

		hash, err := ComputeHash(&next)
		if err != nil {
			return nil, err
		}
		next.ReceiptHash = hash
		body, err := json.Marshal(&next)
		if err != nil {
			return nil, fmt.Errorf("receipts: marshal: %w", err)
		}
		saved = &next
		return &Record{
			RequestID: string(next.RequestID),
			Status:    next.Status,
			Kind:      string(next.Kind),
			Hash:      hash,
			PrevHash:  tip,
			UpdatedAt: next.UpdatedAt,
			Body:      body,
		}, nil
	})
	if err != nil {
		return err
	}

	*r = *saved
	s.logger.DebugContext(ctx, "receipt saved",
		"request_id", r.RequestID.Short(), "status", r.Status, "receipt_hash", r.ReceiptHash)
	return nil
}

// Load returns the verified receipt for id. A record whose stored hash does
// not match its content fails with an IntegrityViolation.
func (s *Store) Load(ctx context.Context, id idempotency.RequestID) (*Receipt, error) {
	body, err := s.backend.Get(ctx, string(id))
	if err != nil {
		return nil, err
	}
	r, err := decodeVerified("receipts.Load", body)
	if err != nil {
		s.logger.ErrorContext(ctx, "receipt failed verification", "request_id", id.Short(), "error", err)
		return nil, err
	}
	if r.RequestID != id {
		return nil, acterr.New(acterr.KindIntegrity, "receipts.Load", "receipt_id_mismatch",
			fmt.Sprintf("stored under %s but carries %s", id, r.RequestID))
	}
	return r, nil
}

// List returns up to limit receipts, most recently saved first. Every record is
// verified; one failing record fails the call.
func (s *Store) List(ctx context.Context, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	bodies, err := s.backend.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Receipt, 0, len(bodies))
	for _, body := range bodies {
		r, err := decodeVerified("receipts.List", body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Tip is the hash of the most recently saved receipt, or "".
func (s *Store) Tip(ctx context.Context) (string, error) {
	return s.backend.Tip(ctx)
}

func decodeVerified(op string, body []byte) (*Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, acterr.Wrap(acterr.KindIntegrity, op, "receipt_corrupt", err)
	}
	if err := VerifyHash(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

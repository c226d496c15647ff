package receipts

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no receipt exists for a requestId.
var ErrNotFound = errors.New("receipt not found")

// Record is a serialised receipt plus the columns a backend indexes.
type Record struct {
	RequestID string
	Status    Status
	Kind      string
	Hash      string
	PrevHash  string // "" for genesis
	UpdatedAt time.Time
	Body      []byte
}

// AppendFunc builds the next record from the stored body for the same
// requestId (nil when absent) and the current chain tip ("" when empty).
type AppendFunc func(current []byte, tip string) (*Record, error)

// Backend persists receipt bodies, the append log and the chain tip.
//
// Append is the only mutation. It holds the backend's write exclusivity for
// the whole read-tip, build, persist, advance-tip sequence, so concurrent
// appenders can never link to the same tip.
type Backend interface {
	Append(ctx context.Context, requestID string, fn AppendFunc) error
	// Get returns the current body for requestID or ErrNotFound.
	Get(ctx context.Context, requestID string) ([]byte, error)
	// List returns current bodies, most recently appended first.
	List(ctx context.Context, limit int) ([][]byte, error)
	// Log returns every appended body in append order.
	Log(ctx context.Context) ([][]byte, error)
	// Tip returns the hash of the last appended body, or "".
	Tip(ctx context.Context) (string, error)
}

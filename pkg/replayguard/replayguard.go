// Package replayguard remembers external confirmation identifiers that have
// already been handled, for a bounded time.
//
// It is an advisory safety net against handling the same confirmation twice
// downstream. It is not a substitute for the idempotency key.
package replayguard

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
)

// DefaultTTL is how long a confirmation is remembered when no TTL is configured.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one remembered identifier.
type Entry struct {
	ID          string    `json:"id"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store is implemented by every backend.
type Store interface {
	// MarkProcessed upserts id. An existing entry keeps its first-seen time and
	// has its expiry extended to now+ttl.
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) error
	// IsProcessed reports whether a non-expired entry exists. Expired entries
	// are pruned as a side effect.
	IsProcessed(ctx context.Context, id string) (bool, error)
	// Entries lists non-expired entries for inspection.
	Entries(ctx context.Context) ([]Entry, error)
}

func validate(op, id string, ttl time.Duration) error {
	if id == "" {
		return acterr.Validation(op, "id is required")
	}
	if ttl <= 0 {
		return acterr.Validation(op, "ttl must be positive, got %s", ttl)
	}
	return nil
}

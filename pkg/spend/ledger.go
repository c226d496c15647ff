package spend

import (
	"context"
	"log/slog"
	"math/bits"
	"time"
)

// Ledger applies daily caps on top of a Storage.
type Ledger struct {
	storage Storage
	clock   func() time.Time
	logger  *slog.Logger
}

func NewLedger(s Storage) *Ledger {
	return NewLedgerWithClock(s, time.Now)
}

func NewLedgerWithClock(s Storage, clock func() time.Time) *Ledger {
	return &Ledger{
		storage: s,
		clock:   clock,
		logger:  slog.Default().With("component", "spend"),
	}
}

// CheckAndRecord adds amount to today's total for category if the result stays
// within dailyCap. A nil cap means the category is unmetered: the call succeeds
// and nothing is recorded, so the returned entry is nil.
//
// On success the new total is exactly previous+amount. On *CapExceededError the
// recorded total is unchanged. A sum that overflows uint64 counts as exceeding
// any cap.
func (l *Ledger) CheckAndRecord(ctx context.Context, category string, amount uint64, dailyCap *uint64) (*Entry, error) {
	if dailyCap == nil {
		return nil, nil
	}
	limit := *dailyCap
	day := DayKey(l.clock())

	var recorded uint64
	err := l.storage.Update(ctx, day, category, func(current uint64) (uint64, bool, error) {
		next, carry := bits.Add64(current, amount, 0)
		if carry != 0 || next > limit {
			return 0, false, &CapExceededError{Day: day, Category: category, Current: current, Amount: amount, Cap: limit}
		}
		recorded = next
		return next, true, nil
	})
	if err != nil {
		l.logger.WarnContext(ctx, "spend rejected", "category", category, "day", day, "amount", amount, "error", err)
		return nil, err
	}

	l.logger.DebugContext(ctx, "spend recorded", "category", category, "day", day, "total", recorded)
	return &Entry{Day: day, Category: category, Total: recorded}, nil
}

// Total returns today's recorded total for category.
func (l *Ledger) Total(ctx context.Context, category string) (uint64, error) {
	return l.storage.Get(ctx, DayKey(l.clock()), category)
}

// Day lists every category recorded on day, ordered by category.
func (l *Ledger) Day(ctx context.Context, day string) ([]Entry, error) {
	return l.storage.Day(ctx, day)
}

// Today is the current day key by the ledger's clock.
func (l *Ledger) Today() string {
	return DayKey(l.clock())
}

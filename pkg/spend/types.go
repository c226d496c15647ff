// Package spend tracks cumulative per-day spend by category and enforces daily
// caps with an atomic check-and-record.
//
// Attempted spend is consumed capacity: a recorded amount is never released,
// even if the action it was recorded for later fails.
package spend

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
)

// ReasonDailyCapExceeded is the policy reason code for a cap violation.
const ReasonDailyCapExceeded = "daily_cap_exceeded"

// Entry is the recorded total of one category on one UTC day.
type Entry struct {
	Day      string `json:"day"`
	Category string `json:"category"`
	Total    uint64 `json:"total,string"`
}

// CapExceededError reports a rejected check-and-record. Nothing was written.
type CapExceededError struct {
	Day      string
	Category string
	Current  uint64
	Amount   uint64
	Cap      uint64
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("%s: category=%s day=%s spent=%d amount=%d max=%d",
		ReasonDailyCapExceeded, e.Category, e.Day, e.Current, e.Amount, e.Cap)
}

// Unwrap classifies the error as a policy violation.
func (e *CapExceededError) Unwrap() error {
	return &acterr.Error{Kind: acterr.KindPolicy, Code: ReasonDailyCapExceeded, Op: "spend.CheckAndRecord"}
}

// UpdateFunc receives the current total and returns the total to persist.
// Returning write=false, or an error, leaves storage untouched.
type UpdateFunc func(current uint64) (next uint64, write bool, err error)

// Storage persists totals. Update must run fn under write exclusivity for the
// whole read-compare-write so concurrent callers cannot both pass a cap check
// against the same stale total.
type Storage interface {
	Update(ctx context.Context, day, category string, fn UpdateFunc) error
	Get(ctx context.Context, day, category string) (uint64, error)
	Day(ctx context.Context, day string) ([]Entry, error)
}

// DayKey is the UTC calendar day of t, e.g. "2026-03-01".
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

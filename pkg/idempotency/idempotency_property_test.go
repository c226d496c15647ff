//go:build property
// +build property

package idempotency_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/actsafe/pkg/idempotency"
)

// TestDeriveRaw_KeyOrderStability checks that inserting the same pairs in any
// order yields the same id.
func TestDeriveRaw_KeyOrderStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("id is stable under key permutation", prop.ForAll(
		func(keys []string, values []string, shift int) bool {
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			if n == 0 {
				return true
			}

			forward := make(map[string]any, n)
			for i := 0; i < n; i++ {
				forward[keys[i]] = values[i]
			}

			// Same pairs, rotated insertion order.
			rotated := make(map[string]any, n)
			for i := 0; i < n; i++ {
				j := (i + shift) % n
				if _, seen := rotated[keys[j]]; !seen {
					rotated[keys[j]] = forward[keys[j]]
				}
			}

			a, errA := idempotency.DeriveRaw("sol_transfer", map[string]any{"outer": forward, "n": n})
			b, errB := idempotency.DeriveRaw("sol_transfer", map[string]any{"n": n, "outer": rotated})
			if errA != nil || errB != nil {
				return errA != nil && errB != nil
			}
			return a == b
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 64),
	))

	properties.Property("derivation is deterministic", prop.ForAll(
		func(from, to string, lamports uint64) bool {
			params := map[string]any{"from": from, "to": to, "lamports": lamports}
			a, err1 := idempotency.DeriveRaw("sol_transfer", params)
			b, err2 := idempotency.DeriveRaw("sol_transfer", params)
			return err1 == nil && err2 == nil && a == b && len(a) == idempotency.Length
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

package policy

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIAmount_BaseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     uint64
	}{
		{"1", 9, 1_000_000_000},
		{"0.5", 9, 500_000_000},
		{"0.1", 9, 100_000_000},
		{"1.0000000019", 9, 1_000_000_001}, // floored
		{"2.5", 6, 2_500_000},
		{"3", 0, 3},
		{"0.9", 0, 0},
		{"1e30", 9, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := ParseUIAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.BaseUnits(tt.decimals))
		})
	}
}

func TestUIAmount_Rejects(t *testing.T) {
	for _, in := range []string{"", "-1", "abc", "1/3", "0x10", "1.", ".5"} {
		_, err := ParseUIAmount(in)
		assert.Error(t, err, in)
	}
}

func TestUIAmount_JSON(t *testing.T) {
	var v struct {
		A UIAmount `json:"a"`
		B UIAmount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":0.25,"b":"1.50"}`), &v))
	assert.Equal(t, "0.25", v.A.String())
	assert.Equal(t, "1.5", v.B.String())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"0.25","b":"1.5"}`, string(out))
}

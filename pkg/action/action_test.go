package action

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
)

func TestDecode_SOLTransfer(t *testing.T) {
	raw := json.RawMessage(`{"from":"A","to":"B","lamports":"18446744073709551615","cluster":"devnet"}`)

	p, err := Decode(KindSOLTransfer, raw)
	require.NoError(t, err)

	sol, ok := p.(SOLTransfer)
	require.True(t, ok)
	assert.Equal(t, uint64(18446744073709551615), sol.Lamports)
	assert.Equal(t, CategorySOL, p.SpendCategory())
	assert.Equal(t, "A", p.Source())
	assert.Equal(t, "B", p.Destination())
}

func TestDecode_SPLTransfer(t *testing.T) {
	raw := json.RawMessage(`{"from":"A","to":"B","mint":"M","amountBaseUnits":"2500000","decimals":6,"cluster":"devnet"}`)

	p, err := Decode(KindSPLTransfer, raw)
	require.NoError(t, err)
	assert.Equal(t, KindSPLTransfer, p.Kind())
	assert.Equal(t, uint64(2500000), p.Amount())
	assert.Equal(t, "spl:M", p.SpendCategory())
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		raw  string
		code string
	}{
		{"unknown kind", Kind("swap"), `{}`, "unknown_kind"},
		{"unknown field", KindSOLTransfer, `{"from":"A","to":"B","lamports":"1","cluster":"c","memo":"x"}`, "invalid_params"},
		{"numeric lamports", KindSOLTransfer, `{"from":"A","to":"B","lamports":1,"cluster":"c"}`, "invalid_params"},
		{"zero amount", KindSOLTransfer, `{"from":"A","to":"B","lamports":"0","cluster":"c"}`, "invalid_input"},
		{"missing mint", KindSPLTransfer, `{"from":"A","to":"B","amountBaseUnits":"1","decimals":6,"cluster":"c"}`, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.kind, json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, acterr.ErrValidation))
			assert.Equal(t, tt.code, acterr.CodeOf(err))
		})
	}
}

func TestParams_MarshalAmountsAsStrings(t *testing.T) {
	b, err := json.Marshal(SOLTransfer{From: "A", To: "B", Lamports: 42, Cluster: "c"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"A","to":"B","lamports":"42","cluster":"c"}`, string(b))
}

func TestKind_Valid(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.Valid())
	}
	assert.False(t, Kind("").Valid())
}

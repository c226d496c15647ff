package envelope

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
	"github.com/Mindburn-Labs/actsafe/pkg/idempotency"
	"github.com/Mindburn-Labs/actsafe/pkg/receipts"
)

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testReceipt(t *testing.T, status receipts.Status) *receipts.Receipt {
	t.Helper()
	p := action.SOLTransfer{From: "Alice", To: "Bob", Lamports: 5, Cluster: "devnet"}
	id, err := idempotency.Derive(p)
	require.NoError(t, err)
	return &receipts.Receipt{
		RequestID: id,
		Status:    status,
		Kind:      p.Kind(),
		Params:    p,
		CreatedAt: ts,
		UpdatedAt: ts.Add(time.Minute),
	}
}

func withCommit(r *receipts.Receipt, sig string, finality *receipts.Finality) *receipts.Receipt {
	slot := uint64(42)
	r.Commit = &receipts.Commit{Signature: &sig, Slot: &slot, Finality: finality}
	return r
}

func TestFinality(t *testing.T) {
	finalized := receipts.FinalityFinalized
	confirmed := receipts.FinalityConfirmed

	tests := []struct {
		name string
		r    *receipts.Receipt
		want FinalityState
	}{
		{"planned", testReceipt(t, receipts.StatusPlanned), FinalityPlanned},
		{"simulated", testReceipt(t, receipts.StatusSimulated), FinalitySimulated},
		{"submitting without signature", testReceipt(t, receipts.StatusSubmitting), FinalitySubmitting},
		{"submitting with signature", withCommit(testReceipt(t, receipts.StatusSubmitting), "sig", nil), FinalityRecoverOnly},
		{"committed default", withCommit(testReceipt(t, receipts.StatusCommitted), "sig", nil), FinalityConfirmed},
		{"committed confirmed", withCommit(testReceipt(t, receipts.StatusCommitted), "sig", &confirmed), FinalityConfirmed},
		{"committed finalized", withCommit(testReceipt(t, receipts.StatusCommitted), "sig", &finalized), FinalityFinalized},
		{"failed", testReceipt(t, receipts.StatusFailed), FinalityFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Finality(tt.r))
		})
	}
}

func TestFromReceipt_NeverCarriesParams(t *testing.T) {
	r := testReceipt(t, receipts.StatusSimulated)
	pre, post := uint64(100), uint64(95)
	r.Shadow = &receipts.Shadow{PreBalance: &pre, PostBalance: &post, SimulationLogs: []string{"Program log: secret"}}

	env, err := FromReceipt(r, ExportOptions{PolicyVersionHash: strings.Repeat("b", 64)})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "params")
	assert.NotContains(t, string(data), "Alice")
	assert.NotContains(t, string(data), "secret")

	wantIntent, err := canonicalize.CanonicalHash(map[string]any{"kind": "sol_transfer", "params": r.Params})
	require.NoError(t, err)
	assert.Equal(t, wantIntent, *env.IntentHash)

	require.NotNil(t, env.EvidenceHash)
	assert.True(t, canonicalize.IsHexDigest(*env.EvidenceHash))
	assert.Equal(t, strings.Repeat("b", 64), *env.PolicyVersionHash)
	assert.Equal(t, "2026-03-01T12:00:00Z", env.CreatedAt)
	assert.Equal(t, "2026-03-01T12:01:00Z", env.UpdatedAt)
}

func TestFromReceipt_EvidenceHashTracksShadow(t *testing.T) {
	r := testReceipt(t, receipts.StatusSimulated)
	env, err := FromReceipt(r, ExportOptions{})
	require.NoError(t, err)
	assert.Nil(t, env.EvidenceHash)

	r.Shadow = &receipts.Shadow{SimulationLogs: []string{"a"}}
	a, err := FromReceipt(r, ExportOptions{})
	require.NoError(t, err)
	r.Shadow = &receipts.Shadow{SimulationLogs: []string{"b"}}
	b, err := FromReceipt(r, ExportOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, *a.EvidenceHash, *b.EvidenceHash)
	assert.Equal(t, *a.IntentHash, *b.IntentHash)
}

func TestFromReceipt_OptionalFieldsAreExplicitNull(t *testing.T) {
	env, err := FromReceipt(testReceipt(t, receipts.StatusPlanned), ExportOptions{})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	for _, k := range []string{"evidenceHash", "policyVersionHash", "traceHash", "disclosurePolicy", "encryption", "signature", "slot", "reasoningProofHash"} {
		raw, ok := m[k]
		require.True(t, ok, "key %s must be present", k)
		assert.Equal(t, "null", string(raw), k)
	}
}

func TestFromReceipt_CarriesCommitAndDisclosure(t *testing.T) {
	finalized := receipts.FinalityFinalized
	r := withCommit(testReceipt(t, receipts.StatusCommitted), "5sig", &finalized)
	enc := &EncryptionRef{Alg: "age", Recipient: "auditor", CiphertextHash: strings.Repeat("c", 64)}

	env, err := FromReceipt(r, ExportOptions{
		TraceHash:        strings.Repeat("d", 64),
		DisclosurePolicy: DisclosureEncryptedForAuditor,
		Encryption:       enc,
	})
	require.NoError(t, err)
	assert.Equal(t, FinalityFinalized, env.FinalityState)
	assert.Equal(t, "5sig", *env.Signature)
	assert.Equal(t, uint64(42), *env.Slot)
	assert.Equal(t, DisclosureEncryptedForAuditor, *env.DisclosurePolicy)
	assert.Equal(t, enc, env.Encryption)
}

func TestDecode_RoundTrip(t *testing.T) {
	env, err := FromReceipt(withCommit(testReceipt(t, receipts.StatusCommitted), "sig", nil), ExportOptions{})
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env, got)

	d1, err := env.Digest()
	require.NoError(t, err)
	d2, err := got.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"params smuggled in", `{"requestId":"x","kind":"k","finalityState":"planned","createdAt":"t","updatedAt":"t","params":{"to":"B"}}`},
		{"unknown finality", `{"requestId":"x","kind":"k","finalityState":"pending","createdAt":"t","updatedAt":"t"}`},
		{"unknown disclosure", `{"requestId":"x","kind":"k","finalityState":"planned","disclosurePolicy":"leaked","createdAt":"t","updatedAt":"t"}`},
		{"negative slot", `{"requestId":"x","kind":"k","finalityState":"planned","slot":-1,"createdAt":"t","updatedAt":"t"}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, acterr.ErrValidation))
		})
	}
}

func TestDecode_MissingFieldsAreLeftForTheVerifier(t *testing.T) {
	env, err := Decode([]byte(`{"kind":"transfer"}`))
	require.NoError(t, err)
	assert.Empty(t, env.RequestID)
	assert.Empty(t, env.FinalityState)
}

func TestDecodeAll(t *testing.T) {
	list, err := DecodeAll([]byte(` [{"requestId":"a","kind":"k"},{"requestId":"b","kind":"k"}]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[1].RequestID)

	single, err := DecodeAll([]byte(`{"requestId":"a"}`))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = DecodeAll([]byte(`[{"requestId":"a"},{"params":{}}]`))
	assert.ErrorContains(t, err, "envelope[1]")
}

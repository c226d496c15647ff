package verifier

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/actsafe/pkg/envelope"
)

const stamp = "2026-03-01T12:00:00Z"

func ptr[V any](v V) *V { return &v }

func baseEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		RequestID:     strings.Repeat("a", 64),
		Kind:          "transfer",
		FinalityState: envelope.FinalityFinalized,
		EvidenceHash:  ptr(strings.Repeat("e", 64)),
		CreatedAt:     stamp,
		UpdatedAt:     stamp,
	}
}

func TestVerify_EndToEnd(t *testing.T) {
	opts := Options{RequireFinalizedOrEvidence: true}

	assert.Equal(t, Result{OK: true}, Verify(baseEnvelope(), opts))

	provisional := baseEnvelope()
	provisional.FinalityState = envelope.FinalityConfirmed
	provisional.EvidenceHash = nil
	assert.Equal(t, Result{Reason: "not_finalized_or_evidenced"}, Verify(provisional, opts))

	signedPlanned := baseEnvelope()
	signedPlanned.Signature = ptr("5sig")
	signedPlanned.FinalityState = envelope.FinalityPlanned
	assert.Equal(t, Result{Reason: "sig_with_planned_state"}, Verify(signedPlanned, opts))
}

func TestVerify_Reasons(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *envelope.Envelope)
		opts   Options
		reason string
	}{
		{"valid", func(e *envelope.Envelope) {}, Options{}, ""},
		{"short request id", func(e *envelope.Envelope) { e.RequestID = "abc" }, Options{}, ReasonMissingRequestID},
		{"fifteen chars", func(e *envelope.Envelope) { e.RequestID = strings.Repeat("a", 15) }, Options{}, ReasonMissingRequestID},
		{"sixteen chars", func(e *envelope.Envelope) { e.RequestID = strings.Repeat("a", 16) }, Options{}, ""},
		{"missing kind", func(e *envelope.Envelope) { e.Kind = "" }, Options{}, ReasonMissingKind},
		{"missing finality", func(e *envelope.Envelope) { e.FinalityState = "" }, Options{}, ReasonMissingFinalityState},
		{"missing createdAt", func(e *envelope.Envelope) { e.CreatedAt = "" }, Options{}, ReasonMissingTimestamps},
		{"missing updatedAt", func(e *envelope.Envelope) { e.UpdatedAt = "" }, Options{}, ReasonMissingTimestamps},
		{"evidence required", func(e *envelope.Envelope) { e.EvidenceHash = nil }, Options{RequireEvidenceHash: true}, ReasonMissingEvidenceHash},
		{"empty evidence counts as missing", func(e *envelope.Envelope) { e.EvidenceHash = ptr("") }, Options{RequireEvidenceHash: true}, ReasonMissingEvidenceHash},
		{"policy hash required", func(e *envelope.Envelope) {}, Options{RequirePolicyVersionHash: true}, ReasonMissingPolicyVersionHash},
		{"finalized without evidence", func(e *envelope.Envelope) { e.EvidenceHash = nil }, Options{RequireFinalizedOrEvidence: true}, ""},
		{"uppercase trace hash", func(e *envelope.Envelope) { e.TraceHash = ptr(strings.Repeat("A", 64)) }, Options{}, ReasonBadTraceHash},
		{"short trace hash", func(e *envelope.Envelope) { e.TraceHash = ptr("abc") }, Options{}, ReasonBadTraceHash},
		{"good trace hash", func(e *envelope.Envelope) { e.TraceHash = ptr(strings.Repeat("0", 64)) }, Options{}, ""},
		{"encrypted without ref", func(e *envelope.Envelope) {
			e.DisclosurePolicy = ptr(envelope.DisclosureEncryptedForAuditor)
		}, Options{RequirePrivacyCoherence: true}, ReasonMissingEncryptionRef},
		{"encrypted without ref unchecked", func(e *envelope.Envelope) {
			e.DisclosurePolicy = ptr(envelope.DisclosureEncryptedForAuditor)
		}, Options{}, ""},
		{"encrypted with partial ref", func(e *envelope.Envelope) {
			e.DisclosurePolicy = ptr(envelope.DisclosureEncryptedForAuditor)
			e.Encryption = &envelope.EncryptionRef{Alg: "age", CiphertextHash: strings.Repeat("c", 64)}
		}, Options{RequirePrivacyCoherence: true}, ReasonMissingEncryptionRef},
		{"encrypted with bad ciphertext hash", func(e *envelope.Envelope) {
			e.DisclosurePolicy = ptr(envelope.DisclosureEncryptedForAuditor)
			e.Encryption = &envelope.EncryptionRef{Alg: "age", Recipient: "auditor", CiphertextHash: "zz"}
		}, Options{RequirePrivacyCoherence: true}, ReasonBadCiphertextHash},
		{"public minimal needs no ref", func(e *envelope.Envelope) {
			e.DisclosurePolicy = ptr(envelope.DisclosurePublicMinimal)
		}, Options{RequirePrivacyCoherence: true}, ""},
		{"signature on simulated", func(e *envelope.Envelope) {
			e.Signature = ptr("sig")
			e.FinalityState = envelope.FinalitySimulated
		}, Options{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnvelope()
			tt.mutate(env)
			res := Verify(env, tt.opts)
			assert.Equal(t, tt.reason == "", res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestVerify_CheckOrder(t *testing.T) {
	// Optional checks run before the trace hash and signature checks.
	env := baseEnvelope()
	env.EvidenceHash = nil
	env.FinalityState = envelope.FinalityPlanned
	env.Signature = ptr("sig")
	env.TraceHash = ptr("bad")

	assert.Equal(t, ReasonMissingEvidenceHash, Verify(env, Options{RequireEvidenceHash: true}).Reason)
	assert.Equal(t, ReasonNotFinalizedOrEvidenced, Verify(env, Options{RequireFinalizedOrEvidence: true}).Reason)
	assert.Equal(t, ReasonBadTraceHash, Verify(env, Options{}).Reason)

	env.TraceHash = nil
	assert.Equal(t, ReasonSigWithPlannedState, Verify(env, Options{}).Reason)

	assert.Equal(t, ReasonMissingRequestID, Verify(nil, Strict()).Reason)
}

func TestVerifyDisclosure(t *testing.T) {
	trace := []byte(`{"redacted":true}`)
	sum := sha256.Sum256(trace)
	env := baseEnvelope()
	env.TraceHash = ptr(hex.EncodeToString(sum[:]))

	assert.True(t, VerifyDisclosure(env, Disclosure{Trace: trace}).OK)
	assert.Equal(t, ReasonTraceHashMismatch, VerifyDisclosure(env, Disclosure{Trace: []byte("other")}).Reason)
	assert.Equal(t, ReasonCiphertextHashMismatch, VerifyDisclosure(env, Disclosure{Ciphertext: []byte("x")}).Reason)
	assert.True(t, VerifyDisclosure(env, Disclosure{}).OK)
}

func TestVerifyAll(t *testing.T) {
	bad := baseEnvelope()
	bad.Kind = ""

	report := VerifyAll([]*envelope.Envelope{baseEnvelope(), bad}, Options{})
	require.Len(t, report.Checks, 2)
	assert.False(t, report.Verified)
	assert.Equal(t, 1, report.IssueCount)
	assert.True(t, report.Checks[0].Pass)
	assert.Equal(t, ReasonMissingKind, report.Checks[1].Reason)
	assert.Equal(t, strings.Repeat("a", 64), report.Checks[1].RequestID)
	assert.Equal(t, "FAIL: 1/2 envelopes failed", report.Summary)
	assert.Equal(t, VerifierVersion, report.VerifierVer)

	ok := VerifyAll([]*envelope.Envelope{baseEnvelope()}, Options{})
	assert.True(t, ok.Verified)
	assert.Equal(t, "PASS: 1/1 envelopes passed", ok.Summary)
}

func TestVerify_ExportedEnvelopeRoundTrip(t *testing.T) {
	data := []byte(`{"requestId":"` + strings.Repeat("a", 64) + `","kind":"transfer","finalityState":"finalized",` +
		`"evidenceHash":"` + strings.Repeat("e", 64) + `","createdAt":"` + stamp + `","updatedAt":"` + stamp + `"}`)
	env, err := envelope.Decode(data)
	require.NoError(t, err)
	assert.True(t, Verify(env, Options{RequireFinalizedOrEvidence: true, RequireEvidenceHash: true}).OK)
}

// Package verifier decides whether a Receipt Envelope can be relied on.
//
// This package is intentionally minimal with ZERO storage, network or
// collaborator dependencies. It is a closed-world judgment over the envelope's
// own fields, so it can run anywhere, by anyone, with only the envelope in hand.
//
// Trust model: the verifier trusts only SHA-256 and the envelope format. It
// does NOT trust the producer's receipt store or the ledger it reports on.
package verifier

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/Mindburn-Labs/actsafe/pkg/envelope"
)

const VerifierVersion = "1.0.0"

// MinRequestIDLength is a sanity floor against obviously malformed ids.
const MinRequestIDLength = 16

// Reason codes. They are stable and meant for machine matching.
const (
	ReasonMissingRequestID         = "missing_requestId"
	ReasonMissingKind              = "missing_kind"
	ReasonMissingFinalityState     = "missing_finalityState"
	ReasonMissingTimestamps        = "missing_timestamps"
	ReasonMissingEvidenceHash      = "missing_evidenceHash"
	ReasonMissingPolicyVersionHash = "missing_policyVersionHash"
	ReasonNotFinalizedOrEvidenced  = "not_finalized_or_evidenced"
	ReasonBadTraceHash             = "bad_traceHash"
	ReasonMissingEncryptionRef     = "missing_encryption_ref"
	ReasonBadCiphertextHash        = "bad_ciphertextHash"
	ReasonSigWithPlannedState      = "sig_with_planned_state"
	ReasonTraceHashMismatch        = "trace_hash_mismatch"
	ReasonCiphertextHashMismatch   = "ciphertext_hash_mismatch"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Options gates the checks a consumer may opt into.
type Options struct {
	RequireEvidenceHash      bool `json:"requireEvidenceHash"`
	RequirePolicyVersionHash bool `json:"requirePolicyVersionHash"`
	// RequireFinalizedOrEvidence treats confirmed as provisional unless an
	// evidence hash backs it. This is the minimum bar for downstream reliance.
	RequireFinalizedOrEvidence bool `json:"requireFinalizedOrEvidence"`
	// RequirePrivacyCoherence demands an encryption reference whenever the
	// envelope claims encrypted disclosure.
	RequirePrivacyCoherence bool `json:"requirePrivacyCoherence"`
}

// Strict enables every optional check.
func Strict() Options {
	return Options{
		RequireEvidenceHash:        true,
		RequirePolicyVersionHash:   true,
		RequireFinalizedOrEvidence: true,
		RequirePrivacyCoherence:    true,
	}
}

// Result is the verdict on one envelope.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func pass() Result { return Result{OK: true} }
func fail(reason string) Result { return Result{Reason: reason} }

// Verify runs the mandatory checks and then those enabled by opts. The first
// failing check decides the reason.
func Verify(env *envelope.Envelope, opts Options) Result {
	if env == nil || len(env.RequestID) < MinRequestIDLength {
		return fail(ReasonMissingRequestID)
	}
	if env.Kind == "" {
		return fail(ReasonMissingKind)
	}
	if env.FinalityState == "" {
		return fail(ReasonMissingFinalityState)
	}
	if env.CreatedAt == "" || env.UpdatedAt == "" {
		return fail(ReasonMissingTimestamps)
	}

	if opts.RequireEvidenceHash && empty(env.EvidenceHash) {
		return fail(ReasonMissingEvidenceHash)
	}
	if opts.RequirePolicyVersionHash && empty(env.PolicyVersionHash) {
		return fail(ReasonMissingPolicyVersionHash)
	}
	if opts.RequireFinalizedOrEvidence &&
		env.FinalityState != envelope.FinalityFinalized && empty(env.EvidenceHash) {
		return fail(ReasonNotFinalizedOrEvidenced)
	}

	if !empty(env.TraceHash) && !hexDigest.MatchString(*env.TraceHash) {
		return fail(ReasonBadTraceHash)
	}

	if opts.RequirePrivacyCoherence && env.DisclosurePolicy != nil &&
		*env.DisclosurePolicy == envelope.DisclosureEncryptedForAuditor {
		e := env.Encryption
		if e == nil || e.Alg == "" || e.Recipient == "" || e.CiphertextHash == "" {
			return fail(ReasonMissingEncryptionRef)
		}
		if !hexDigest.MatchString(e.CiphertextHash) {
			return fail(ReasonBadCiphertextHash)
		}
	}

	if !empty(env.Signature) && env.FinalityState == envelope.FinalityPlanned {
		return fail(ReasonSigWithPlannedState)
	}
	return pass()
}

// Disclosure is off-envelope material revealed to a consumer.
type Disclosure struct {
	Trace      []byte
	Ciphertext []byte
}

// VerifyDisclosure checks revealed material against the hashes the envelope
// committed to. Material that was not revealed is not checked.
func VerifyDisclosure(env *envelope.Envelope, d Disclosure) Result {
	if d.Trace != nil {
		if env.TraceHash == nil || sha256Hex(d.Trace) != *env.TraceHash {
			return fail(ReasonTraceHashMismatch)
		}
	}
	if d.Ciphertext != nil {
		if env.Encryption == nil || sha256Hex(d.Ciphertext) != env.Encryption.CiphertextHash {
			return fail(ReasonCiphertextHashMismatch)
		}
	}
	return pass()
}

// CheckResult is the verdict on one envelope of a batch.
type CheckResult struct {
	Index     int    `json:"index"`
	RequestID string `json:"requestId"`
	Pass      bool   `json:"pass"`
	Reason    string `json:"reason,omitempty"`
}

// Report is the structured output of VerifyAll.
type Report struct {
	Verified    bool          `json:"verified"`
	Checks      []CheckResult `json:"checks"`
	Summary     string        `json:"summary"`
	IssueCount  int           `json:"issueCount"`
	VerifierVer string        `json:"verifierVersion"`
}

// VerifyAll verifies each envelope independently.
func VerifyAll(envs []*envelope.Envelope, opts Options) *Report {
	report := &Report{
		Verified:    true,
		Checks:      make([]CheckResult, 0, len(envs)),
		VerifierVer: VerifierVersion,
	}
	for i, env := range envs {
		res := Verify(env, opts)
		c := CheckResult{Index: i, Pass: res.OK, Reason: res.Reason}
		if env != nil {
			c.RequestID = env.RequestID
		}
		report.Checks = append(report.Checks, c)
		if !res.OK {
			report.IssueCount++
		}
	}

	if report.IssueCount > 0 {
		report.Verified = false
		report.Summary = fmt.Sprintf("FAIL: %d/%d envelopes failed", report.IssueCount, len(envs))
	} else {
		report.Summary = fmt.Sprintf("PASS: %d/%d envelopes passed", len(envs), len(envs))
	}
	return report
}

func empty(s *string) bool { return s == nil || *s == "" }

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

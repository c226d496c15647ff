// Package envelope defines the Receipt Envelope: the minimal, redacted,
// hash-committing record of a receipt that is handed to third parties.
//
// An envelope never carries params or simulation logs. Off-envelope material
// (intent, evidence, policy, redacted trace) is referenced by SHA-256 hex only,
// so a holder can later disclose it selectively and anyone can check it
// against the envelope. Optional fields are always present on the wire, as
// null when unset.
package envelope

import (
	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
)

// FinalityState is the external-ledger-facing state of an action.
type FinalityState string

const (
	FinalityPlanned     FinalityState = "planned"
	FinalitySimulated   FinalityState = "simulated"
	FinalitySubmitting  FinalityState = "submitting"
	FinalityConfirmed   FinalityState = "confirmed"
	FinalityFinalized   FinalityState = "finalized"
	FinalityFailed      FinalityState = "failed"
	FinalityRecoverOnly FinalityState = "recover_only"
)

// DisclosurePolicy states how off-envelope material is shared.
type DisclosurePolicy string

const (
	DisclosurePublicMinimal          DisclosurePolicy = "public_minimal"
	DisclosureSharedWithCounterparty DisclosurePolicy = "shared_with_counterparty"
	DisclosureEncryptedForAuditor    DisclosurePolicy = "encrypted_for_auditor"
)

// EncryptionRef points at an encrypted disclosure blob.
type EncryptionRef struct {
	Alg            string `json:"alg"`            // e.g. age, x25519-xsalsa20-poly1305, pgp
	Recipient      string `json:"recipient"`      // key id, pubkey or label
	CiphertextHash string `json:"ciphertextHash"` // SHA-256 hex of the ciphertext
}

// Envelope is the exported wire artifact.
type Envelope struct {
	RequestID         string            `json:"requestId"`
	Kind              string            `json:"kind"`
	IntentHash        *string           `json:"intentHash"`
	EvidenceHash      *string           `json:"evidenceHash"`
	PolicyVersionHash *string           `json:"policyVersionHash"`
	TraceHash         *string           `json:"traceHash"`
	DisclosurePolicy  *DisclosurePolicy `json:"disclosurePolicy"`
	Encryption        *EncryptionRef    `json:"encryption"`
	FinalityState     FinalityState     `json:"finalityState"`
	Signature         *string           `json:"signature"`
	Slot              *uint64           `json:"slot"`
	CreatedAt         string            `json:"createdAt"`
	UpdatedAt         string            `json:"updatedAt"`

	// ReasoningProofHash links an external proof-of-reasoning artifact.
	ReasoningProofHash *string `json:"reasoningProofHash"`
}

// Digest is the canonical hash of the envelope.
func (e *Envelope) Digest() (string, error) {
	return canonicalize.CanonicalHash(e)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

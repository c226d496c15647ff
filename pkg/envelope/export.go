package envelope

import (
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
	"github.com/Mindburn-Labs/actsafe/pkg/idempotency"
	"github.com/Mindburn-Labs/actsafe/pkg/receipts"
)

// ExportOptions carries the references that live outside the receipt.
type ExportOptions struct {
	PolicyVersionHash  string
	TraceHash          string
	DisclosurePolicy   DisclosurePolicy
	Encryption         *EncryptionRef
	ReasoningProofHash string
}

// Finality maps a stored receipt onto the envelope's finality state. A
// submitting receipt that already has a signature was broadcast but its outcome
// was never recorded, so it can only be recovered, not resumed.
func Finality(r *receipts.Receipt) FinalityState {
	switch r.Status {
	case receipts.StatusPlanned:
		return FinalityPlanned
	case receipts.StatusSimulated:
		return FinalitySimulated
	case receipts.StatusSubmitting:
		if r.Signature() != "" {
			return FinalityRecoverOnly
		}
		return FinalitySubmitting
	case receipts.StatusCommitted:
		if r.Commit != nil && r.Commit.Finality != nil && *r.Commit.Finality == receipts.FinalityFinalized {
			return FinalityFinalized
		}
		return FinalityConfirmed
	case receipts.StatusFailed:
		return FinalityFailed
	}
	return ""
}

// IntentHash commits to what was asked for.
func IntentHash(kind action.Kind, p action.Params) (string, error) {
	return canonicalize.CanonicalHash(map[string]any{"kind": kind, "params": p})
}

// EvidenceDocument is the off-envelope material evidenceHash commits to.
// Storing it with evidence.PutCanonical yields a digest equal to the hash.
func EvidenceDocument(id idempotency.RequestID, kind action.Kind, p action.Params, shadow *receipts.Shadow) map[string]any {
	return map[string]any{
		"requestId": id,
		"kind":      kind,
		"params":    p,
		"shadow":    shadow,
	}
}

// EvidenceHash commits to the simulation evidence a receipt was approved on.
func EvidenceHash(id idempotency.RequestID, kind action.Kind, p action.Params, shadow *receipts.Shadow) (string, error) {
	return canonicalize.CanonicalHash(EvidenceDocument(id, kind, p, shadow))
}

// FromReceipt builds the envelope for r. Params and simulation logs stay
// behind; only their hashes leave.
func FromReceipt(r *receipts.Receipt, opts ExportOptions) (*Envelope, error) {
	const op = "envelope.FromReceipt"
	if r == nil || r.Params == nil {
		return nil, acterr.Validation(op, "receipt with params is required")
	}

	intent, err := IntentHash(r.Kind, r.Params)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		RequestID:          string(r.RequestID),
		Kind:               string(r.Kind),
		IntentHash:         &intent,
		PolicyVersionHash:  strPtr(opts.PolicyVersionHash),
		TraceHash:          strPtr(opts.TraceHash),
		Encryption:         opts.Encryption,
		FinalityState:      Finality(r),
		CreatedAt:          r.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:          r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		ReasoningProofHash: strPtr(opts.ReasoningProofHash),
	}
	if env.FinalityState == "" {
		return nil, acterr.Validation(op, "unknown status %q", r.Status)
	}
	if opts.DisclosurePolicy != "" {
		dp := opts.DisclosurePolicy
		env.DisclosurePolicy = &dp
	}
	if r.Shadow != nil {
		evidence, err := EvidenceHash(r.RequestID, r.Kind, r.Params, r.Shadow)
		if err != nil {
			return nil, err
		}
		env.EvidenceHash = &evidence
	}
	if r.Commit != nil {
		env.Signature = strPtr(r.Signature())
		if r.Commit.Slot != nil {
			slot := *r.Commit.Slot
			env.Slot = &slot
		}
	}
	return env, nil
}

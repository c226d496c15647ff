package executor

import (
	"context"

	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/receipts"
)

// Chain is the narrow interface to the external ledger. Implementations own
// transaction encoding, key handling, RPC and confirmation polling; the
// executor only calls them and persists what they report.
type Chain interface {
	// BuildAction constructs the unsigned transaction for p.
	BuildAction(ctx context.Context, p action.Params, opts BuildOptions) (*UnsignedAction, error)
	Simulate(ctx context.Context, tx *UnsignedAction) (*SimulationResult, error)
	Sign(ctx context.Context, tx *UnsignedAction, signer Signer) (*SignedAction, error)
	Broadcast(ctx context.Context, tx *SignedAction) (*Handle, error)
	Confirm(ctx context.Context, h *Handle) (*Confirmation, error)
	// ReadResourceState returns the balance identity holds in the spend
	// category ("sol" or "spl:<mint>").
	ReadResourceState(ctx context.Context, identity, category string) (uint64, error)
}

// Signer is the key material a Chain signs with. The executor only compares
// its identity with the action's source.
type Signer interface {
	Identity() string
}

// BuildOptions tunes transaction construction.
type BuildOptions struct {
	// Memo is attached verbatim when non-empty.
	Memo string
}

// UnsignedAction is an opaque built transaction.
type UnsignedAction struct {
	Kind    action.Kind
	Params  action.Params
	Memo    string
	Payload []byte
}

// SignedAction is a signed transaction ready for broadcast.
type SignedAction struct {
	Signature string
	Payload   []byte
}

// SimulationResult is the outcome of a shadow run.
type SimulationResult struct {
	OK   bool
	Err  *receipts.ErrorDetail
	Logs []string
	Slot *uint64
}

// Handle identifies a broadcast transaction.
type Handle struct {
	Signature string
}

// Confirmation is the outcome of waiting on a Handle. Err is set when the
// ledger accepted the transaction but its execution failed.
type Confirmation struct {
	Slot     *uint64
	Finality receipts.Finality
	Err      *receipts.ErrorDetail
}

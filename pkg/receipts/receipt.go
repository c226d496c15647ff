// Package receipts persists Action Receipts in a tamper-evident hash chain.
//
// Every save appends the full record to a chain log whose entries link through
// prevReceiptHash, and rewrites the current record for its requestId. A record
// whose stored receiptHash does not match its recomputed canonical hash is
// rejected on read.
package receipts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
	"github.com/Mindburn-Labs/actsafe/pkg/idempotency"
)

// Status is the storage-side lifecycle of a receipt.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusSimulated  Status = "simulated"
	StatusSubmitting Status = "submitting"
	StatusCommitted  Status = "committed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusSimulated, StatusSubmitting, StatusCommitted, StatusFailed:
		return true
	}
	return false
}

// Finality is the external ledger's confirmation level.
type Finality string

const (
	FinalityConfirmed Finality = "confirmed"
	FinalityFinalized Finality = "finalized"
)

// ErrorDetail is a structured failure recorded into a receipt.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail"`
}

// Shadow is the evidence of a no-side-effect simulation. Nil pointers are
// "not known" and serialise as null.
type Shadow struct {
	PreBalance     *uint64      `json:"preBalance,string"`
	PostBalance    *uint64      `json:"postBalance,string"`
	SimulationLogs []string     `json:"simulationLogs"`
	Err            *ErrorDetail `json:"err"`
	Slot           *uint64      `json:"slot"`
}

// Commit is the evidence of a broadcast.
type Commit struct {
	Signature *string      `json:"signature"`
	Slot      *uint64      `json:"slot"`
	Finality  *Finality    `json:"finality"`
	Err       *ErrorDetail `json:"err"`
}

// Receipt is the durable record of one attempted action.
type Receipt struct {
	RequestID       idempotency.RequestID `json:"requestId"`
	Status          Status                `json:"status"`
	Kind            action.Kind           `json:"kind"`
	Params          action.Params         `json:"params"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
	Shadow          *Shadow               `json:"shadow"`
	Commit          *Commit               `json:"commit"`
	ReceiptHash     string                `json:"receiptHash"`
	PrevReceiptHash *string               `json:"prevReceiptHash"`
}

type receiptJSON struct {
	RequestID       idempotency.RequestID `json:"requestId"`
	Status          Status                `json:"status"`
	Kind            action.Kind           `json:"kind"`
	Params          json.RawMessage       `json:"params"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
	Shadow          *Shadow               `json:"shadow"`
	Commit          *Commit               `json:"commit"`
	ReceiptHash     string                `json:"receiptHash"`
	PrevReceiptHash *string               `json:"prevReceiptHash"`
}

// UnmarshalJSON resolves params into the typed record for kind. Unknown
// fields are rejected so that nothing outside the hashed shape can ride along.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var raw receiptJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	params, err := action.Decode(raw.Kind, raw.Params)
	if err != nil {
		return err
	}
	*r = Receipt{
		RequestID:       raw.RequestID,
		Status:          raw.Status,
		Kind:            raw.Kind,
		Params:          params,
		CreatedAt:       raw.CreatedAt,
		UpdatedAt:       raw.UpdatedAt,
		Shadow:          raw.Shadow,
		Commit:          raw.Commit,
		ReceiptHash:     raw.ReceiptHash,
		PrevReceiptHash: raw.PrevReceiptHash,
	}
	return nil
}

// Signature returns the broadcast signature, or "".
func (r *Receipt) Signature() string {
	if r.Commit == nil || r.Commit.Signature == nil {
		return ""
	}
	return *r.Commit.Signature
}

// Clone returns a deep copy.
func (r *Receipt) Clone() (*Receipt, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out Receipt
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ComputeHash returns the canonical hash of r with receiptHash removed.
func ComputeHash(r *Receipt) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("receipts: marshal: %w", err)
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return "", fmt.Errorf("receipts: decode: %w", err)
	}
	delete(m, "receiptHash")
	return canonicalize.CanonicalHash(m)
}

// VerifyHash recomputes the hash and compares it with the stored one.
func VerifyHash(r *Receipt) error {
	computed, err := ComputeHash(r)
	if err != nil {
		return err
	}
	if computed != r.ReceiptHash {
		return acterr.New(acterr.KindIntegrity, "receipts.VerifyHash", "receipt_hash_mismatch",
			fmt.Sprintf("requestId=%s stored=%s computed=%s", r.RequestID, r.ReceiptHash, computed))
	}
	return nil
}

// Validate checks the record's own fields.
func (r *Receipt) Validate() error {
	const op = "receipts.Validate"
	if _, err := idempotency.Parse(string(r.RequestID)); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return acterr.Validation(op, "unknown status %q", r.Status)
	}
	if !r.Kind.Valid() {
		return acterr.Validation(op, "unknown kind %q", r.Kind)
	}
	if r.Params == nil {
		return acterr.Validation(op, "params are required")
	}
	if r.Params.Kind() != r.Kind {
		return acterr.Validation(op, "params are %s but kind is %s", r.Params.Kind(), r.Kind)
	}
	if err := r.Params.Validate(); err != nil {
		return err
	}
	id, err := idempotency.Derive(r.Params)
	if err != nil {
		return err
	}
	if id != r.RequestID {
		return acterr.Validation(op, "requestId does not match params (want %s)", id)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		return acterr.Validation(op, "timestamps are required")
	}
	return nil
}

// ErrInvalidTransition is returned when a save would move a receipt along an
// edge the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrConflict is returned by CompareAndSave when the stored receipt changed
// since it was read.
var ErrConflict = errors.New("receipt changed concurrently")

var transitions = map[Status][]Status{
	"":               {StatusPlanned, StatusSimulated},
	StatusPlanned:    {StatusPlanned, StatusSimulated, StatusFailed},
	StatusSimulated:  {StatusSimulated, StatusPlanned, StatusSubmitting, StatusFailed},
	StatusSubmitting: {StatusCommitted, StatusFailed},
}

// CanTransition reports whether from -> to is allowed. from is "" for a
// receipt that has never been saved.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

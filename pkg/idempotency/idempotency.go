// Package idempotency derives the deterministic request identifiers that key
// every action receipt.
//
// An id is SHA-256(kind + ":" + JCS(params)) rendered as 64 lower-case hex
// characters. The same kind and parameters yield the same id in any process,
// at any time, regardless of field order, so a crashed caller can re-derive the
// id and resume instead of duplicating the action.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
)

// Length is the width of a RequestID in hex characters.
const Length = sha256.Size * 2

// RequestID is the idempotency key of one logical action.
type RequestID string

func (id RequestID) String() string { return string(id) }

// Short returns a 12-character prefix for log lines.
func (id RequestID) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}

// Derive computes the request id for typed params.
func Derive(p action.Params) (RequestID, error) {
	if p == nil {
		return "", acterr.Validation("idempotency.Derive", "params are required")
	}
	return DeriveRaw(string(p.Kind()), p)
}

// DeriveRaw computes the request id for an arbitrary kind and JSON-compatible
// params value.
func DeriveRaw(kind string, params any) (RequestID, error) {
	const op = "idempotency.DeriveRaw"
	if kind == "" {
		return "", acterr.Validation(op, "kind is required")
	}
	if strings.Contains(kind, ":") {
		return "", acterr.Validation(op, "kind %q must not contain ':'", kind)
	}

	canonical, err := canonicalize.JCS(params)
	if err != nil {
		return "", acterr.Wrap(acterr.KindValidation, op, "uncanonicalizable_params", err)
	}

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{':'})
	h.Write(canonical)
	return RequestID(hex.EncodeToString(h.Sum(nil))), nil
}

// Parse validates an operator-supplied id.
func Parse(s string) (RequestID, error) {
	s = strings.TrimSpace(s)
	if !canonicalize.IsHexDigest(s) {
		return "", acterr.New(acterr.KindValidation, "idempotency.Parse", "malformed_request_id",
			"expected 64 lower-case hex characters")
	}
	return RequestID(s), nil
}

// Package action defines the closed set of action kinds actsafe can drive and
// their strongly-typed parameter records.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
)

// Kind tags an action type. Each kind owns exactly one Params implementation.
type Kind string

const (
	KindSOLTransfer Kind = "sol_transfer"
	KindSPLTransfer Kind = "spl_transfer"
)

// CategorySOL is the spend category for native transfers.
const CategorySOL = "sol"

// Kinds lists every supported kind.
func Kinds() []Kind { return []Kind{KindSOLTransfer, KindSPLTransfer} }

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSOLTransfer, KindSPLTransfer:
		return true
	}
	return false
}

// Params is the sum type over per-kind parameter records. The unexported
// method closes the set to this package.
type Params interface {
	Kind() Kind
	// Source is the identity that must sign and fund the action.
	Source() string
	// Destination is the receiving identity.
	Destination() string
	// Amount is the transferred quantity in base units.
	Amount() uint64
	// SpendCategory keys the daily spend accumulator.
	SpendCategory() string
	Validate() error

	sealed()
}

// SOLTransfer moves native lamports.
type SOLTransfer struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Lamports uint64 `json:"lamports,string"`
	Cluster  string `json:"cluster"`
}

func (SOLTransfer) Kind() Kind { return KindSOLTransfer }
func (p SOLTransfer) Source() string { return p.From }
func (p SOLTransfer) Destination() string { return p.To }
func (p SOLTransfer) Amount() uint64 { return p.Lamports }
func (SOLTransfer) SpendCategory() string { return CategorySOL }
func (SOLTransfer) sealed() {}

func (p SOLTransfer) Validate() error {
	const op = "action.SOLTransfer"
	switch {
	case p.From == "":
		return acterr.Validation(op, "from is required")
	case p.To == "":
		return acterr.Validation(op, "to is required")
	case p.Lamports == 0:
		return acterr.Validation(op, "lamports must be positive")
	case p.Cluster == "":
		return acterr.Validation(op, "cluster is required")
	}
	return nil
}

// SPLTransfer moves a fungible token identified by its mint.
type SPLTransfer struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Mint            string `json:"mint"`
	AmountBaseUnits uint64 `json:"amountBaseUnits,string"`
	Decimals        uint8  `json:"decimals"`
	Cluster         string `json:"cluster"`
}

func (SPLTransfer) Kind() Kind { return KindSPLTransfer }
func (p SPLTransfer) Source() string { return p.From }
func (p SPLTransfer) Destination() string { return p.To }
func (p SPLTransfer) Amount() uint64 { return p.AmountBaseUnits }
func (p SPLTransfer) SpendCategory() string { return SPLCategory(p.Mint) }
func (SPLTransfer) sealed() {}

func (p SPLTransfer) Validate() error {
	const op = "action.SPLTransfer"
	switch {
	case p.From == "":
		return acterr.Validation(op, "from is required")
	case p.To == "":
		return acterr.Validation(op, "to is required")
	case p.Mint == "":
		return acterr.Validation(op, "mint is required")
	case p.AmountBaseUnits == 0:
		return acterr.Validation(op, "amountBaseUnits must be positive")
	case p.Cluster == "":
		return acterr.Validation(op, "cluster is required")
	}
	return nil
}

// SPLCategory returns the spend category for a token mint.
func SPLCategory(mint string) string { return "spl:" + mint }

// Decode parses raw JSON params for the given kind. Unknown fields are rejected.
func Decode(kind Kind, raw json.RawMessage) (Params, error) {
	const op = "action.Decode"

	var p Params
	switch kind {
	case KindSOLTransfer:
		var v SOLTransfer
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_params", err)
		}
		p = v
	case KindSPLTransfer:
		var v SPLTransfer
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_params", err)
		}
		p = v
	default:
		return nil, acterr.New(acterr.KindValidation, op, "unknown_kind", fmt.Sprintf("kind %q", kind))
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

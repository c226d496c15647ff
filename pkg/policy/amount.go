package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SOLDecimals is the base-unit scale of native SOL amounts.
const SOLDecimals = 9

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// UIAmount is an exact, non-negative decimal amount in display units (for
// example 1.5 SOL). It accepts a JSON number or a decimal string and always
// marshals as a decimal string so that policy hashes are stable.
type UIAmount struct {
	r big.Rat
}

// ParseUIAmount parses a non-negative decimal such as "0.25" or "10".
func ParseUIAmount(s string) (UIAmount, error) {
	var u UIAmount
	s = strings.TrimSpace(s)
	if !decimalPattern.MatchString(s) {
		return u, fmt.Errorf("invalid amount %q: want a non-negative decimal", s)
	}
	if _, ok := u.r.SetString(s); !ok {
		return u, fmt.Errorf("invalid amount %q", s)
	}
	return u, nil
}

// MustUIAmount is ParseUIAmount for literals known to be valid.
func MustUIAmount(s string) UIAmount {
	u, err := ParseUIAmount(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BaseUnits converts to base units at the given decimals, flooring any
// sub-unit remainder. Values beyond uint64 saturate.
func (u UIAmount) BaseUnits(decimals uint8) uint64 {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(&u.r, new(big.Rat).SetInt(scale))
	floor := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if !floor.IsUint64() {
		return math.MaxUint64
	}
	return floor.Uint64()
}

// String renders the shortest exact decimal form.
func (u UIAmount) String() string {
	if u.r.IsInt() {
		return u.r.Num().String()
	}
	// Decimal input always has a terminating expansion.
	for prec := 1; prec <= 80; prec++ {
		s := u.r.FloatString(prec)
		var back big.Rat
		if _, ok := back.SetString(s); ok && back.Cmp(&u.r) == 0 {
			return s
		}
	}
	return u.r.RatString()
}

func (u UIAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *UIAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	v, err := ParseUIAmount(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

func (u UIAmount) MarshalYAML() (interface{}, error) {
	return u.String(), nil
}

func (u *UIAmount) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseUIAmount(node.Value)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

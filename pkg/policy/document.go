// Package policy evaluates operator policy documents against proposed actions.
//
// A policy is purely restrictive. Every absent constraint leaves its dimension
// unconstrained, so an empty document allows everything.
package policy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
)

// Document is the declarative policy an operator supplies.
type Document struct {
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// AllowlistTo restricts destinations when non-empty (exact match).
	AllowlistTo []string `json:"allowlistTo,omitempty" yaml:"allowlistTo,omitempty"`
	// AllowlistMints restricts SPL mints when non-empty.
	AllowlistMints []string `json:"allowlistMints,omitempty" yaml:"allowlistMints,omitempty"`

	MaxSolPerTransfer *UIAmount `json:"maxSolPerTransfer,omitempty" yaml:"maxSolPerTransfer,omitempty"`
	MaxSolPerDay      *UIAmount `json:"maxSolPerDay,omitempty" yaml:"maxSolPerDay,omitempty"`

	// Keyed by mint.
	MaxUIAmountPerSplMint       map[string]UIAmount `json:"maxUiAmountPerSplMint,omitempty" yaml:"maxUiAmountPerSplMint,omitempty"`
	MaxUIAmountPerSplMintPerDay map[string]UIAmount `json:"maxUiAmountPerSplMintPerDay,omitempty" yaml:"maxUiAmountPerSplMintPerDay,omitempty"`

	RequireSimulationSuccess bool `json:"requireSimulationSuccess,omitempty" yaml:"requireSimulationSuccess,omitempty"`

	// Rules are CEL expressions that must all evaluate to true.
	Rules []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Rule is one CEL guard.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Expression  string `json:"expression" yaml:"expression"`
}

// Validate checks fields the schema cannot express.
func (d *Document) Validate() error {
	if d.Version != "" {
		if _, err := semver.StrictNewVersion(d.Version); err != nil {
			return fmt.Errorf("policy: version %q is not semver: %w", d.Version, err)
		}
	}
	seen := make(map[string]bool, len(d.Rules))
	for _, r := range d.Rules {
		if seen[r.ID] {
			return fmt.Errorf("policy: duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// VersionHash is the canonical hash of the document. Envelopes carry it as
// policyVersionHash.
func (d *Document) VersionHash() (string, error) {
	return canonicalize.CanonicalHash(d)
}

// SemVer returns the parsed version, or nil when the document is unversioned.
func (d *Document) SemVer() *semver.Version {
	if d.Version == "" {
		return nil
	}
	v, err := semver.StrictNewVersion(d.Version)
	if err != nil {
		return nil
	}
	return v
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

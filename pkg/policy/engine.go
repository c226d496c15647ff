package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/spend"
)

// Reason codes carried by *Violation.
const (
	ReasonDestinationNotAllowlisted = "destination_not_allowlisted"
	ReasonAssetNotAllowlisted       = "asset_not_allowlisted"
	ReasonMaxPerActionExceeded      = "max_per_action_exceeded"
	ReasonSimulationFailed          = "simulation_failed"
	ReasonRuleDenied                = "rule_denied"
	ReasonDailyCapExceeded          = spend.ReasonDailyCapExceeded
)

// SimulationOutcome is the part of the shadow run the policy can see.
type SimulationOutcome struct {
	Failed bool
	Detail string
}

// Request is one proposed action.
type Request struct {
	Params action.Params
	// Simulation is nil when no shadow run was recorded.
	Simulation *SimulationOutcome
}

// Decision records an evaluation.
type Decision struct {
	ID                string       `json:"id"`
	Allowed           bool         `json:"allowed"`
	Reason            string       `json:"reason,omitempty"`
	PolicyVersionHash string       `json:"policyVersionHash"`
	EvaluatedAt       time.Time    `json:"evaluatedAt"`
	Spend             *spend.Entry `json:"spend,omitempty"`
}

// Violation is a rejection raised before any irreversible step.
type Violation struct {
	Reason string
	Detail string
	RuleID string
	Err    error
}

func (v *Violation) Error() string {
	msg := "policy violation: " + v.Reason
	if v.Detail != "" {
		msg += ": " + v.Detail
	}
	return msg
}

// Unwrap exposes the policy classification and any underlying cause.
func (v *Violation) Unwrap() []error {
	errs := []error{&acterr.Error{Kind: acterr.KindPolicy, Code: v.Reason, Op: "policy.Evaluate", Detail: v.Detail}}
	if v.Err != nil {
		errs = append(errs, v.Err)
	}
	return errs
}

// Engine evaluates documents. It holds no per-action state; the only durable
// effect of an evaluation is the spend recorded by the final daily-cap check.
type Engine struct {
	ledger *spend.Ledger
	rules  *ruleEvaluator
	clock  func() time.Time
	logger *slog.Logger
}

// NewEngine builds an engine. ledger may be nil only if no document evaluated
// by it configures a daily cap.
func NewEngine(ledger *spend.Ledger) (*Engine, error) {
	return NewEngineWithClock(ledger, time.Now)
}

func NewEngineWithClock(ledger *spend.Ledger, clock func() time.Time) (*Engine, error) {
	rules, err := newRuleEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		ledger: ledger,
		rules:  rules,
		clock:  clock,
		logger: slog.Default().With("component", "policy"),
	}, nil
}

// Compile checks that every rule in doc compiles, warming the program cache.
func (e *Engine) Compile(doc *Document) error {
	for _, r := range doc.Rules {
		if _, err := e.rules.program(r.Expression); err != nil {
			return acterr.Wrap(acterr.KindValidation, "policy.Compile", "invalid_rule", fmt.Errorf("rule %s: %w", r.ID, err))
		}
	}
	return nil
}

// Evaluate runs the checks in a fixed order and stops at the first failure:
// destination allowlist, asset allowlist, per-action maximum, simulation
// success, CEL rules, and finally the daily cap. Only the last touches
// persisted state, so a request rejected earlier never consumes capacity.
//
// A rejection returns the decision together with a *Violation error.
func (e *Engine) Evaluate(ctx context.Context, doc *Document, req Request) (*Decision, error) {
	if doc == nil {
		doc = &Document{}
	}
	if req.Params == nil {
		return nil, acterr.Validation("policy.Evaluate", "params are required")
	}
	hash, err := doc.VersionHash()
	if err != nil {
		return nil, fmt.Errorf("policy: hash document: %w", err)
	}
	dec := &Decision{
		ID:                uuid.New().String(),
		PolicyVersionHash: hash,
		EvaluatedAt:       e.clock().UTC(),
	}

	lim, err := limitsFor(doc, req.Params)
	if err != nil {
		return nil, err
	}

	if v := e.checkStateless(doc, req, lim); v != nil {
		return e.deny(ctx, dec, req, v)
	}

	if lim.daily != nil {
		if e.ledger == nil {
			return nil, fmt.Errorf("policy: daily cap configured for %s but no spend ledger", req.Params.SpendCategory())
		}
		entry, err := e.ledger.CheckAndRecord(ctx, req.Params.SpendCategory(), req.Params.Amount(), lim.daily)
		if err != nil {
			var capErr *spend.CapExceededError
			if errors.As(err, &capErr) {
				return e.deny(ctx, dec, req, &Violation{
					Reason: ReasonDailyCapExceeded,
					Detail: fmt.Sprintf("category=%s spent=%d amount=%d max=%d", capErr.Category, capErr.Current, capErr.Amount, capErr.Cap),
					Err:    err,
				})
			}
			return nil, err
		}
		dec.Spend = entry
	}

	dec.Allowed = true
	return dec, nil
}

func (e *Engine) checkStateless(doc *Document, req Request, lim limits) *Violation {
	p := req.Params

	if len(doc.AllowlistTo) > 0 && !contains(doc.AllowlistTo, p.Destination()) {
		return &Violation{Reason: ReasonDestinationNotAllowlisted, Detail: "to=" + p.Destination()}
	}
	if lim.mint != "" && len(doc.AllowlistMints) > 0 && !contains(doc.AllowlistMints, lim.mint) {
		return &Violation{Reason: ReasonAssetNotAllowlisted, Detail: "mint=" + lim.mint}
	}
	if lim.perAction != nil && p.Amount() > *lim.perAction {
		return &Violation{
			Reason: ReasonMaxPerActionExceeded,
			Detail: fmt.Sprintf("amount=%d max=%d", p.Amount(), *lim.perAction),
		}
	}
	if doc.RequireSimulationSuccess {
		switch {
		case req.Simulation == nil:
			return &Violation{Reason: ReasonSimulationFailed, Detail: "no simulation evidence"}
		case req.Simulation.Failed:
			return &Violation{Reason: ReasonSimulationFailed, Detail: req.Simulation.Detail}
		}
	}
	if len(doc.Rules) > 0 {
		input := map[string]any{
			"action": ruleInput(p, lim),
			"now":    e.clock().UTC(),
		}
		for _, r := range doc.Rules {
			ok, err := e.rules.eval(r.Expression, input)
			if err != nil {
				return &Violation{Reason: ReasonRuleDenied, RuleID: r.ID, Detail: "rule " + r.ID + " failed to evaluate", Err: err}
			}
			if !ok {
				return &Violation{Reason: ReasonRuleDenied, RuleID: r.ID, Detail: "rule " + r.ID}
			}
		}
	}
	return nil
}

func (e *Engine) deny(ctx context.Context, dec *Decision, req Request, v *Violation) (*Decision, error) {
	dec.Allowed = false
	dec.Reason = v.Reason
	e.logger.WarnContext(ctx, "policy denied action",
		"decision_id", dec.ID,
		"kind", req.Params.Kind(),
		"reason", v.Reason,
		"detail", v.Detail,
	)
	return dec, v
}

type limits struct {
	mint      string
	decimals  uint8
	perAction *uint64
	daily     *uint64
}

// limitsFor resolves the document's caps for p into base units.
func limitsFor(doc *Document, p action.Params) (limits, error) {
	switch v := p.(type) {
	case action.SOLTransfer:
		return limits{
			decimals:  SOLDecimals,
			perAction: baseUnits(doc.MaxSolPerTransfer, SOLDecimals),
			daily:     baseUnits(doc.MaxSolPerDay, SOLDecimals),
		}, nil
	case action.SPLTransfer:
		lim := limits{mint: v.Mint, decimals: v.Decimals}
		if amt, ok := doc.MaxUIAmountPerSplMint[v.Mint]; ok {
			lim.perAction = baseUnits(&amt, v.Decimals)
		}
		if amt, ok := doc.MaxUIAmountPerSplMintPerDay[v.Mint]; ok {
			lim.daily = baseUnits(&amt, v.Decimals)
		}
		return lim, nil
	default:
		return limits{}, acterr.New(acterr.KindValidation, "policy.Evaluate", "unknown_kind", fmt.Sprintf("kind %q", p.Kind()))
	}
}

func baseUnits(u *UIAmount, decimals uint8) *uint64 {
	if u == nil {
		return nil
	}
	v := u.BaseUnits(decimals)
	return &v
}

func ruleInput(p action.Params, lim limits) map[string]any {
	in := map[string]any{
		"kind":     string(p.Kind()),
		"from":     p.Source(),
		"to":       p.Destination(),
		"amount":   p.Amount(),
		"category": p.SpendCategory(),
		"mint":     lim.mint,
		"decimals": uint64(lim.decimals),
	}
	switch v := p.(type) {
	case action.SOLTransfer:
		in["cluster"] = v.Cluster
	case action.SPLTransfer:
		in["cluster"] = v.Cluster
	}
	return in
}

// AsViolation extracts a *Violation from err.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

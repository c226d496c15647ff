// Package executor drives an action through plan, simulate and commit,
// persisting every transition into the receipt store before it reports back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/envelope"
	"github.com/Mindburn-Labs/actsafe/pkg/evidence"
	"github.com/Mindburn-Labs/actsafe/pkg/idempotency"
	"github.com/Mindburn-Labs/actsafe/pkg/observability"
	"github.com/Mindburn-Labs/actsafe/pkg/policy"
	"github.com/Mindburn-Labs/actsafe/pkg/receipts"
	"github.com/Mindburn-Labs/actsafe/pkg/replayguard"
)

var (
	// ErrTerminal is returned for a request whose receipt already failed.
	// A failed action is never retried under the same requestId.
	ErrTerminal = errors.New("executor: receipt is terminal")
	// ErrInFlight is returned when a submission was signed but its outcome
	// was never recorded. Such receipts need manual recovery.
	ErrInFlight = errors.New("executor: submission in flight")
)

// DefaultMemoPrefix tags memo evidence attached to committed transactions.
const DefaultMemoPrefix = "shadowcommit"

// Config wires an Executor.
type Config struct {
	Receipts *receipts.Store
	Policy   *policy.Engine
	// Document is the active policy. Nil means the empty, allow-all document.
	Document *policy.Document
	Chain    Chain

	// Replay remembers confirmation signatures. Optional.
	Replay    replayguard.Store
	ReplayTTL time.Duration

	// Evidence receives the shadow evidence each plan commits to. Optional.
	Evidence evidence.Store

	// BroadcastRPS throttles broadcasts. Zero disables throttling.
	BroadcastRPS   float64
	BroadcastBurst int

	AttachMemoEvidence bool
	MemoPrefix         string

	Telemetry *observability.Provider
	Logger    *slog.Logger
}

// Result is the outcome of Plan or Commit.
type Result struct {
	Receipt *receipts.Receipt
	// AlreadyCommitted marks an idempotent no-op on a committed receipt.
	AlreadyCommitted bool
	// Decision is the policy decision a commit was evaluated under.
	Decision *policy.Decision
	// EvidenceDigest is the evidence store key of the plan's shadow
	// evidence. It equals the envelope evidenceHash.
	EvidenceDigest string
}

// Executor orchestrates the ledger components around a Chain.
type Executor struct {
	receipts   *receipts.Store
	policy     *policy.Engine
	doc        *policy.Document
	chain      Chain
	replay     replayguard.Store
	replayTTL  time.Duration
	evidence   evidence.Store
	limiter    *rate.Limiter
	attachMemo bool
	memoPrefix string
	telemetry  *observability.Provider
	logger     *slog.Logger
}

// New validates cfg and builds an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Receipts == nil {
		return nil, errors.New("executor: receipt store is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("executor: policy engine is required")
	}
	if cfg.Chain == nil {
		return nil, errors.New("executor: chain is required")
	}

	doc := cfg.Document
	if doc == nil {
		doc = &policy.Document{}
	}
	if err := cfg.Policy.Compile(doc); err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.BroadcastRPS > 0 {
		burst := cfg.BroadcastBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.BroadcastRPS), burst)
	}

	ttl := cfg.ReplayTTL
	if ttl <= 0 {
		ttl = replayguard.DefaultTTL
	}
	prefix := cfg.MemoPrefix
	if prefix == "" {
		prefix = DefaultMemoPrefix
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = observability.Noop()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		receipts:   cfg.Receipts,
		policy:     cfg.Policy,
		doc:        doc,
		chain:      cfg.Chain,
		replay:     cfg.Replay,
		replayTTL:  ttl,
		evidence:   cfg.Evidence,
		limiter:    limiter,
		attachMemo: cfg.AttachMemoEvidence,
		memoPrefix: prefix,
		telemetry:  telemetry,
		logger:     logger.With("component", "executor"),
	}, nil
}

// Plan shadow-runs p and persists the simulated receipt.
//
// A committed receipt is returned unchanged with AlreadyCommitted set. A
// failed one is returned with ErrTerminal. Planned and simulated receipts are
// re-simulated, keeping their original createdAt.
func (e *Executor) Plan(ctx context.Context, p action.Params) (res *Result, err error) {
	const op = "executor.Plan"
	if p == nil {
		return nil, acterr.Validation(op, "params are required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	id, err := idempotency.Derive(p)
	if err != nil {
		return nil, err
	}

	ctx, done := e.telemetry.TrackOperation(ctx, op, observability.ActionAttrs(id.String(), string(p.Kind()))...)
	defer func() { done(err) }()

	existing, err := e.receipts.Load(ctx, id)
	switch {
	case err == nil:
		if res, err := e.resumable(ctx, op, existing); res != nil || err != nil {
			return res, err
		}
	case errors.Is(err, receipts.ErrNotFound):
	default:
		return nil, err
	}

	r, err := e.receipts.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := e.save(ctx, r); err != nil {
		return nil, err
	}

	pre, err := e.chain.ReadResourceState(ctx, p.Source(), p.SpendCategory())
	if err != nil {
		return &Result{Receipt: r}, acterr.Wrap(acterr.KindExternal, op, "read_state_failed", err)
	}
	tx, err := e.chain.BuildAction(ctx, p, BuildOptions{})
	if err != nil {
		return &Result{Receipt: r}, acterr.Wrap(acterr.KindExternal, op, "build_failed", err)
	}
	sim, err := e.chain.Simulate(ctx, tx)
	if err != nil {
		return &Result{Receipt: r}, acterr.Wrap(acterr.KindExternal, op, "simulate_failed", err)
	}

	r.Status = receipts.StatusSimulated
	r.Shadow = shadowOf(pre, p.Amount(), sim)
	if err := e.save(ctx, r); err != nil {
		return nil, err
	}
	observability.AddSpanEvent(ctx, "simulated", observability.AttrReceiptStatus.String(string(r.Status)))

	res = &Result{Receipt: r}
	if e.evidence != nil {
		art, err := evidence.PutCanonical(ctx, e.evidence, envelope.EvidenceDocument(r.RequestID, r.Kind, r.Params, r.Shadow))
		if err != nil {
			return res, fmt.Errorf("executor: store evidence: %w", err)
		}
		res.EvidenceDigest = art.Digest
	}

	e.logger.InfoContext(ctx, "action planned",
		"request_id", id.Short(),
		"kind", p.Kind(),
		"simulation_ok", r.Shadow.Err == nil,
		"evidence", res.EvidenceDigest,
	)
	return res, nil
}

// resumable short-circuits Plan for receipts that cannot be re-planned.
func (e *Executor) resumable(ctx context.Context, op string, r *receipts.Receipt) (*Result, error) {
	switch r.Status {
	case receipts.StatusCommitted:
		e.logger.InfoContext(ctx, "already committed", "request_id", r.RequestID.Short(), "signature", r.Signature())
		return &Result{Receipt: r, AlreadyCommitted: true}, nil
	case receipts.StatusFailed:
		return &Result{Receipt: r}, acterr.Wrap(acterr.KindPrecondition, op, "receipt_failed", ErrTerminal)
	case receipts.StatusSubmitting:
		return &Result{Receipt: r}, acterr.Wrap(acterr.KindValidation, op, "submission_in_flight", ErrInFlight)
	}
	return nil, nil
}

// Commit evaluates policy and, if allowed, signs, broadcasts and confirms the
// simulated action id. Committing an already committed receipt is a no-op
// that performs no broadcast.
//
// Every failure after the policy decision persists the receipt as failed
// before it is returned.
func (e *Executor) Commit(ctx context.Context, id idempotency.RequestID, signer Signer) (res *Result, err error) {
	const op = "executor.Commit"
	ctx, done := e.telemetry.TrackOperation(ctx, op, observability.AttrRequestID.String(id.String()))
	defer func() { done(err) }()

	r, err := e.receipts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case receipts.StatusCommitted:
		e.logger.InfoContext(ctx, "already committed", "request_id", id.Short(), "signature", r.Signature())
		return &Result{Receipt: r, AlreadyCommitted: true}, nil
	case receipts.StatusFailed:
		return &Result{Receipt: r}, acterr.Wrap(acterr.KindPrecondition, op, "receipt_failed", ErrTerminal)
	case receipts.StatusSimulated:
	default:
		return &Result{Receipt: r}, acterr.New(acterr.KindValidation, op, "not_simulated", "status="+string(r.Status))
	}

	p := r.Params
	if signer == nil || signer.Identity() != p.Source() {
		identity := ""
		if signer != nil {
			identity = signer.Identity()
		}
		return &Result{Receipt: r}, acterr.New(acterr.KindValidation, op, "signer_mismatch",
			fmt.Sprintf("receipt from=%s signer=%s", p.Source(), identity))
	}

	dec, err := e.policy.Evaluate(ctx, e.doc, policy.Request{Params: p, Simulation: simulationOutcome(r.Shadow)})
	if err != nil {
		v, ok := policy.AsViolation(err)
		if !ok {
			return &Result{Receipt: r}, err
		}
		e.telemetry.RecordPolicyViolation(ctx, v.Reason)
		e.logger.WarnContext(ctx, "policy violation", "request_id", id.Short(), "reason", v.Reason, "detail", v.Detail)
		detail := receipts.ErrorDetail{Code: v.Reason, Message: v.Error()}
		if v.RuleID != "" {
			detail.Detail = map[string]string{"rule": v.RuleID}
		}
		return &Result{Receipt: r, Decision: dec}, e.fail(ctx, r, detail, err)
	}
	res = &Result{Receipt: r, Decision: dec}

	pre, err := e.chain.ReadResourceState(ctx, p.Source(), p.SpendCategory())
	if err != nil {
		return res, e.failExternal(ctx, op, r, "read_state_failed", err)
	}
	if pre < p.Amount() {
		detail := receipts.ErrorDetail{
			Code:    "insufficient_balance",
			Message: "balance no longer covers the amount",
			Detail: map[string]string{
				"pre":    strconv.FormatUint(pre, 10),
				"amount": strconv.FormatUint(p.Amount(), 10),
			},
		}
		cause := acterr.New(acterr.KindPrecondition, op, detail.Code,
			fmt.Sprintf("pre=%d amount=%d", pre, p.Amount()))
		return res, e.fail(ctx, r, detail, cause)
	}

	memo, err := e.memo(r)
	if err != nil {
		return res, err
	}
	tx, err := e.chain.BuildAction(ctx, p, BuildOptions{Memo: memo})
	if err != nil {
		return res, e.failExternal(ctx, op, r, "build_failed", err)
	}
	signed, err := e.chain.Sign(ctx, tx, signer)
	if err != nil {
		return res, e.failExternal(ctx, op, r, "sign_failed", err)
	}

	// Claiming the receipt is a compare-and-set on the simulated record, so of
	// two concurrent commits only one reaches the broadcast.
	sig := signed.Signature
	simulatedHash := r.ReceiptHash
	r.Status = receipts.StatusSubmitting
	r.Commit = &receipts.Commit{Signature: &sig}
	if err := e.receipts.CompareAndSave(ctx, r, simulatedHash); err != nil {
		if errors.Is(err, receipts.ErrConflict) {
			e.logger.WarnContext(ctx, "commit lost race", "request_id", id.Short())
		}
		return res, err
	}
	e.telemetry.RecordTransition(ctx, string(r.Kind), string(r.Status))
	observability.SetSpanAttributes(ctx, observability.AttrSignature.String(sig))

	if err := e.limiter.Wait(ctx); err != nil {
		return res, e.failExternal(ctx, op, r, "broadcast_throttled", err)
	}
	h, err := e.chain.Broadcast(ctx, signed)
	if err != nil {
		return res, e.failExternal(ctx, op, r, "broadcast_failed", err)
	}
	// Once broadcast, the outcome is recorded even if the caller goes away.
	durable := context.WithoutCancel(ctx)
	conf, err := e.chain.Confirm(ctx, h)
	if err != nil {
		return res, e.failExternal(ctx, op, r, "confirm_failed", err)
	}
	if conf.Err != nil {
		cause := acterr.New(acterr.KindExternal, op, "transaction_failed", conf.Err.Message)
		r.Commit.Slot = conf.Slot
		return res, e.fail(ctx, r, *conf.Err, cause)
	}

	finality := conf.Finality
	if finality == "" {
		finality = receipts.FinalityConfirmed
	}
	r.Status = receipts.StatusCommitted
	r.Commit = &receipts.Commit{Signature: &sig, Slot: conf.Slot, Finality: &finality}
	if err := e.save(durable, r); err != nil {
		return res, err
	}
	observability.SetSpanAttributes(ctx, observability.AttrFinality.String(string(finality)))

	e.markProcessed(durable, sig)
	e.logger.InfoContext(ctx, "action committed",
		"request_id", id.Short(),
		"signature", sig,
		"finality", finality,
	)
	return res, nil
}

// Export builds the envelope for id. The active policy's version hash is used
// unless opts names one.
func (e *Executor) Export(ctx context.Context, id idempotency.RequestID, opts envelope.ExportOptions) (env *envelope.Envelope, err error) {
	ctx, done := e.telemetry.TrackOperation(ctx, "executor.Export", observability.AttrRequestID.String(id.String()))
	defer func() { done(err) }()

	r, err := e.receipts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	observability.SetSpanAttributes(ctx,
		observability.AttrReceiptStatus.String(string(r.Status)),
		observability.AttrFinality.String(string(envelope.Finality(r))))
	if opts.PolicyVersionHash == "" {
		hash, err := e.doc.VersionHash()
		if err != nil {
			return nil, err
		}
		opts.PolicyVersionHash = hash
	}
	return envelope.FromReceipt(r, opts)
}

func (e *Executor) save(ctx context.Context, r *receipts.Receipt) error {
	if err := e.receipts.Save(ctx, r); err != nil {
		return err
	}
	e.telemetry.RecordTransition(ctx, string(r.Kind), string(r.Status))
	return nil
}

// fail persists r as failed with detail and returns cause. The write ignores
// cancellation of ctx so the record never lags the outcome.
func (e *Executor) fail(ctx context.Context, r *receipts.Receipt, detail receipts.ErrorDetail, cause error) error {
	r.Status = receipts.StatusFailed
	if r.Commit == nil {
		r.Commit = &receipts.Commit{}
	}
	r.Commit.Err = &detail
	if err := e.save(context.WithoutCancel(ctx), r); err != nil {
		return errors.Join(cause, fmt.Errorf("executor: persist failed receipt: %w", err))
	}
	e.logger.WarnContext(ctx, "action failed",
		"request_id", r.RequestID.Short(),
		"code", detail.Code,
		"error", cause,
	)
	return cause
}

func (e *Executor) failExternal(ctx context.Context, op string, r *receipts.Receipt, code string, err error) error {
	return e.fail(ctx, r, receipts.ErrorDetail{Code: code, Message: err.Error()},
		acterr.Wrap(acterr.KindExternal, op, code, err))
}

// memo returns "<prefix>:<requestId>:<evidenceHash>" when memo evidence is on.
func (e *Executor) memo(r *receipts.Receipt) (string, error) {
	if !e.attachMemo || r.Shadow == nil {
		return "", nil
	}
	hash, err := envelope.EvidenceHash(r.RequestID, r.Kind, r.Params, r.Shadow)
	if err != nil {
		return "", err
	}
	return e.memoPrefix + ":" + r.RequestID.String() + ":" + hash, nil
}

// markProcessed records the confirmation signature. The replay guard is
// advisory, so its failures are logged and never fail a commit.
func (e *Executor) markProcessed(ctx context.Context, sig string) {
	if e.replay == nil || sig == "" {
		return
	}
	seen, err := e.replay.IsProcessed(ctx, sig)
	if err != nil {
		e.logger.WarnContext(ctx, "replay guard lookup failed", "signature", sig, "error", err)
	}
	if seen {
		e.telemetry.RecordReplayDuplicate(ctx)
		e.logger.WarnContext(ctx, "confirmation already processed", "signature", sig)
	}
	if err := e.replay.MarkProcessed(ctx, sig, e.replayTTL); err != nil {
		e.logger.WarnContext(ctx, "replay guard write failed", "signature", sig, "error", err)
	}
}

func shadowOf(pre, amount uint64, sim *SimulationResult) *receipts.Shadow {
	before := pre
	shadow := &receipts.Shadow{PreBalance: &before}
	if pre >= amount {
		after := pre - amount
		shadow.PostBalance = &after
	}
	if sim == nil {
		shadow.Err = &receipts.ErrorDetail{Code: "simulation_failed", Message: "no simulation result"}
		return shadow
	}
	shadow.SimulationLogs = sim.Logs
	shadow.Slot = sim.Slot
	switch {
	case sim.Err != nil:
		detail := *sim.Err
		shadow.Err = &detail
	case !sim.OK:
		shadow.Err = &receipts.ErrorDetail{Code: "simulation_failed", Message: "simulation reported failure"}
	}
	return shadow
}

func simulationOutcome(shadow *receipts.Shadow) *policy.SimulationOutcome {
	if shadow == nil {
		return nil
	}
	if shadow.Err == nil {
		return &policy.SimulationOutcome{}
	}
	return &policy.SimulationOutcome{Failed: true, Detail: shadow.Err.Code + ": " + shadow.Err.Message}
}

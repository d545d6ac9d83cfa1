package claims

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"depegshield/internal/audit"
	"depegshield/internal/ledger"
	"depegshield/internal/oracle"
)

// PolicyLedger is the slice of the collateral ledger the engine needs.
type PolicyLedger interface {
	GetPolicy(ctx context.Context, id string) (ledger.Policy, error)
	SettleClaim(ctx context.Context, policyID, claimant string) (decimal.Decimal, error)
}

// Options tune the engine's hard price checks. These are terminal checks,
// deliberately stricter than the aggregator's advisory validation.
type Options struct {
	// ExpectedSigner is the aggregator address quotes must be signed by.
	ExpectedSigner string
	// MaxStaleness bounds how old an accepted price may be.
	MaxStaleness time.Duration
	// MaxDeviationBps bounds the single-step move from the last accepted
	// price.
	MaxDeviationBps int64
}

// Engine decides claims against oracle prices. It owns claim records and
// the per-asset accepted price records; all writes are serialized per
// claim and per asset.
type Engine struct {
	store  Store
	ledger PolicyLedger
	sink   audit.Sink
	logger zerolog.Logger
	opts   Options

	quoteMu sync.RWMutex
	quotes  map[string]oracle.Quote

	keyMu sync.Mutex
	keys  map[string]*sync.Mutex

	paused atomic.Bool
}

// NewEngine constructs the claims engine.
func NewEngine(store Store, pl PolicyLedger, sink audit.Sink, opts Options, logger zerolog.Logger) *Engine {
	if opts.MaxStaleness <= 0 {
		opts.MaxStaleness = time.Hour
	}
	if opts.MaxDeviationBps <= 0 {
		opts.MaxDeviationBps = 3000
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Engine{
		store:  store,
		ledger: pl,
		sink:   sink,
		logger: logger.With().Str("component", "claims_engine").Logger(),
		opts:   opts,
		quotes: make(map[string]oracle.Quote),
		keys:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockKey(key string) func() {
	e.keyMu.Lock()
	mu, ok := e.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		e.keys[key] = mu
	}
	e.keyMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Pause halts claim submission and processing.
func (e *Engine) Pause() { e.paused.Store(true) }

// Unpause resumes normal operation.
func (e *Engine) Unpause() { e.paused.Store(false) }

// Paused reports the pause flag.
func (e *Engine) Paused() bool { return e.paused.Load() }

// PublishQuote receives a quote from the aggregator. The quote is held as
// an untrusted candidate; nothing is accepted until UpdateAndGetPrice
// re-verifies it.
func (e *Engine) PublishQuote(_ context.Context, quote oracle.Quote) error {
	e.quoteMu.Lock()
	e.quotes[quote.Asset] = quote
	e.quoteMu.Unlock()
	return nil
}

// MarkStale flags the asset's accepted price untrustworthy. The flag is
// cleared by the next successfully accepted update.
func (e *Engine) MarkStale(ctx context.Context, asset string) error {
	unlock := e.lockKey("price|" + asset)
	defer unlock()

	rec, err := e.store.GetPriceRecord(ctx, asset)
	if err != nil {
		if !errors.Is(err, ErrNoPriceRecord) {
			return err
		}
		rec = PriceRecord{Asset: asset}
	}
	rec.Stale = true
	rec.FailureCount++
	return e.store.PutPriceRecord(ctx, rec)
}

var _ oracle.Publisher = (*Engine)(nil)

// UpdateAndGetPrice re-verifies the latest candidate quote (signature,
// freshness, deviation from the last accepted record) and on success
// accepts it as the asset's price. Failures leave the last-good record
// untouched.
func (e *Engine) UpdateAndGetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if _, err := e.store.GetStablecoinConfig(ctx, asset); err != nil {
		return decimal.Zero, ErrAssetNotConfigured
	}

	e.quoteMu.RLock()
	quote, ok := e.quotes[asset]
	e.quoteMu.RUnlock()
	if !ok {
		return decimal.Zero, ErrNoQuote
	}

	unlock := e.lockKey("price|" + asset)
	defer unlock()

	if err := oracle.VerifyQuote(quote, e.opts.ExpectedSigner); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if age := time.Since(quote.Timestamp); age > e.opts.MaxStaleness {
		return decimal.Zero, fmt.Errorf("%w: quote age %s exceeds %s", ErrPriceTooOld, age.Truncate(time.Second), e.opts.MaxStaleness)
	}

	rec, err := e.store.GetPriceRecord(ctx, asset)
	if err != nil {
		if !errors.Is(err, ErrNoPriceRecord) {
			return decimal.Zero, err
		}
		rec = PriceRecord{Asset: asset}
	}
	if !rec.Price.IsZero() {
		deviation := quote.Price.Sub(rec.Price).Abs().
			Mul(decimal.NewFromInt(10000)).
			Div(rec.Price)
		// The terminal bound is inclusive: a move of exactly the limit is
		// rejected, unlike the aggregator's advisory check.
		if deviation.GreaterThanOrEqual(decimal.NewFromInt(e.opts.MaxDeviationBps)) {
			return decimal.Zero, fmt.Errorf("%w: %s -> %s", ErrPriceChangeTooLarge, rec.Price, quote.Price)
		}
	}

	rec.PrevPrice = rec.Price
	rec.Price = quote.Price
	rec.UpdatedAt = quote.Timestamp
	rec.Source = quote.Source
	rec.Stale = false
	rec.FailureCount = 0
	if err := e.store.PutPriceRecord(ctx, rec); err != nil {
		return decimal.Zero, fmt.Errorf("put price record: %w", err)
	}
	return quote.Price, nil
}

// IsDepegged reports whether the asset's accepted price sits below its
// configured threshold.
func (e *Engine) IsDepegged(ctx context.Context, asset string) (bool, error) {
	cfg, err := e.store.GetStablecoinConfig(ctx, asset)
	if err != nil {
		return false, ErrAssetNotConfigured
	}
	rec, err := e.store.GetPriceRecord(ctx, asset)
	if err != nil {
		return false, err
	}
	if rec.Stale {
		return false, ErrPriceStale
	}
	return rec.Price.LessThan(cfg.DepegThreshold), nil
}

// PriceRecordFor returns the engine's accepted price state for an asset.
func (e *Engine) PriceRecordFor(ctx context.Context, asset string) (PriceRecord, error) {
	return e.store.GetPriceRecord(ctx, asset)
}

// CalculateClaimFee is a pure function of the asset's fee parameters:
// max(minFee, amount*feeRateBps/10000).
func (e *Engine) CalculateClaimFee(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	cfg, err := e.store.GetStablecoinConfig(ctx, asset)
	if err != nil {
		return decimal.Zero, ErrAssetNotConfigured
	}
	fee := amount.Mul(decimal.NewFromInt(cfg.FeeRateBps)).Div(decimal.NewFromInt(10000))
	if fee.LessThan(cfg.MinFee) {
		return cfg.MinFee, nil
	}
	return fee, nil
}

// ConfigureStablecoin installs or replaces the per-asset parameter record,
// bumping its version.
func (e *Engine) ConfigureStablecoin(ctx context.Context, asset, feedID string, depegThreshold, minFee decimal.Decimal, feeRateBps int64) error {
	unlock := e.lockKey("config|" + asset)
	defer unlock()

	version := int64(1)
	if existing, err := e.store.GetStablecoinConfig(ctx, asset); err == nil {
		version = existing.Version + 1
	}
	cfg := StablecoinConfig{
		Asset:          asset,
		FeedID:         feedID,
		DepegThreshold: depegThreshold,
		MinFee:         minFee,
		FeeRateBps:     feeRateBps,
		Version:        version,
	}
	if err := e.store.PutStablecoinConfig(ctx, cfg); err != nil {
		return fmt.Errorf("put stablecoin config: %w", err)
	}
	e.appendAudit(ctx, "admin", "stablecoin_configured", nil, cfg)
	return nil
}

// SetBlacklist toggles an address's ability to submit claims.
func (e *Engine) SetBlacklist(ctx context.Context, addr string, blacklisted bool) error {
	if err := e.store.SetBlacklisted(ctx, addr, blacklisted); err != nil {
		return err
	}
	e.appendAudit(ctx, "admin", "blacklist_updated", nil, map[string]any{"addr": addr, "blacklisted": blacklisted})
	return nil
}

// IsBlacklisted reports the blacklist flag for an address.
func (e *Engine) IsBlacklisted(ctx context.Context, addr string) (bool, error) {
	return e.store.IsBlacklisted(ctx, addr)
}

// SubmitClaim records a payout request against an active policy.
func (e *Engine) SubmitClaim(ctx context.Context, claimant, policyID string, amount decimal.Decimal) (Claim, error) {
	if e.paused.Load() {
		return Claim{}, ErrPaused
	}
	if !amount.IsPositive() {
		return Claim{}, ErrAmountExceedsCoverage
	}
	blacklisted, err := e.store.IsBlacklisted(ctx, claimant)
	if err != nil {
		return Claim{}, err
	}
	if blacklisted {
		return Claim{}, ErrBlacklisted
	}

	policy, err := e.ledger.GetPolicy(ctx, policyID)
	if err != nil {
		return Claim{}, err
	}
	if policy.Status != ledger.PolicyActive || policy.Matured(time.Now()) {
		return Claim{}, ErrPolicyInactive
	}
	if amount.GreaterThan(policy.Coverage) {
		return Claim{}, ErrAmountExceedsCoverage
	}

	claim := Claim{
		ID:          uuid.NewString(),
		PolicyID:    policyID,
		Claimant:    claimant,
		Asset:       policy.Asset,
		Amount:      amount,
		Status:      StatusSubmitted,
		SubmittedAt: time.Now().UTC(),
	}
	if err := e.store.CreateClaim(ctx, claim); err != nil {
		return Claim{}, fmt.Errorf("create claim: %w", err)
	}
	e.appendAudit(ctx, claimant, "claim_submitted", nil, claim)
	return claim, nil
}

// GetClaim fetches one claim.
func (e *Engine) GetClaim(ctx context.Context, id string) (Claim, error) {
	return e.store.GetClaim(ctx, id)
}

// ProcessClaim drives the claim forward. A Submitted claim gets exactly
// one price decision: Approved when the asset is depegged at decision
// time, Rejected otherwise. Approved claims are paid out; payout failure
// leaves the claim Approved for a later retry and never reopens the
// decision. An oracle failure leaves a Submitted claim pending.
func (e *Engine) ProcessClaim(ctx context.Context, claimID string) (Claim, error) {
	if e.paused.Load() {
		return Claim{}, ErrPaused
	}

	unlock := e.lockKey("claim|" + claimID)
	defer unlock()

	claim, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		return Claim{}, err
	}
	if claim.Status.Terminal() {
		return claim, ErrClaimFinal
	}

	if claim.Status == StatusSubmitted {
		price, err := e.UpdateAndGetPrice(ctx, claim.Asset)
		if err != nil {
			// No decision without a trustworthy price; the claim stays
			// Submitted and may be retried.
			return claim, err
		}
		depegged, err := e.IsDepegged(ctx, claim.Asset)
		if err != nil {
			return claim, err
		}

		before := claim
		claim.DecisionPrice = price
		claim.DecidedAt = time.Now().UTC()
		if depegged {
			claim.Status = StatusApproved
		} else {
			claim.Status = StatusRejected
		}
		if err := e.store.UpdateClaim(ctx, claim); err != nil {
			return before, fmt.Errorf("update claim: %w", err)
		}
		e.appendAudit(ctx, claim.Claimant, "claim_decided", before, claim)

		if claim.Status == StatusRejected {
			return claim, nil
		}
	}

	return e.payout(ctx, claim)
}

// payout settles an Approved claim against the ledger and flips it to
// Paid. The ledger applies the debit all-or-nothing, so a failure here
// leaves the claim Approved and retryable.
func (e *Engine) payout(ctx context.Context, claim Claim) (Claim, error) {
	before := claim
	if _, err := e.ledger.SettleClaim(ctx, claim.PolicyID, claim.Claimant); err != nil {
		// A policy already retired by a prior settle means the debit
		// landed but the Paid flip was lost; finish the flip instead of
		// retrying the debit.
		if !errors.Is(err, ledger.ErrPolicyInactive) {
			e.logger.Warn().Err(err).Str("claim", claim.ID).Msg("payout failed; claim stays approved")
			return claim, fmt.Errorf("settle claim: %w", err)
		}
		policy, perr := e.ledger.GetPolicy(ctx, claim.PolicyID)
		if perr != nil || policy.Status != ledger.PolicyClaimed {
			return claim, fmt.Errorf("settle claim: %w", err)
		}
	}

	claim.Status = StatusPaid
	claim.PaidAt = time.Now().UTC()
	if err := e.store.UpdateClaim(ctx, claim); err != nil {
		return before, fmt.Errorf("update claim: %w", err)
	}
	e.appendAudit(ctx, claim.Claimant, "claim_paid", before, claim)
	return claim, nil
}

// RetryApproved re-attempts payout for Approved claims, oldest first, and
// returns how many reached Paid.
func (e *Engine) RetryApproved(ctx context.Context, limit int) (int, error) {
	approved, err := e.store.ListClaimsByStatus(ctx, StatusApproved, limit)
	if err != nil {
		return 0, fmt.Errorf("list approved claims: %w", err)
	}
	paid := 0
	for _, c := range approved {
		claim, err := e.ProcessClaim(ctx, c.ID)
		if err != nil {
			continue
		}
		if claim.Status == StatusPaid {
			paid++
		}
	}
	return paid, nil
}

// OpenClaimPolicies returns the set of policy IDs with a claim that has
// not reached a terminal status. The sweep uses it to keep expiry away
// from policies whose payout is still pending.
func (e *Engine) OpenClaimPolicies(ctx context.Context, limit int) (map[string]bool, error) {
	open := make(map[string]bool)
	for _, status := range []Status{StatusSubmitted, StatusApproved} {
		list, err := e.store.ListClaimsByStatus(ctx, status, limit)
		if err != nil {
			return nil, fmt.Errorf("list %s claims: %w", status, err)
		}
		for _, c := range list {
			open[c.PolicyID] = true
		}
	}
	return open, nil
}

func (e *Engine) appendAudit(ctx context.Context, actor, action string, before, after any) {
	rec := audit.New(actor, action)
	rec.Before = audit.Snapshot(before)
	rec.After = audit.Snapshot(after)
	rec.Result = "ok"
	if err := e.sink.Append(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("action", action).Msg("audit append failed")
	}
}

package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"depegshield/internal/audit"
)

const bpsDenominator = 10000

// Options tune ledger behaviour.
type Options struct {
	// RewardShareBps is the insurer share of each distributed premium in
	// basis points; the remainder accrues to the protocol treasury.
	RewardShareBps int64
}

// Service is the collateral ledger. All balance-mutating operations are
// serialized per (insurer, asset) key; operations on distinct keys proceed
// in parallel.
type Service struct {
	store  Store
	sink   audit.Sink
	logger zerolog.Logger

	rewardShareBps int64

	venueMu sync.RWMutex
	venues  map[string]YieldVenue

	keyMu sync.Mutex
	keys  map[string]*sync.Mutex

	paused    atomic.Bool
	emergency atomic.Bool
}

// New constructs the ledger service.
func New(store Store, sink audit.Sink, opts Options, logger zerolog.Logger) *Service {
	share := opts.RewardShareBps
	if share <= 0 || share > bpsDenominator {
		share = 8000
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{
		store:          store,
		sink:           sink,
		logger:         logger.With().Str("component", "ledger").Logger(),
		rewardShareBps: share,
		venues:         make(map[string]YieldVenue),
		keys:           make(map[string]*sync.Mutex),
	}
}

// RegisterVenue makes a yield venue available under a name that assets may
// reference. Registering nil removes the mapping.
func (s *Service) RegisterVenue(name string, venue YieldVenue) {
	s.venueMu.Lock()
	defer s.venueMu.Unlock()
	if venue == nil {
		delete(s.venues, name)
		return
	}
	s.venues[name] = venue
}

func (s *Service) venueFor(asset Asset) YieldVenue {
	if asset.YieldVenue == "" {
		return nil
	}
	s.venueMu.RLock()
	defer s.venueMu.RUnlock()
	return s.venues[asset.YieldVenue]
}

// lockKey serializes access to one (insurer, asset) account and returns
// the unlock func.
func (s *Service) lockKey(insurer, asset string) func() {
	key := insurer + "|" + asset
	s.keyMu.Lock()
	mu, ok := s.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keys[key] = mu
	}
	s.keyMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Pause halts all balance-mutating operations.
func (s *Service) Pause() { s.paused.Store(true) }

// Unpause resumes normal operation.
func (s *Service) Unpause() { s.paused.Store(false) }

// Paused reports the pause flag.
func (s *Service) Paused() bool { return s.paused.Load() }

// SetEmergencyMode toggles the emergency flag gating EmergencyWithdraw.
func (s *Service) SetEmergencyMode(on bool) { s.emergency.Store(on) }

// EmergencyMode reports the emergency flag.
func (s *Service) EmergencyMode() bool { return s.emergency.Load() }

// AddAsset registers a new supported stablecoin. ID and decimals are fixed
// from this point on.
func (s *Service) AddAsset(ctx context.Context, asset Asset) error {
	if asset.ID == "" {
		return fmt.Errorf("%w: empty asset id", ErrInvalidAmount)
	}
	if _, err := s.store.GetAsset(ctx, asset.ID); err == nil {
		return ErrAssetExists
	}
	asset.Enabled = true
	if err := s.store.PutAsset(ctx, asset); err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	s.appendAudit(ctx, "admin", "asset_added", nil, asset, nil)
	return nil
}

// SetAssetEnabled flips the enabled flag on an existing asset.
func (s *Service) SetAssetEnabled(ctx context.Context, id string, enabled bool) error {
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		return ErrAssetNotFound
	}
	before := asset
	asset.Enabled = enabled
	if err := s.store.PutAsset(ctx, asset); err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	s.appendAudit(ctx, "admin", "asset_toggled", before, asset, nil)
	return nil
}

// UpdateAssetBounds replaces the mutable amount bounds of an asset.
func (s *Service) UpdateAssetBounds(ctx context.Context, id string, minStake, minCoverage, maxCoverage decimal.Decimal) error {
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		return ErrAssetNotFound
	}
	before := asset
	asset.MinStake = minStake
	asset.MinCoverage = minCoverage
	asset.MaxCoverage = maxCoverage
	if err := s.store.PutAsset(ctx, asset); err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	s.appendAudit(ctx, "admin", "asset_bounds_updated", before, asset, nil)
	return nil
}

// SetAssetVenue points an asset at a registered yield venue ("" disables).
func (s *Service) SetAssetVenue(ctx context.Context, id, venue string) error {
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		return ErrAssetNotFound
	}
	before := asset
	asset.YieldVenue = venue
	if err := s.store.PutAsset(ctx, asset); err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	s.appendAudit(ctx, "admin", "asset_venue_updated", before, asset, nil)
	return nil
}

// ListAssets returns all registered assets.
func (s *Service) ListAssets(ctx context.Context) ([]Asset, error) {
	return s.store.ListAssets(ctx)
}

// Stake posts collateral. The amount is forwarded to the asset's yield
// venue when one is configured; venue failures leave the funds idle, the
// stake itself still succeeds.
func (s *Service) Stake(ctx context.Context, insurer, assetID string, amount decimal.Decimal) error {
	if s.paused.Load() {
		return ErrPaused
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil || !asset.Enabled {
		return ErrUnsupportedAsset
	}
	if amount.LessThan(asset.MinStake) {
		return ErrBelowMinimumStake
	}

	unlock := s.lockKey(insurer, assetID)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	before := acct

	acct.Staked = acct.Staked.Add(amount)
	if venue := s.venueFor(asset); venue != nil {
		s.forwardToVenue(ctx, venue, asset, &acct, amount)
	}
	acct.UpdatedAt = time.Now().UTC()

	if err := s.store.PutAccount(ctx, acct); err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	s.appendAudit(ctx, insurer, "stake", before, acct, nil)
	return nil
}

// forwardToVenue deposits amount into the venue, crediting shares at the
// current exchange rate. Caller holds the account key lock.
func (s *Service) forwardToVenue(ctx context.Context, venue YieldVenue, asset Asset, acct *Account, amount decimal.Decimal) {
	rate, err := venue.ExchangeRate(ctx, asset.ID)
	if err != nil || !rate.IsPositive() {
		s.logger.Warn().Err(err).Str("asset", asset.ID).Msg("venue exchange rate unavailable; stake stays idle")
		return
	}
	if err := venue.Deposit(ctx, asset.ID, amount); err != nil {
		s.logger.Warn().Err(err).Str("asset", asset.ID).Msg("venue deposit failed; stake stays idle")
		return
	}
	acct.VenueShares = acct.VenueShares.Add(amount.Div(rate))
	acct.VenuePrincipal = acct.VenuePrincipal.Add(amount)
}

// reconcileYield folds accrued venue yield into the staked balance so that
// available collateral always reflects the yield-bearing figure. Best
// effort: a failing venue leaves balances nominal. Caller holds the
// account key lock.
func (s *Service) reconcileYield(ctx context.Context, asset Asset, acct *Account) {
	venue := s.venueFor(asset)
	if venue == nil || acct.VenueShares.IsZero() {
		return
	}
	rate, err := venue.ExchangeRate(ctx, asset.ID)
	if err != nil || !rate.IsPositive() {
		s.logger.Warn().Err(err).Str("asset", asset.ID).Msg("venue exchange rate unavailable; balances stay nominal")
		return
	}
	value := acct.VenueShares.Mul(rate)
	principal := acct.VenuePrincipal
	if value.GreaterThan(principal) {
		accrued := value.Sub(principal)
		acct.Staked = acct.Staked.Add(accrued)
		acct.VenuePrincipal = value
	}
}

// PendingYield reports venue yield not yet folded into the staked balance.
func (s *Service) PendingYield(ctx context.Context, insurer, assetID string) (decimal.Decimal, error) {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return decimal.Zero, ErrUnsupportedAsset
	}
	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account: %w", err)
	}
	venue := s.venueFor(asset)
	if venue == nil || acct.VenueShares.IsZero() {
		return decimal.Zero, nil
	}
	rate, err := venue.ExchangeRate(ctx, assetID)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, nil
	}
	value := acct.VenueShares.Mul(rate)
	if value.LessThanOrEqual(acct.VenuePrincipal) {
		return decimal.Zero, nil
	}
	return value.Sub(acct.VenuePrincipal), nil
}

// Withdraw releases free collateral. Accrued yield is reconciled first so
// the availability check runs against the authoritative staked figure.
func (s *Service) Withdraw(ctx context.Context, insurer, assetID string, amount decimal.Decimal) error {
	if s.paused.Load() {
		return ErrPaused
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return ErrUnsupportedAsset
	}

	unlock := s.lockKey(insurer, assetID)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	before := acct

	s.reconcileYield(ctx, asset, &acct)
	if amount.GreaterThan(acct.Available()) {
		return ErrInsufficientFreeCollateral
	}

	acct.Staked = acct.Staked.Sub(amount)
	s.drainVenue(ctx, asset, &acct, amount)
	acct.UpdatedAt = time.Now().UTC()

	if err := s.store.PutAccount(ctx, acct); err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	s.appendAudit(ctx, insurer, "withdraw", before, acct, nil)
	return nil
}

// drainVenue pulls amount back out of the venue, burning shares at the
// current rate. Failures leave the funds parked at the venue; the nominal
// balance has already been reduced. Caller holds the account key lock.
func (s *Service) drainVenue(ctx context.Context, asset Asset, acct *Account, amount decimal.Decimal) {
	venue := s.venueFor(asset)
	if venue == nil || acct.VenueShares.IsZero() {
		return
	}
	rate, err := venue.ExchangeRate(ctx, asset.ID)
	if err != nil || !rate.IsPositive() {
		return
	}
	held := acct.VenueShares.Mul(rate)
	take := decimal.Min(amount, held)
	if !take.IsPositive() {
		return
	}
	if err := venue.Withdraw(ctx, asset.ID, take); err != nil {
		s.logger.Warn().Err(err).Str("asset", asset.ID).Msg("venue withdraw failed; funds remain parked")
		return
	}
	acct.VenueShares = acct.VenueShares.Sub(take.Div(rate))
	acct.VenuePrincipal = decimal.Max(decimal.Zero, acct.VenuePrincipal.Sub(take))
}

// Lock reserves collateral against a policy. Pure accounting.
func (s *Service) Lock(ctx context.Context, insurer, assetID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	unlock := s.lockKey(insurer, assetID)
	defer unlock()
	return s.lockLocked(ctx, insurer, assetID, amount)
}

func (s *Service) lockLocked(ctx context.Context, insurer, assetID string, amount decimal.Decimal) error {
	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	before := acct
	if acct.Locked.Add(amount).GreaterThan(acct.Staked) {
		return ErrInsufficientCollateral
	}
	acct.Locked = acct.Locked.Add(amount)
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	s.appendAudit(ctx, insurer, "lock", before, acct, nil)
	return nil
}

// Unlock releases a previous lock. The caller is responsible for tracking
// how much it locked; unlocking more than is locked is rejected.
func (s *Service) Unlock(ctx context.Context, insurer, assetID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	unlock := s.lockKey(insurer, assetID)
	defer unlock()
	return s.unlockLocked(ctx, insurer, assetID, amount)
}

func (s *Service) unlockLocked(ctx context.Context, insurer, assetID string, amount decimal.Decimal) error {
	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	before := acct
	if amount.GreaterThan(acct.Locked) {
		return ErrInsufficientCollateral
	}
	acct.Locked = acct.Locked.Sub(amount)
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	s.appendAudit(ctx, insurer, "unlock", before, acct, nil)
	return nil
}

// CreatePolicy issues cover against an insurer's free collateral, locking
// the coverage amount for the life of the policy.
func (s *Service) CreatePolicy(ctx context.Context, holder, insurer, assetID string, coverage, premium decimal.Decimal, duration time.Duration) (Policy, error) {
	if s.paused.Load() {
		return Policy{}, ErrPaused
	}
	if !coverage.IsPositive() {
		return Policy{}, ErrInvalidAmount
	}
	if duration <= 0 {
		return Policy{}, ErrInvalidDuration
	}
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil || !asset.Enabled {
		return Policy{}, ErrUnsupportedAsset
	}
	if coverage.LessThan(asset.MinCoverage) ||
		(asset.MaxCoverage.IsPositive() && coverage.GreaterThan(asset.MaxCoverage)) {
		return Policy{}, ErrCoverageOutOfBounds
	}

	unlock := s.lockKey(insurer, assetID)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return Policy{}, fmt.Errorf("get account: %w", err)
	}
	if coverage.GreaterThan(acct.Available()) {
		return Policy{}, ErrInsufficientCollateral
	}

	policy := Policy{
		ID:       uuid.NewString(),
		Holder:   holder,
		Insurer:  insurer,
		Asset:    assetID,
		Coverage: coverage,
		Premium:  premium,
		IssuedAt: time.Now().UTC(),
		Duration: duration,
		Status:   PolicyActive,
	}

	before := acct
	acct.Locked = acct.Locked.Add(coverage)
	acct.UpdatedAt = policy.IssuedAt
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return Policy{}, fmt.Errorf("put account: %w", err)
	}
	if err := s.store.CreatePolicy(ctx, policy); err != nil {
		// Roll the lock back so the failure leaves no partial mutation.
		acct.Locked = before.Locked
		if putErr := s.store.PutAccount(ctx, acct); putErr != nil {
			s.logger.Error().Err(putErr).Str("policy", policy.ID).Msg("rollback of policy lock failed")
		}
		return Policy{}, fmt.Errorf("create policy: %w", err)
	}
	s.appendAudit(ctx, holder, "policy_created", before, acct, nil)
	return policy, nil
}

// GetPolicy fetches one policy.
func (s *Service) GetPolicy(ctx context.Context, id string) (Policy, error) {
	return s.store.GetPolicy(ctx, id)
}

// ExpirePolicy unlocks a matured policy's collateral and marks it expired.
func (s *Service) ExpirePolicy(ctx context.Context, id string) error {
	policy, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if policy.Status != PolicyActive {
		return ErrPolicyInactive
	}
	if !policy.Matured(time.Now()) {
		return ErrPolicyNotMatured
	}

	unlock := s.lockKey(policy.Insurer, policy.Asset)
	defer unlock()

	// Re-read under the key lock; a concurrent settle may have won.
	policy, err = s.store.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if policy.Status != PolicyActive {
		return ErrPolicyInactive
	}

	if err := s.unlockLocked(ctx, policy.Insurer, policy.Asset, policy.Coverage); err != nil {
		return err
	}
	policy.Status = PolicyExpired
	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	s.appendAudit(ctx, policy.Holder, "policy_expired", nil, policy, nil)
	return nil
}

// SettleClaim pays the policy's full coverage out of the insurer's locked
// collateral and retires the policy. The debit and the status flip are
// applied together; on any failure nothing is mutated, so the caller can
// retry. Returns the payout amount.
func (s *Service) SettleClaim(ctx context.Context, policyID, claimant string) (decimal.Decimal, error) {
	policy, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return decimal.Zero, err
	}
	if policy.Status != PolicyActive {
		return decimal.Zero, ErrPolicyInactive
	}

	unlock := s.lockKey(policy.Insurer, policy.Asset)
	defer unlock()

	policy, err = s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return decimal.Zero, err
	}
	if policy.Status != PolicyActive {
		return decimal.Zero, ErrPolicyInactive
	}

	asset, err := s.store.GetAsset(ctx, policy.Asset)
	if err != nil {
		return decimal.Zero, ErrUnsupportedAsset
	}
	acct, err := s.store.GetAccount(ctx, policy.Insurer, policy.Asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account: %w", err)
	}
	before := acct

	s.reconcileYield(ctx, asset, &acct)
	payout := policy.Coverage

	// Funds parked at a venue must come back before the payout leaves the
	// ledger. Unlike an insurer withdrawal there is no nominal fallback
	// here: a failed venue pull aborts the settlement so it can be
	// retried.
	if venue := s.venueFor(asset); venue != nil && !acct.VenueShares.IsZero() {
		rate, rateErr := venue.ExchangeRate(ctx, asset.ID)
		if rateErr != nil || !rate.IsPositive() {
			return decimal.Zero, fmt.Errorf("venue exchange rate for payout: %w", rateErr)
		}
		held := acct.VenueShares.Mul(rate)
		take := decimal.Min(payout, held)
		if take.IsPositive() {
			if err := venue.Withdraw(ctx, asset.ID, take); err != nil {
				return decimal.Zero, fmt.Errorf("venue withdraw for payout: %w", err)
			}
			acct.VenueShares = acct.VenueShares.Sub(take.Div(rate))
			acct.VenuePrincipal = decimal.Max(decimal.Zero, acct.VenuePrincipal.Sub(take))
		}
	}

	acct.Locked = acct.Locked.Sub(payout)
	acct.Staked = acct.Staked.Sub(payout)
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return decimal.Zero, fmt.Errorf("put account: %w", err)
	}

	policy.Status = PolicyClaimed
	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		if putErr := s.store.PutAccount(ctx, before); putErr != nil {
			s.logger.Error().Err(putErr).Str("policy", policy.ID).Msg("rollback of claim debit failed")
		}
		return decimal.Zero, fmt.Errorf("update policy: %w", err)
	}
	s.appendAudit(ctx, claimant, "claim_settled", before, acct, nil)
	return payout, nil
}

// DistributePremium splits a premium between the insurer's reward accrual
// and the protocol treasury.
func (s *Service) DistributePremium(ctx context.Context, insurer, assetID string, premium decimal.Decimal) error {
	if s.paused.Load() {
		return ErrPaused
	}
	if !premium.IsPositive() {
		return ErrPremiumTooLow
	}
	if _, err := s.store.GetAsset(ctx, assetID); err != nil {
		return ErrUnsupportedAsset
	}

	unlock := s.lockKey(insurer, assetID)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	before := acct

	insurerShare := premium.Mul(decimal.NewFromInt(s.rewardShareBps)).Div(decimal.NewFromInt(bpsDenominator))
	treasuryShare := premium.Sub(insurerShare)

	acct.RewardsAccrued = acct.RewardsAccrued.Add(insurerShare)
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	if err := s.store.AddTreasury(ctx, assetID, treasuryShare); err != nil {
		s.logger.Error().Err(err).Str("asset", assetID).Msg("treasury credit failed")
	}
	s.appendAudit(ctx, insurer, "premium_distributed", before, acct, nil)
	return nil
}

// ClaimRewards pays out accrued premium rewards. The accrual is zeroed
// before any transfer so a reentrant caller cannot double-claim.
func (s *Service) ClaimRewards(ctx context.Context, insurer, assetID string) (decimal.Decimal, error) {
	if s.paused.Load() {
		return decimal.Zero, ErrPaused
	}
	if _, err := s.store.GetAsset(ctx, assetID); err != nil {
		return decimal.Zero, ErrUnsupportedAsset
	}

	unlock := s.lockKey(insurer, assetID)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account: %w", err)
	}
	if acct.RewardsAccrued.IsZero() {
		return decimal.Zero, ErrNoRewards
	}

	before := acct
	amount := acct.RewardsAccrued
	acct.RewardsAccrued = decimal.Zero
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return decimal.Zero, fmt.Errorf("put account: %w", err)
	}
	s.appendAudit(ctx, insurer, "rewards_claimed", before, acct, nil)
	return amount, nil
}

// EmergencyWithdraw returns the insurer's entire staked balance, ignoring
// locks. Only available while the emergency flag is set and always
// audited.
func (s *Service) EmergencyWithdraw(ctx context.Context, insurer, assetID string) (decimal.Decimal, error) {
	if !s.emergency.Load() {
		return decimal.Zero, ErrEmergencyOnly
	}
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return decimal.Zero, ErrUnsupportedAsset
	}

	unlock := s.lockKey(insurer, assetID)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account: %w", err)
	}
	s.reconcileYield(ctx, asset, &acct)
	if acct.Staked.IsZero() {
		return decimal.Zero, ErrNothingStaked
	}

	before := acct
	amount := acct.Staked
	s.drainVenue(ctx, asset, &acct, amount)
	acct.Staked = decimal.Zero
	acct.Locked = decimal.Zero
	acct.VenueShares = decimal.Zero
	acct.VenuePrincipal = decimal.Zero
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.PutAccount(ctx, acct); err != nil {
		return decimal.Zero, fmt.Errorf("put account: %w", err)
	}
	s.appendAudit(ctx, insurer, "emergency_withdraw", before, acct, nil)
	return amount, nil
}

// Account returns the stored position for one (insurer, asset) pair.
func (s *Service) Account(ctx context.Context, insurer, assetID string) (Account, error) {
	return s.store.GetAccount(ctx, insurer, assetID)
}

// AvailableCollateral reports staked minus locked.
func (s *Service) AvailableCollateral(ctx context.Context, insurer, assetID string) (decimal.Decimal, error) {
	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Available(), nil
}

// LockedCollateral reports the amount committed to active policies.
func (s *Service) LockedCollateral(ctx context.Context, insurer, assetID string) (decimal.Decimal, error) {
	acct, err := s.store.GetAccount(ctx, insurer, assetID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Locked, nil
}

// TreasuryBalance reports the protocol's accumulated premium share.
func (s *Service) TreasuryBalance(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return s.store.GetTreasury(ctx, assetID)
}

// ExpireMatured unlocks every active policy whose cover has lapsed and
// returns how many were expired. Policies whose ID appears in skip are
// left alone; the sweep passes the set of policies with an open claim
// so a pending payout is never invalidated by expiry. Intended to be
// driven by a scheduler.
func (s *Service) ExpireMatured(ctx context.Context, limit int, skip map[string]bool) (int, error) {
	matured, err := s.store.ListExpiredActive(ctx, time.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list matured policies: %w", err)
	}
	expired := 0
	for _, p := range matured {
		if skip[p.ID] {
			continue
		}
		if err := s.ExpirePolicy(ctx, p.ID); err != nil {
			if err == ErrPolicyInactive {
				continue
			}
			s.logger.Error().Err(err).Str("policy", p.ID).Msg("policy expiry failed")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) appendAudit(ctx context.Context, actor, action string, before, after any, opErr error) {
	rec := audit.New(actor, action)
	rec.Before = audit.Snapshot(before)
	rec.After = audit.Snapshot(after)
	rec.Result = "ok"
	if opErr != nil {
		rec.Result = "error"
		rec.Error = opErr.Error()
	}
	if err := s.sink.Append(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("audit append failed")
	}
}

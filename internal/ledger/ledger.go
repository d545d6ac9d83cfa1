// Package ledger tracks insurer collateral: per-(insurer, asset) staked and
// locked balances, the policies those locks back, and premium reward
// accrual. Withdrawable collateral is always staked minus locked; no
// operation may leave locked above staked or spend the same capital twice.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedAsset           = errors.New("asset not supported or disabled")
	ErrAssetExists                = errors.New("asset already added")
	ErrAssetNotFound              = errors.New("asset not found")
	ErrBelowMinimumStake          = errors.New("amount below minimum stake")
	ErrInvalidAmount              = errors.New("amount must be positive")
	ErrPaused                     = errors.New("ledger is paused")
	ErrInsufficientFreeCollateral = errors.New("insufficient free collateral")
	ErrInsufficientCollateral     = errors.New("insufficient collateral to lock")
	ErrPremiumTooLow              = errors.New("premium must be greater than zero")
	ErrNoRewards                  = errors.New("no rewards to claim")
	ErrNothingStaked              = errors.New("nothing to withdraw")
	ErrPolicyNotFound             = errors.New("policy not found")
	ErrPolicyInactive             = errors.New("policy is not active")
	ErrPolicyNotMatured           = errors.New("policy has not expired yet")
	ErrCoverageOutOfBounds        = errors.New("coverage amount outside asset bounds")
	ErrInvalidDuration            = errors.New("policy duration must be positive")
	ErrEmergencyOnly              = errors.New("emergency mode not enabled")
)

// Asset describes a supported stablecoin. ID and Decimals are immutable
// once added; bounds and the yield venue mapping may be updated by admin
// operations.
type Asset struct {
	ID          string          `json:"id"`
	Decimals    int32           `json:"decimals"`
	MinStake    decimal.Decimal `json:"minStake"`
	MinCoverage decimal.Decimal `json:"minCoverage"`
	MaxCoverage decimal.Decimal `json:"maxCoverage"`
	YieldVenue  string          `json:"yieldVenue,omitempty"`
	Enabled     bool            `json:"enabled"`
}

// Account holds one insurer's collateral position in one asset. All
// amounts are in the asset's native decimal scale.
type Account struct {
	Insurer        string          `json:"insurer"`
	Asset          string          `json:"asset"`
	Staked         decimal.Decimal `json:"staked"`
	Locked         decimal.Decimal `json:"locked"`
	RewardsAccrued decimal.Decimal `json:"rewardsAccrued"`
	VenueShares    decimal.Decimal `json:"venueShares"`
	VenuePrincipal decimal.Decimal `json:"venuePrincipal"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Available is the only withdrawable amount: staked minus locked.
func (a Account) Available() decimal.Decimal {
	return a.Staked.Sub(a.Locked)
}

// PolicyStatus is the lifecycle state of a policy.
type PolicyStatus string

const (
	PolicyActive  PolicyStatus = "active"
	PolicyClaimed PolicyStatus = "claimed"
	PolicyExpired PolicyStatus = "expired"
)

// Policy is a time-bounded depeg cover backed by an insurer's lock.
type Policy struct {
	ID       string          `json:"id"`
	Holder   string          `json:"holder"`
	Insurer  string          `json:"insurer"`
	Asset    string          `json:"asset"`
	Coverage decimal.Decimal `json:"coverage"`
	Premium  decimal.Decimal `json:"premium"`
	IssuedAt time.Time       `json:"issuedAt"`
	Duration time.Duration   `json:"duration"`
	Status   PolicyStatus    `json:"status"`
}

// ExpiresAt is the instant the cover lapses.
func (p Policy) ExpiresAt() time.Time {
	return p.IssuedAt.Add(p.Duration)
}

// Matured reports whether the cover has lapsed at now.
func (p Policy) Matured(now time.Time) bool {
	return !now.Before(p.ExpiresAt())
}

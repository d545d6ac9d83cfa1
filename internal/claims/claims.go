// Package claims decides depeg claims. It owns the per-asset price records
// the decision reads from, re-verifying every published quote before
// trusting it, and drives each claim through a strict
// Submitted -> Approved/Rejected -> Paid lifecycle with exactly one price
// decision per claim.
package claims

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPaused                = errors.New("claims engine is paused")
	ErrPolicyInactive        = errors.New("policy is not active")
	ErrBlacklisted           = errors.New("claimant is blacklisted")
	ErrAmountExceedsCoverage = errors.New("claim amount exceeds coverage")
	ErrClaimNotFound         = errors.New("claim not found")
	ErrClaimFinal            = errors.New("claim already in a terminal state")
	ErrAssetNotConfigured    = errors.New("stablecoin not configured")
	ErrNoQuote               = errors.New("no quote available for asset")
	ErrBadSignature          = errors.New("quote signature invalid")
	ErrPriceTooOld           = errors.New("price too old")
	ErrPriceChangeTooLarge   = errors.New("price change too large")
	ErrPriceStale            = errors.New("price flagged stale")
	ErrNoPriceRecord         = errors.New("no accepted price for asset")
)

// Status is the lifecycle state of a claim.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPaid      Status = "paid"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusPaid
}

// Claim is one payout request against a policy.
type Claim struct {
	ID            string          `json:"id"`
	PolicyID      string          `json:"policyId"`
	Claimant      string          `json:"claimant"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	DecisionPrice decimal.Decimal `json:"decisionPrice"`
	DecidedAt     time.Time       `json:"decidedAt"`
	SubmittedAt   time.Time       `json:"submittedAt"`
	PaidAt        time.Time       `json:"paidAt"`
}

// PriceRecord is the engine's accepted price state for one asset. Previous
// price backs the hard deviation check on the next update.
type PriceRecord struct {
	Asset        string          `json:"asset"`
	Price        decimal.Decimal `json:"price"`
	PrevPrice    decimal.Decimal `json:"prevPrice"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Source       string          `json:"source"`
	FailureCount int             `json:"failureCount"`
	Stale        bool            `json:"stale"`
}

// StablecoinConfig is the admin-set, versioned per-asset parameter record.
type StablecoinConfig struct {
	Asset          string          `json:"asset"`
	FeedID         string          `json:"feedId"`
	DepegThreshold decimal.Decimal `json:"depegThreshold"`
	MinFee         decimal.Decimal `json:"minFee"`
	FeeRateBps     int64           `json:"feeRateBps"`
	Version        int64           `json:"version"`
}

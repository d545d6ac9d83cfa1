package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// YieldVenue is the capability interface for an external lending pool that
// idle collateral may be forwarded to. All venue calls are best-effort from
// the ledger's point of view: a failing venue degrades balances to nominal,
// it never blocks a stake or withdrawal.
type YieldVenue interface {
	Deposit(ctx context.Context, asset string, amount decimal.Decimal) error
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal) error
	// ExchangeRate converts one venue share into asset units. A freshly
	// opened position has rate 1; the rate grows as yield accrues.
	ExchangeRate(ctx context.Context, asset string) (decimal.Decimal, error)
}

// NoopVenue is the "yield disabled" venue: deposits and withdrawals are
// accepted and ignored, the exchange rate is pinned at 1.
type NoopVenue struct{}

func (NoopVenue) Deposit(context.Context, string, decimal.Decimal) error  { return nil }
func (NoopVenue) Withdraw(context.Context, string, decimal.Decimal) error { return nil }
func (NoopVenue) ExchangeRate(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

var _ YieldVenue = NoopVenue{}

// StaticVenue is an in-memory venue with a settable exchange rate, used in
// tests to model accruing yield.
type StaticVenue struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

// NewStaticVenue builds a venue with rate 1 for every asset.
func NewStaticVenue() *StaticVenue {
	return &StaticVenue{rates: make(map[string]decimal.Decimal)}
}

// SetRate pins the exchange rate for an asset.
func (v *StaticVenue) SetRate(asset string, rate decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rates[asset] = rate
}

func (v *StaticVenue) Deposit(context.Context, string, decimal.Decimal) error  { return nil }
func (v *StaticVenue) Withdraw(context.Context, string, decimal.Decimal) error { return nil }

func (v *StaticVenue) ExchangeRate(_ context.Context, asset string) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if rate, ok := v.rates[asset]; ok {
		return rate, nil
	}
	return decimal.NewFromInt(1), nil
}

var _ YieldVenue = (*StaticVenue)(nil)

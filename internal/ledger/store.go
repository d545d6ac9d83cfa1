package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists ledger state. Implementations must apply each call
// atomically; the service serializes calls per (insurer, asset) so a store
// never sees concurrent writers for the same account.
type Store interface {
	GetAsset(ctx context.Context, id string) (Asset, error)
	PutAsset(ctx context.Context, asset Asset) error
	ListAssets(ctx context.Context) ([]Asset, error)

	// GetAccount returns a zero-balance account when none exists yet.
	GetAccount(ctx context.Context, insurer, asset string) (Account, error)
	PutAccount(ctx context.Context, account Account) error
	ListAccounts(ctx context.Context, asset string) ([]Account, error)

	CreatePolicy(ctx context.Context, policy Policy) error
	GetPolicy(ctx context.Context, id string) (Policy, error)
	UpdatePolicy(ctx context.Context, policy Policy) error
	ListPoliciesByHolder(ctx context.Context, holder string) ([]Policy, error)
	// ListExpiredActive returns active policies whose cover lapsed at or
	// before now, oldest first, capped at limit.
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]Policy, error)

	// Treasury tracks the protocol's share of distributed premiums.
	GetTreasury(ctx context.Context, asset string) (decimal.Decimal, error)
	AddTreasury(ctx context.Context, asset string, amount decimal.Decimal) error
}

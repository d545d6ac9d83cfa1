package claims

import (
	"context"
)

// Store persists claims-engine state: claims, accepted price records,
// per-asset configuration, and the blacklist. The engine serializes writes
// per claim and per asset so implementations never see concurrent writers
// for the same row.
type Store interface {
	CreateClaim(ctx context.Context, claim Claim) error
	GetClaim(ctx context.Context, id string) (Claim, error)
	UpdateClaim(ctx context.Context, claim Claim) error
	ListClaimsByStatus(ctx context.Context, status Status, limit int) ([]Claim, error)

	// GetPriceRecord returns ErrNoPriceRecord when none was accepted yet.
	GetPriceRecord(ctx context.Context, asset string) (PriceRecord, error)
	PutPriceRecord(ctx context.Context, rec PriceRecord) error

	GetStablecoinConfig(ctx context.Context, asset string) (StablecoinConfig, error)
	PutStablecoinConfig(ctx context.Context, cfg StablecoinConfig) error
	ListStablecoinConfigs(ctx context.Context) ([]StablecoinConfig, error)

	SetBlacklisted(ctx context.Context, addr string, blacklisted bool) error
	IsBlacklisted(ctx context.Context, addr string) (bool, error)
}

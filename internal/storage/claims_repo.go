package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"depegshield/internal/claims"
)

const (
	insertClaimSQL = `INSERT INTO claims (
        id, policy_id, claimant, asset, amount, status, decision_price, decided_at, submitted_at, paid_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	getClaimSQL = `SELECT id, policy_id, claimant, asset, amount, status, decision_price, decided_at, submitted_at, paid_at
    FROM claims WHERE id = $1;`

	updateClaimSQL = `UPDATE claims
    SET status = $2, decision_price = $3, decided_at = $4, paid_at = $5
    WHERE id = $1;`

	listClaimsByStatusSQL = `SELECT id, policy_id, claimant, asset, amount, status, decision_price, decided_at, submitted_at, paid_at
    FROM claims
    WHERE status = $1
    ORDER BY submitted_at
    LIMIT $2;`

	upsertPriceRecordSQL = `INSERT INTO price_records (
        asset, price, prev_price, updated_at, source, failure_count, stale
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (asset) DO UPDATE
    SET
        price         = EXCLUDED.price,
        prev_price    = EXCLUDED.prev_price,
        updated_at    = EXCLUDED.updated_at,
        source        = EXCLUDED.source,
        failure_count = EXCLUDED.failure_count,
        stale         = EXCLUDED.stale;`

	getPriceRecordSQL = `SELECT asset, price, prev_price, updated_at, source, failure_count, stale
    FROM price_records WHERE asset = $1;`

	upsertStablecoinConfigSQL = `INSERT INTO stablecoin_configs (
        asset, feed_id, depeg_threshold, min_fee, fee_rate_bps, version
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (asset) DO UPDATE
    SET
        feed_id         = EXCLUDED.feed_id,
        depeg_threshold = EXCLUDED.depeg_threshold,
        min_fee         = EXCLUDED.min_fee,
        fee_rate_bps    = EXCLUDED.fee_rate_bps,
        version         = EXCLUDED.version;`

	getStablecoinConfigSQL = `SELECT asset, feed_id, depeg_threshold, min_fee, fee_rate_bps, version
    FROM stablecoin_configs WHERE asset = $1;`

	listStablecoinConfigsSQL = `SELECT asset, feed_id, depeg_threshold, min_fee, fee_rate_bps, version
    FROM stablecoin_configs ORDER BY asset;`

	setBlacklistedSQL = `INSERT INTO blacklist (addr, blacklisted) VALUES ($1, $2)
    ON CONFLICT (addr) DO UPDATE SET blacklisted = EXCLUDED.blacklisted;`

	isBlacklistedSQL = `SELECT blacklisted FROM blacklist WHERE addr = $1;`
)

// CreateClaim inserts a new claim row.
func (s *Store) CreateClaim(ctx context.Context, claim claims.Claim) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertClaimSQL,
		claim.ID,
		claim.PolicyID,
		claim.Claimant,
		claim.Asset,
		claim.Amount.String(),
		string(claim.Status),
		claim.DecisionPrice.String(),
		nullableTime(claim.DecidedAt),
		claim.SubmittedAt,
		nullableTime(claim.PaidAt),
	)
	if execErr != nil {
		return fmt.Errorf("insert claim: %w", execErr)
	}
	return nil
}

// GetClaim fetches one claim.
func (s *Store) GetClaim(ctx context.Context, id string) (claims.Claim, error) {
	pool, err := s.getPool()
	if err != nil {
		return claims.Claim{}, err
	}
	claim, err := scanClaim(pool.QueryRow(ctx, getClaimSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return claims.Claim{}, claims.ErrClaimNotFound
	}
	return claim, err
}

// UpdateClaim replaces the mutable columns of a claim row.
func (s *Store) UpdateClaim(ctx context.Context, claim claims.Claim) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateClaimSQL,
		claim.ID,
		string(claim.Status),
		claim.DecisionPrice.String(),
		nullableTime(claim.DecidedAt),
		nullableTime(claim.PaidAt),
	)
	if execErr != nil {
		return fmt.Errorf("update claim: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return claims.ErrClaimNotFound
	}
	return nil
}

// ListClaimsByStatus lists claims in a given state, oldest submission first.
func (s *Store) ListClaimsByStatus(ctx context.Context, status claims.Status, limit int) ([]claims.Claim, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listClaimsByStatusSQL, string(status), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list claims by status: %w", queryErr)
	}
	defer rows.Close()

	out := make([]claims.Claim, 0, limit)
	for rows.Next() {
		claim, scanErr := scanClaim(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, claim)
	}
	return out, rows.Err()
}

// GetPriceRecord fetches the accepted price state for an asset.
func (s *Store) GetPriceRecord(ctx context.Context, asset string) (claims.PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return claims.PriceRecord{}, err
	}

	var (
		rec     claims.PriceRecord
		price   string
		prev    string
		updated sql.NullTime
	)
	scanErr := pool.QueryRow(ctx, getPriceRecordSQL, asset).Scan(
		&rec.Asset,
		&price,
		&prev,
		&updated,
		&rec.Source,
		&rec.FailureCount,
		&rec.Stale,
	)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return claims.PriceRecord{}, claims.ErrNoPriceRecord
	}
	if scanErr != nil {
		return claims.PriceRecord{}, fmt.Errorf("get price record: %w", scanErr)
	}

	var convErr error
	if rec.Price, convErr = decimal.NewFromString(price); convErr != nil {
		return claims.PriceRecord{}, fmt.Errorf("parse price: %w", convErr)
	}
	if rec.PrevPrice, convErr = decimal.NewFromString(prev); convErr != nil {
		return claims.PriceRecord{}, fmt.Errorf("parse prev price: %w", convErr)
	}
	if updated.Valid {
		rec.UpdatedAt = updated.Time
	}
	return rec, nil
}

// PutPriceRecord inserts or replaces the accepted price state for an asset.
func (s *Store) PutPriceRecord(ctx context.Context, rec claims.PriceRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertPriceRecordSQL,
		rec.Asset,
		rec.Price.String(),
		rec.PrevPrice.String(),
		nullableTime(rec.UpdatedAt),
		rec.Source,
		rec.FailureCount,
		rec.Stale,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price record: %w", execErr)
	}
	return nil
}

// GetStablecoinConfig fetches the per-asset claim parameters.
func (s *Store) GetStablecoinConfig(ctx context.Context, asset string) (claims.StablecoinConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return claims.StablecoinConfig{}, err
	}
	cfg, err := scanStablecoinConfig(pool.QueryRow(ctx, getStablecoinConfigSQL, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return claims.StablecoinConfig{}, claims.ErrAssetNotConfigured
	}
	return cfg, err
}

// PutStablecoinConfig inserts or replaces the per-asset claim parameters.
func (s *Store) PutStablecoinConfig(ctx context.Context, cfg claims.StablecoinConfig) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertStablecoinConfigSQL,
		cfg.Asset,
		cfg.FeedID,
		cfg.DepegThreshold.String(),
		cfg.MinFee.String(),
		cfg.FeeRateBps,
		cfg.Version,
	)
	if execErr != nil {
		return fmt.Errorf("upsert stablecoin config: %w", execErr)
	}
	return nil
}

// ListStablecoinConfigs lists all configured stablecoins.
func (s *Store) ListStablecoinConfigs(ctx context.Context) ([]claims.StablecoinConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listStablecoinConfigsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list stablecoin configs: %w", queryErr)
	}
	defer rows.Close()

	out := make([]claims.StablecoinConfig, 0)
	for rows.Next() {
		cfg, scanErr := scanStablecoinConfig(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// SetBlacklisted toggles an address's blacklist flag.
func (s *Store) SetBlacklisted(ctx context.Context, addr string, blacklisted bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setBlacklistedSQL, addr, blacklisted); execErr != nil {
		return fmt.Errorf("set blacklisted: %w", execErr)
	}
	return nil
}

// IsBlacklisted reports whether an address is blacklisted.
func (s *Store) IsBlacklisted(ctx context.Context, addr string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var blacklisted bool
	scanErr := pool.QueryRow(ctx, isBlacklistedSQL, addr).Scan(&blacklisted)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return false, nil
	}
	if scanErr != nil {
		return false, fmt.Errorf("is blacklisted: %w", scanErr)
	}
	return blacklisted, nil
}

func scanClaim(row pgx.Row) (claims.Claim, error) {
	var (
		claim     claims.Claim
		amount    string
		status    string
		decision  string
		decidedAt sql.NullTime
		paidAt    sql.NullTime
	)
	if err := row.Scan(
		&claim.ID,
		&claim.PolicyID,
		&claim.Claimant,
		&claim.Asset,
		&amount,
		&status,
		&decision,
		&decidedAt,
		&claim.SubmittedAt,
		&paidAt,
	); err != nil {
		return claims.Claim{}, err
	}

	var convErr error
	if claim.Amount, convErr = decimal.NewFromString(amount); convErr != nil {
		return claims.Claim{}, fmt.Errorf("parse amount: %w", convErr)
	}
	if claim.DecisionPrice, convErr = decimal.NewFromString(decision); convErr != nil {
		return claims.Claim{}, fmt.Errorf("parse decision price: %w", convErr)
	}
	claim.Status = claims.Status(status)
	if decidedAt.Valid {
		claim.DecidedAt = decidedAt.Time
	}
	if paidAt.Valid {
		claim.PaidAt = paidAt.Time
	}
	return claim, nil
}

func scanStablecoinConfig(row pgx.Row) (claims.StablecoinConfig, error) {
	var (
		cfg       claims.StablecoinConfig
		threshold string
		minFee    string
	)
	if err := row.Scan(
		&cfg.Asset,
		&cfg.FeedID,
		&threshold,
		&minFee,
		&cfg.FeeRateBps,
		&cfg.Version,
	); err != nil {
		return claims.StablecoinConfig{}, err
	}

	var convErr error
	if cfg.DepegThreshold, convErr = decimal.NewFromString(threshold); convErr != nil {
		return claims.StablecoinConfig{}, fmt.Errorf("parse depeg threshold: %w", convErr)
	}
	if cfg.MinFee, convErr = decimal.NewFromString(minFee); convErr != nil {
		return claims.StablecoinConfig{}, fmt.Errorf("parse min fee: %w", convErr)
	}
	return cfg, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ claims.Store = (*Store)(nil)

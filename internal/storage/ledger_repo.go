package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"depegshield/internal/ledger"
)

const (
	upsertAssetSQL = `INSERT INTO assets (
        id, decimals, min_stake, min_coverage, max_coverage, yield_venue, enabled
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (id) DO UPDATE
    SET
        decimals     = EXCLUDED.decimals,
        min_stake    = EXCLUDED.min_stake,
        min_coverage = EXCLUDED.min_coverage,
        max_coverage = EXCLUDED.max_coverage,
        yield_venue  = EXCLUDED.yield_venue,
        enabled      = EXCLUDED.enabled;`

	getAssetSQL = `SELECT id, decimals, min_stake, min_coverage, max_coverage, yield_venue, enabled
    FROM assets WHERE id = $1;`

	listAssetsSQL = `SELECT id, decimals, min_stake, min_coverage, max_coverage, yield_venue, enabled
    FROM assets ORDER BY id;`

	upsertAccountSQL = `INSERT INTO accounts (
        insurer, asset, staked, locked, rewards_accrued, venue_shares, venue_principal, updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (insurer, asset) DO UPDATE
    SET
        staked          = EXCLUDED.staked,
        locked          = EXCLUDED.locked,
        rewards_accrued = EXCLUDED.rewards_accrued,
        venue_shares    = EXCLUDED.venue_shares,
        venue_principal = EXCLUDED.venue_principal,
        updated_at      = EXCLUDED.updated_at;`

	getAccountSQL = `SELECT insurer, asset, staked, locked, rewards_accrued, venue_shares, venue_principal, updated_at
    FROM accounts WHERE insurer = $1 AND asset = $2;`

	listAccountsSQL = `SELECT insurer, asset, staked, locked, rewards_accrued, venue_shares, venue_principal, updated_at
    FROM accounts WHERE asset = $1 ORDER BY insurer;`

	insertPolicySQL = `INSERT INTO policies (
        id, holder, insurer, asset, coverage, premium, issued_at, duration_seconds, status
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	getPolicySQL = `SELECT id, holder, insurer, asset, coverage, premium, issued_at, duration_seconds, status
    FROM policies WHERE id = $1;`

	updatePolicySQL = `UPDATE policies
    SET coverage = $2, premium = $3, status = $4
    WHERE id = $1;`

	listPoliciesByHolderSQL = `SELECT id, holder, insurer, asset, coverage, premium, issued_at, duration_seconds, status
    FROM policies WHERE holder = $1 ORDER BY issued_at;`

	listExpiredActiveSQL = `SELECT id, holder, insurer, asset, coverage, premium, issued_at, duration_seconds, status
    FROM policies
    WHERE status = 'active'
      AND issued_at + duration_seconds * interval '1 second' <= $1
    ORDER BY issued_at
    LIMIT $2;`

	getTreasurySQL = `SELECT balance FROM treasury WHERE asset = $1;`

	addTreasurySQL = `INSERT INTO treasury (asset, balance) VALUES ($1, $2)
    ON CONFLICT (asset) DO UPDATE
    SET balance = treasury.balance + EXCLUDED.balance;`
)

// GetAsset fetches one supported asset.
func (s *Store) GetAsset(ctx context.Context, id string) (ledger.Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return ledger.Asset{}, err
	}
	asset, err := scanAsset(pool.QueryRow(ctx, getAssetSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Asset{}, ledger.ErrAssetNotFound
	}
	return asset, err
}

// PutAsset inserts or replaces an asset row.
func (s *Store) PutAsset(ctx context.Context, asset ledger.Asset) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertAssetSQL,
		asset.ID,
		asset.Decimals,
		asset.MinStake.String(),
		asset.MinCoverage.String(),
		asset.MaxCoverage.String(),
		asset.YieldVenue,
		asset.Enabled,
	)
	if execErr != nil {
		return fmt.Errorf("upsert asset: %w", execErr)
	}
	return nil
}

// ListAssets lists all configured assets.
func (s *Store) ListAssets(ctx context.Context) ([]ledger.Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]ledger.Asset, 0)
	for rows.Next() {
		asset, scanErr := scanAsset(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// GetAccount returns the insurer's account, zero-valued when absent.
func (s *Store) GetAccount(ctx context.Context, insurer, asset string) (ledger.Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return ledger.Account{}, err
	}
	acct, err := scanAccount(pool.QueryRow(ctx, getAccountSQL, insurer, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{
			Insurer:        insurer,
			Asset:          asset,
			Staked:         decimal.Zero,
			Locked:         decimal.Zero,
			RewardsAccrued: decimal.Zero,
			VenueShares:    decimal.Zero,
			VenuePrincipal: decimal.Zero,
		}, nil
	}
	return acct, err
}

// PutAccount inserts or replaces an account row.
func (s *Store) PutAccount(ctx context.Context, account ledger.Account) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertAccountSQL,
		account.Insurer,
		account.Asset,
		account.Staked.String(),
		account.Locked.String(),
		account.RewardsAccrued.String(),
		account.VenueShares.String(),
		account.VenuePrincipal.String(),
		account.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert account: %w", execErr)
	}
	return nil
}

// ListAccounts lists insurer accounts for one asset.
func (s *Store) ListAccounts(ctx context.Context, asset string) ([]ledger.Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listAccountsSQL, asset)
	if queryErr != nil {
		return nil, fmt.Errorf("list accounts: %w", queryErr)
	}
	defer rows.Close()

	accounts := make([]ledger.Account, 0)
	for rows.Next() {
		acct, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// CreatePolicy inserts a new policy row.
func (s *Store) CreatePolicy(ctx context.Context, policy ledger.Policy) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertPolicySQL,
		policy.ID,
		policy.Holder,
		policy.Insurer,
		policy.Asset,
		policy.Coverage.String(),
		policy.Premium.String(),
		policy.IssuedAt,
		int64(policy.Duration/time.Second),
		string(policy.Status),
	)
	if execErr != nil {
		return fmt.Errorf("insert policy: %w", execErr)
	}
	return nil
}

// GetPolicy fetches one policy.
func (s *Store) GetPolicy(ctx context.Context, id string) (ledger.Policy, error) {
	pool, err := s.getPool()
	if err != nil {
		return ledger.Policy{}, err
	}
	policy, err := scanPolicy(pool.QueryRow(ctx, getPolicySQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Policy{}, ledger.ErrPolicyNotFound
	}
	return policy, err
}

// UpdatePolicy replaces the mutable columns of a policy row.
func (s *Store) UpdatePolicy(ctx context.Context, policy ledger.Policy) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updatePolicySQL,
		policy.ID,
		policy.Coverage.String(),
		policy.Premium.String(),
		string(policy.Status),
	)
	if execErr != nil {
		return fmt.Errorf("update policy: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ledger.ErrPolicyNotFound
	}
	return nil
}

// ListPoliciesByHolder lists a holder's policies, oldest first.
func (s *Store) ListPoliciesByHolder(ctx context.Context, holder string) ([]ledger.Policy, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listPoliciesByHolderSQL, holder)
	if queryErr != nil {
		return nil, fmt.Errorf("list policies by holder: %w", queryErr)
	}
	defer rows.Close()

	policies := make([]ledger.Policy, 0)
	for rows.Next() {
		policy, scanErr := scanPolicy(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

// ListExpiredActive lists active policies whose cover lapsed by now.
func (s *Store) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]ledger.Policy, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listExpiredActiveSQL, now, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list expired policies: %w", queryErr)
	}
	defer rows.Close()

	policies := make([]ledger.Policy, 0)
	for rows.Next() {
		policy, scanErr := scanPolicy(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

// GetTreasury returns the protocol treasury balance for an asset.
func (s *Store) GetTreasury(ctx context.Context, asset string) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}
	var balanceStr string
	if scanErr := pool.QueryRow(ctx, getTreasurySQL, asset).Scan(&balanceStr); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get treasury: %w", scanErr)
	}
	balance, convErr := decimal.NewFromString(balanceStr)
	if convErr != nil {
		return decimal.Zero, fmt.Errorf("parse treasury balance: %w", convErr)
	}
	return balance, nil
}

// AddTreasury credits the protocol treasury for an asset.
func (s *Store) AddTreasury(ctx context.Context, asset string, amount decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, addTreasurySQL, asset, amount.String()); execErr != nil {
		return fmt.Errorf("add treasury: %w", execErr)
	}
	return nil
}

func scanAsset(row pgx.Row) (ledger.Asset, error) {
	var (
		asset       ledger.Asset
		minStake    string
		minCoverage string
		maxCoverage string
	)
	if err := row.Scan(
		&asset.ID,
		&asset.Decimals,
		&minStake,
		&minCoverage,
		&maxCoverage,
		&asset.YieldVenue,
		&asset.Enabled,
	); err != nil {
		return ledger.Asset{}, err
	}

	var convErr error
	if asset.MinStake, convErr = decimal.NewFromString(minStake); convErr != nil {
		return ledger.Asset{}, fmt.Errorf("parse min stake: %w", convErr)
	}
	if asset.MinCoverage, convErr = decimal.NewFromString(minCoverage); convErr != nil {
		return ledger.Asset{}, fmt.Errorf("parse min coverage: %w", convErr)
	}
	if asset.MaxCoverage, convErr = decimal.NewFromString(maxCoverage); convErr != nil {
		return ledger.Asset{}, fmt.Errorf("parse max coverage: %w", convErr)
	}
	return asset, nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		acct      ledger.Account
		staked    string
		locked    string
		rewards   string
		shares    string
		principal string
	)
	if err := row.Scan(
		&acct.Insurer,
		&acct.Asset,
		&staked,
		&locked,
		&rewards,
		&shares,
		&principal,
		&acct.UpdatedAt,
	); err != nil {
		return ledger.Account{}, err
	}

	var convErr error
	if acct.Staked, convErr = decimal.NewFromString(staked); convErr != nil {
		return ledger.Account{}, fmt.Errorf("parse staked: %w", convErr)
	}
	if acct.Locked, convErr = decimal.NewFromString(locked); convErr != nil {
		return ledger.Account{}, fmt.Errorf("parse locked: %w", convErr)
	}
	if acct.RewardsAccrued, convErr = decimal.NewFromString(rewards); convErr != nil {
		return ledger.Account{}, fmt.Errorf("parse rewards: %w", convErr)
	}
	if acct.VenueShares, convErr = decimal.NewFromString(shares); convErr != nil {
		return ledger.Account{}, fmt.Errorf("parse venue shares: %w", convErr)
	}
	if acct.VenuePrincipal, convErr = decimal.NewFromString(principal); convErr != nil {
		return ledger.Account{}, fmt.Errorf("parse venue principal: %w", convErr)
	}
	return acct, nil
}

func scanPolicy(row pgx.Row) (ledger.Policy, error) {
	var (
		policy   ledger.Policy
		coverage string
		premium  string
		seconds  int64
		status   string
	)
	if err := row.Scan(
		&policy.ID,
		&policy.Holder,
		&policy.Insurer,
		&policy.Asset,
		&coverage,
		&premium,
		&policy.IssuedAt,
		&seconds,
		&status,
	); err != nil {
		return ledger.Policy{}, err
	}

	var convErr error
	if policy.Coverage, convErr = decimal.NewFromString(coverage); convErr != nil {
		return ledger.Policy{}, fmt.Errorf("parse coverage: %w", convErr)
	}
	if policy.Premium, convErr = decimal.NewFromString(premium); convErr != nil {
		return ledger.Policy{}, fmt.Errorf("parse premium: %w", convErr)
	}
	policy.Duration = time.Duration(seconds) * time.Second
	policy.Status = ledger.PolicyStatus(status)
	return policy, nil
}

var _ ledger.Store = (*Store)(nil)

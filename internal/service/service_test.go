package service

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depegshield/internal/claims"
	"depegshield/internal/ledger"
	"depegshield/internal/oracle"
	"depegshield/internal/premium"
	"depegshield/internal/storage"
)

type memoryHistory struct {
	points []storage.PricePoint
}

func (m *memoryHistory) AppendPricePoint(_ context.Context, p storage.PricePoint) error {
	m.points = append(m.points, p)
	return nil
}

type fakeLocker struct {
	held    bool
	unlocks int
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if f.held {
		return nil, false, nil
	}
	return func() { f.unlocks++ }, true, nil
}

// faultyVenue accepts deposits but refuses withdrawals while fail is set,
// modelling a lending pool that is temporarily offline.
type faultyVenue struct {
	fail bool
}

func (v *faultyVenue) Deposit(context.Context, string, decimal.Decimal) error { return nil }

func (v *faultyVenue) Withdraw(context.Context, string, decimal.Decimal) error {
	if v.fail {
		return errors.New("venue offline")
	}
	return nil
}

func (v *faultyVenue) ExchangeRate(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

type fixture struct {
	svc     *Service
	ledger  *ledger.Service
	engine  *claims.Engine
	signer  *oracle.Signer
	history *memoryHistory
	locker  *fakeLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	lgr := ledger.New(ledger.NewMemoryStore(), nil, ledger.Options{}, zerolog.Nop())
	require.NoError(t, lgr.AddAsset(ctx, ledger.Asset{
		ID:          "USDX",
		Decimals:    18,
		MinStake:    decimal.NewFromInt(1),
		MinCoverage: decimal.NewFromInt(100),
		MaxCoverage: decimal.NewFromInt(100000),
	}))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := oracle.NewSigner(hex.EncodeToString(crypto.FromECDSA(key)))
	require.NoError(t, err)

	engine := claims.NewEngine(claims.NewMemoryStore(), lgr, nil, claims.Options{ExpectedSigner: signer.Address()}, zerolog.Nop())
	require.NoError(t, engine.ConfigureStablecoin(ctx, "USDX", "feed-usdx", decimal.RequireFromString("0.95"), decimal.NewFromInt(1), 100))

	history := &memoryHistory{}
	locker := &fakeLocker{}
	svc := New(nil, lgr, engine, premium.NewCalculator(), history, locker, Options{LockKey: 42, SweepBatch: 10}, zerolog.Nop())

	return &fixture{svc: svc, ledger: lgr, engine: engine, signer: signer, history: history, locker: locker}
}

func TestPurchasePolicyQuotesAndLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.ledger.Stake(ctx, "ins", "USDX", decimal.NewFromInt(5000)))

	policy, err := f.svc.PurchasePolicy(ctx, "holder", "ins", "USDX", decimal.NewFromInt(1000), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyActive, policy.Status)
	// 200 bps of 1000.
	assert.True(t, policy.Premium.Equal(decimal.NewFromInt(20)), "premium = %s", policy.Premium)

	locked, err := f.ledger.LockedCollateral(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, locked.Equal(decimal.NewFromInt(1000)))

	// 80% of the premium lands as insurer rewards.
	acct, err := f.ledger.Account(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, acct.RewardsAccrued.Equal(decimal.NewFromInt(16)), "rewards = %s", acct.RewardsAccrued)
}

func TestPurchasePolicyRejectsUnpriceableDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Stake(ctx, "ins", "USDX", decimal.NewFromInt(5000)))

	_, err := f.svc.PurchasePolicy(ctx, "holder", "ins", "USDX", decimal.NewFromInt(1000), 400*24*time.Hour)
	require.ErrorIs(t, err, premium.ErrNoTier)

	// Nothing was locked.
	locked, err := f.ledger.LockedCollateral(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, locked.IsZero())
}

func TestPublishQuoteArchivesHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	quote := oracle.Quote{
		Asset:     "USDX",
		Price:     decimal.RequireFromString("0.998"),
		Timestamp: time.Now().UTC(),
		Heartbeat: time.Minute,
		Source:    "chain",
	}
	sig, err := f.signer.Sign(quote)
	require.NoError(t, err)
	quote.Signature = sig

	require.NoError(t, f.svc.PublishQuote(ctx, quote))

	require.Len(t, f.history.points, 1)
	assert.Equal(t, "USDX", f.history.points[0].Asset)
	assert.True(t, f.history.points[0].Price.Equal(quote.Price))

	price, err := f.engine.UpdateAndGetPrice(ctx, "USDX")
	require.NoError(t, err)
	assert.True(t, price.Equal(quote.Price))
}

func TestSweepExpiresAndSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.ledger.Stake(ctx, "ins", "USDX", decimal.NewFromInt(5000)))

	// A short-lived policy created directly against the ledger.
	policy, err := f.ledger.CreatePolicy(ctx, "holder", "ins", "USDX", decimal.NewFromInt(1000), decimal.NewFromInt(5), time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, f.svc.Sweep(ctx, time.Now()))
	assert.Equal(t, 1, f.locker.unlocks)

	got, err := f.ledger.GetPolicy(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyExpired, got.Status)

	// While another instance holds the lock the sweep is a no-op.
	f.locker.held = true
	require.NoError(t, f.svc.Sweep(ctx, time.Now()))
	assert.Equal(t, 1, f.locker.unlocks)
}

// An approved claim whose payout fails transiently must stay payable even
// after the policy matures: the sweep must not expire a policy that still
// carries an open claim.
func TestSweepKeepsApprovedClaimPayable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	venue := &faultyVenue{}
	f.ledger.RegisterVenue("vault", venue)
	require.NoError(t, f.ledger.SetAssetVenue(ctx, "USDX", "vault"))
	require.NoError(t, f.ledger.Stake(ctx, "ins", "USDX", decimal.NewFromInt(5000)))

	policy, err := f.ledger.CreatePolicy(ctx, "holder", "ins", "USDX", decimal.NewFromInt(1000), decimal.NewFromInt(5), 100*time.Millisecond)
	require.NoError(t, err)

	quote := oracle.Quote{
		Asset:     "USDX",
		Price:     decimal.RequireFromString("0.90"),
		Timestamp: time.Now().UTC(),
		Heartbeat: time.Minute,
		Source:    "chain",
	}
	sig, err := f.signer.Sign(quote)
	require.NoError(t, err)
	quote.Signature = sig
	require.NoError(t, f.svc.PublishQuote(ctx, quote))

	claim, err := f.engine.SubmitClaim(ctx, "holder", policy.ID, decimal.NewFromInt(1000))
	require.NoError(t, err)

	// The venue is offline, so the claim is approved but the payout fails.
	venue.fail = true
	_, err = f.engine.ProcessClaim(ctx, claim.ID)
	require.Error(t, err)

	got, err := f.engine.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.Equal(t, claims.StatusApproved, got.Status)

	// The policy matures while the claim is still pending. The sweep must
	// leave it active rather than expiring it out from under the payout.
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, f.svc.Sweep(ctx, time.Now()))

	p, err := f.ledger.GetPolicy(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyActive, p.Status)

	// Once the venue recovers the next sweep pays the claim out.
	venue.fail = false
	require.NoError(t, f.svc.Sweep(ctx, time.Now()))

	got, err = f.engine.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, claims.StatusPaid, got.Status)

	p, err = f.ledger.GetPolicy(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PolicyClaimed, p.Status)
}

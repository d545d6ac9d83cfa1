package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := New(store, nil, Options{}, zerolog.Nop())
	require.NoError(t, svc.AddAsset(context.Background(), Asset{
		ID:          "USDX",
		Decimals:    18,
		MinStake:    decimal.NewFromInt(10),
		MinCoverage: decimal.NewFromInt(100),
		MaxCoverage: decimal.NewFromInt(100000),
	}))
	return svc, store
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStakeAndWithdrawBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Stake(ctx, "ins", "USDX", d("5")), ErrBelowMinimumStake)
	require.ErrorIs(t, svc.Stake(ctx, "ins", "USDX", d("-10")), ErrInvalidAmount)
	require.ErrorIs(t, svc.Stake(ctx, "ins", "UNKNOWN", d("100")), ErrUnsupportedAsset)

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("100")))

	require.ErrorIs(t, svc.Withdraw(ctx, "ins", "USDX", d("150")), ErrInsufficientFreeCollateral)
	require.NoError(t, svc.Withdraw(ctx, "ins", "USDX", d("40")))

	avail, err := svc.AvailableCollateral(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, avail.Equal(d("60")), "available = %s", avail)
}

func TestLockNeverExceedsStaked(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("100")))
	require.NoError(t, svc.Lock(ctx, "ins", "USDX", d("80")))
	require.ErrorIs(t, svc.Lock(ctx, "ins", "USDX", d("30")), ErrInsufficientCollateral)

	// Locked collateral is not withdrawable.
	require.ErrorIs(t, svc.Withdraw(ctx, "ins", "USDX", d("30")), ErrInsufficientFreeCollateral)

	require.ErrorIs(t, svc.Unlock(ctx, "ins", "USDX", d("90")), ErrInsufficientCollateral)
	require.NoError(t, svc.Unlock(ctx, "ins", "USDX", d("80")))
	require.NoError(t, svc.Withdraw(ctx, "ins", "USDX", d("100")))

	acct, err := svc.Account(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, acct.Staked.IsZero())
	assert.True(t, acct.Locked.IsZero())
}

func TestPolicyLifecycleAndSettlement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("5000")))

	policy, err := svc.CreatePolicy(ctx, "holder", "ins", "USDX", d("1000"), d("20"), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, PolicyActive, policy.Status)

	locked, err := svc.LockedCollateral(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, locked.Equal(d("1000")))

	avail, err := svc.AvailableCollateral(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, avail.Equal(d("4000")))

	payout, err := svc.SettleClaim(ctx, policy.ID, "holder")
	require.NoError(t, err)
	assert.True(t, payout.Equal(d("1000")))

	acct, err := svc.Account(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, acct.Staked.Equal(d("4000")))
	assert.True(t, acct.Locked.IsZero())

	// A retired policy cannot pay twice.
	_, err = svc.SettleClaim(ctx, policy.ID, "holder")
	require.ErrorIs(t, err, ErrPolicyInactive)
}

func TestCreatePolicyValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("5000")))

	_, err := svc.CreatePolicy(ctx, "holder", "ins", "USDX", d("50"), d("1"), time.Hour)
	require.ErrorIs(t, err, ErrCoverageOutOfBounds)

	_, err = svc.CreatePolicy(ctx, "holder", "ins", "USDX", d("200000"), d("1"), time.Hour)
	require.ErrorIs(t, err, ErrCoverageOutOfBounds)

	_, err = svc.CreatePolicy(ctx, "holder", "ins", "USDX", d("1000"), d("1"), 0)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = svc.CreatePolicy(ctx, "holder", "ins", "USDX", d("6000"), d("1"), time.Hour)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
}

func TestExpireMatured(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("5000")))

	policy, err := svc.CreatePolicy(ctx, "holder", "ins", "USDX", d("1000"), d("20"), time.Millisecond)
	require.NoError(t, err)

	require.ErrorIs(t, svc.ExpirePolicy(ctx, "missing"), ErrPolicyNotFound)

	time.Sleep(5 * time.Millisecond)

	// A matured policy named in the skip set is left untouched.
	skipped, err := svc.ExpireMatured(ctx, 10, map[string]bool{policy.ID: true})
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)

	active, err := svc.GetPolicy(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, PolicyActive, active.Status)

	expired, err := svc.ExpireMatured(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := svc.GetPolicy(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, PolicyExpired, got.Status)

	locked, err := svc.LockedCollateral(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, locked.IsZero())

	// Expiry is idempotent per policy.
	require.ErrorIs(t, svc.ExpirePolicy(ctx, policy.ID), ErrPolicyInactive)
}

func TestExpireNotMatured(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("5000")))
	policy, err := svc.CreatePolicy(ctx, "holder", "ins", "USDX", d("1000"), d("20"), time.Hour)
	require.NoError(t, err)

	require.ErrorIs(t, svc.ExpirePolicy(ctx, policy.ID), ErrPolicyNotMatured)
}

func TestDistributePremiumSplit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.DistributePremium(ctx, "ins", "USDX", decimal.Zero), ErrPremiumTooLow)

	require.NoError(t, svc.DistributePremium(ctx, "ins", "USDX", d("100")))

	acct, err := svc.Account(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, acct.RewardsAccrued.Equal(d("80")), "rewards = %s", acct.RewardsAccrued)

	treasury, err := svc.TreasuryBalance(ctx, "USDX")
	require.NoError(t, err)
	assert.True(t, treasury.Equal(d("20")), "treasury = %s", treasury)
}

func TestClaimRewardsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.DistributePremium(ctx, "ins", "USDX", d("100")))

	amount, err := svc.ClaimRewards(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, amount.Equal(d("80")))

	_, err = svc.ClaimRewards(ctx, "ins", "USDX")
	require.ErrorIs(t, err, ErrNoRewards)
}

func TestPauseBlocksMutations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("100")))

	svc.Pause()
	require.ErrorIs(t, svc.Stake(ctx, "ins", "USDX", d("100")), ErrPaused)
	require.ErrorIs(t, svc.Withdraw(ctx, "ins", "USDX", d("10")), ErrPaused)
	_, err := svc.CreatePolicy(ctx, "holder", "ins", "USDX", d("100"), d("1"), time.Hour)
	require.ErrorIs(t, err, ErrPaused)

	svc.Unpause()
	require.NoError(t, svc.Withdraw(ctx, "ins", "USDX", d("10")))
}

func TestEmergencyWithdrawGated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("1000")))
	require.NoError(t, svc.Lock(ctx, "ins", "USDX", d("400")))

	_, err := svc.EmergencyWithdraw(ctx, "ins", "USDX")
	require.ErrorIs(t, err, ErrEmergencyOnly)

	svc.SetEmergencyMode(true)
	amount, err := svc.EmergencyWithdraw(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, amount.Equal(d("1000")))

	acct, err := svc.Account(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, acct.Staked.IsZero())
	assert.True(t, acct.Locked.IsZero())

	_, err = svc.EmergencyWithdraw(ctx, "ins", "USDX")
	require.ErrorIs(t, err, ErrNothingStaked)
}

func TestYieldAccrualAndWithdrawal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	venue := NewStaticVenue()
	svc.RegisterVenue("static", venue)
	require.NoError(t, svc.SetAssetVenue(ctx, "USDX", "static"))

	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("100")))

	pending, err := svc.PendingYield(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, pending.IsZero())

	venue.SetRate("USDX", d("1.1"))

	pending, err = svc.PendingYield(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, pending.Equal(d("10")), "pending = %s", pending)

	// Yield is folded in before the availability check, so the full
	// yield-bearing balance is withdrawable.
	require.NoError(t, svc.Withdraw(ctx, "ins", "USDX", d("105")))

	acct, err := svc.Account(ctx, "ins", "USDX")
	require.NoError(t, err)
	assert.True(t, acct.Staked.Equal(d("5")), "staked = %s", acct.Staked)
}

func TestDisabledAssetRejectsStake(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetAssetEnabled(ctx, "USDX", false))
	require.ErrorIs(t, svc.Stake(ctx, "ins", "USDX", d("100")), ErrUnsupportedAsset)

	require.NoError(t, svc.SetAssetEnabled(ctx, "USDX", true))
	require.NoError(t, svc.Stake(ctx, "ins", "USDX", d("100")))
}

func TestAddAssetTwice(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AddAsset(context.Background(), Asset{ID: "USDX", Decimals: 18})
	require.ErrorIs(t, err, ErrAssetExists)
}

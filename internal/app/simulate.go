package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"depegshield/internal/audit"
	"depegshield/internal/claims"
	"depegshield/internal/ledger"
	"depegshield/internal/oracle"
	"depegshield/internal/premium"
	"depegshield/internal/service"
)

// Simulate replays a full depeg scenario on in-memory state: stake, buy
// cover, publish a signed quote at the given price, then submit and
// process a claim. Nothing touches the database or the network.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Asset == "" {
		opts.Asset = "USDX"
	}
	price, err := parseOrDefault(opts.Price, "0.92")
	if err != nil {
		return fmt.Errorf("parse --price: %w", err)
	}
	coverage, err := parseOrDefault(opts.Coverage, "1000")
	if err != nil {
		return fmt.Errorf("parse --coverage: %w", err)
	}
	stake, err := parseOrDefault(opts.Stake, "5000")
	if err != nil {
		return fmt.Errorf("parse --stake: %w", err)
	}
	if opts.Duration <= 0 {
		opts.Duration = 30 * 24 * time.Hour
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate simulation key: %w", err)
	}
	signer, err := oracle.NewSigner(hex.EncodeToString(crypto.FromECDSA(key)))
	if err != nil {
		return fmt.Errorf("simulation signer: %w", err)
	}

	sink := audit.NewMemorySink()
	lgr := ledger.New(ledger.NewMemoryStore(), sink, ledger.Options{
		RewardShareBps: a.Config.Ledger.RewardShareBps,
	}, a.Logger)

	asset := ledger.Asset{
		ID:          opts.Asset,
		Decimals:    18,
		MinStake:    decimal.NewFromInt(1),
		MinCoverage: decimal.NewFromInt(1),
		MaxCoverage: coverage.Mul(decimal.NewFromInt(10)),
		Enabled:     true,
	}
	if err := lgr.AddAsset(ctx, asset); err != nil {
		return err
	}

	engine := claims.NewEngine(claims.NewMemoryStore(), lgr, sink, claims.Options{
		ExpectedSigner: signer.Address(),
	}, a.Logger)
	if err := engine.ConfigureStablecoin(ctx, opts.Asset, "sim-feed", decimal.RequireFromString("0.95"), decimal.NewFromInt(1), 100); err != nil {
		return err
	}

	svc := service.New(nil, lgr, engine, premium.NewCalculator(), nil, nil, service.Options{}, a.Logger)

	const (
		insurer = "sim-insurer"
		holder  = "sim-holder"
	)

	if err := lgr.Stake(ctx, insurer, opts.Asset, stake); err != nil {
		return fmt.Errorf("stake: %w", err)
	}

	policy, err := svc.PurchasePolicy(ctx, holder, insurer, opts.Asset, coverage, opts.Duration)
	if err != nil {
		return fmt.Errorf("purchase policy: %w", err)
	}

	quote := oracle.Quote{
		Asset:     opts.Asset,
		Price:     price,
		Timestamp: time.Now().UTC(),
		Heartbeat: time.Minute,
		Source:    "simulated",
	}
	sig, err := signer.Sign(quote)
	if err != nil {
		return fmt.Errorf("sign quote: %w", err)
	}
	quote.Signature = sig

	if err := engine.PublishQuote(ctx, quote); err != nil {
		return err
	}

	claim, err := engine.SubmitClaim(ctx, holder, policy.ID, coverage)
	if err != nil {
		return fmt.Errorf("submit claim: %w", err)
	}

	processed, procErr := engine.ProcessClaim(ctx, claim.ID)
	acct, acctErr := lgr.Account(ctx, insurer, opts.Asset)
	if acctErr != nil {
		return acctErr
	}

	fmt.Fprintf(os.Stdout, "asset:          %s\n", opts.Asset)
	fmt.Fprintf(os.Stdout, "price:          %s\n", price)
	fmt.Fprintf(os.Stdout, "policy:         %s (premium %s)\n", policy.ID, policy.Premium)
	fmt.Fprintf(os.Stdout, "claim:          %s\n", processed.Status)
	if !processed.DecisionPrice.IsZero() {
		fmt.Fprintf(os.Stdout, "decision price: %s\n", processed.DecisionPrice)
	}
	fmt.Fprintf(os.Stdout, "insurer staked: %s (locked %s, rewards %s)\n",
		acct.Staked, acct.Locked, acct.RewardsAccrued)

	if procErr != nil && !errors.Is(procErr, claims.ErrClaimFinal) {
		return fmt.Errorf("process claim: %w", procErr)
	}
	return nil
}

func parseOrDefault(v, fallback string) (decimal.Decimal, error) {
	if v == "" {
		v = fallback
	}
	return decimal.NewFromString(v)
}

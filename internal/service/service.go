// Package service glues the core components together: policy purchase on
// top of premium quoting, and the periodic maintenance sweep that expires
// matured policies and retries approved-but-unpaid claims.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"depegshield/internal/claims"
	"depegshield/internal/ledger"
	"depegshield/internal/oracle"
	"depegshield/internal/premium"
	"depegshield/internal/scheduler"
	"depegshield/internal/storage"
)

// HistoryStore records accepted price observations for reporting.
type HistoryStore interface {
	AppendPricePoint(ctx context.Context, point storage.PricePoint) error
}

// AdvisoryLocker exposes single-instance locking helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Options tune the orchestration layer.
type Options struct {
	LockKey    int64
	SweepBatch int
}

// Service orchestrates the ledger, claims engine, and premium table.
type Service struct {
	scheduler *scheduler.Scheduler
	ledger    *ledger.Service
	engine    *claims.Engine
	rates     *premium.Calculator
	history   HistoryStore
	locker    AdvisoryLocker
	logger    zerolog.Logger

	lockKey    int64
	sweepBatch int
}

// New constructs the orchestration service. History and locker are
// optional; without a locker every instance sweeps.
func New(sched *scheduler.Scheduler, lgr *ledger.Service, engine *claims.Engine, rates *premium.Calculator, history HistoryStore, locker AdvisoryLocker, opts Options, logger zerolog.Logger) *Service {
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	return &Service{
		scheduler:  sched,
		ledger:     lgr,
		engine:     engine,
		rates:      rates,
		history:    history,
		locker:     locker,
		logger:     logger.With().Str("component", "service").Logger(),
		lockKey:    opts.LockKey,
		sweepBatch: opts.SweepBatch,
	}
}

// PurchasePolicy quotes the premium for the requested cover, issues the
// policy against the insurer's collateral, and distributes the premium.
func (s *Service) PurchasePolicy(ctx context.Context, holder, insurer, asset string, coverage decimal.Decimal, duration time.Duration) (ledger.Policy, error) {
	quoted, err := s.rates.Quote(coverage, duration)
	if err != nil {
		return ledger.Policy{}, fmt.Errorf("quote premium: %w", err)
	}

	policy, err := s.ledger.CreatePolicy(ctx, holder, insurer, asset, coverage, quoted, duration)
	if err != nil {
		return ledger.Policy{}, err
	}

	if err := s.ledger.DistributePremium(ctx, insurer, asset, quoted); err != nil {
		// The cover is live and the collateral is locked; premium credit
		// is re-attempted out of band rather than voiding the policy.
		s.logger.Error().Err(err).Str("policy", policy.ID).Msg("premium distribution failed")
		return policy, fmt.Errorf("distribute premium: %w", err)
	}

	s.logger.Info().
		Str("policy", policy.ID).
		Str("holder", holder).
		Str("asset", asset).
		Str("coverage", coverage.String()).
		Str("premium", quoted.String()).
		Msg("policy purchased")
	return policy, nil
}

// PublishQuote forwards accepted-candidate quotes to the claims engine and
// archives them for reporting.
func (s *Service) PublishQuote(ctx context.Context, quote oracle.Quote) error {
	if err := s.engine.PublishQuote(ctx, quote); err != nil {
		return err
	}
	if s.history != nil {
		point := storage.PricePoint{
			Asset:     quote.Asset,
			Price:     quote.Price,
			Source:    quote.Source,
			Timestamp: quote.Timestamp,
		}
		if err := s.history.AppendPricePoint(ctx, point); err != nil {
			s.logger.Error().Err(err).Str("asset", quote.Asset).Msg("failed to archive price point")
		}
	}
	return nil
}

// MarkStale forwards the stale signal to the claims engine.
func (s *Service) MarkStale(ctx context.Context, asset string) error {
	return s.engine.MarkStale(ctx, asset)
}

var _ oracle.Publisher = (*Service)(nil)

// Run begins the aligned maintenance sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Sweep)
}

// Sweep executes one maintenance pass: approved-but-unpaid claims are
// retried first, then matured policies are expired. Retrying first, and
// keeping expiry away from policies with an open claim, means a payout
// that failed transiently stays payable on a later pass.
func (s *Service) Sweep(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	paid, err := s.engine.RetryApproved(ctx, s.sweepBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("claim retry sweep failed")
	}

	// Expiry only runs when we know which policies still carry an open
	// claim; expiring one of those would strand its payout.
	expired := 0
	open, err := s.engine.OpenClaimPolicies(ctx, s.sweepBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("open claim lookup failed, expiry deferred")
	} else {
		expired, err = s.ledger.ExpireMatured(ctx, s.sweepBatch, open)
		if err != nil {
			s.logger.Error().Err(err).Msg("expire sweep failed")
		}
	}

	if expired > 0 || paid > 0 {
		s.logger.Info().
			Time("bucket", bucket).
			Int("policies_expired", expired).
			Int("claims_paid", paid).
			Msg("maintenance sweep completed")
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

package oracle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"depegshield/internal/alerting"
)

// AggregatorOptions tune publishing behaviour.
type AggregatorOptions struct {
	// MinUpdateInterval is the rate-limit floor between publishes for one
	// asset.
	MinUpdateInterval time.Duration
	// MaxDeviationBps is the advisory single-step deviation bound; a
	// larger move is rejected before publishing.
	MaxDeviationBps int64
	// MaxFailuresPerHour trips the per-asset circuit breaker.
	MaxFailuresPerHour int
	// StaleAfterFailures is how many consecutive failed attempts flag the
	// asset stale at the consumer boundary.
	StaleAfterFailures int
	// EmergencyContacts receive circuit-breaker and health alerts.
	EmergencyContacts []string
}

// Aggregator runs one update loop per configured asset, each firing at
// half the asset's heartbeat so a single dropped attempt still leaves one
// fresh value inside the heartbeat window.
type Aggregator struct {
	opts      AggregatorOptions
	feeds     []FeedConfig
	failover  *Failover
	signer    *Signer
	publisher Publisher
	notifier  alerting.Notifier
	monitor   *HealthMonitor
	logger    zerolog.Logger

	limiter  *keyedLimiter
	failures *failureWindow

	mu          sync.RWMutex
	last        map[string]Quote
	consecutive map[string]int
	halted      map[string]bool

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewAggregator wires the aggregator. monitor and notifier may be nil.
func NewAggregator(feeds []FeedConfig, failover *Failover, signer *Signer, publisher Publisher, monitor *HealthMonitor, notifier alerting.Notifier, opts AggregatorOptions, logger zerolog.Logger) *Aggregator {
	if opts.MinUpdateInterval <= 0 {
		opts.MinUpdateInterval = 5 * time.Second
	}
	if opts.MaxDeviationBps <= 0 {
		opts.MaxDeviationBps = 1000
	}
	if opts.MaxFailuresPerHour <= 0 {
		opts.MaxFailuresPerHour = 10
	}
	if opts.StaleAfterFailures <= 0 {
		opts.StaleAfterFailures = 3
	}
	return &Aggregator{
		opts:        opts,
		feeds:       feeds,
		failover:    failover,
		signer:      signer,
		publisher:   publisher,
		monitor:     monitor,
		notifier:    notifier,
		logger:      logger.With().Str("component", "aggregator").Logger(),
		limiter:     newKeyedLimiter(opts.MinUpdateInterval),
		failures:    newFailureWindow(time.Hour, opts.MaxFailuresPerHour),
		last:        make(map[string]Quote),
		consecutive: make(map[string]int),
		halted:      make(map[string]bool),
	}
}

// Start launches the health monitor and one update loop per asset. It
// returns immediately; loops run until Stop or ctx cancellation.
func (a *Aggregator) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, a.cancel = context.WithCancel(ctx)

	if a.monitor != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.monitor.Run(ctx)
		}()
	}

	for _, feed := range a.feeds {
		feed := feed
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.runFeed(ctx, feed)
		}()
	}

	a.logger.Info().Int("feeds", len(a.feeds)).Msg("price updates started")
	return nil
}

// Stop cancels every loop and waits for them to drain. No partially
// published quote survives: publishes happen atomically inside a loop
// iteration, never across one.
func (a *Aggregator) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info().Msg("price updates stopped")
}

func (a *Aggregator) runFeed(ctx context.Context, feed FeedConfig) {
	// Half the heartbeat so a dropped attempt still meets the window.
	interval := feed.Heartbeat / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := a.logger.With().Str("asset", feed.AssetID).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.updateAsset(ctx, feed); err != nil {
				logger.Warn().Err(err).Msg("price update attempt failed")
			}
		}
	}
}

// updateAsset performs one independent update attempt: rate limit and
// breaker gates, failover fetch, advisory validation, sign, publish.
func (a *Aggregator) updateAsset(ctx context.Context, feed FeedConfig) error {
	if !a.limiter.Allow(feed.AssetID) {
		return ErrRateLimited
	}

	now := time.Now().UTC()
	if a.failures.Tripped(feed.AssetID, now) {
		a.haltAsset(ctx, feed.AssetID)
		return ErrCircuitOpen
	}
	a.clearHalt(feed.AssetID)

	price, _, source, err := a.failover.Fetch(ctx, feed.FeedID)
	if err != nil {
		a.recordFailure(ctx, feed.AssetID, err)
		return err
	}

	if last, ok := a.lastQuote(feed.AssetID); ok {
		if !Validate(price, last.Price, a.opts.MaxDeviationBps) {
			err := fmt.Errorf("%w: %s -> %s", ErrDeviationTooLarge, last.Price, price)
			a.recordFailure(ctx, feed.AssetID, err)
			return err
		}
	}

	quote := Quote{
		Asset:     feed.AssetID,
		Price:     price,
		Timestamp: now,
		Heartbeat: feed.Heartbeat,
		Source:    source,
	}
	quote.Signature, err = a.signer.Sign(quote)
	if err != nil {
		a.recordFailure(ctx, feed.AssetID, err)
		return err
	}

	if err := a.publisher.PublishQuote(ctx, quote); err != nil {
		a.recordFailure(ctx, feed.AssetID, err)
		return fmt.Errorf("publish quote: %w", err)
	}

	a.mu.Lock()
	a.last[feed.AssetID] = quote
	a.consecutive[feed.AssetID] = 0
	a.mu.Unlock()

	a.logger.Debug().Str("asset", feed.AssetID).Str("price", price.String()).Str("source", source).Msg("quote published")
	return nil
}

func (a *Aggregator) recordFailure(ctx context.Context, asset string, cause error) {
	a.failures.Record(asset, time.Now().UTC())

	a.mu.Lock()
	a.consecutive[asset]++
	failures := a.consecutive[asset]
	a.mu.Unlock()

	if failures == a.opts.StaleAfterFailures {
		// After repeated failures the consumer must not keep trusting a
		// silently aging value.
		if err := a.publisher.MarkStale(ctx, asset); err != nil {
			a.logger.Error().Err(err).Str("asset", asset).Msg("failed to mark price stale")
		} else {
			a.logger.Warn().Str("asset", asset).Int("failures", failures).Msg("price marked stale")
		}
		a.notify(ctx, alerting.KindStalePrice, asset,
			fmt.Sprintf("price marked stale after %d consecutive failures: %v", failures, cause))
	}
}

// haltAsset flags a circuit-breaker trip once per open period.
func (a *Aggregator) haltAsset(ctx context.Context, asset string) {
	a.mu.Lock()
	already := a.halted[asset]
	a.halted[asset] = true
	a.mu.Unlock()
	if already {
		return
	}

	if err := a.publisher.MarkStale(ctx, asset); err != nil {
		a.logger.Error().Err(err).Str("asset", asset).Msg("failed to mark price stale on circuit trip")
	}
	a.notify(ctx, alerting.KindCircuitBreaker, asset, "circuit breaker tripped: too many failures this hour")
}

func (a *Aggregator) clearHalt(asset string) {
	a.mu.Lock()
	a.halted[asset] = false
	a.mu.Unlock()
}

// notify delivers an emergency alert; failures are swallowed so they can
// never crash an update loop.
func (a *Aggregator) notify(ctx context.Context, kind, asset, message string) {
	if a.notifier == nil {
		return
	}
	note := alerting.Notification{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Asset:     asset,
		Message:   message,
		Contacts:  a.opts.EmergencyContacts,
	}
	if err := a.notifier.Notify(ctx, note); err != nil {
		a.logger.Warn().Err(err).Str("kind", kind).Msg("emergency notification failed")
	}
}

func (a *Aggregator) lastQuote(asset string) (Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.last[asset]
	return q, ok
}

// LatestQuote returns the most recent published quote for an asset.
func (a *Aggregator) LatestQuote(asset string) (Quote, bool) {
	return a.lastQuote(asset)
}

// FailuresThisHour reports the asset's current failure-window count.
func (a *Aggregator) FailuresThisHour(asset string) int {
	return a.failures.Count(asset, time.Now().UTC())
}

// GetHealth snapshots endpoint health for the oracle boundary.
func (a *Aggregator) GetHealth() []Health {
	return a.failover.Health()
}

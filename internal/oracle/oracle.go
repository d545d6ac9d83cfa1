// Package oracle aggregates upstream stablecoin price feeds into signed,
// freshness-bounded quotes. One update loop runs per asset; endpoints are
// tried in failover order with per-endpoint timeouts and circuit breakers,
// and anomalous prices are rejected before they are ever published.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrAllSourcesUnavailable = errors.New("all price sources unavailable")
	ErrRateLimited           = errors.New("update rate too high for asset")
	ErrCircuitOpen           = errors.New("circuit breaker open for asset")
	ErrDeviationTooLarge     = errors.New("price deviation exceeds maximum")
	ErrAlreadyRunning        = errors.New("aggregator already running")
)

// Quote is a signed, timestamped price observation. Price is canonical
// 18-decimal scale regardless of the upstream feed's precision.
type Quote struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Heartbeat time.Duration   `json:"heartbeat"`
	Source    string          `json:"source"`
	Signature string          `json:"signature"`
}

// FeedConfig binds an asset to its upstream feed and heartbeat.
type FeedConfig struct {
	AssetID   string
	FeedID    string
	Heartbeat time.Duration
}

// Publisher is the consumer boundary the aggregator delivers quotes to.
// The consumer must re-verify signature, freshness, and deviation itself;
// it does not trust the aggregator's advisory validation.
type Publisher interface {
	PublishQuote(ctx context.Context, quote Quote) error
	// MarkStale flags the asset's price as untrustworthy after repeated
	// update failures, instead of letting a silently aging value stand.
	MarkStale(ctx context.Context, asset string) error
}

// EndpointStatus classifies upstream endpoint health.
type EndpointStatus string

const (
	StatusHealthy  EndpointStatus = "healthy"
	StatusDegraded EndpointStatus = "degraded"
	StatusDown     EndpointStatus = "down"
)

// Health is the per-endpoint view returned by GetHealth.
type Health struct {
	Endpoint     string         `json:"endpoint"`
	LastUpdate   time.Time      `json:"lastUpdate"`
	FailureCount uint64         `json:"failureCount"`
	Latency      time.Duration  `json:"latency"`
	Status       EndpointStatus `json:"status"`
}

// Endpoint is one upstream price source.
type Endpoint interface {
	Name() string
	// Fetch returns the feed's price rescaled to 18 decimals and the
	// upstream observation time.
	Fetch(ctx context.Context, feedID string) (decimal.Decimal, time.Time, error)
	// Ping measures reachability for the health monitor.
	Ping(ctx context.Context) error
}

// Validate applies the advisory deviation check: a new price is rejected
// when it moves more than maxDeviationBps away from the previous one. The
// first price for an asset is always accepted.
func Validate(newPrice, oldPrice decimal.Decimal, maxDeviationBps int64) bool {
	if oldPrice.IsZero() {
		return true
	}
	deviation := newPrice.Sub(oldPrice).Abs().
		Mul(decimal.NewFromInt(10000)).
		Div(oldPrice)
	return deviation.LessThanOrEqual(decimal.NewFromInt(maxDeviationBps))
}

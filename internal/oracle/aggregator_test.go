package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	quotes []Quote
	stale  []string
}

func (p *capturePublisher) PublishQuote(_ context.Context, quote Quote) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes = append(p.quotes, quote)
	return nil
}

func (p *capturePublisher) MarkStale(_ context.Context, asset string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stale = append(p.stale, asset)
	return nil
}

func (p *capturePublisher) staleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stale)
}

var testFeed = FeedConfig{AssetID: "USDX", FeedID: "feed-usdx", Heartbeat: time.Minute}

func newTestAggregator(t *testing.T, ep Endpoint, opts AggregatorOptions) (*Aggregator, *capturePublisher, *Signer) {
	t.Helper()
	signer := newSigner(t)
	publisher := &capturePublisher{}
	failover := NewFailover([]Endpoint{ep}, FailoverOptions{}, zerolog.Nop())
	agg := NewAggregator([]FeedConfig{testFeed}, failover, signer, publisher, nil, nil, opts, zerolog.Nop())
	return agg, publisher, signer
}

func TestUpdatePublishesSignedQuote(t *testing.T) {
	ep := &stubEndpoint{name: "primary", price: decimal.RequireFromString("0.9981")}
	agg, publisher, signer := newTestAggregator(t, ep, AggregatorOptions{})

	require.NoError(t, agg.updateAsset(context.Background(), testFeed))

	require.Len(t, publisher.quotes, 1)
	quote := publisher.quotes[0]
	assert.Equal(t, "USDX", quote.Asset)
	assert.Equal(t, "primary", quote.Source)
	assert.Equal(t, time.Minute, quote.Heartbeat)
	assert.True(t, quote.Price.Equal(ep.price))
	require.NoError(t, VerifyQuote(quote, signer.Address()))

	last, ok := agg.LatestQuote("USDX")
	require.True(t, ok)
	assert.Equal(t, quote.Signature, last.Signature)
}

func TestUpdateRateLimited(t *testing.T) {
	ep := &stubEndpoint{name: "primary", price: decimal.NewFromInt(1)}
	agg, publisher, _ := newTestAggregator(t, ep, AggregatorOptions{MinUpdateInterval: time.Minute})

	require.NoError(t, agg.updateAsset(context.Background(), testFeed))
	err := agg.updateAsset(context.Background(), testFeed)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, publisher.quotes, 1)
}

func TestDeviationRejectedThenMarkedStale(t *testing.T) {
	ep := &stubEndpoint{name: "primary", price: decimal.RequireFromString("1.00")}
	agg, publisher, _ := newTestAggregator(t, ep, AggregatorOptions{
		MinUpdateInterval:  time.Millisecond,
		MaxDeviationBps:    1000,
		StaleAfterFailures: 3,
	})

	ctx := context.Background()
	require.NoError(t, agg.updateAsset(ctx, testFeed))

	// A 50% collapse is beyond the advisory bound; each attempt fails and
	// the third consecutive failure flags the price stale downstream.
	ep.price = decimal.RequireFromString("0.50")
	for i := 0; i < 3; i++ {
		time.Sleep(3 * time.Millisecond)
		err := agg.updateAsset(ctx, testFeed)
		require.ErrorIs(t, err, ErrDeviationTooLarge)
	}

	assert.Len(t, publisher.quotes, 1, "rejected prices are never published")
	assert.Equal(t, []string{"USDX"}, publisher.stale)
	assert.Equal(t, 3, agg.FailuresThisHour("USDX"))
}

func TestFetchFailureCountsTowardStale(t *testing.T) {
	ep := &stubEndpoint{name: "primary", err: errors.New("rpc down")}
	agg, publisher, _ := newTestAggregator(t, ep, AggregatorOptions{
		MinUpdateInterval:  time.Millisecond,
		StaleAfterFailures: 2,
		MaxFailuresPerHour: 100,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := agg.updateAsset(ctx, testFeed)
		require.ErrorIs(t, err, ErrAllSourcesUnavailable)
		time.Sleep(3 * time.Millisecond)
	}

	assert.Equal(t, 1, publisher.staleCount(), "stale is flagged once at the threshold")
}

func TestCircuitBreakerHaltsAsset(t *testing.T) {
	ep := &stubEndpoint{name: "primary", err: errors.New("rpc down")}
	agg, publisher, _ := newTestAggregator(t, ep, AggregatorOptions{
		MinUpdateInterval:  time.Millisecond,
		MaxFailuresPerHour: 2,
		StaleAfterFailures: 50,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := agg.updateAsset(ctx, testFeed)
		require.ErrorIs(t, err, ErrAllSourcesUnavailable)
		time.Sleep(3 * time.Millisecond)
	}

	// Budget exceeded: the asset is halted and flagged stale exactly once.
	err := agg.updateAsset(ctx, testFeed)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, publisher.staleCount())

	time.Sleep(3 * time.Millisecond)
	err = agg.updateAsset(ctx, testFeed)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, publisher.staleCount(), "halt alerts fire once per open period")
}

func TestRecoveryAfterDeviationWindow(t *testing.T) {
	ep := &stubEndpoint{name: "primary", price: decimal.RequireFromString("1.00")}
	agg, publisher, _ := newTestAggregator(t, ep, AggregatorOptions{
		MinUpdateInterval: time.Millisecond,
		MaxDeviationBps:   1000,
	})

	ctx := context.Background()
	require.NoError(t, agg.updateAsset(ctx, testFeed))

	// A gradual move inside the bound goes through.
	ep.price = decimal.RequireFromString("0.95")
	time.Sleep(3 * time.Millisecond)
	require.NoError(t, agg.updateAsset(ctx, testFeed))

	assert.Len(t, publisher.quotes, 2)
	assert.True(t, publisher.quotes[1].Price.Equal(ep.price))
}

func TestStartStopLifecycle(t *testing.T) {
	ep := &stubEndpoint{name: "primary", price: decimal.NewFromInt(1)}
	agg, _, _ := newTestAggregator(t, ep, AggregatorOptions{})

	ctx := context.Background()
	require.NoError(t, agg.Start(ctx))
	require.ErrorIs(t, agg.Start(ctx), ErrAlreadyRunning)
	agg.Stop()

	// Stop twice is a no-op.
	agg.Stop()
}

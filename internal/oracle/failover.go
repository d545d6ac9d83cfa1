package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// FailoverOptions tune the endpoint chain.
type FailoverOptions struct {
	// PerEndpointTimeout bounds each individual fetch attempt.
	PerEndpointTimeout time.Duration
	// BreakerCooldown is how long an endpoint's breaker stays open after
	// tripping.
	BreakerCooldown time.Duration
	// BreakerThreshold is the consecutive-failure count that trips an
	// endpoint's breaker.
	BreakerThreshold uint32
}

type endpointState struct {
	endpoint Endpoint
	breaker  *gobreaker.CircuitBreaker

	mu           sync.Mutex
	lastSuccess  time.Time
	failureCount uint64
	latency      time.Duration
	status       EndpointStatus
}

// Failover tries endpoints in priority order and returns the first
// successful fetch. The health monitor may reorder the chain so degraded
// endpoints are tried last, but the configured primary always leads while
// it is healthy.
type Failover struct {
	opts   FailoverOptions
	logger zerolog.Logger

	mu     sync.RWMutex
	states []*endpointState
	order  []int
}

// NewFailover builds the endpoint chain in the given priority order.
func NewFailover(endpoints []Endpoint, opts FailoverOptions, logger zerolog.Logger) *Failover {
	if opts.PerEndpointTimeout <= 0 {
		opts.PerEndpointTimeout = 10 * time.Second
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}

	f := &Failover{
		opts:   opts,
		logger: logger.With().Str("component", "failover").Logger(),
	}
	for i, ep := range endpoints {
		threshold := opts.BreakerThreshold
		settings := gobreaker.Settings{
			Name:    ep.Name(),
			Timeout: opts.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}
		f.states = append(f.states, &endpointState{
			endpoint: ep,
			breaker:  gobreaker.NewCircuitBreaker(settings),
			status:   StatusHealthy,
		})
		f.order = append(f.order, i)
	}
	return f
}

type fetchResult struct {
	price decimal.Decimal
	ts    time.Time
}

// Fetch iterates the chain, applying the per-endpoint timeout and breaker,
// and returns the first successful price plus the endpoint name that
// served it. Every failed attempt increments that endpoint's failure
// count. Returns ErrAllSourcesUnavailable when the whole chain errors.
func (f *Failover) Fetch(ctx context.Context, feedID string) (decimal.Decimal, time.Time, string, error) {
	f.mu.RLock()
	order := make([]int, len(f.order))
	copy(order, f.order)
	f.mu.RUnlock()

	for _, idx := range order {
		state := f.states[idx]

		attemptCtx, cancel := context.WithTimeout(ctx, f.opts.PerEndpointTimeout)
		res, err := state.breaker.Execute(func() (interface{}, error) {
			price, ts, err := state.endpoint.Fetch(attemptCtx, feedID)
			if err != nil {
				return nil, err
			}
			return fetchResult{price: price, ts: ts}, nil
		})
		cancel()

		if err != nil {
			state.mu.Lock()
			state.failureCount++
			state.mu.Unlock()
			f.logger.Warn().Err(err).Str("endpoint", state.endpoint.Name()).Str("feed", feedID).Msg("endpoint fetch failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		state.mu.Lock()
		state.lastSuccess = time.Now().UTC()
		state.mu.Unlock()

		result := res.(fetchResult)
		return result.price, result.ts, state.endpoint.Name(), nil
	}
	return decimal.Decimal{}, time.Time{}, "", fmt.Errorf("%w: feed %s", ErrAllSourcesUnavailable, feedID)
}

// setProbe records a health-probe outcome for one endpoint.
func (f *Failover) setProbe(idx int, latency time.Duration, status EndpointStatus) {
	state := f.states[idx]
	state.mu.Lock()
	state.latency = latency
	state.status = status
	state.mu.Unlock()
}

// reorder sorts the try-order by health class, keeping configured priority
// within each class.
func (f *Failover) reorder() {
	rank := func(s EndpointStatus) int {
		switch s {
		case StatusHealthy:
			return 0
		case StatusDegraded:
			return 1
		default:
			return 2
		}
	}

	order := make([]int, 0, len(f.states))
	for class := 0; class <= 2; class++ {
		for i, state := range f.states {
			state.mu.Lock()
			r := rank(state.status)
			state.mu.Unlock()
			if r == class {
				order = append(order, i)
			}
		}
	}

	f.mu.Lock()
	f.order = order
	f.mu.Unlock()
}

// Health snapshots per-endpoint status.
func (f *Failover) Health() []Health {
	out := make([]Health, 0, len(f.states))
	for _, state := range f.states {
		state.mu.Lock()
		out = append(out, Health{
			Endpoint:     state.endpoint.Name(),
			LastUpdate:   state.lastSuccess,
			FailureCount: state.failureCount,
			Latency:      state.latency,
			Status:       state.status,
		})
		state.mu.Unlock()
	}
	return out
}

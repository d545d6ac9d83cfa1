package oracle

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HealthMonitorOptions tune the periodic endpoint probe.
type HealthMonitorOptions struct {
	Interval time.Duration
	// DegradedLatency is the latency above which a reachable endpoint is
	// classified degraded rather than healthy.
	DegradedLatency time.Duration
	ProbeTimeout    time.Duration
}

// HealthMonitor probes every endpoint on its own timer, classifies each as
// healthy, degraded, or down, and reorders the failover chain accordingly.
// It runs fully decoupled from the per-asset update loops: a probe may
// block on network I/O without delaying any price update.
type HealthMonitor struct {
	opts     HealthMonitorOptions
	failover *Failover
	logger   zerolog.Logger

	// onUnhealthy fires when an endpoint leaves the healthy class.
	// Best-effort notification hook; may be nil.
	onUnhealthy func(endpoint string, status EndpointStatus)
}

// NewHealthMonitor constructs the monitor for a failover chain.
func NewHealthMonitor(failover *Failover, opts HealthMonitorOptions, onUnhealthy func(string, EndpointStatus), logger zerolog.Logger) *HealthMonitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.DegradedLatency <= 0 {
		opts.DegradedLatency = time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &HealthMonitor{
		opts:        opts,
		failover:    failover,
		logger:      logger.With().Str("component", "health_monitor").Logger(),
		onUnhealthy: onUnhealthy,
	}
}

// Run blocks probing until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *HealthMonitor) probeAll(ctx context.Context) {
	for i, state := range m.failover.states {
		latency, status := m.probe(ctx, state.endpoint)
		m.failover.setProbe(i, latency, status)
		if status != StatusHealthy {
			m.logger.Warn().Str("endpoint", state.endpoint.Name()).
				Dur("latency", latency).
				Str("status", string(status)).
				Msg("endpoint unhealthy")
			if m.onUnhealthy != nil {
				m.onUnhealthy(state.endpoint.Name(), status)
			}
		}
	}
	m.failover.reorder()
}

func (m *HealthMonitor) probe(ctx context.Context, ep Endpoint) (time.Duration, EndpointStatus) {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := ep.Ping(probeCtx)
	latency := time.Since(start)

	switch {
	case err != nil:
		return latency, StatusDown
	case latency > m.opts.DegradedLatency:
		return latency, StatusDegraded
	default:
		return latency, StatusHealthy
	}
}

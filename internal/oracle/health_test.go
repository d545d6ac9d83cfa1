package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeClassifiesAndReorders(t *testing.T) {
	primary := &stubEndpoint{name: "primary", price: decimal.NewFromInt(1), pingErr: errors.New("unreachable")}
	secondary := &stubEndpoint{name: "secondary", price: decimal.NewFromInt(1)}
	f := NewFailover([]Endpoint{primary, secondary}, FailoverOptions{}, zerolog.Nop())

	var unhealthy []string
	m := NewHealthMonitor(f, HealthMonitorOptions{}, func(name string, _ EndpointStatus) {
		unhealthy = append(unhealthy, name)
	}, zerolog.Nop())

	m.probeAll(context.Background())

	assert.Equal(t, []string{"primary"}, unhealthy)

	health := f.Health()
	require.Len(t, health, 2)
	assert.Equal(t, StatusDown, health[0].Status)
	assert.Equal(t, StatusHealthy, health[1].Status)

	// The down primary is demoted behind the healthy fallback.
	_, _, source, err := f.Fetch(context.Background(), "feed-usdx")
	require.NoError(t, err)
	assert.Equal(t, "secondary", source)
}

func TestProbeDegradedLatency(t *testing.T) {
	slow := &slowEndpoint{delay: 30 * time.Millisecond}
	f := NewFailover([]Endpoint{slow}, FailoverOptions{}, zerolog.Nop())
	m := NewHealthMonitor(f, HealthMonitorOptions{DegradedLatency: 10 * time.Millisecond}, nil, zerolog.Nop())

	m.probeAll(context.Background())

	health := f.Health()
	require.Len(t, health, 1)
	assert.Equal(t, StatusDegraded, health[0].Status)
}

type slowEndpoint struct {
	delay time.Duration
}

func (s *slowEndpoint) Name() string { return "slow" }

func (s *slowEndpoint) Fetch(context.Context, string) (decimal.Decimal, time.Time, error) {
	return decimal.NewFromInt(1), time.Now(), nil
}

func (s *slowEndpoint) Ping(context.Context) error {
	time.Sleep(s.delay)
	return nil
}

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

type stubEndpoint struct {
	name    string
	price   decimal.Decimal
	err     error
	pingErr error
	calls   int
}

func (s *stubEndpoint) Name() string { return s.name }

func (s *stubEndpoint) Fetch(context.Context, string) (decimal.Decimal, time.Time, error) {
	s.calls++
	if s.err != nil {
		return decimal.Decimal{}, time.Time{}, s.err
	}
	return s.price, time.Now().UTC(), nil
}

func (s *stubEndpoint) Ping(context.Context) error { return s.pingErr }

func TestFailoverPrefersPrimary(t *testing.T) {
	primary := &stubEndpoint{name: "primary", price: decimal.RequireFromString("1.00")}
	secondary := &stubEndpoint{name: "secondary", price: decimal.RequireFromString("0.99")}
	f := NewFailover([]Endpoint{primary, secondary}, FailoverOptions{}, zerolog.Nop())

	price, _, source, err := f.Fetch(context.Background(), "feed-usdx")
	require.NoError(t, err)
	assert.Equal(t, "primary", source)
	assert.True(t, price.Equal(primary.price))
	assert.Equal(t, 0, secondary.calls, "secondary must not be tried while primary serves")
}

func TestFailoverFallsBack(t *testing.T) {
	primary := &stubEndpoint{name: "primary", err: errors.New("rpc unavailable")}
	secondary := &stubEndpoint{name: "secondary", price: decimal.RequireFromString("0.99")}
	f := NewFailover([]Endpoint{primary, secondary}, FailoverOptions{}, zerolog.Nop())

	price, _, source, err := f.Fetch(context.Background(), "feed-usdx")
	require.NoError(t, err)
	assert.Equal(t, "secondary", source)
	assert.True(t, price.Equal(secondary.price))

	health := f.Health()
	require.Len(t, health, 2)
	assert.Equal(t, uint64(1), health[0].FailureCount)
	assert.Equal(t, uint64(0), health[1].FailureCount)
}

func TestFailoverAllSourcesUnavailable(t *testing.T) {
	primary := &stubEndpoint{name: "primary", err: errors.New("down")}
	secondary := &stubEndpoint{name: "secondary", err: errors.New("down")}
	f := NewFailover([]Endpoint{primary, secondary}, FailoverOptions{}, zerolog.Nop())

	_, _, _, err := f.Fetch(context.Background(), "feed-usdx")
	require.ErrorIs(t, err, ErrAllSourcesUnavailable)
}

func TestFailoverBreakerStopsHammering(t *testing.T) {
	primary := &stubEndpoint{name: "primary", err: errors.New("down")}
	secondary := &stubEndpoint{name: "secondary", price: decimal.RequireFromString("1.00")}
	f := NewFailover([]Endpoint{primary, secondary}, FailoverOptions{
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	}, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _, source, err := f.Fetch(ctx, "feed-usdx")
		require.NoError(t, err)
		assert.Equal(t, "secondary", source)
	}

	// Two real attempts trip the breaker; later rounds skip the endpoint.
	assert.Equal(t, 2, primary.calls)

	health := f.Health()
	assert.Equal(t, uint64(4), health[0].FailureCount, "breaker rejections still count as failures")
}

func TestFailoverReorderDemotesUnhealthy(t *testing.T) {
	primary := &stubEndpoint{name: "primary", price: decimal.RequireFromString("1.00")}
	secondary := &stubEndpoint{name: "secondary", price: decimal.RequireFromString("0.99")}
	f := NewFailover([]Endpoint{primary, secondary}, FailoverOptions{}, zerolog.Nop())

	f.setProbe(0, 0, StatusDown)
	f.reorder()

	_, _, source, err := f.Fetch(context.Background(), "feed-usdx")
	require.NoError(t, err)
	assert.Equal(t, "secondary", source, "down endpoint is tried last")

	// Recovery restores configured priority.
	f.setProbe(0, 0, StatusHealthy)
	f.reorder()

	_, _, source, err = f.Fetch(context.Background(), "feed-usdx")
	require.NoError(t, err)
	assert.Equal(t, "primary", source)
}

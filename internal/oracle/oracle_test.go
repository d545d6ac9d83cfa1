package oracle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateDeviation(t *testing.T) {
	d := decimal.RequireFromString

	// First price is always accepted.
	assert.True(t, Validate(d("1.00"), decimal.Zero, 1000))

	// 5% move inside a 10% bound.
	assert.True(t, Validate(d("0.95"), d("1.00"), 1000))
	// Exactly at the bound is accepted.
	assert.True(t, Validate(d("0.90"), d("1.00"), 1000))
	// 15% move outside a 10% bound.
	assert.False(t, Validate(d("0.85"), d("1.00"), 1000))

	// Deviation is symmetric.
	assert.True(t, Validate(d("1.05"), d("1.00"), 1000))
	assert.False(t, Validate(d("1.15"), d("1.00"), 1000))
}

func TestKeyedLimiterPerAsset(t *testing.T) {
	limiter := newKeyedLimiter(50 * time.Millisecond)

	assert.True(t, limiter.Allow("USDX"))
	assert.False(t, limiter.Allow("USDX"), "second publish inside the interval must be blocked")

	// Other assets have independent budgets.
	assert.True(t, limiter.Allow("USDY"))

	time.Sleep(70 * time.Millisecond)
	assert.True(t, limiter.Allow("USDX"))
}

func TestFailureWindowTripsPastBudget(t *testing.T) {
	now := time.Now()
	w := newFailureWindow(time.Hour, 3)

	for i := 0; i < 3; i++ {
		w.Record("USDX", now.Add(time.Duration(i)*time.Minute))
	}
	assert.Equal(t, 3, w.Count("USDX", now.Add(5*time.Minute)))
	assert.False(t, w.Tripped("USDX", now.Add(5*time.Minute)), "at the budget is not tripped")

	w.Record("USDX", now.Add(4*time.Minute))
	assert.True(t, w.Tripped("USDX", now.Add(5*time.Minute)))

	// Old events fall out of the window.
	assert.Equal(t, 3, w.Count("USDX", now.Add(time.Hour+30*time.Second)))

	w.Reset("USDX")
	assert.Equal(t, 0, w.Count("USDX", now))
}

func TestFailureWindowPerAssetIsolation(t *testing.T) {
	now := time.Now()
	w := newFailureWindow(time.Hour, 1)

	w.Record("USDX", now)
	w.Record("USDX", now)
	assert.True(t, w.Tripped("USDX", now))
	assert.False(t, w.Tripped("USDY", now))
}

// Package premium prices coverage from a tiered duration table. It holds
// no money and touches no ledger state; the orchestration layer quotes
// here before purchasing a policy.
package premium

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPaused          = errors.New("premium calculator is paused")
	ErrNoTier          = errors.New("no rate tier covers this duration")
	ErrTierOverlap     = errors.New("rate tier overlaps an existing tier")
	ErrInvalidTier     = errors.New("tier bounds must be positive and ordered")
	ErrInvalidCoverage = errors.New("coverage must be positive")
)

// Tier maps a half-open duration range [Min, Max) to a rate in basis
// points of coverage.
type Tier struct {
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	RateBps int64         `json:"rateBps"`
}

func (t Tier) contains(d time.Duration) bool {
	return d >= t.Min && d < t.Max
}

func (t Tier) overlaps(o Tier) bool {
	return t.Min < o.Max && o.Min < t.Max
}

// Calculator is a versioned rate table. The zero table quotes nothing;
// use NewCalculator for the stock tiers.
type Calculator struct {
	mu      sync.RWMutex
	tiers   []Tier
	version int64
	paused  bool
}

// NewCalculator returns a calculator seeded with the stock tiers:
// up to 30 days at 200 bps, up to 90 at 500, up to 180 at 800.
func NewCalculator() *Calculator {
	c := &Calculator{}
	day := 24 * time.Hour
	for _, t := range []Tier{
		{Min: 0, Max: 30*day + 1, RateBps: 200},
		{Min: 30*day + 1, Max: 90*day + 1, RateBps: 500},
		{Min: 90*day + 1, Max: 180*day + 1, RateBps: 800},
	} {
		_ = c.AddTier(t)
	}
	return c
}

// Pause stops quoting.
func (c *Calculator) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Unpause resumes quoting.
func (c *Calculator) Unpause() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Version reports the table revision, bumped on every mutation.
func (c *Calculator) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Tiers returns a sorted copy of the table.
func (c *Calculator) Tiers() []Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// AddTier installs a new tier. The range must not overlap any existing
// tier; replace a tier with UpdateRate instead.
func (c *Calculator) AddTier(t Tier) error {
	if t.Min < 0 || t.Max <= t.Min || t.RateBps <= 0 {
		return ErrInvalidTier
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.tiers {
		if t.overlaps(existing) {
			return ErrTierOverlap
		}
	}
	c.tiers = append(c.tiers, t)
	sort.Slice(c.tiers, func(i, j int) bool { return c.tiers[i].Min < c.tiers[j].Min })
	c.version++
	return nil
}

// UpdateRate changes the rate of the tier containing duration d.
func (c *Calculator) UpdateRate(d time.Duration, rateBps int64) error {
	if rateBps <= 0 {
		return ErrInvalidTier
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.tiers {
		if t.contains(d) {
			c.tiers[i].RateBps = rateBps
			c.version++
			return nil
		}
	}
	return ErrNoTier
}

// RemoveTier deletes the tier containing duration d.
func (c *Calculator) RemoveTier(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.tiers {
		if t.contains(d) {
			c.tiers = append(c.tiers[:i], c.tiers[i+1:]...)
			c.version++
			return nil
		}
	}
	return ErrNoTier
}

// Quote prices coverage for a duration: coverage * rateBps / 10000.
func (c *Calculator) Quote(coverage decimal.Decimal, duration time.Duration) (decimal.Decimal, error) {
	if !coverage.IsPositive() {
		return decimal.Zero, ErrInvalidCoverage
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paused {
		return decimal.Zero, ErrPaused
	}
	for _, t := range c.tiers {
		if t.contains(duration) {
			return coverage.Mul(decimal.NewFromInt(t.RateBps)).Div(decimal.NewFromInt(10000)), nil
		}
	}
	return decimal.Zero, ErrNoTier
}

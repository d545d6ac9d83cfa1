package claims

import (
	"context"
	"sort"
	"sync"
)

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation for tests and DSN-less
// operation.
type MemoryStore struct {
	mu        sync.RWMutex
	claims    map[string]Claim
	prices    map[string]PriceRecord
	configs   map[string]StablecoinConfig
	blacklist map[string]bool
}

// NewMemoryStore creates an empty in-memory claims store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:    make(map[string]Claim),
		prices:    make(map[string]PriceRecord),
		configs:   make(map[string]StablecoinConfig),
		blacklist: make(map[string]bool),
	}
}

func (m *MemoryStore) CreateClaim(_ context.Context, claim Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[claim.ID] = claim
	return nil
}

func (m *MemoryStore) GetClaim(_ context.Context, id string) (Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return Claim{}, ErrClaimNotFound
	}
	return c, nil
}

func (m *MemoryStore) UpdateClaim(_ context.Context, claim Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[claim.ID]; !ok {
		return ErrClaimNotFound
	}
	m.claims[claim.ID] = claim
	return nil
}

func (m *MemoryStore) ListClaimsByStatus(_ context.Context, status Status, limit int) ([]Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Claim, 0)
	for _, c := range m.claims {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetPriceRecord(_ context.Context, asset string) (PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.prices[asset]
	if !ok {
		return PriceRecord{}, ErrNoPriceRecord
	}
	return rec, nil
}

func (m *MemoryStore) PutPriceRecord(_ context.Context, rec PriceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[rec.Asset] = rec
	return nil
}

func (m *MemoryStore) GetStablecoinConfig(_ context.Context, asset string) (StablecoinConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[asset]
	if !ok {
		return StablecoinConfig{}, ErrAssetNotConfigured
	}
	return cfg, nil
}

func (m *MemoryStore) PutStablecoinConfig(_ context.Context, cfg StablecoinConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Asset] = cfg
	return nil
}

func (m *MemoryStore) ListStablecoinConfigs(_ context.Context) ([]StablecoinConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StablecoinConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (m *MemoryStore) SetBlacklisted(_ context.Context, addr string, blacklisted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blacklisted {
		m.blacklist[addr] = true
	} else {
		delete(m.blacklist, addr)
	}
	return nil
}

func (m *MemoryStore) IsBlacklisted(_ context.Context, addr string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blacklist[addr], nil
}

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation for tests and DSN-less
// operation.
type MemoryStore struct {
	mu       sync.RWMutex
	assets   map[string]Asset
	accounts map[string]Account
	policies map[string]Policy
	treasury map[string]decimal.Decimal
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:   make(map[string]Asset),
		accounts: make(map[string]Account),
		policies: make(map[string]Policy),
		treasury: make(map[string]decimal.Decimal),
	}
}

func accountKey(insurer, asset string) string {
	return insurer + "|" + asset
}

func (m *MemoryStore) GetAsset(_ context.Context, id string) (Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return Asset{}, ErrAssetNotFound
	}
	return a, nil
}

func (m *MemoryStore) PutAsset(_ context.Context, asset Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[asset.ID] = asset
	return nil
}

func (m *MemoryStore) ListAssets(_ context.Context) ([]Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetAccount(_ context.Context, insurer, asset string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[accountKey(insurer, asset)]
	if !ok {
		return Account{Insurer: insurer, Asset: asset}, nil
	}
	return acct, nil
}

func (m *MemoryStore) PutAccount(_ context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accountKey(account.Insurer, account.Asset)] = account
	return nil
}

func (m *MemoryStore) ListAccounts(_ context.Context, asset string) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Account, 0)
	for _, acct := range m.accounts {
		if acct.Asset == asset {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Insurer < out[j].Insurer })
	return out, nil
}

func (m *MemoryStore) CreatePolicy(_ context.Context, policy Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policy.ID] = policy
	return nil
}

func (m *MemoryStore) GetPolicy(_ context.Context, id string) (Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return Policy{}, ErrPolicyNotFound
	}
	return p, nil
}

func (m *MemoryStore) UpdatePolicy(_ context.Context, policy Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policy.ID]; !ok {
		return ErrPolicyNotFound
	}
	m.policies[policy.ID] = policy
	return nil
}

func (m *MemoryStore) ListPoliciesByHolder(_ context.Context, holder string) ([]Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Policy, 0)
	for _, p := range m.policies {
		if p.Holder == holder {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (m *MemoryStore) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Policy, 0)
	for _, p := range m.policies {
		if p.Status == PolicyActive && p.Matured(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt().Before(out[j].ExpiresAt()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetTreasury(_ context.Context, asset string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.treasury[asset], nil
}

func (m *MemoryStore) AddTreasury(_ context.Context, asset string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treasury[asset] = m.treasury[asset].Add(amount)
	return nil
}

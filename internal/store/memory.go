package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	pools    map[string]*model.PoolState
	swaps    []model.SwapRecord
	treasury []model.TreasuryEntry
	policies map[string]*model.Policy
	weather  []model.WeatherUpdate
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:    make(map[string]*model.PoolState),
		policies: make(map[string]*model.Policy),
	}
}

func (s *MemoryStore) CreatePool(_ context.Context, ps *model.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[ps.PoolID]; exists {
		return fmt.Errorf("pool %s already exists", ps.PoolID)
	}

	// Store a copy to avoid external mutation.
	cp := *ps
	s.pools[ps.PoolID] = &cp
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, poolID string) (*model.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrNotFound)
	}
	cp := *ps
	return &cp, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.PoolState, 0, len(s.pools))
	for _, ps := range s.pools {
		pools = append(pools, *ps)
	}
	return pools, nil
}

func (s *MemoryStore) UpdatePoolState(_ context.Context, ps *model.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.pools[ps.PoolID]
	if !ok {
		return fmt.Errorf("pool %s: %w", ps.PoolID, ErrNotFound)
	}
	existing.PoolPrice = ps.PoolPrice
	existing.CachedOraclePrice = ps.CachedOraclePrice
	existing.CachedOracleVersion = ps.CachedOracleVersion
	existing.CachedAt = ps.CachedAt
	existing.Mode = ps.Mode
	existing.CircuitBreaker = ps.CircuitBreaker
	return nil
}

func (s *MemoryStore) InsertSwap(_ context.Context, rec *model.SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.swaps = append(s.swaps, *rec)
	return nil
}

func (s *MemoryStore) ListSwapsByPool(_ context.Context, poolID string) ([]model.SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SwapRecord
	for _, rec := range s.swaps {
		if rec.PoolID == poolID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertTreasuryEntry(_ context.Context, entry *model.TreasuryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.treasury = append(s.treasury, *entry)
	return nil
}

func (s *MemoryStore) DebitTreasury(_ context.Context, entry *model.TreasuryEntry) error {
	if !entry.Amount.IsNegative() {
		return fmt.Errorf("debit amount must be negative, got %s", entry.Amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance := decimal.Zero
	for _, e := range s.treasury {
		if e.PoolID == entry.PoolID {
			balance = balance.Add(e.Amount)
		}
	}
	if balance.Add(entry.Amount).IsNegative() {
		return fmt.Errorf("pool %s: %w", entry.PoolID, ErrInsufficientFunds)
	}

	s.treasury = append(s.treasury, *entry)
	return nil
}

func (s *MemoryStore) TreasuryBalance(_ context.Context, poolID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := decimal.Zero
	for _, e := range s.treasury {
		if e.PoolID == poolID {
			balance = balance.Add(e.Amount)
		}
	}
	return balance, nil
}

func (s *MemoryStore) ListTreasuryEntries(_ context.Context, poolID string) ([]model.TreasuryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TreasuryEntry
	for _, e := range s.treasury {
		if e.PoolID == poolID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreatePolicy(_ context.Context, p *model.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[p.ID]; exists {
		return fmt.Errorf("policy %s already exists", p.ID)
	}
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, id string) (*model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetActivePolicyByFarmer(_ context.Context, farmerID string) (*model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.policies {
		if p.FarmerID == farmerID && p.Active && !p.Claimed {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active policy for farmer %s: %w", farmerID, ErrNotFound)
}

func (s *MemoryStore) MarkPolicyClaimed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	p.Claimed = true
	return nil
}

func (s *MemoryStore) ListPolicies(_ context.Context) ([]model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]model.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		policies = append(policies, *p)
	}
	return policies, nil
}

func (s *MemoryStore) InsertWeatherUpdate(_ context.Context, u *model.WeatherUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.weather = append(s.weather, *u)
	return nil
}

func (s *MemoryStore) ListWeatherUpdates(_ context.Context, limit int) ([]model.WeatherUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.weather)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]model.WeatherUpdate, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		result = append(result, s.weather[i])
	}
	return result, nil
}

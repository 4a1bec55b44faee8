package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, ps *model.PoolState) error {
	if err := s.primary.CreatePool(ctx, ps); err != nil {
		return err
	}
	s.cachePool(ctx, ps)
	return nil
}

func (s *CachedStore) UpdatePoolState(ctx context.Context, ps *model.PoolState) error {
	if err := s.primary.UpdatePoolState(ctx, ps); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, poolKey(ps.PoolID))
	return nil
}

func (s *CachedStore) InsertSwap(ctx context.Context, rec *model.SwapRecord) error {
	return s.primary.InsertSwap(ctx, rec)
}

func (s *CachedStore) InsertTreasuryEntry(ctx context.Context, entry *model.TreasuryEntry) error {
	if err := s.primary.InsertTreasuryEntry(ctx, entry); err != nil {
		return err
	}
	// Invalidate balance for this pool.
	s.rdb.Del(ctx, treasuryKey(entry.PoolID))
	return nil
}

// DebitTreasury delegates to the primary store, which owns the atomic
// balance guard, and invalidates the cached balance.
func (s *CachedStore) DebitTreasury(ctx context.Context, entry *model.TreasuryEntry) error {
	if err := s.primary.DebitTreasury(ctx, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, treasuryKey(entry.PoolID))
	return nil
}

func (s *CachedStore) CreatePolicy(ctx context.Context, p *model.Policy) error {
	if err := s.primary.CreatePolicy(ctx, p); err != nil {
		return err
	}
	s.cachePolicy(ctx, p)
	return nil
}

func (s *CachedStore) MarkPolicyClaimed(ctx context.Context, id string) error {
	if err := s.primary.MarkPolicyClaimed(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, policyKey(id))
	return nil
}

func (s *CachedStore) InsertWeatherUpdate(ctx context.Context, u *model.WeatherUpdate) error {
	return s.primary.InsertWeatherUpdate(ctx, u)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, poolID string) (*model.PoolState, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, poolKey(poolID)).Bytes()
	if err == nil {
		var ps model.PoolState
		if json.Unmarshal(data, &ps) == nil {
			return &ps, nil
		}
	}

	// Cache miss: read from primary.
	ps, err := s.primary.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, ps)
	return ps, nil
}

func (s *CachedStore) TreasuryBalance(ctx context.Context, poolID string) (decimal.Decimal, error) {
	// Try cache.
	cached, err := s.rdb.Get(ctx, treasuryKey(poolID)).Result()
	if err == nil {
		if balance, err := decimal.NewFromString(cached); err == nil {
			return balance, nil
		}
	}

	// Cache miss.
	balance, err := s.primary.TreasuryBalance(ctx, poolID)
	if err != nil {
		return decimal.Zero, err
	}

	s.rdb.Set(ctx, treasuryKey(poolID), balance.String(), s.ttl)
	return balance, nil
}

func (s *CachedStore) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, policyKey(id)).Bytes()
	if err == nil {
		var p model.Policy
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss.
	p, err := s.primary.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePolicy(ctx, p)
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.PoolState, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) ListSwapsByPool(ctx context.Context, poolID string) ([]model.SwapRecord, error) {
	return s.primary.ListSwapsByPool(ctx, poolID)
}

func (s *CachedStore) ListTreasuryEntries(ctx context.Context, poolID string) ([]model.TreasuryEntry, error) {
	return s.primary.ListTreasuryEntries(ctx, poolID)
}

// GetActivePolicyByFarmer is not cached: claim paths must see the
// freshest active/claimed flags.
func (s *CachedStore) GetActivePolicyByFarmer(ctx context.Context, farmerID string) (*model.Policy, error) {
	return s.primary.GetActivePolicyByFarmer(ctx, farmerID)
}

func (s *CachedStore) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	return s.primary.ListPolicies(ctx)
}

func (s *CachedStore) ListWeatherUpdates(ctx context.Context, limit int) ([]model.WeatherUpdate, error) {
	return s.primary.ListWeatherUpdates(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, ps *model.PoolState) {
	if data, err := json.Marshal(ps); err == nil {
		s.rdb.Set(ctx, poolKey(ps.PoolID), data, s.ttl)
	}
}

func (s *CachedStore) cachePolicy(ctx context.Context, p *model.Policy) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, policyKey(p.ID), data, s.ttl)
	}
}

func poolKey(id string) string     { return fmt.Sprintf("pool:%s", id) }
func treasuryKey(id string) string { return fmt.Sprintf("treasury:%s", id) }
func policyKey(id string) string   { return fmt.Sprintf("policy:%s", id) }

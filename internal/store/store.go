// Package store defines the persistence interface for the engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInsufficientFunds is returned by DebitTreasury when the pool's
// balance cannot cover the debit.
var ErrInsufficientFunds = errors.New("store: treasury balance below debit")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Pool state ---

	// CreatePool persists a new pool record.
	CreatePool(ctx context.Context, ps *model.PoolState) error

	// GetPool retrieves a pool by its ticker ID.
	GetPool(ctx context.Context, poolID string) (*model.PoolState, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.PoolState, error)

	// UpdatePoolState updates a pool's mutable fields (prices, cached
	// oracle reading, mode, circuit-breaker flag) keyed by PoolID.
	UpdatePoolState(ctx context.Context, ps *model.PoolState) error

	// --- Immutable swap ledger ---

	// InsertSwap appends an immutable swap record.
	InsertSwap(ctx context.Context, rec *model.SwapRecord) error

	// ListSwapsByPool returns all swaps for a pool, oldest first.
	ListSwapsByPool(ctx context.Context, poolID string) ([]model.SwapRecord, error)

	// --- Treasury ledger ---

	// InsertTreasuryEntry appends a signed credit entry. Debits must go
	// through DebitTreasury so the balance guard cannot be bypassed.
	InsertTreasuryEntry(ctx context.Context, entry *model.TreasuryEntry) error

	// DebitTreasury atomically verifies the pool's balance covers the
	// debit and appends the entry. Amount must be negative. Returns
	// ErrInsufficientFunds without appending when the balance falls
	// short. The check-and-append is a single atomic step, so
	// concurrent debits cannot drive the balance negative.
	DebitTreasury(ctx context.Context, entry *model.TreasuryEntry) error

	// TreasuryBalance returns the sum of a pool's treasury entries.
	TreasuryBalance(ctx context.Context, poolID string) (decimal.Decimal, error)

	// ListTreasuryEntries returns a pool's treasury ledger, oldest first.
	ListTreasuryEntries(ctx context.Context, poolID string) ([]model.TreasuryEntry, error)

	// --- Policies ---

	// CreatePolicy persists a new policy.
	CreatePolicy(ctx context.Context, p *model.Policy) error

	// GetPolicy retrieves a policy by ID.
	GetPolicy(ctx context.Context, id string) (*model.Policy, error)

	// GetActivePolicyByFarmer returns the farmer's active, unclaimed
	// policy, or ErrNotFound.
	GetActivePolicyByFarmer(ctx context.Context, farmerID string) (*model.Policy, error)

	// MarkPolicyClaimed sets claimed = true exactly once.
	MarkPolicyClaimed(ctx context.Context, id string) error

	// ListPolicies returns all policies.
	ListPolicies(ctx context.Context) ([]model.Policy, error)

	// --- Weather audit log ---

	// InsertWeatherUpdate appends an immutable oracle-update record.
	InsertWeatherUpdate(ctx context.Context, u *model.WeatherUpdate) error

	// ListWeatherUpdates returns the most recent updates, newest first.
	ListWeatherUpdates(ctx context.Context, limit int) ([]model.WeatherUpdate, error)
}

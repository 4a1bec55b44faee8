// Package hook implements the dynamic-fee swap hook. On every swap it
// reads the pool's cached oracle price, classifies the trade through the
// deviation engine, charges the resulting fee or pays the recovery
// bonus, and routes the misaligned-fee surplus over the baseline into
// the pool's insurance treasury.
//
// All monetary values use shopspring/decimal — never float64 for money.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/deviation"
	"github.com/agrihook/agri-engine/internal/metrics"
	"github.com/agrihook/agri-engine/internal/model"
	"github.com/agrihook/agri-engine/internal/oracle"
	"github.com/agrihook/agri-engine/internal/pool"
	"github.com/agrihook/agri-engine/internal/store"
)

var (
	// ErrStaleOraclePrice is returned when a pool's cached oracle price
	// is older than the configured maximum age.
	ErrStaleOraclePrice = errors.New("hook: cached oracle price is stale")

	// ErrCircuitBreakerActive is returned when a misaligned swap hits a
	// pool whose circuit breaker is engaged.
	ErrCircuitBreakerActive = errors.New("hook: circuit breaker active, misaligned swaps blocked")

	// ErrInvalidAmount is returned for zero or negative swap amounts.
	ErrInvalidAmount = errors.New("hook: swap amount must be positive")
)

// BreakerPolicy selects circuit-breaker behavior.
type BreakerPolicy string

const (
	// BreakerBlockMisaligned rejects misaligned swaps while the breaker
	// is engaged. This is the default.
	BreakerBlockMisaligned BreakerPolicy = "block_misaligned"

	// BreakerDisableBonuses allows all swaps but pays no bonuses.
	BreakerDisableBonuses BreakerPolicy = "disable_bonuses"
)

// Config holds hook tunables.
type Config struct {
	// MaxCacheAge bounds how old a pool's cached oracle price may be
	// before swaps are rejected. Zero means 15 minutes.
	MaxCacheAge time.Duration

	// Policy selects circuit-breaker behavior. Empty means block.
	Policy BreakerPolicy

	// LiquidityDepth scales post-swap price impact: a swap of size
	// amount moves the pool price by amount/depth percent of itself.
	// Zero means 100000.
	LiquidityDepth decimal.Decimal
}

// FeeHook executes swaps against pools. A mutex serializes execution
// per instance; treasury debits go through the store's atomic guard,
// so the pool balance cannot be overdrawn even by concurrent debits
// from other components.
type FeeHook struct {
	store  store.Store
	engine *deviation.Engine
	oracle *oracle.Oracle

	maxCacheAge time.Duration
	policy      BreakerPolicy
	depth       decimal.Decimal

	mu  sync.Mutex
	now func() time.Time
}

// New creates a FeeHook bound to a store, deviation engine, and oracle.
func New(st store.Store, eng *deviation.Engine, orc *oracle.Oracle, cfg Config) *FeeHook {
	if cfg.MaxCacheAge <= 0 {
		cfg.MaxCacheAge = 15 * time.Minute
	}
	if cfg.Policy == "" {
		cfg.Policy = BreakerBlockMisaligned
	}
	if cfg.LiquidityDepth.LessThanOrEqual(decimal.Zero) {
		cfg.LiquidityDepth = decimal.NewFromInt(100000)
	}
	return &FeeHook{
		store:       st,
		engine:      eng,
		oracle:      orc,
		maxCacheAge: cfg.MaxCacheAge,
		policy:      cfg.Policy,
		depth:       cfg.LiquidityDepth,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the hook's clock. Test hook.
func (h *FeeHook) WithClock(now func() time.Time) *FeeHook {
	h.now = now
	return h
}

// CreatePool registers a new pool for a validated ticker. The oracle's
// current theoretical price seeds the cache so a freshly created pool
// is immediately swappable.
func (h *FeeHook) CreatePool(ctx context.Context, ticker string, initialPrice decimal.Decimal) (*model.PoolState, error) {
	parsed, err := pool.ParseTicker(ticker)
	if err != nil {
		return nil, err
	}
	if initialPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: initial price %s", ErrInvalidAmount, initialPrice)
	}

	snap := h.oracle.Snapshot()
	now := h.now()

	dev := deviation.Deviation(initialPrice, snap.TheoreticalPrice)
	mode := h.engine.ModeFor(dev)

	ps := &model.PoolState{
		PoolID:              ticker,
		Commodity:           parsed.Commodity,
		RegionHash:          parsed.RegionHash,
		PoolPrice:           initialPrice,
		CachedOraclePrice:   snap.TheoreticalPrice,
		CachedOracleVersion: snap.Version,
		CachedAt:            now,
		Mode:                mode,
		CircuitBreaker:      mode == model.ModeCircuitBreaker,
		CreatedAt:           now,
	}

	if err := h.store.CreatePool(ctx, ps); err != nil {
		return nil, err
	}

	metrics.PoolMode.WithLabelValues(ticker).Set(metrics.ModeValue(string(mode)))

	slog.Info("pool created",
		"pool", ticker,
		"commodity", parsed.Commodity,
		"region", parsed.RegionHash,
		"price", initialPrice.String(),
		"oracle_price", snap.TheoreticalPrice.String(),
		"mode", mode,
	)
	return ps, nil
}

// RefreshOraclePrice pulls the oracle's current snapshot into the
// pool's cache and recomputes the operating mode. Called explicitly
// via the API and periodically by the scheduler; swaps never query the
// oracle live.
func (h *FeeHook) RefreshOraclePrice(ctx context.Context, poolID string) (*model.PoolState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ps, err := h.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	snap := h.oracle.Snapshot()
	ps.CachedOraclePrice = snap.TheoreticalPrice
	ps.CachedOracleVersion = snap.Version
	ps.CachedAt = h.now()

	dev := deviation.Deviation(ps.PoolPrice, ps.CachedOraclePrice)
	prevMode := ps.Mode
	ps.Mode = h.engine.ModeFor(dev)
	ps.CircuitBreaker = ps.Mode == model.ModeCircuitBreaker

	if err := h.store.UpdatePoolState(ctx, ps); err != nil {
		return nil, err
	}

	metrics.PoolMode.WithLabelValues(poolID).Set(metrics.ModeValue(string(ps.Mode)))

	if ps.Mode != prevMode {
		slog.Info("pool mode changed",
			"pool", poolID,
			"from", prevMode,
			"to", ps.Mode,
			"deviation", dev.String(),
		)
	}
	return ps, nil
}

// RefreshAll refreshes every pool's cached oracle price. Used by the
// cron scheduler.
func (h *FeeHook) RefreshAll(ctx context.Context) error {
	pools, err := h.store.ListPools(ctx)
	if err != nil {
		return err
	}
	for _, ps := range pools {
		if _, err := h.RefreshOraclePrice(ctx, ps.PoolID); err != nil {
			slog.Error("refresh failed", "pool", ps.PoolID, "error", err)
		}
	}
	return nil
}

// SwapParams describes a swap attempt.
type SwapParams struct {
	PoolID   string
	TraderID string
	Side     string // model.SideBuy or model.SideSell
	Amount   decimal.Decimal
}

// QuoteSwap computes the fee/bonus a swap would incur without executing
// it. Fails on stale cache like ExecuteSwap does.
func (h *FeeHook) QuoteSwap(ctx context.Context, p SwapParams) (*deviation.Quote, error) {
	ps, err := h.store.GetPool(ctx, p.PoolID)
	if err != nil {
		return nil, err
	}
	if err := h.checkCacheFresh(ps); err != nil {
		return nil, err
	}
	q := h.engine.QuoteSwap(p.Side, ps.PoolPrice, ps.CachedOraclePrice)
	return &q, nil
}

// ExecuteSwap runs the full swap lifecycle: freshness guard, deviation
// quote, circuit-breaker policy, fee charge, treasury capture, bonus
// payout, ledger entry, and post-swap pool price update.
func (h *FeeHook) ExecuteSwap(ctx context.Context, p SwapParams) (*model.SwapRecord, error) {
	if p.Side != model.SideBuy && p.Side != model.SideSell {
		return nil, fmt.Errorf("hook: side must be %s or %s", model.SideBuy, model.SideSell)
	}
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	start := h.now()

	// Serialize swap execution.
	h.mu.Lock()
	defer h.mu.Unlock()

	ps, err := h.store.GetPool(ctx, p.PoolID)
	if err != nil {
		return nil, err
	}
	if err := h.checkCacheFresh(ps); err != nil {
		return nil, err
	}

	q := h.engine.QuoteSwap(p.Side, ps.PoolPrice, ps.CachedOraclePrice)

	if q.Mode == model.ModeCircuitBreaker && !q.Aligned && h.policy == BreakerBlockMisaligned {
		metrics.CircuitBreakerRejections.Inc()
		return nil, fmt.Errorf("%w: pool %s deviation %s%%", ErrCircuitBreakerActive, p.PoolID, q.Deviation)
	}

	feeAmount := deviation.Apply(q.FeePercent, p.Amount)
	capturedAmount := deviation.Apply(q.CapturedPercent, p.Amount)

	swapID := uuid.New().String()
	ts := h.now()

	// Bonus is paid from the treasury through the store's atomic debit,
	// which guards the balance. If the treasury cannot cover it, the
	// swap executes with the bonus skipped.
	bonusPercent := q.BonusPercent
	bonusAmount := deviation.Apply(bonusPercent, p.Amount)
	if bonusAmount.IsPositive() {
		entry := &model.TreasuryEntry{
			ID:        uuid.New().String(),
			PoolID:    p.PoolID,
			Reason:    model.TreasuryBonus,
			Amount:    bonusAmount.Neg(),
			RefID:     swapID,
			Timestamp: ts,
		}
		switch err := h.store.DebitTreasury(ctx, entry); {
		case errors.Is(err, store.ErrInsufficientFunds):
			slog.Warn("treasury cannot cover bonus, skipping",
				"pool", p.PoolID,
				"bonus", bonusAmount.String(),
			)
			bonusPercent = decimal.Zero
			bonusAmount = decimal.Zero
		case err != nil:
			return nil, err
		default:
			metrics.BonusesPaid.WithLabelValues(p.PoolID).Add(toFloat(bonusAmount))
		}
	}

	rec := &model.SwapRecord{
		ID:               swapID,
		PoolID:           p.PoolID,
		TraderID:         p.TraderID,
		Side:             p.Side,
		Amount:           p.Amount,
		DeviationPercent: q.Deviation,
		Mode:             q.Mode,
		Aligned:          q.Aligned,
		FeePercent:       q.FeePercent,
		FeeAmount:        feeAmount,
		BonusPercent:     bonusPercent,
		BonusAmount:      bonusAmount,
		CapturedAmount:   capturedAmount,
		Timestamp:        ts,
	}

	if err := h.store.InsertSwap(ctx, rec); err != nil {
		return nil, err
	}

	if capturedAmount.IsPositive() {
		entry := &model.TreasuryEntry{
			ID:        uuid.New().String(),
			PoolID:    p.PoolID,
			Reason:    model.TreasuryFeeCapture,
			Amount:    capturedAmount,
			RefID:     rec.ID,
			Timestamp: rec.Timestamp,
		}
		if err := h.store.InsertTreasuryEntry(ctx, entry); err != nil {
			return nil, err
		}
		metrics.FeesCaptured.WithLabelValues(p.PoolID).Add(toFloat(capturedAmount))
	}

	// Post-swap price impact: buys push the pool price up, sells push
	// it down, scaled by swap size against the configured depth.
	ps.PoolPrice = h.impactedPrice(ps.PoolPrice, p.Side, p.Amount)

	dev := deviation.Deviation(ps.PoolPrice, ps.CachedOraclePrice)
	ps.Mode = h.engine.ModeFor(dev)
	ps.CircuitBreaker = ps.Mode == model.ModeCircuitBreaker

	if err := h.store.UpdatePoolState(ctx, ps); err != nil {
		return nil, err
	}

	alignment := "misaligned"
	if q.Aligned {
		alignment = "aligned"
	}
	metrics.SwapsTotal.WithLabelValues(p.Side, alignment).Inc()
	metrics.SwapLatency.WithLabelValues(p.Side).Observe(h.now().Sub(start).Seconds())
	metrics.PoolMode.WithLabelValues(p.PoolID).Set(metrics.ModeValue(string(ps.Mode)))

	slog.Info("swap executed",
		"swap_id", rec.ID,
		"pool", p.PoolID,
		"trader", p.TraderID,
		"side", p.Side,
		"amount", p.Amount.String(),
		"deviation", q.Deviation.String(),
		"mode", q.Mode,
		"aligned", q.Aligned,
		"fee", feeAmount.String(),
		"bonus", bonusAmount.String(),
		"captured", capturedAmount.String(),
		"new_pool_price", ps.PoolPrice.String(),
	)
	return rec, nil
}

func (h *FeeHook) checkCacheFresh(ps *model.PoolState) error {
	age := h.now().Sub(ps.CachedAt)
	if age > h.maxCacheAge {
		return fmt.Errorf("%w: pool %s cache age %s exceeds %s",
			ErrStaleOraclePrice, ps.PoolID, age.Round(time.Second), h.maxCacheAge)
	}
	return nil
}

// impactedPrice applies post-swap price movement:
// price × (1 ± amount/depth/100).
func (h *FeeHook) impactedPrice(price decimal.Decimal, side string, amount decimal.Decimal) decimal.Decimal {
	impact := amount.Div(h.depth) // percent of price
	shift := price.Mul(impact).Div(decimal.NewFromInt(100))
	if side == model.SideBuy {
		return price.Add(shift)
	}
	next := price.Sub(shift)
	if next.LessThanOrEqual(decimal.Zero) {
		return price
	}
	return next
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

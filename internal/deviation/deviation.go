// Package deviation implements the price-deviation fee engine for
// commodity pools tracking a weather-adjusted theoretical price.
//
// The engine converts the gap between the observed pool price and the
// oracle's theoretical price into:
//   - An operating mode (NORMAL / RECOVERY / CIRCUIT_BREAKER)
//   - A trade-alignment classification per swap direction
//   - A fee rate (flat for aligned trades, quadratic for misaligned)
//   - A bonus rate for aligned trades in recovery mode
//
// Misaligned trades pay a punitive fee whose surplus over the baseline
// is captured into the insurance treasury instead of being extracted
// as arbitrage profit by external actors.
//
// All rates are percentages expressed as shopspring/decimal — never
// float64 for money. The engine is stateless; prices are passed as
// arguments, not stored.
package deviation

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

var (
	// ErrInvalidThresholds is returned when the recovery threshold is not
	// strictly below the circuit-breaker threshold, or either is negative.
	ErrInvalidThresholds = errors.New("deviation: recovery threshold must be positive and below circuit-breaker threshold")

	// ErrInvalidFees is returned when the fee schedule is not ordered
	// alignedFee <= baseMisalignedFee <= maxMisalignedFee.
	ErrInvalidFees = errors.New("deviation: fee schedule must satisfy aligned <= base <= max")

	// RateScale is the number of decimal places for rate rounding.
	RateScale int32 = 6
)

// Default fee schedule and thresholds, in percent.
var (
	DefaultRecoveryThreshold = decimal.NewFromInt(50)
	DefaultBreakerThreshold  = decimal.NewFromInt(100)
	DefaultAlignedFee        = decimal.NewFromFloat(0.01)
	DefaultBaseMisalignedFee = decimal.NewFromFloat(0.3)
	DefaultMaxMisalignedFee  = decimal.NewFromInt(10)
	DefaultMaxBonus          = decimal.NewFromInt(5)
)

// Quadratic scaling divisors. The misaligned fee grows as
// deviation² × 10 / 10000 and the recovery bonus as deviation² × 5 / 10000.
var (
	misalignedNumerator = decimal.NewFromInt(10)
	bonusNumerator      = decimal.NewFromInt(5)
	quadraticDivisor    = decimal.NewFromInt(10000)
	hundred             = decimal.NewFromInt(100)
)

// Params configures an Engine. Zero values fall back to the defaults.
type Params struct {
	RecoveryThreshold decimal.Decimal // percent deviation entering RECOVERY
	BreakerThreshold  decimal.Decimal // percent deviation entering CIRCUIT_BREAKER
	AlignedFee        decimal.Decimal // flat fee percent for aligned trades
	BaseMisalignedFee decimal.Decimal // misaligned fee floor percent
	MaxMisalignedFee  decimal.Decimal // misaligned fee cap percent
	MaxBonus          decimal.Decimal // recovery bonus cap percent
}

// Engine computes deviation, mode, alignment, and rates. It is
// stateless and safe for concurrent use.
type Engine struct {
	recoveryThreshold decimal.Decimal
	breakerThreshold  decimal.Decimal
	alignedFee        decimal.Decimal
	baseMisalignedFee decimal.Decimal
	maxMisalignedFee  decimal.Decimal
	maxBonus          decimal.Decimal
}

// NewEngine creates an engine from params, applying defaults for zero
// values and validating threshold and fee ordering.
func NewEngine(p Params) (*Engine, error) {
	e := &Engine{
		recoveryThreshold: orDefault(p.RecoveryThreshold, DefaultRecoveryThreshold),
		breakerThreshold:  orDefault(p.BreakerThreshold, DefaultBreakerThreshold),
		alignedFee:        orDefault(p.AlignedFee, DefaultAlignedFee),
		baseMisalignedFee: orDefault(p.BaseMisalignedFee, DefaultBaseMisalignedFee),
		maxMisalignedFee:  orDefault(p.MaxMisalignedFee, DefaultMaxMisalignedFee),
		maxBonus:          orDefault(p.MaxBonus, DefaultMaxBonus),
	}

	if e.recoveryThreshold.LessThanOrEqual(decimal.Zero) ||
		e.recoveryThreshold.GreaterThanOrEqual(e.breakerThreshold) {
		return nil, ErrInvalidThresholds
	}
	if e.alignedFee.GreaterThan(e.baseMisalignedFee) ||
		e.baseMisalignedFee.GreaterThan(e.maxMisalignedFee) {
		return nil, ErrInvalidFees
	}
	return e, nil
}

func orDefault(v, def decimal.Decimal) decimal.Decimal {
	if v.IsZero() {
		return def
	}
	return v
}

// Deviation returns the percentage divergence between two prices:
//
//	|a - b| / min(a, b) × 100
//
// The smaller price is the denominator, which makes the magnitude
// direction-agnostic: Deviation(a, b) == Deviation(b, a). Non-positive
// inputs yield zero (callers validate prices before quoting).
func Deviation(a, b decimal.Decimal) decimal.Decimal {
	lo := a
	if b.LessThan(lo) {
		lo = b
	}
	if lo.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(lo).Mul(hundred).Round(RateScale)
}

// ModeFor maps a deviation percentage to the operating mode.
func (e *Engine) ModeFor(dev decimal.Decimal) model.OperatingMode {
	switch {
	case dev.GreaterThanOrEqual(e.breakerThreshold):
		return model.ModeCircuitBreaker
	case dev.GreaterThanOrEqual(e.recoveryThreshold):
		return model.ModeRecovery
	default:
		return model.ModeNormal
	}
}

// Aligned reports whether a trade direction pushes the pool price
// toward the theoretical price. A buy is aligned when the pool is
// underpriced (theoretical > pool); a sell is aligned when it is not.
// With no gap there is nothing to exploit, so both directions count
// as aligned.
func Aligned(side string, poolPrice, theoreticalPrice decimal.Decimal) bool {
	if poolPrice.Equal(theoreticalPrice) {
		return true
	}
	underpriced := theoreticalPrice.GreaterThan(poolPrice)
	if side == model.SideBuy {
		return underpriced
	}
	return !underpriced
}

// AlignedFee returns the flat minimal fee percent charged on aligned
// trades regardless of deviation.
func (e *Engine) AlignedFee() decimal.Decimal {
	return e.alignedFee
}

// MisalignedFee returns the punitive fee percent for a misaligned trade:
//
//	min(base + deviation² × 10 / 10000, max)
//
// Quadratic growth steepens pricing as the arbitrage gap widens; the
// cap bounds the worst case for legitimate large trades.
func (e *Engine) MisalignedFee(dev decimal.Decimal) decimal.Decimal {
	fee := e.baseMisalignedFee.Add(
		dev.Mul(dev).Mul(misalignedNumerator).Div(quadraticDivisor),
	)
	if fee.GreaterThan(e.maxMisalignedFee) {
		return e.maxMisalignedFee
	}
	return fee.Round(RateScale)
}

// Bonus returns the aligned-trade bonus percent for the given deviation
// and mode:
//
//	min(deviation² × 5 / 10000, maxBonus)
//
// Bonuses apply only in RECOVERY mode. NORMAL needs no extra incentive
// and CIRCUIT_BREAKER restricts trading rather than rewarding it.
func (e *Engine) Bonus(dev decimal.Decimal, mode model.OperatingMode) decimal.Decimal {
	if mode != model.ModeRecovery {
		return decimal.Zero
	}
	bonus := dev.Mul(dev).Mul(bonusNumerator).Div(quadraticDivisor)
	if bonus.GreaterThan(e.maxBonus) {
		return e.maxBonus
	}
	return bonus.Round(RateScale)
}

// Quote is the engine's full classification of one prospective swap.
type Quote struct {
	Deviation       decimal.Decimal     `json:"deviation_percent"`
	Mode            model.OperatingMode `json:"mode"`
	Aligned         bool                `json:"aligned"`
	FeePercent      decimal.Decimal     `json:"fee_percent"`
	BonusPercent    decimal.Decimal     `json:"bonus_percent"`
	CapturedPercent decimal.Decimal     `json:"captured_percent"` // surplus over the baseline fee
}

// QuoteSwap classifies a swap direction against the current prices and
// derives its fee, bonus, and treasury-captured surplus.
func (e *Engine) QuoteSwap(side string, poolPrice, theoreticalPrice decimal.Decimal) Quote {
	dev := Deviation(poolPrice, theoreticalPrice)
	mode := e.ModeFor(dev)
	aligned := Aligned(side, poolPrice, theoreticalPrice)

	q := Quote{
		Deviation: dev,
		Mode:      mode,
		Aligned:   aligned,
	}

	if aligned {
		q.FeePercent = e.alignedFee
		q.BonusPercent = e.Bonus(dev, mode)
		q.CapturedPercent = decimal.Zero
		return q
	}

	q.FeePercent = e.MisalignedFee(dev)
	q.BonusPercent = decimal.Zero
	// The delta over the baseline fee is the captured arbitrage value.
	q.CapturedPercent = q.FeePercent.Sub(e.baseMisalignedFee)
	if q.CapturedPercent.IsNegative() {
		q.CapturedPercent = decimal.Zero
	}
	return q
}

// Apply converts a rate percent into an absolute amount for a trade size.
func Apply(rate, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred).Round(RateScale)
}

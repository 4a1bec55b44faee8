// Package model defines the core domain types shared across the engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType classifies an adverse weather event.
type EventType string

const (
	EventNone     EventType = "NONE"
	EventDrought  EventType = "DROUGHT"
	EventFrost    EventType = "FROST"
	EventFlood    EventType = "FLOOD"
	EventHeatwave EventType = "HEATWAVE"
	EventStorm    EventType = "STORM"
)

// OperatingMode is the per-pool trading regime derived from price deviation.
type OperatingMode string

const (
	ModeNormal         OperatingMode = "NORMAL"
	ModeRecovery       OperatingMode = "RECOVERY"
	ModeCircuitBreaker OperatingMode = "CIRCUIT_BREAKER"
)

// Swap sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// WeatherEvent is the oracle's current adverse-weather record.
// At most one event is active per oracle instance; a new weather
// update overwrites the prior event.
type WeatherEvent struct {
	Type               EventType       `json:"event_type" db:"event_type"`
	Severity           string          `json:"severity,omitempty" db:"severity"`
	PriceImpactPercent decimal.Decimal `json:"price_impact_percent" db:"price_impact_percent"` // signed
	Timestamp          time.Time       `json:"timestamp" db:"timestamp"`
	Active             bool            `json:"active" db:"active"`
}

// WeatherObservation is an already-verified weather tuple from an
// external attestation source. The engine performs only freshness
// checks, never signature or consensus verification.
//
// TemperatureC is nil when the attestation carries no temperature
// reading; temperature-based rules do not fire on such observations.
type WeatherObservation struct {
	RainfallMM   decimal.Decimal  `json:"rainfall_mm"`
	TemperatureC *decimal.Decimal `json:"temperature_c,omitempty"`
	SoilMoisture decimal.Decimal  `json:"soil_moisture"`
	Latitude     int64            `json:"latitude"`  // degrees ×1e6
	Longitude    int64            `json:"longitude"` // degrees ×1e6
	Timestamp    time.Time        `json:"timestamp"`
}

// PriceSnapshot is a versioned view of the oracle's price state.
// Dependent computations (hook fees, vault eligibility) receive an
// explicit snapshot rather than reading ambient shared state, so
// staleness is visible and testable.
type PriceSnapshot struct {
	BasePrice        decimal.Decimal `json:"base_price"`
	TheoreticalPrice decimal.Decimal `json:"theoretical_price"`
	Event            WeatherEvent    `json:"event"`
	Version          uint64          `json:"version"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// WeatherUpdate is an immutable audit record of one oracle update.
// TemperatureC is nil when the observation carried no reading.
type WeatherUpdate struct {
	ID                 string           `json:"id" db:"id"`
	RainfallMM         decimal.Decimal  `json:"rainfall_mm" db:"rainfall_mm"`
	TemperatureC       *decimal.Decimal `json:"temperature_c,omitempty" db:"temperature_c"`
	Latitude           int64            `json:"latitude" db:"latitude"`
	Longitude          int64            `json:"longitude" db:"longitude"`
	RegionHash         string           `json:"region_hash" db:"region_hash"`
	EventType          EventType        `json:"event_type" db:"event_type"`
	PriceImpactPercent decimal.Decimal  `json:"price_impact_percent" db:"price_impact_percent"`
	Timestamp          time.Time        `json:"timestamp" db:"timestamp"`
}

// PoolState is the hook's per-pool record: the observed pool price and
// the cached oracle price it is compared against.
type PoolState struct {
	PoolID              string          `json:"pool_id" db:"pool_id"`
	Commodity           string          `json:"commodity" db:"commodity"`
	RegionHash          string          `json:"region_hash" db:"region_hash"`
	PoolPrice           decimal.Decimal `json:"pool_price" db:"pool_price"`
	CachedOraclePrice   decimal.Decimal `json:"cached_oracle_price" db:"cached_oracle_price"`
	CachedOracleVersion uint64          `json:"cached_oracle_version" db:"cached_oracle_version"`
	CachedAt            time.Time       `json:"cached_at" db:"cached_at"`
	Mode                OperatingMode   `json:"mode" db:"mode"`
	CircuitBreaker      bool            `json:"circuit_breaker" db:"circuit_breaker"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// SwapRecord is an immutable ledger entry for one executed swap.
// Once created, these are never modified or deleted.
type SwapRecord struct {
	ID               string          `json:"id" db:"id"`
	PoolID           string          `json:"pool_id" db:"pool_id"`
	TraderID         string          `json:"trader_id" db:"trader_id"`
	Side             string          `json:"side" db:"side"` // "BUY" or "SELL"
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	DeviationPercent decimal.Decimal `json:"deviation_percent" db:"deviation_percent"`
	Mode             OperatingMode   `json:"mode" db:"mode"`
	Aligned          bool            `json:"aligned" db:"aligned"`
	FeePercent       decimal.Decimal `json:"fee_percent" db:"fee_percent"`
	FeeAmount        decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	BonusPercent     decimal.Decimal `json:"bonus_percent" db:"bonus_percent"`
	BonusAmount      decimal.Decimal `json:"bonus_amount" db:"bonus_amount"`
	CapturedAmount   decimal.Decimal `json:"captured_amount" db:"captured_amount"` // surplus routed to treasury
	Timestamp        time.Time       `json:"timestamp" db:"timestamp"`
}

// Policy is a farmer's parametric crop-insurance record.
type Policy struct {
	ID             string          `json:"id" db:"id"`
	FarmerID       string          `json:"farmer_id" db:"farmer_id"`
	PoolID         string          `json:"pool_id" db:"pool_id"`
	Latitude       int64           `json:"latitude" db:"latitude"`   // degrees ×1e6
	Longitude      int64           `json:"longitude" db:"longitude"` // degrees ×1e6
	RegionHash     string          `json:"region_hash" db:"region_hash"`
	CoverageAmount decimal.Decimal `json:"coverage_amount" db:"coverage_amount"`
	PremiumPaid    decimal.Decimal `json:"premium_paid" db:"premium_paid"`
	StartTime      time.Time       `json:"start_time" db:"start_time"`
	EndTime        time.Time       `json:"end_time" db:"end_time"`
	Active         bool            `json:"active" db:"active"`
	Claimed        bool            `json:"claimed" db:"claimed"`
}

// Treasury entry reasons.
const (
	TreasuryPremium    = "PREMIUM"
	TreasuryFeeCapture = "FEE_CAPTURE"
	TreasuryFunding    = "FUNDING"
	TreasuryPayout     = "PAYOUT"
	TreasuryBonus      = "BONUS"
)

// TreasuryEntry is an immutable credit or debit against a pool's
// insurance treasury. Balance is the sum of signed amounts.
type TreasuryEntry struct {
	ID        string          `json:"id" db:"id"`
	PoolID    string          `json:"pool_id" db:"pool_id"`
	Reason    string          `json:"reason" db:"reason"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	RefID     string          `json:"ref_id,omitempty" db:"ref_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

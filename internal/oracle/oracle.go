// Package oracle maintains the weather-adjusted theoretical price for
// an agricultural commodity.
//
// The oracle holds a base price sourced from an external feed and the
// single current weather event. The theoretical price is derived as
//
//	basePrice × (100 + priceImpactPercent) / 100
//
// when an event is active, and equals the base price otherwise.
//
// Weather severity is classified by one canonical, configurable table
// (rainfall bands plus temperature and flood rules) so that no caller
// reimplements the tiering. Every read returns a versioned snapshot;
// dependent components compare versions and timestamps instead of
// trusting ambient state.
package oracle

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

var (
	// ErrUnauthorized is returned when the caller is not the trusted updater.
	ErrUnauthorized = errors.New("oracle: caller is not authorized to update")

	// ErrStaleData is returned when an externally sourced timestamp is in
	// the future or outside the freshness window.
	ErrStaleData = errors.New("oracle: timestamp outside freshness window")

	// ErrInvalidPrice is returned for a non-positive base price.
	ErrInvalidPrice = errors.New("oracle: price must be positive")
)

var hundred = decimal.NewFromInt(100)

// DroughtBand maps a rainfall bound to a drought severity and price
// impact. A zero bound matches exactly zero rainfall; any other bound
// matches rainfall strictly below it.
type DroughtBand struct {
	MaxRainfallMM decimal.Decimal
	Severity      string
	ImpactPercent decimal.Decimal
}

// Rules is the canonical severity table. Precedence: flood, then frost,
// then heatwave, then drought bands. Rainfall at or above every drought
// band (and below the flood bound) clears the current event.
type Rules struct {
	DroughtBands   []DroughtBand
	FrostBelowC    decimal.Decimal // temperature at or below → FROST
	FrostImpact    decimal.Decimal
	HeatwaveOverC  decimal.Decimal // temperature at or above → HEATWAVE
	HeatwaveImpact decimal.Decimal
	FloodOverMM    decimal.Decimal // rainfall at or above → FLOOD
	FloodImpact    decimal.Decimal
}

// DefaultRules returns the severity table observed in production:
// 0mm → SEVERE +50%, <5mm → MODERATE +30%, <10mm → MILD +15%,
// otherwise normal conditions. Frost, heatwave, and flood rules cover
// the remaining event types the data model supports.
func DefaultRules() Rules {
	return Rules{
		DroughtBands: []DroughtBand{
			{MaxRainfallMM: decimal.Zero, Severity: "SEVERE", ImpactPercent: decimal.NewFromInt(50)},
			{MaxRainfallMM: decimal.NewFromInt(5), Severity: "MODERATE", ImpactPercent: decimal.NewFromInt(30)},
			{MaxRainfallMM: decimal.NewFromInt(10), Severity: "MILD", ImpactPercent: decimal.NewFromInt(15)},
		},
		FrostBelowC:    decimal.NewFromInt(0),
		FrostImpact:    decimal.NewFromInt(40),
		HeatwaveOverC:  decimal.NewFromInt(42),
		HeatwaveImpact: decimal.NewFromInt(25),
		FloodOverMM:    decimal.NewFromInt(150),
		FloodImpact:    decimal.NewFromInt(35),
	}
}

// Classify maps an observation to a weather event. A cleared event is
// returned as {Type: NONE, Active: false}.
func (r Rules) Classify(obs model.WeatherObservation) model.WeatherEvent {
	ts := obs.Timestamp

	if !r.FloodOverMM.IsZero() && obs.RainfallMM.GreaterThanOrEqual(r.FloodOverMM) {
		return model.WeatherEvent{
			Type: model.EventFlood, Severity: "SEVERE",
			PriceImpactPercent: r.FloodImpact, Timestamp: ts, Active: true,
		}
	}
	// Temperature rules only fire when the observation carries a
	// reading. An absent temperature is not 0°C.
	if obs.TemperatureC != nil {
		if !r.FrostImpact.IsZero() && obs.TemperatureC.LessThanOrEqual(r.FrostBelowC) {
			return model.WeatherEvent{
				Type: model.EventFrost, Severity: "SEVERE",
				PriceImpactPercent: r.FrostImpact, Timestamp: ts, Active: true,
			}
		}
		if !r.HeatwaveOverC.IsZero() && obs.TemperatureC.GreaterThanOrEqual(r.HeatwaveOverC) {
			return model.WeatherEvent{
				Type: model.EventHeatwave, Severity: "SEVERE",
				PriceImpactPercent: r.HeatwaveImpact, Timestamp: ts, Active: true,
			}
		}
	}

	for _, band := range r.DroughtBands {
		matched := obs.RainfallMM.LessThan(band.MaxRainfallMM)
		if band.MaxRainfallMM.IsZero() {
			matched = obs.RainfallMM.LessThanOrEqual(decimal.Zero)
		}
		if matched {
			return model.WeatherEvent{
				Type: model.EventDrought, Severity: band.Severity,
				PriceImpactPercent: band.ImpactPercent, Timestamp: ts, Active: true,
			}
		}
	}

	return model.WeatherEvent{Type: model.EventNone, Timestamp: ts, Active: false}
}

// Oracle is the single source of truth for the weather-adjusted price.
// One trusted updater mutates it; reads are lock-free copies of the
// latest versioned snapshot.
type Oracle struct {
	updaterID string
	staleness time.Duration
	rules     Rules
	now       func() time.Time

	mu        sync.RWMutex
	basePrice decimal.Decimal
	event     model.WeatherEvent
	version   uint64
	updatedAt time.Time
}

// Option customizes oracle construction.
type Option func(*Oracle)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// New creates an oracle with the given trusted updater, initial base
// price, severity rules, and freshness window for external data.
func New(updaterID string, basePrice decimal.Decimal, rules Rules, staleness time.Duration, opts ...Option) (*Oracle, error) {
	if basePrice.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidPrice
	}
	if staleness <= 0 {
		staleness = time.Hour
	}
	o := &Oracle{
		updaterID: updaterID,
		staleness: staleness,
		rules:     rules,
		now:       time.Now,
		basePrice: basePrice,
		event:     model.WeatherEvent{Type: model.EventNone},
		version:   1,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.updatedAt = o.now().UTC()
	return o, nil
}

// Rules returns the severity table in use.
func (o *Oracle) Rules() Rules {
	return o.rules
}

func (o *Oracle) checkFreshness(ts time.Time) error {
	now := o.now().UTC()
	if ts.After(now) || ts.Before(now.Add(-o.staleness)) {
		return ErrStaleData
	}
	return nil
}

// ApplyWeather classifies an observation through the severity table and
// installs the resulting event, overwriting any prior one. Coordinates
// are accepted as opaque fixed-point integers. Returns the new snapshot.
func (o *Oracle) ApplyWeather(callerID string, obs model.WeatherObservation) (model.PriceSnapshot, error) {
	if callerID != o.updaterID {
		return model.PriceSnapshot{}, ErrUnauthorized
	}
	if err := o.checkFreshness(obs.Timestamp); err != nil {
		return model.PriceSnapshot{}, err
	}

	event := o.rules.Classify(obs)

	o.mu.Lock()
	o.event = event
	o.version++
	o.updatedAt = o.now().UTC()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	return snap, nil
}

// SetEvent installs a weather event directly, bypassing classification.
// Used for manually attested events (e.g. STORM reports that carry no
// rainfall signal). Trusted caller only.
func (o *Oracle) SetEvent(callerID string, event model.WeatherEvent) (model.PriceSnapshot, error) {
	if callerID != o.updaterID {
		return model.PriceSnapshot{}, ErrUnauthorized
	}
	if event.Active && event.Type == model.EventNone {
		event.Active = false
	}

	o.mu.Lock()
	o.event = event
	o.version++
	o.updatedAt = o.now().UTC()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	return snap, nil
}

// UpdateBasePrice overwrites the base price from an external feed
// reading. The reading's timestamp must not be in the future and must
// be within the freshness window.
func (o *Oracle) UpdateBasePrice(callerID string, price decimal.Decimal, ts time.Time) (model.PriceSnapshot, error) {
	if callerID != o.updaterID {
		return model.PriceSnapshot{}, ErrUnauthorized
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return model.PriceSnapshot{}, ErrInvalidPrice
	}
	if err := o.checkFreshness(ts); err != nil {
		return model.PriceSnapshot{}, err
	}

	o.mu.Lock()
	o.basePrice = price
	o.version++
	o.updatedAt = o.now().UTC()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	return snap, nil
}

// Snapshot returns the current versioned price state.
func (o *Oracle) Snapshot() model.PriceSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotLocked()
}

// TheoreticalPrice returns the current weather-adjusted fair value.
func (o *Oracle) TheoreticalPrice() decimal.Decimal {
	return o.Snapshot().TheoreticalPrice
}

// CurrentEvent returns the current weather event record.
func (o *Oracle) CurrentEvent() model.WeatherEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.event
}

func (o *Oracle) snapshotLocked() model.PriceSnapshot {
	theoretical := o.basePrice
	if o.event.Active {
		theoretical = o.basePrice.
			Mul(hundred.Add(o.event.PriceImpactPercent)).
			Div(hundred)
		if theoretical.IsNegative() {
			theoretical = decimal.Zero
		}
	}
	return model.PriceSnapshot{
		BasePrice:        o.basePrice,
		TheoreticalPrice: theoretical,
		Event:            o.event,
		Version:          o.version,
		UpdatedAt:        o.updatedAt,
	}
}

package oracle

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

const updater = "weather-updater"

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestOracle(t *testing.T, base float64, now time.Time) *Oracle {
	t.Helper()
	o, err := New(updater, d(base), DefaultRules(), time.Hour, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return o
}

func obsAt(rainfall, temp float64, ts time.Time) model.WeatherObservation {
	tc := d(temp)
	return model.WeatherObservation{
		RainfallMM:   d(rainfall),
		TemperatureC: &tc,
		Timestamp:    ts,
	}
}

// obsRainOnly is an observation without a temperature reading.
func obsRainOnly(rainfall float64, ts time.Time) model.WeatherObservation {
	return model.WeatherObservation{
		RainfallMM: d(rainfall),
		Timestamp:  ts,
	}
}

// --- Constructor tests ---

func TestNew_RejectsNonPositivePrice(t *testing.T) {
	if _, err := New(updater, d(0), DefaultRules(), time.Hour); err != ErrInvalidPrice {
		t.Errorf("expected ErrInvalidPrice for zero price, got %v", err)
	}
	if _, err := New(updater, d(-5), DefaultRules(), time.Hour); err != ErrInvalidPrice {
		t.Errorf("expected ErrInvalidPrice for negative price, got %v", err)
	}
}

// --- Classification tests ---

func TestClassify_DroughtBands(t *testing.T) {
	rules := DefaultRules()
	ts := time.Now().UTC()

	tests := []struct {
		rainfall float64
		want     model.EventType
		severity string
		impact   float64
	}{
		{0, model.EventDrought, "SEVERE", 50},
		{3, model.EventDrought, "MODERATE", 30},
		{7, model.EventDrought, "MILD", 15},
		{10, model.EventNone, "", 0},
		{25, model.EventNone, "", 0},
	}
	for _, tc := range tests {
		ev := rules.Classify(obsAt(tc.rainfall, 20, ts))
		if ev.Type != tc.want {
			t.Errorf("rainfall=%v: got %s, want %s", tc.rainfall, ev.Type, tc.want)
			continue
		}
		if ev.Severity != tc.severity {
			t.Errorf("rainfall=%v: severity %q, want %q", tc.rainfall, ev.Severity, tc.severity)
		}
		if !ev.PriceImpactPercent.Equal(d(tc.impact)) {
			t.Errorf("rainfall=%v: impact %s, want %v", tc.rainfall, ev.PriceImpactPercent, tc.impact)
		}
	}
}

func TestClassify_Frost(t *testing.T) {
	ev := DefaultRules().Classify(obsAt(20, -2, time.Now()))
	if ev.Type != model.EventFrost {
		t.Errorf("expected FROST at -2°C, got %s", ev.Type)
	}
}

func TestClassify_Heatwave(t *testing.T) {
	ev := DefaultRules().Classify(obsAt(20, 45, time.Now()))
	if ev.Type != model.EventHeatwave {
		t.Errorf("expected HEATWAVE at 45°C, got %s", ev.Type)
	}
}

func TestClassify_FloodTakesPrecedence(t *testing.T) {
	// Heavy rain during a heatwave reads as flood.
	ev := DefaultRules().Classify(obsAt(200, 45, time.Now()))
	if ev.Type != model.EventFlood {
		t.Errorf("expected FLOOD at 200mm, got %s", ev.Type)
	}
}

func TestClassify_MissingTemperatureSkipsFrost(t *testing.T) {
	// An absent temperature reading is not 0°C: a rainfall-only
	// observation with no rain is a drought, never a frost.
	ev := DefaultRules().Classify(obsRainOnly(0, time.Now()))
	if ev.Type != model.EventDrought {
		t.Fatalf("expected DROUGHT for 0mm without temperature, got %s", ev.Type)
	}
	if !ev.PriceImpactPercent.Equal(d(50)) {
		t.Errorf("expected impact 50, got %s", ev.PriceImpactPercent)
	}
}

// --- Price derivation tests ---

func TestTheoreticalPrice_NoEventEqualsBase(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)
	if theo := o.TheoreticalPrice(); !theo.Equal(d(5.00)) {
		t.Errorf("expected theoretical == base with no event, got %s", theo)
	}
}

func TestApplyWeather_SevereDrought(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	snap, err := o.ApplyWeather(updater, obsAt(0, 20, now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Event.Type != model.EventDrought {
		t.Fatalf("expected DROUGHT, got %s", snap.Event.Type)
	}
	if !snap.Event.PriceImpactPercent.Equal(d(50)) {
		t.Errorf("expected impact 50, got %s", snap.Event.PriceImpactPercent)
	}
	// 5.00 × 150/100 = 7.50
	if !snap.TheoreticalPrice.Equal(d(7.50)) {
		t.Errorf("expected theoretical 7.50, got %s", snap.TheoreticalPrice)
	}
}

func TestApplyWeather_RainClearsEvent(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	if _, err := o.ApplyWeather(updater, obsAt(0, 20, now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := o.ApplyWeather(updater, obsAt(25, 20, now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Event.Active {
		t.Error("expected event cleared after 25mm rainfall")
	}
	if !snap.TheoreticalPrice.Equal(d(5.00)) {
		t.Errorf("expected theoretical reverted to 5.00, got %s", snap.TheoreticalPrice)
	}
}

func TestApplyWeather_RainfallOnlyObservations(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	snap, err := o.ApplyWeather(updater, obsRainOnly(0, now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Event.Type != model.EventDrought {
		t.Fatalf("expected DROUGHT, got %s", snap.Event.Type)
	}
	if !snap.TheoreticalPrice.Equal(d(7.50)) {
		t.Errorf("expected theoretical 7.50, got %s", snap.TheoreticalPrice)
	}

	snap, err = o.ApplyWeather(updater, obsRainOnly(25, now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Event.Active {
		t.Errorf("expected event cleared by 25mm rainfall, got active %s", snap.Event.Type)
	}
	if !snap.TheoreticalPrice.Equal(d(5.00)) {
		t.Errorf("expected theoretical reverted to 5.00, got %s", snap.TheoreticalPrice)
	}
}

func TestPriceDerivation_Formula(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 8.00, now)

	// MODERATE drought: +30% → 8.00 × 130/100 = 10.40
	snap, err := o.ApplyWeather(updater, obsAt(3, 20, now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.TheoreticalPrice.Equal(d(10.40)) {
		t.Errorf("expected theoretical 10.40, got %s", snap.TheoreticalPrice)
	}
}

// --- Authorization and freshness tests ---

func TestApplyWeather_Unauthorized(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	if _, err := o.ApplyWeather("intruder", obsAt(0, 20, now)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestApplyWeather_StaleObservation(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	stale := now.Add(-2 * time.Hour)
	if _, err := o.ApplyWeather(updater, obsAt(0, 20, stale)); !errors.Is(err, ErrStaleData) {
		t.Errorf("expected ErrStaleData for 2h-old observation, got %v", err)
	}
}

func TestApplyWeather_FutureObservation(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	future := now.Add(10 * time.Minute)
	if _, err := o.ApplyWeather(updater, obsAt(0, 20, future)); !errors.Is(err, ErrStaleData) {
		t.Errorf("expected ErrStaleData for future observation, got %v", err)
	}
}

func TestUpdateBasePrice(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	snap, err := o.UpdateBasePrice(updater, d(6.25), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.BasePrice.Equal(d(6.25)) {
		t.Errorf("expected base 6.25, got %s", snap.BasePrice)
	}

	if _, err := o.UpdateBasePrice(updater, d(-1), now); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := o.UpdateBasePrice("intruder", d(6), now); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

// --- Versioning tests ---

func TestSnapshot_VersionIncrements(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	v0 := o.Snapshot().Version
	if _, err := o.ApplyWeather(updater, obsAt(0, 20, now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v1 := o.Snapshot().Version
	if v1 != v0+1 {
		t.Errorf("expected version %d after update, got %d", v0+1, v1)
	}

	if _, err := o.UpdateBasePrice(updater, d(6), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2 := o.Snapshot().Version; v2 != v1+1 {
		t.Errorf("expected version %d after price update, got %d", v1+1, v2)
	}
}

func TestSetEvent_ManualStorm(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	snap, err := o.SetEvent(updater, model.WeatherEvent{
		Type:               model.EventStorm,
		Severity:           "SEVERE",
		PriceImpactPercent: d(20),
		Timestamp:          now,
		Active:             true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Event.Type != model.EventStorm {
		t.Errorf("expected STORM, got %s", snap.Event.Type)
	}
	if !snap.TheoreticalPrice.Equal(d(6.00)) {
		t.Errorf("expected theoretical 6.00, got %s", snap.TheoreticalPrice)
	}
}

func TestSetEvent_NoneNeverActive(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, 5.00, now)

	snap, err := o.SetEvent(updater, model.WeatherEvent{
		Type:   model.EventNone,
		Active: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Event.Active {
		t.Error("NONE event must not be active")
	}
}

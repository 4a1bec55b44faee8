package deviation

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

// --- Constructor tests ---

func TestNewEngine_Defaults(t *testing.T) {
	e := defaultEngine(t)
	if !e.AlignedFee().Equal(d(0.01)) {
		t.Errorf("expected default aligned fee 0.01, got %s", e.AlignedFee())
	}
}

func TestNewEngine_RecoveryAboveBreaker(t *testing.T) {
	_, err := NewEngine(Params{
		RecoveryThreshold: d(100),
		BreakerThreshold:  d(50),
	})
	if err != ErrInvalidThresholds {
		t.Errorf("expected ErrInvalidThresholds, got %v", err)
	}
}

func TestNewEngine_NegativeRecovery(t *testing.T) {
	_, err := NewEngine(Params{RecoveryThreshold: d(-10)})
	if err != ErrInvalidThresholds {
		t.Errorf("expected ErrInvalidThresholds for negative recovery, got %v", err)
	}
}

func TestNewEngine_FeeOrdering(t *testing.T) {
	_, err := NewEngine(Params{
		AlignedFee:        d(1),
		BaseMisalignedFee: d(0.5),
	})
	if err != ErrInvalidFees {
		t.Errorf("expected ErrInvalidFees when aligned > base, got %v", err)
	}
}

// --- Deviation tests ---

func TestDeviation_Symmetric(t *testing.T) {
	pairs := []struct{ a, b float64 }{
		{5.00, 7.50},
		{1, 2},
		{100, 101},
		{0.5, 99},
	}
	for _, p := range pairs {
		ab := Deviation(d(p.a), d(p.b))
		ba := Deviation(d(p.b), d(p.a))
		if !ab.Equal(ba) {
			t.Errorf("Deviation(%v,%v)=%s but Deviation(%v,%v)=%s",
				p.a, p.b, ab, p.b, p.a, ba)
		}
	}
}

func TestDeviation_DroughtGap(t *testing.T) {
	// Pool 5.00 vs theoretical 7.50 diverge by half the smaller price.
	dev := Deviation(d(5.00), d(7.50))
	if !dev.Equal(d(50)) {
		t.Errorf("expected deviation 50, got %s", dev)
	}
}

func TestDeviation_EqualPrices(t *testing.T) {
	if dev := Deviation(d(5), d(5)); !dev.IsZero() {
		t.Errorf("expected zero deviation for equal prices, got %s", dev)
	}
}

func TestDeviation_NonPositiveInput(t *testing.T) {
	if dev := Deviation(d(0), d(5)); !dev.IsZero() {
		t.Errorf("expected zero deviation for zero input, got %s", dev)
	}
	if dev := Deviation(d(-1), d(5)); !dev.IsZero() {
		t.Errorf("expected zero deviation for negative input, got %s", dev)
	}
}

func TestDeviation_CanExceedBreakerThreshold(t *testing.T) {
	dev := Deviation(d(1), d(3))
	if dev.LessThan(d(100)) {
		t.Errorf("expected deviation >= 100 for tripled price, got %s", dev)
	}
}

// --- Mode tests ---

func TestModeFor_Boundaries(t *testing.T) {
	e := defaultEngine(t)

	tests := []struct {
		dev  float64
		want model.OperatingMode
	}{
		{0, model.ModeNormal},
		{49.999999, model.ModeNormal},
		{50, model.ModeRecovery},
		{99.999999, model.ModeRecovery},
		{100, model.ModeCircuitBreaker},
		{250, model.ModeCircuitBreaker},
	}
	for _, tc := range tests {
		if got := e.ModeFor(d(tc.dev)); got != tc.want {
			t.Errorf("ModeFor(%v) = %s, want %s", tc.dev, got, tc.want)
		}
	}
}

// --- Alignment tests ---

func TestAligned_BuyWhenUnderpriced(t *testing.T) {
	if !Aligned(model.SideBuy, d(5.00), d(7.50)) {
		t.Error("buy should be aligned when pool is underpriced")
	}
	if Aligned(model.SideSell, d(5.00), d(7.50)) {
		t.Error("sell should be misaligned when pool is underpriced")
	}
}

func TestAligned_SellWhenOverpriced(t *testing.T) {
	if !Aligned(model.SideSell, d(10), d(7.50)) {
		t.Error("sell should be aligned when pool is overpriced")
	}
	if Aligned(model.SideBuy, d(10), d(7.50)) {
		t.Error("buy should be misaligned when pool is overpriced")
	}
}

func TestAligned_ExactlyOneSideAligned(t *testing.T) {
	pairs := []struct{ pool, theo float64 }{
		{5, 7.5},
		{7.5, 5},
		{1, 100},
		{100, 99.99},
	}
	for _, p := range pairs {
		buy := Aligned(model.SideBuy, d(p.pool), d(p.theo))
		sell := Aligned(model.SideSell, d(p.pool), d(p.theo))
		if buy == sell {
			t.Errorf("pool=%v theo=%v: buy=%v sell=%v, exactly one must be aligned",
				p.pool, p.theo, buy, sell)
		}
	}
}

func TestAligned_NoGapBothAligned(t *testing.T) {
	if !Aligned(model.SideBuy, d(5), d(5)) || !Aligned(model.SideSell, d(5), d(5)) {
		t.Error("with no gap both directions should count as aligned")
	}
}

// --- Fee tests ---

func TestMisalignedFee_RecoveryExample(t *testing.T) {
	e := defaultEngine(t)
	// 0.3 + 50²×10/10000 = 0.3 + 2.5 = 2.8
	fee := e.MisalignedFee(d(50))
	if !fee.Equal(d(2.8)) {
		t.Errorf("expected misaligned fee 2.8 at deviation 50, got %s", fee)
	}
}

func TestMisalignedFee_CappedAtMax(t *testing.T) {
	e := defaultEngine(t)
	fee := e.MisalignedFee(d(500))
	if !fee.Equal(d(10)) {
		t.Errorf("expected fee capped at 10, got %s", fee)
	}
}

func TestMisalignedFee_Monotonic(t *testing.T) {
	e := defaultEngine(t)
	prev := decimal.Zero
	for _, dev := range []float64{0, 10, 25, 50, 75, 98, 150, 1000} {
		fee := e.MisalignedFee(d(dev))
		if fee.LessThan(prev) {
			t.Errorf("fee decreased at deviation %v: %s < %s", dev, fee, prev)
		}
		if fee.GreaterThan(d(10)) {
			t.Errorf("fee exceeds cap at deviation %v: %s", dev, fee)
		}
		prev = fee
	}
}

func TestMisalignedFee_FlooredAtBase(t *testing.T) {
	e := defaultEngine(t)
	fee := e.MisalignedFee(d(0))
	if !fee.Equal(d(0.3)) {
		t.Errorf("expected base fee 0.3 at zero deviation, got %s", fee)
	}
}

// --- Bonus tests ---

func TestBonus_RecoveryExample(t *testing.T) {
	e := defaultEngine(t)
	// 50²×5/10000 = 1.25
	bonus := e.Bonus(d(50), model.ModeRecovery)
	if !bonus.Equal(d(1.25)) {
		t.Errorf("expected bonus 1.25 at deviation 50, got %s", bonus)
	}
}

func TestBonus_CappedAtMax(t *testing.T) {
	e := defaultEngine(t)
	bonus := e.Bonus(d(99), model.ModeRecovery)
	if !bonus.Equal(d(4.9005)) {
		t.Errorf("expected bonus 4.9005 at deviation 99, got %s", bonus)
	}
	bonus = e.Bonus(d(150), model.ModeRecovery)
	if !bonus.Equal(d(5)) {
		t.Errorf("expected bonus capped at 5, got %s", bonus)
	}
}

func TestBonus_OnlyInRecovery(t *testing.T) {
	e := defaultEngine(t)
	if b := e.Bonus(d(50), model.ModeNormal); !b.IsZero() {
		t.Errorf("expected zero bonus in NORMAL mode, got %s", b)
	}
	if b := e.Bonus(d(150), model.ModeCircuitBreaker); !b.IsZero() {
		t.Errorf("expected zero bonus in CIRCUIT_BREAKER mode, got %s", b)
	}
}

// --- Quote tests ---

func TestQuoteSwap_RecoveryScenario(t *testing.T) {
	e := defaultEngine(t)

	// Pool 5.00, theoretical 7.50: deviation 50%, RECOVERY.
	buy := e.QuoteSwap(model.SideBuy, d(5.00), d(7.50))
	if buy.Mode != model.ModeRecovery {
		t.Errorf("expected RECOVERY mode, got %s", buy.Mode)
	}
	if !buy.Aligned {
		t.Error("buy should be aligned")
	}
	if !buy.FeePercent.Equal(d(0.01)) {
		t.Errorf("expected aligned fee 0.01, got %s", buy.FeePercent)
	}
	if !buy.BonusPercent.Equal(d(1.25)) {
		t.Errorf("expected bonus 1.25, got %s", buy.BonusPercent)
	}
	if !buy.CapturedPercent.IsZero() {
		t.Errorf("aligned trade should capture nothing, got %s", buy.CapturedPercent)
	}

	sell := e.QuoteSwap(model.SideSell, d(5.00), d(7.50))
	if sell.Aligned {
		t.Error("sell should be misaligned")
	}
	if !sell.FeePercent.Equal(d(2.8)) {
		t.Errorf("expected misaligned fee 2.8, got %s", sell.FeePercent)
	}
	if !sell.BonusPercent.IsZero() {
		t.Errorf("misaligned trade gets no bonus, got %s", sell.BonusPercent)
	}
	if !sell.CapturedPercent.Equal(d(2.5)) {
		t.Errorf("expected captured surplus 2.5, got %s", sell.CapturedPercent)
	}
}

func TestApply(t *testing.T) {
	amount := Apply(d(2.8), d(1000))
	if !amount.Equal(d(28)) {
		t.Errorf("expected 28 from 2.8%% of 1000, got %s", amount)
	}
}

// Package vault implements the parametric crop-insurance vault: policy
// issuance, risk-based premium quoting, claim eligibility, and atomic
// payouts against the pool treasury.
//
// All monetary values use shopspring/decimal — never float64 for money.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/metrics"
	"github.com/agrihook/agri-engine/internal/model"
	"github.com/agrihook/agri-engine/internal/oracle"
	"github.com/agrihook/agri-engine/internal/region"
	"github.com/agrihook/agri-engine/internal/store"
)

var (
	ErrInvalidCoverage      = errors.New("vault: coverage amount outside allowed band")
	ErrDuplicatePolicy      = errors.New("vault: farmer already has an active policy")
	ErrNoActivePolicy       = errors.New("vault: no active policy")
	ErrAlreadyClaimed       = errors.New("vault: policy already claimed")
	ErrNoActiveWeatherEvent = errors.New("vault: no qualifying weather event active")
	ErrInsufficientTreasury = errors.New("vault: treasury cannot cover payout")
	ErrInsufficientPayment  = errors.New("vault: premium paid below quoted premium")
	ErrPolicyExpired        = errors.New("vault: policy coverage period has ended")
	ErrInvalidFunding       = errors.New("vault: funding amount must be positive")
)

// Config holds vault tunables. Zero values take defaults.
type Config struct {
	MinCoverage decimal.Decimal // default 100
	MaxCoverage decimal.Decimal // default 1000000

	// PremiumRate is the base premium as a percent of coverage.
	// Default 5.
	PremiumRate decimal.Decimal

	// PayoutRate is the payout as a percent of coverage. Default 50.
	PayoutRate decimal.Decimal

	// PolicyTerm is the coverage period. Default 90 days.
	PolicyTerm time.Duration

	// HistoryWindow bounds how many recent weather updates feed the
	// historical risk score. Default 30.
	HistoryWindow int
}

// Vault manages insurance policies and treasury payouts. A mutex
// serializes claim execution (single-instance); the treasury
// sufficiency check itself lives in the store's atomic debit, so
// concurrent debits from other components cannot overdraw the pool.
type Vault struct {
	store  store.Store
	oracle *oracle.Oracle

	minCoverage   decimal.Decimal
	maxCoverage   decimal.Decimal
	premiumRate   decimal.Decimal
	payoutRate    decimal.Decimal
	policyTerm    time.Duration
	historyWindow int

	mu  sync.Mutex
	now func() time.Time
}

// New creates a Vault bound to a store and oracle.
func New(st store.Store, orc *oracle.Oracle, cfg Config) *Vault {
	if cfg.MinCoverage.LessThanOrEqual(decimal.Zero) {
		cfg.MinCoverage = decimal.NewFromInt(100)
	}
	if cfg.MaxCoverage.LessThanOrEqual(decimal.Zero) {
		cfg.MaxCoverage = decimal.NewFromInt(1000000)
	}
	if cfg.PremiumRate.LessThanOrEqual(decimal.Zero) {
		cfg.PremiumRate = decimal.NewFromInt(5)
	}
	if cfg.PayoutRate.LessThanOrEqual(decimal.Zero) {
		cfg.PayoutRate = decimal.NewFromInt(50)
	}
	if cfg.PolicyTerm <= 0 {
		cfg.PolicyTerm = 90 * 24 * time.Hour
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30
	}
	return &Vault{
		store:         st,
		oracle:        orc,
		minCoverage:   cfg.MinCoverage,
		maxCoverage:   cfg.MaxCoverage,
		premiumRate:   cfg.PremiumRate,
		payoutRate:    cfg.PayoutRate,
		policyTerm:    cfg.PolicyTerm,
		historyWindow: cfg.HistoryWindow,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the vault's clock. Test hook.
func (v *Vault) WithClock(now func() time.Time) *Vault {
	v.now = now
	return v
}

// PremiumQuote breaks down a risk-based premium.
type PremiumQuote struct {
	CoverageAmount decimal.Decimal `json:"coverage_amount"`
	BasePremium    decimal.Decimal `json:"base_premium"`
	CurrentRisk    decimal.Decimal `json:"current_risk"`    // percent, active event impact
	HistoricalRisk decimal.Decimal `json:"historical_risk"` // percent, mean recent impact
	RiskMultiplier decimal.Decimal `json:"risk_multiplier"`
	UtilMultiplier decimal.Decimal `json:"utilization_multiplier"`
	Premium        decimal.Decimal `json:"premium"`
}

// QuotePremium prices coverage from three signals: the base rate, the
// oracle's current and historical weather risk, and how loaded the
// treasury already is against outstanding payout obligations.
//
//	premium = coverage × rate/100
//	          × (1 + (currentRisk + historicalRisk)/4/100)
//	          × utilizationMultiplier
func (v *Vault) QuotePremium(ctx context.Context, poolID string, coverage decimal.Decimal) (*PremiumQuote, error) {
	if coverage.LessThan(v.minCoverage) || coverage.GreaterThan(v.maxCoverage) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrInvalidCoverage, coverage, v.minCoverage, v.maxCoverage)
	}

	hundred := decimal.NewFromInt(100)
	base := coverage.Mul(v.premiumRate).Div(hundred)

	currentRisk := decimal.Zero
	if ev := v.oracle.CurrentEvent(); ev.Active {
		currentRisk = ev.PriceImpactPercent.Abs()
	}

	historicalRisk, err := v.historicalRisk(ctx)
	if err != nil {
		return nil, err
	}

	// riskMultiplier = 1 + (current + historical)/4/100
	riskMultiplier := decimal.NewFromInt(1).Add(
		currentRisk.Add(historicalRisk).Div(decimal.NewFromInt(4)).Div(hundred))

	utilMultiplier, err := v.utilizationMultiplier(ctx, poolID)
	if err != nil {
		return nil, err
	}

	premium := base.Mul(riskMultiplier).Mul(utilMultiplier).Round(6)

	return &PremiumQuote{
		CoverageAmount: coverage,
		BasePremium:    base,
		CurrentRisk:    currentRisk,
		HistoricalRisk: historicalRisk,
		RiskMultiplier: riskMultiplier,
		UtilMultiplier: utilMultiplier,
		Premium:        premium,
	}, nil
}

// historicalRisk is the mean absolute price impact over the recent
// weather-update audit log. No history means zero risk.
func (v *Vault) historicalRisk(ctx context.Context) (decimal.Decimal, error) {
	updates, err := v.store.ListWeatherUpdates(ctx, v.historyWindow)
	if err != nil {
		return decimal.Zero, err
	}
	if len(updates) == 0 {
		return decimal.Zero, nil
	}
	sum := decimal.Zero
	for _, u := range updates {
		sum = sum.Add(u.PriceImpactPercent.Abs())
	}
	return sum.Div(decimal.NewFromInt(int64(len(updates)))).Round(6), nil
}

// utilizationMultiplier loads the premium by how much of the treasury
// is already spoken for by potential payouts on active policies:
// <50% → 1.0, <80% → 1.25, ≥80% → 1.5. An empty treasury with open
// obligations counts as fully utilized.
func (v *Vault) utilizationMultiplier(ctx context.Context, poolID string) (decimal.Decimal, error) {
	balance, err := v.store.TreasuryBalance(ctx, poolID)
	if err != nil {
		return decimal.Zero, err
	}

	policies, err := v.store.ListPolicies(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	obligations := decimal.Zero
	hundred := decimal.NewFromInt(100)
	for _, p := range policies {
		if p.PoolID == poolID && p.Active && !p.Claimed {
			obligations = obligations.Add(p.CoverageAmount.Mul(v.payoutRate).Div(hundred))
		}
	}

	if obligations.IsZero() {
		return decimal.NewFromInt(1), nil
	}
	if balance.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromFloat(1.5), nil
	}

	utilization := obligations.Div(balance).Mul(hundred)
	switch {
	case utilization.LessThan(decimal.NewFromInt(50)):
		return decimal.NewFromInt(1), nil
	case utilization.LessThan(decimal.NewFromInt(80)):
		return decimal.NewFromFloat(1.25), nil
	default:
		return decimal.NewFromFloat(1.5), nil
	}
}

// CreatePolicyParams describes a policy purchase.
type CreatePolicyParams struct {
	FarmerID       string
	PoolID         string
	Latitude       int64 // degrees ×1e6
	Longitude      int64 // degrees ×1e6
	CoverageAmount decimal.Decimal
	PremiumPaid    decimal.Decimal
}

// CreatePolicy issues a policy: coverage band check, one-active-policy
// rule, premium ≥ quote, region hash derivation, and premium credit to
// the pool treasury.
func (v *Vault) CreatePolicy(ctx context.Context, p CreatePolicyParams) (*model.Policy, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if p.CoverageAmount.LessThan(v.minCoverage) || p.CoverageAmount.GreaterThan(v.maxCoverage) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrInvalidCoverage, p.CoverageAmount, v.minCoverage, v.maxCoverage)
	}

	if _, err := v.store.GetActivePolicyByFarmer(ctx, p.FarmerID); err == nil {
		return nil, fmt.Errorf("%w: farmer %s", ErrDuplicatePolicy, p.FarmerID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	quote, err := v.QuotePremium(ctx, p.PoolID, p.CoverageAmount)
	if err != nil {
		return nil, err
	}
	if p.PremiumPaid.LessThan(quote.Premium) {
		return nil, fmt.Errorf("%w: paid %s, quoted %s",
			ErrInsufficientPayment, p.PremiumPaid, quote.Premium)
	}

	now := v.now()
	policy := &model.Policy{
		ID:             uuid.New().String(),
		FarmerID:       p.FarmerID,
		PoolID:         p.PoolID,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		RegionHash:     region.Hash(p.Latitude, p.Longitude),
		CoverageAmount: p.CoverageAmount,
		PremiumPaid:    p.PremiumPaid,
		StartTime:      now,
		EndTime:        now.Add(v.policyTerm),
		Active:         true,
		Claimed:        false,
	}

	if err := v.store.CreatePolicy(ctx, policy); err != nil {
		return nil, err
	}

	entry := &model.TreasuryEntry{
		ID:        uuid.New().String(),
		PoolID:    p.PoolID,
		Reason:    model.TreasuryPremium,
		Amount:    p.PremiumPaid,
		RefID:     policy.ID,
		Timestamp: now,
	}
	if err := v.store.InsertTreasuryEntry(ctx, entry); err != nil {
		return nil, err
	}

	metrics.PoliciesCreated.Inc()

	slog.Info("policy created",
		"policy_id", policy.ID,
		"farmer", p.FarmerID,
		"pool", p.PoolID,
		"region", policy.RegionHash,
		"coverage", p.CoverageAmount.String(),
		"premium", p.PremiumPaid.String(),
	)
	return policy, nil
}

// Eligibility is the result of a claim-eligibility read.
type Eligibility struct {
	Eligible     bool               `json:"eligible"`
	Reason       string             `json:"reason,omitempty"`
	Event        model.WeatherEvent `json:"event"`
	PayoutAmount decimal.Decimal    `json:"payout_amount"`
}

// CheckClaimEligibility reports whether a policy could claim right now,
// without mutating anything. Any active adverse event with a non-zero
// price impact qualifies.
func (v *Vault) CheckClaimEligibility(ctx context.Context, policyID string) (*Eligibility, error) {
	policy, err := v.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	ev := v.oracle.CurrentEvent()
	payout := v.payoutFor(policy)

	elig := &Eligibility{Event: ev, PayoutAmount: payout}
	switch {
	case !policy.Active:
		elig.Reason = "policy is not active"
	case policy.Claimed:
		elig.Reason = "policy already claimed"
	case v.now().After(policy.EndTime):
		elig.Reason = "policy coverage period has ended"
	case !ev.Active || ev.PriceImpactPercent.IsZero():
		elig.Reason = "no qualifying weather event active"
	default:
		elig.Eligible = true
	}
	return elig, nil
}

// ClaimPayout settles a claim. Policy state and the weather trigger
// are re-checked under the vault mutex; treasury sufficiency is
// enforced by the store's atomic debit. Any failed precondition aborts
// with no side effects.
func (v *Vault) ClaimPayout(ctx context.Context, policyID string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	policy, err := v.store.GetPolicy(ctx, policyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrNoActivePolicy, policyID)
		}
		return decimal.Zero, err
	}

	if !policy.Active {
		metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoActivePolicy, policyID)
	}
	if policy.Claimed {
		metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAlreadyClaimed, policyID)
	}
	if v.now().After(policy.EndTime) {
		metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
		return decimal.Zero, fmt.Errorf("%w: ended %s", ErrPolicyExpired, policy.EndTime.Format(time.RFC3339))
	}

	ev := v.oracle.CurrentEvent()
	if !ev.Active || ev.PriceImpactPercent.IsZero() {
		metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
		return decimal.Zero, ErrNoActiveWeatherEvent
	}

	payout := v.payoutFor(policy)

	// The store's debit guard is the single authority on treasury
	// sufficiency: it checks and appends atomically, so a concurrent
	// debit elsewhere cannot drive the balance negative.
	entry := &model.TreasuryEntry{
		ID:        uuid.New().String(),
		PoolID:    policy.PoolID,
		Reason:    model.TreasuryPayout,
		Amount:    payout.Neg(),
		RefID:     policy.ID,
		Timestamp: v.now(),
	}
	if err := v.store.DebitTreasury(ctx, entry); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
			return decimal.Zero, fmt.Errorf("%w: need %s", ErrInsufficientTreasury, payout)
		}
		return decimal.Zero, err
	}

	if err := v.store.MarkPolicyClaimed(ctx, policy.ID); err != nil {
		return decimal.Zero, err
	}

	metrics.ClaimsTotal.WithLabelValues("paid").Inc()

	slog.Info("claim paid",
		"policy_id", policy.ID,
		"farmer", policy.FarmerID,
		"pool", policy.PoolID,
		"event", ev.Type,
		"payout", payout.String(),
	)
	return payout, nil
}

// FundTreasury credits a pool's treasury. Permissionless: anyone may
// fund insurance capacity.
func (v *Vault) FundTreasury(ctx context.Context, poolID, funderID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s", ErrInvalidFunding, amount)
	}

	entry := &model.TreasuryEntry{
		ID:        uuid.New().String(),
		PoolID:    poolID,
		Reason:    model.TreasuryFunding,
		Amount:    amount,
		RefID:     funderID,
		Timestamp: v.now(),
	}
	if err := v.store.InsertTreasuryEntry(ctx, entry); err != nil {
		return err
	}

	slog.Info("treasury funded",
		"pool", poolID,
		"funder", funderID,
		"amount", amount.String(),
	)
	return nil
}

// payoutFor is the fixed payout fraction of coverage.
func (v *Vault) payoutFor(p *model.Policy) decimal.Decimal {
	return p.CoverageAmount.Mul(v.payoutRate).Div(decimal.NewFromInt(100))
}

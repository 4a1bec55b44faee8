// Package api provides the HTTP handlers for the oracle, the swap
// hook, and the insurance vault.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/hook"
	"github.com/agrihook/agri-engine/internal/metrics"
	"github.com/agrihook/agri-engine/internal/model"
	"github.com/agrihook/agri-engine/internal/oracle"
	"github.com/agrihook/agri-engine/internal/pool"
	"github.com/agrihook/agri-engine/internal/region"
	"github.com/agrihook/agri-engine/internal/store"
	"github.com/agrihook/agri-engine/internal/vault"
)

// Service exposes the engine over HTTP.
type Service struct {
	store  store.Store
	oracle *oracle.Oracle
	hook   *hook.FeeHook
	vault  *vault.Vault
	wsHub  *WSHub // optional, nil disables broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, orc *oracle.Oracle, hk *hook.FeeHook, vt *vault.Vault, hub *WSHub) *Service {
	return &Service{
		store:  st,
		oracle: orc,
		hook:   hk,
		vault:  vt,
		wsHub:  hub,
	}
}

// Routes registers all API routes on the given router.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	// Oracle.
	r.Get("/oracle", s.GetOracle)
	r.Post("/oracle/weather", s.PostWeather)
	r.Post("/oracle/event", s.PostEvent)
	r.Post("/oracle/price", s.PostBasePrice)
	r.Get("/oracle/weather", s.ListWeatherUpdates)

	// Pools and swaps.
	r.Post("/pools", s.CreatePool)
	r.Get("/pools", s.ListPools)
	r.Get("/pools/{poolID}", s.GetPool)
	r.Post("/pools/{poolID}/refresh", s.RefreshPool)
	r.Get("/pools/{poolID}/swaps", s.ListSwaps)
	r.Get("/pools/{poolID}/treasury", s.GetTreasury)
	r.Post("/swap", s.ExecuteSwap)

	// Vault.
	r.Get("/premium/quote", s.QuotePremium)
	r.Post("/policies", s.CreatePolicy)
	r.Get("/policies", s.ListPolicies)
	r.Get("/policies/{policyID}", s.GetPolicy)
	r.Get("/policies/{policyID}/eligibility", s.GetEligibility)
	r.Post("/policies/{policyID}/claim", s.ClaimPayout)
	r.Post("/treasury/fund", s.FundTreasury)
}

// --- Oracle handlers ---

// WeatherRequest is the JSON body for POST /oracle/weather. An omitted
// temperature_c means the attestation carried no temperature reading.
type WeatherRequest struct {
	CallerID     string           `json:"caller_id"`
	RainfallMM   decimal.Decimal  `json:"rainfall_mm"`
	TemperatureC *decimal.Decimal `json:"temperature_c,omitempty"`
	SoilMoisture decimal.Decimal  `json:"soil_moisture"`
	Latitude     int64            `json:"latitude"`  // degrees ×1e6
	Longitude    int64            `json:"longitude"` // degrees ×1e6
	Timestamp    time.Time        `json:"timestamp"`
}

// PostWeather handles POST /api/v1/oracle/weather.
// Applies an attested weather observation and records the audit entry.
func (s *Service) PostWeather(w http.ResponseWriter, r *http.Request) {
	var req WeatherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	obs := model.WeatherObservation{
		RainfallMM:   req.RainfallMM,
		TemperatureC: req.TemperatureC,
		SoilMoisture: req.SoilMoisture,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Timestamp:    req.Timestamp,
	}

	snap, err := s.oracle.ApplyWeather(req.CallerID, obs)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	update := &model.WeatherUpdate{
		ID:                 uuid.New().String(),
		RainfallMM:         req.RainfallMM,
		TemperatureC:       req.TemperatureC,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		RegionHash:         region.Hash(req.Latitude, req.Longitude),
		EventType:          snap.Event.Type,
		PriceImpactPercent: snap.Event.PriceImpactPercent,
		Timestamp:          req.Timestamp,
	}
	if err := s.store.InsertWeatherUpdate(r.Context(), update); err != nil {
		slog.Error("weather audit insert failed", "err", err)
	}

	metrics.WeatherUpdates.WithLabelValues(string(snap.Event.Type)).Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "weather_updated",
			RegionHash: update.RegionHash,
			Event:      string(snap.Event.Type),
			Theo:       snap.TheoreticalPrice.String(),
		})
	}

	writeJSON(w, http.StatusOK, snap)
}

// EventRequest is the JSON body for POST /oracle/event: a manually
// attested event (e.g. a STORM report carrying no rainfall signal).
type EventRequest struct {
	CallerID           string          `json:"caller_id"`
	EventType          model.EventType `json:"event_type"`
	Severity           string          `json:"severity"`
	PriceImpactPercent decimal.Decimal `json:"price_impact_percent"`
	Active             bool            `json:"active"`
}

// PostEvent handles POST /api/v1/oracle/event.
func (s *Service) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := s.oracle.SetEvent(req.CallerID, model.WeatherEvent{
		Type:               req.EventType,
		Severity:           req.Severity,
		PriceImpactPercent: req.PriceImpactPercent,
		Timestamp:          time.Now().UTC(),
		Active:             req.Active,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.WeatherUpdates.WithLabelValues(string(snap.Event.Type)).Inc()
	writeJSON(w, http.StatusOK, snap)
}

// BasePriceRequest is the JSON body for POST /oracle/price.
type BasePriceRequest struct {
	CallerID  string          `json:"caller_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PostBasePrice handles POST /api/v1/oracle/price.
func (s *Service) PostBasePrice(w http.ResponseWriter, r *http.Request) {
	var req BasePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := s.oracle.UpdateBasePrice(req.CallerID, req.Price, req.Timestamp)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetOracle handles GET /api/v1/oracle.
func (s *Service) GetOracle(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.oracle.Snapshot())
}

// ListWeatherUpdates handles GET /api/v1/oracle/weather?limit=N.
// An optional region=<hash> narrows the audit log to updates whose
// region hash shares a prefix with the given one; prefix=<n> controls
// the correlation radius (default 4 characters).
func (s *Service) ListWeatherUpdates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 100
	if q := query.Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	updates, err := s.store.ListWeatherUpdates(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list weather updates", http.StatusInternalServerError)
		return
	}

	if regionHash := query.Get("region"); regionHash != "" {
		prefixLen := 4
		if p := query.Get("prefix"); p != "" {
			if n, err := strconv.Atoi(p); err == nil && n > 0 {
				prefixLen = n
			}
		}
		var nearby []model.WeatherUpdate
		for _, u := range updates {
			if region.SharePrefix(u.RegionHash, regionHash, prefixLen) {
				nearby = append(nearby, u)
			}
		}
		updates = nearby
	}

	if updates == nil {
		updates = []model.WeatherUpdate{}
	}
	writeJSON(w, http.StatusOK, updates)
}

// --- Pool and swap handlers ---

// CreatePoolRequest is the JSON body for POST /pools.
type CreatePoolRequest struct {
	Ticker       string          `json:"ticker"`        // AGRI-{COMMODITY}-{QUOTE}-{regionHash}
	InitialPrice decimal.Decimal `json:"initial_price"`
}

// CreatePool handles POST /api/v1/pools.
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ps, err := s.hook.CreatePool(r.Context(), req.Ticker, req.InitialPrice)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ps)
}

// ListPools handles GET /api/v1/pools.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	if pools == nil {
		pools = []model.PoolState{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// GetPool handles GET /api/v1/pools/{poolID}.
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	ps, err := s.store.GetPool(r.Context(), poolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// RefreshPool handles POST /api/v1/pools/{poolID}/refresh.
// Pulls the oracle's current price into the pool's cache.
func (s *Service) RefreshPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	ps, err := s.hook.RefreshOraclePrice(r.Context(), poolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "mode_changed",
			PoolID:    ps.PoolID,
			Mode:      string(ps.Mode),
			PoolPrice: ps.PoolPrice.String(),
			Theo:      ps.CachedOraclePrice.String(),
		})
	}
	writeJSON(w, http.StatusOK, ps)
}

// SwapRequest is the JSON body for POST /swap.
type SwapRequest struct {
	PoolID   string          `json:"pool_id"`
	TraderID string          `json:"trader_id"`
	Side     string          `json:"side"` // "BUY" or "SELL"
	Amount   decimal.Decimal `json:"amount"`
}

// ExecuteSwap handles POST /api/v1/swap.
func (s *Service) ExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TraderID == "" {
		writeError(w, "trader_id is required", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}

	rec, err := s.hook.ExecuteSwap(r.Context(), hook.SwapParams{
		PoolID:   req.PoolID,
		TraderID: req.TraderID,
		Side:     req.Side,
		Amount:   req.Amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if s.wsHub != nil {
		aligned := rec.Aligned
		s.wsHub.Broadcast(WSMessage{
			Type:    "swap_executed",
			PoolID:  rec.PoolID,
			Side:    rec.Side,
			Aligned: &aligned,
			Amount:  rec.Amount.String(),
			Fee:     rec.FeeAmount.String(),
			Bonus:   rec.BonusAmount.String(),
			Mode:    string(rec.Mode),
		})
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListSwaps handles GET /api/v1/pools/{poolID}/swaps.
func (s *Service) ListSwaps(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	swaps, err := s.store.ListSwapsByPool(r.Context(), poolID)
	if err != nil {
		writeError(w, "failed to list swaps", http.StatusInternalServerError)
		return
	}
	if swaps == nil {
		swaps = []model.SwapRecord{}
	}
	writeJSON(w, http.StatusOK, swaps)
}

// TreasuryResponse is returned from GET /pools/{poolID}/treasury.
type TreasuryResponse struct {
	PoolID  string                `json:"pool_id"`
	Balance decimal.Decimal       `json:"balance"`
	Entries []model.TreasuryEntry `json:"entries"`
}

// GetTreasury handles GET /api/v1/pools/{poolID}/treasury.
func (s *Service) GetTreasury(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	ctx := r.Context()

	balance, err := s.store.TreasuryBalance(ctx, poolID)
	if err != nil {
		writeError(w, "failed to read treasury balance", http.StatusInternalServerError)
		return
	}
	entries, err := s.store.ListTreasuryEntries(ctx, poolID)
	if err != nil {
		writeError(w, "failed to list treasury entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.TreasuryEntry{}
	}

	bal, _ := balance.Float64()
	metrics.TreasuryBalance.WithLabelValues(poolID).Set(bal)

	writeJSON(w, http.StatusOK, TreasuryResponse{
		PoolID:  poolID,
		Balance: balance,
		Entries: entries,
	})
}

// FundRequest is the JSON body for POST /treasury/fund.
type FundRequest struct {
	PoolID   string          `json:"pool_id"`
	FunderID string          `json:"funder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// FundTreasury handles POST /api/v1/treasury/fund. Permissionless.
func (s *Service) FundTreasury(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.vault.FundTreasury(r.Context(), req.PoolID, req.FunderID, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:   "treasury_funded",
			PoolID: req.PoolID,
			Amount: req.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

// --- Vault handlers ---

// QuotePremium handles GET /api/v1/premium/quote?pool_id=...&coverage=...
func (s *Service) QuotePremium(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool_id")
	coverage, err := decimal.NewFromString(r.URL.Query().Get("coverage"))
	if err != nil {
		writeError(w, "coverage must be a decimal number", http.StatusBadRequest)
		return
	}

	quote, err := s.vault.QuotePremium(r.Context(), poolID, coverage)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// CreatePolicyRequest is the JSON body for POST /policies.
type CreatePolicyRequest struct {
	FarmerID       string          `json:"farmer_id"`
	PoolID         string          `json:"pool_id"`
	Latitude       int64           `json:"latitude"`  // degrees ×1e6
	Longitude      int64           `json:"longitude"` // degrees ×1e6
	CoverageAmount decimal.Decimal `json:"coverage_amount"`
	PremiumPaid    decimal.Decimal `json:"premium_paid"`
}

// CreatePolicy handles POST /api/v1/policies.
func (s *Service) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FarmerID == "" {
		writeError(w, "farmer_id is required", http.StatusBadRequest)
		return
	}

	policy, err := s.vault.CreatePolicy(r.Context(), vault.CreatePolicyParams{
		FarmerID:       req.FarmerID,
		PoolID:         req.PoolID,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		CoverageAmount: req.CoverageAmount,
		PremiumPaid:    req.PremiumPaid,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

// ListPolicies handles GET /api/v1/policies.
func (s *Service) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, "failed to list policies", http.StatusInternalServerError)
		return
	}
	if policies == nil {
		policies = []model.Policy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// GetPolicy handles GET /api/v1/policies/{policyID}.
func (s *Service) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")

	policy, err := s.store.GetPolicy(r.Context(), policyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// GetEligibility handles GET /api/v1/policies/{policyID}/eligibility.
func (s *Service) GetEligibility(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")

	elig, err := s.vault.CheckClaimEligibility(r.Context(), policyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

// ClaimResponse is returned from POST /policies/{policyID}/claim.
type ClaimResponse struct {
	PolicyID string          `json:"policy_id"`
	Payout   decimal.Decimal `json:"payout"`
	Claimed  bool            `json:"claimed"`
}

// ClaimPayout handles POST /api/v1/policies/{policyID}/claim.
func (s *Service) ClaimPayout(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")

	payout, err := s.vault.ClaimPayout(r.Context(), policyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "claim_settled",
			PolicyID: policyID,
			Payout:   payout.String(),
		})
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		PolicyID: policyID,
		Payout:   payout,
		Claimed:  true,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, oracle.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, oracle.ErrStaleData),
		errors.Is(err, hook.ErrStaleOraclePrice):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, hook.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidTicker),
		errors.Is(err, pool.ErrInvalidCommodity),
		errors.Is(err, vault.ErrInvalidCoverage),
		errors.Is(err, vault.ErrInvalidFunding):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, vault.ErrNoActivePolicy):
		status = http.StatusNotFound
	case errors.Is(err, vault.ErrDuplicatePolicy),
		errors.Is(err, vault.ErrAlreadyClaimed),
		errors.Is(err, hook.ErrCircuitBreakerActive):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrInsufficientPayment):
		status = http.StatusPaymentRequired
	case errors.Is(err, vault.ErrNoActiveWeatherEvent),
		errors.Is(err, vault.ErrInsufficientTreasury),
		errors.Is(err, vault.ErrPolicyExpired):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, err.Error(), status)
}

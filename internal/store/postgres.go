package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePool(ctx context.Context, ps *model.PoolState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (pool_id, commodity, region_hash, pool_price, cached_oracle_price,
		                    cached_oracle_version, cached_at, mode, circuit_breaker, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10)`,
		ps.PoolID, ps.Commodity, ps.RegionHash,
		ps.PoolPrice.String(), ps.CachedOraclePrice.String(),
		ps.CachedOracleVersion, ps.CachedAt,
		string(ps.Mode), ps.CircuitBreaker, ps.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPool(ctx context.Context, poolID string) (*model.PoolState, error) {
	var ps model.PoolState
	var poolPrice, cachedPrice, mode string

	err := s.pool.QueryRow(ctx,
		`SELECT pool_id, commodity, region_hash,
		        pool_price::TEXT, cached_oracle_price::TEXT,
		        cached_oracle_version, cached_at, mode, circuit_breaker, created_at
		 FROM pools WHERE pool_id = $1`, poolID).
		Scan(&ps.PoolID, &ps.Commodity, &ps.RegionHash,
			&poolPrice, &cachedPrice,
			&ps.CachedOracleVersion, &ps.CachedAt,
			&mode, &ps.CircuitBreaker, &ps.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", poolID, err)
	}

	ps.PoolPrice, _ = decimal.NewFromString(poolPrice)
	ps.CachedOraclePrice, _ = decimal.NewFromString(cachedPrice)
	ps.Mode = model.OperatingMode(mode)

	return &ps, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.PoolState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pool_id, commodity, region_hash,
		        pool_price::TEXT, cached_oracle_price::TEXT,
		        cached_oracle_version, cached_at, mode, circuit_breaker, created_at
		 FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.PoolState
	for rows.Next() {
		var ps model.PoolState
		var poolPrice, cachedPrice, mode string
		if err := rows.Scan(&ps.PoolID, &ps.Commodity, &ps.RegionHash,
			&poolPrice, &cachedPrice,
			&ps.CachedOracleVersion, &ps.CachedAt,
			&mode, &ps.CircuitBreaker, &ps.CreatedAt); err != nil {
			return nil, err
		}
		ps.PoolPrice, _ = decimal.NewFromString(poolPrice)
		ps.CachedOraclePrice, _ = decimal.NewFromString(cachedPrice)
		ps.Mode = model.OperatingMode(mode)
		pools = append(pools, ps)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) UpdatePoolState(ctx context.Context, ps *model.PoolState) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pools
		 SET pool_price = $2::NUMERIC, cached_oracle_price = $3::NUMERIC,
		     cached_oracle_version = $4, cached_at = $5,
		     mode = $6, circuit_breaker = $7
		 WHERE pool_id = $1`,
		ps.PoolID, ps.PoolPrice.String(), ps.CachedOraclePrice.String(),
		ps.CachedOracleVersion, ps.CachedAt,
		string(ps.Mode), ps.CircuitBreaker,
	)
	return err
}

func (s *PostgresStore) InsertSwap(ctx context.Context, rec *model.SwapRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO swaps (id, pool_id, trader_id, side, amount, deviation_percent, mode,
		                    aligned, fee_percent, fee_amount, bonus_percent, bonus_amount,
		                    captured_amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14)`,
		rec.ID, rec.PoolID, rec.TraderID, rec.Side,
		rec.Amount.String(), rec.DeviationPercent.String(), string(rec.Mode), rec.Aligned,
		rec.FeePercent.String(), rec.FeeAmount.String(),
		rec.BonusPercent.String(), rec.BonusAmount.String(),
		rec.CapturedAmount.String(), rec.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListSwapsByPool(ctx context.Context, poolID string) ([]model.SwapRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, trader_id, side, amount::TEXT, deviation_percent::TEXT, mode,
		        aligned, fee_percent::TEXT, fee_amount::TEXT, bonus_percent::TEXT,
		        bonus_amount::TEXT, captured_amount::TEXT, timestamp
		 FROM swaps WHERE pool_id = $1 ORDER BY timestamp`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SwapRecord
	for rows.Next() {
		var rec model.SwapRecord
		var amount, dev, mode, feePct, feeAmt, bonusPct, bonusAmt, captured string

		if err := rows.Scan(&rec.ID, &rec.PoolID, &rec.TraderID, &rec.Side,
			&amount, &dev, &mode, &rec.Aligned,
			&feePct, &feeAmt, &bonusPct, &bonusAmt, &captured,
			&rec.Timestamp); err != nil {
			return nil, err
		}

		rec.Amount, _ = decimal.NewFromString(amount)
		rec.DeviationPercent, _ = decimal.NewFromString(dev)
		rec.Mode = model.OperatingMode(mode)
		rec.FeePercent, _ = decimal.NewFromString(feePct)
		rec.FeeAmount, _ = decimal.NewFromString(feeAmt)
		rec.BonusPercent, _ = decimal.NewFromString(bonusPct)
		rec.BonusAmount, _ = decimal.NewFromString(bonusAmt)
		rec.CapturedAmount, _ = decimal.NewFromString(captured)

		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) InsertTreasuryEntry(ctx context.Context, entry *model.TreasuryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO treasury_entries (id, pool_id, reason, amount, ref_id, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		entry.ID, entry.PoolID, entry.Reason,
		entry.Amount.String(), entry.RefID, entry.Timestamp,
	)
	return err
}

func (s *PostgresStore) DebitTreasury(ctx context.Context, entry *model.TreasuryEntry) error {
	if !entry.Amount.IsNegative() {
		return fmt.Errorf("debit amount must be negative, got %s", entry.Amount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Serialize debits per pool so two transactions cannot both read a
	// sufficient balance and both append.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, entry.PoolID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO treasury_entries (id, pool_id, reason, amount, ref_id, timestamp)
		 SELECT $1, $2, $3, $4::NUMERIC, $5, $6
		 WHERE (SELECT COALESCE(SUM(amount), 0)
		        FROM treasury_entries WHERE pool_id = $2) + $4::NUMERIC >= 0`,
		entry.ID, entry.PoolID, entry.Reason,
		entry.Amount.String(), entry.RefID, entry.Timestamp,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pool %s: %w", entry.PoolID, ErrInsufficientFunds)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) TreasuryBalance(ctx context.Context, poolID string) (decimal.Decimal, error) {
	var balanceStr string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT
		 FROM treasury_entries WHERE pool_id = $1`, poolID).
		Scan(&balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("treasury balance for %s: %w", poolID, err)
	}
	balance, _ := decimal.NewFromString(balanceStr)
	return balance, nil
}

func (s *PostgresStore) ListTreasuryEntries(ctx context.Context, poolID string) ([]model.TreasuryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, reason, amount::TEXT, ref_id, timestamp
		 FROM treasury_entries WHERE pool_id = $1 ORDER BY timestamp`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.TreasuryEntry
	for rows.Next() {
		var e model.TreasuryEntry
		var amount string
		if err := rows.Scan(&e.ID, &e.PoolID, &e.Reason, &amount, &e.RefID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) CreatePolicy(ctx context.Context, p *model.Policy) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO policies (id, farmer_id, pool_id, latitude, longitude, region_hash,
		                       coverage_amount, premium_paid, start_time, end_time, active, claimed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`,
		p.ID, p.FarmerID, p.PoolID, p.Latitude, p.Longitude, p.RegionHash,
		p.CoverageAmount.String(), p.PremiumPaid.String(),
		p.StartTime, p.EndTime, p.Active, p.Claimed,
	)
	return err
}

func (s *PostgresStore) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	p, err := s.scanPolicy(s.pool.QueryRow(ctx,
		`SELECT id, farmer_id, pool_id, latitude, longitude, region_hash,
		        coverage_amount::TEXT, premium_paid::TEXT, start_time, end_time, active, claimed
		 FROM policies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *PostgresStore) GetActivePolicyByFarmer(ctx context.Context, farmerID string) (*model.Policy, error) {
	p, err := s.scanPolicy(s.pool.QueryRow(ctx,
		`SELECT id, farmer_id, pool_id, latitude, longitude, region_hash,
		        coverage_amount::TEXT, premium_paid::TEXT, start_time, end_time, active, claimed
		 FROM policies
		 WHERE farmer_id = $1 AND active AND NOT claimed
		 ORDER BY start_time DESC LIMIT 1`, farmerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active policy for farmer %s: %w", farmerID, ErrNotFound)
	}
	return p, err
}

func (s *PostgresStore) MarkPolicyClaimed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policies SET claimed = TRUE WHERE id = $1 AND NOT claimed`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policy %s not updatable: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, farmer_id, pool_id, latitude, longitude, region_hash,
		        coverage_amount::TEXT, premium_paid::TEXT, start_time, end_time, active, claimed
		 FROM policies ORDER BY start_time DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []model.Policy
	for rows.Next() {
		p, err := s.scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func (s *PostgresStore) InsertWeatherUpdate(ctx context.Context, u *model.WeatherUpdate) error {
	// temperature_c is NULL when the observation carried no reading.
	var temp *string
	if u.TemperatureC != nil {
		t := u.TemperatureC.String()
		temp = &t
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO weather_updates (id, rainfall_mm, temperature_c, latitude, longitude,
		                              region_hash, event_type, price_impact_percent, timestamp)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6, $7, $8::NUMERIC, $9)`,
		u.ID, u.RainfallMM.String(), temp,
		u.Latitude, u.Longitude, u.RegionHash,
		string(u.EventType), u.PriceImpactPercent.String(), u.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListWeatherUpdates(ctx context.Context, limit int) ([]model.WeatherUpdate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, rainfall_mm::TEXT, temperature_c::TEXT, latitude, longitude,
		        region_hash, event_type, price_impact_percent::TEXT, timestamp
		 FROM weather_updates ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []model.WeatherUpdate
	for rows.Next() {
		var u model.WeatherUpdate
		var rainfall, eventType, impact string
		var temp *string
		if err := rows.Scan(&u.ID, &rainfall, &temp, &u.Latitude, &u.Longitude,
			&u.RegionHash, &eventType, &impact, &u.Timestamp); err != nil {
			return nil, err
		}
		u.RainfallMM, _ = decimal.NewFromString(rainfall)
		if temp != nil {
			t, _ := decimal.NewFromString(*temp)
			u.TemperatureC = &t
		}
		u.EventType = model.EventType(eventType)
		u.PriceImpactPercent, _ = decimal.NewFromString(impact)
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// pgxRow abstracts QueryRow results and Query rows for policy scanning.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanPolicy(row pgxRow) (*model.Policy, error) {
	var p model.Policy
	var coverage, premium string

	if err := row.Scan(&p.ID, &p.FarmerID, &p.PoolID, &p.Latitude, &p.Longitude,
		&p.RegionHash, &coverage, &premium,
		&p.StartTime, &p.EndTime, &p.Active, &p.Claimed); err != nil {
		return nil, err
	}

	p.CoverageAmount, _ = decimal.NewFromString(coverage)
	p.PremiumPaid, _ = decimal.NewFromString(premium)

	return &p, nil
}

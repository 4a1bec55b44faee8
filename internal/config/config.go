// Package config loads engine configuration from an optional YAML file
// with AGRI_ENGINE_* environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the complete engine configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Hook     HookConfig     `mapstructure:"hook"`
	Vault    VaultConfig    `mapstructure:"vault"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings. Empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds Redis cache settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// OracleConfig holds weather-oracle settings.
type OracleConfig struct {
	UpdaterID string        `mapstructure:"updater_id"`
	BasePrice string        `mapstructure:"base_price"`
	Staleness time.Duration `mapstructure:"staleness"`
}

// HookConfig holds swap-hook settings.
type HookConfig struct {
	MaxCacheAge    time.Duration `mapstructure:"max_cache_age"`
	BreakerPolicy  string        `mapstructure:"breaker_policy"`
	LiquidityDepth string        `mapstructure:"liquidity_depth"`
	RefreshCron    string        `mapstructure:"refresh_cron"`
}

// VaultConfig holds insurance-vault settings.
type VaultConfig struct {
	MinCoverage string        `mapstructure:"min_coverage"`
	MaxCoverage string        `mapstructure:"max_coverage"`
	PremiumRate string        `mapstructure:"premium_rate"`
	PayoutRate  string        `mapstructure:"payout_rate"`
	PolicyTerm  time.Duration `mapstructure:"policy_term"`
}

// Load reads configuration from an optional file path plus environment
// overrides (AGRI_ENGINE_SERVER_ADDR and so on).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGRI_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("oracle.updater_id", "weather-updater")
	v.SetDefault("oracle.base_price", "5.00")
	v.SetDefault("oracle.staleness", "1h")

	v.SetDefault("hook.max_cache_age", "15m")
	v.SetDefault("hook.breaker_policy", "block_misaligned")
	v.SetDefault("hook.liquidity_depth", "100000")
	v.SetDefault("hook.refresh_cron", "@every 1m")

	v.SetDefault("vault.min_coverage", "100")
	v.SetDefault("vault.max_coverage", "1000000")
	v.SetDefault("vault.premium_rate", "5")
	v.SetDefault("vault.payout_rate", "50")
	v.SetDefault("vault.policy_term", "2160h") // 90 days
}

// Validate checks configuration values that would otherwise fail deep
// inside the wiring.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Oracle.UpdaterID == "" {
		return fmt.Errorf("oracle.updater_id is required")
	}
	if c.Oracle.Staleness < time.Minute {
		return fmt.Errorf("oracle.staleness must be at least 1 minute")
	}
	if c.Hook.MaxCacheAge < time.Second {
		return fmt.Errorf("hook.max_cache_age must be at least 1 second")
	}
	switch c.Hook.BreakerPolicy {
	case "block_misaligned", "disable_bonuses":
	default:
		return fmt.Errorf("hook.breaker_policy must be block_misaligned or disable_bonuses")
	}
	if c.Vault.PolicyTerm < time.Hour {
		return fmt.Errorf("vault.policy_term must be at least 1 hour")
	}
	// Numeric values are carried as strings for exact decimal parsing;
	// reject malformed ones here instead of falling back to zero deep
	// inside the wiring.
	for _, f := range []struct{ key, value string }{
		{"oracle.base_price", c.Oracle.BasePrice},
		{"hook.liquidity_depth", c.Hook.LiquidityDepth},
		{"vault.min_coverage", c.Vault.MinCoverage},
		{"vault.max_coverage", c.Vault.MaxCoverage},
		{"vault.premium_rate", c.Vault.PremiumRate},
		{"vault.payout_rate", c.Vault.PayoutRate},
	} {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return fmt.Errorf("%s must be a decimal number, got %q", f.key, f.value)
		}
		if d.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%s must be positive, got %q", f.key, f.value)
		}
	}
	return nil
}

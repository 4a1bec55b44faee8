package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Oracle.BasePrice != "5.00" {
		t.Errorf("expected default base price 5.00, got %s", cfg.Oracle.BasePrice)
	}
	if cfg.Oracle.Staleness != time.Hour {
		t.Errorf("expected default staleness 1h, got %s", cfg.Oracle.Staleness)
	}
	if cfg.Hook.BreakerPolicy != "block_misaligned" {
		t.Errorf("expected default breaker policy block_misaligned, got %s", cfg.Hook.BreakerPolicy)
	}
	if cfg.Vault.PremiumRate != "5" {
		t.Errorf("expected default premium rate 5, got %s", cfg.Vault.PremiumRate)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  addr: ":9090"
hook:
  max_cache_age: 5m
  breaker_policy: disable_bonuses
vault:
  policy_term: 720h
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Hook.MaxCacheAge != 5*time.Minute {
		t.Errorf("expected max cache age 5m, got %s", cfg.Hook.MaxCacheAge)
	}
	if cfg.Hook.BreakerPolicy != "disable_bonuses" {
		t.Errorf("expected disable_bonuses, got %s", cfg.Hook.BreakerPolicy)
	}
	if cfg.Vault.PolicyTerm != 720*time.Hour {
		t.Errorf("expected policy term 720h, got %s", cfg.Vault.PolicyTerm)
	}
}

func TestLoad_InvalidBreakerPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
hook:
  breaker_policy: halt_everything
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error for unknown breaker policy")
	}
}

func TestLoad_InvalidDecimalValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
vault:
  premium_rate: cheap
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error for non-numeric premium rate")
	}
}

func TestLoad_NonPositiveDecimalValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
oracle:
  base_price: "-5"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error for negative base price")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AGRI_ENGINE_SERVER_ADDR", ":7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("expected env override :7070, got %s", cfg.Server.Addr)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/api"
	"github.com/agrihook/agri-engine/internal/config"
	"github.com/agrihook/agri-engine/internal/deviation"
	"github.com/agrihook/agri-engine/internal/hook"
	"github.com/agrihook/agri-engine/internal/metrics"
	"github.com/agrihook/agri-engine/internal/oracle"
	"github.com/agrihook/agri-engine/internal/store"
	"github.com/agrihook/agri-engine/internal/vault"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled", "addr", cfg.Redis.Addr)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Weather oracle ---
	basePrice := mustDecimal("oracle.base_price", cfg.Oracle.BasePrice)
	orc, err := oracle.New(cfg.Oracle.UpdaterID, basePrice, oracle.DefaultRules(), cfg.Oracle.Staleness)
	if err != nil {
		slog.Error("oracle init failed", "err", err)
		os.Exit(1)
	}

	// --- Deviation engine + swap hook ---
	engine, err := deviation.NewEngine(deviation.Params{})
	if err != nil {
		slog.Error("deviation engine init failed", "err", err)
		os.Exit(1)
	}

	feeHook := hook.New(st, engine, orc, hook.Config{
		MaxCacheAge:    cfg.Hook.MaxCacheAge,
		Policy:         hook.BreakerPolicy(cfg.Hook.BreakerPolicy),
		LiquidityDepth: mustDecimal("hook.liquidity_depth", cfg.Hook.LiquidityDepth),
	})

	// --- Insurance vault ---
	insVault := vault.New(st, orc, vault.Config{
		MinCoverage: mustDecimal("vault.min_coverage", cfg.Vault.MinCoverage),
		MaxCoverage: mustDecimal("vault.max_coverage", cfg.Vault.MaxCoverage),
		PremiumRate: mustDecimal("vault.premium_rate", cfg.Vault.PremiumRate),
		PayoutRate:  mustDecimal("vault.payout_rate", cfg.Vault.PayoutRate),
		PolicyTerm:  cfg.Vault.PolicyTerm,
	})

	// --- Scheduled oracle→hook cache refresh ---
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Hook.RefreshCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := feeHook.RefreshAll(ctx); err != nil {
			slog.Error("scheduled refresh failed", "err", err)
		}
	})
	if err != nil {
		slog.Error("invalid hook.refresh_cron", "err", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- HTTP service ---
	svc := api.NewService(st, orc, feeHook, insVault, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"agri-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("agri-engine listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down agri-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("agri-engine stopped")
}

// mustDecimal exits on numeric config values that fail to parse.
// Config validation rejects these earlier; this is the backstop.
func mustDecimal(key, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		slog.Error("invalid config value", "key", key, "err", err)
		os.Exit(1)
	}
	return d
}

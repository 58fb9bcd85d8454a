package main

import (
	"context"
	"errors"
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

	"github.com/atmx/swapmarket/internal/api"
	"github.com/atmx/swapmarket/internal/config"
	"github.com/atmx/swapmarket/internal/host"
	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/metrics"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/registry"
	"github.com/atmx/swapmarket/internal/store"
)

// registryBackend is what the engine and host need from the registries.
type registryBackend interface {
	market.OwnerQuerier
	host.Dispatcher
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema bootstrap failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Registries ---
	self := model.Address(cfg.MarketplaceAddress)
	var backend registryBackend
	if cfg.GatewayURL != "" {
		backend = registry.NewGateway(cfg.GatewayURL, cfg.GatewayRPS, cfg.GatewayTimeout)
		slog.Info("using settlement gateway", "url", cfg.GatewayURL, "rps", cfg.GatewayRPS)
	} else {
		backend = registry.NewLedger(self, model.Address(cfg.ItemRegistry), model.Address(cfg.TokenRegistry))
		slog.Warn("SETTLEMENT_GATEWAY_URL not set, settling against the in-process ledger")
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Execution host ---
	engine := market.NewEngine(self, cfg.NativeDenom, backend)
	h := host.New(st, engine, backend, wsHub)
	go h.Run(ctx, cfg.DrainInterval)

	if err := instantiate(ctx, h, st, cfg); err != nil {
		slog.Error("instantiate failed", "err", err)
		os.Exit(1)
	}

	svc := api.NewService(h, market.NewQueries(st))

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.SenderHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"swapmarket"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket stream of committed operations and confirmations. It is
		// long-lived, so it stays outside the request timeout.
		r.Get("/ws", wsHub.HandleWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("swapmarket listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down swapmarket...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("swapmarket stopped")
}

// instantiate records the configured registries on first start. A store
// that already holds a config must agree with the environment.
func instantiate(ctx context.Context, h *host.Host, st store.Store, cfg *config.Config) error {
	items, tokens := model.Address(cfg.ItemRegistry), model.Address(cfg.TokenRegistry)
	_, err := h.Instantiate(ctx, market.Info{Sender: model.Address(cfg.MarketplaceAddress)}, items, tokens)
	if !errors.Is(err, model.ErrConfigExists) {
		return err
	}
	existing, err := st.Config(ctx)
	if err != nil {
		return err
	}
	if existing.ItemRegistry != items || existing.TokenRegistry != tokens {
		return fmt.Errorf("stored registries (%s, %s) differ from configured (%s, %s)",
			existing.ItemRegistry, existing.TokenRegistry, items, tokens)
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	rdhttp "github.com/ReportDeck/reportdeck/internal/adapter/http"
	"github.com/ReportDeck/reportdeck/internal/adapter/natskv"
	"github.com/ReportDeck/reportdeck/internal/adapter/otel"
	"github.com/ReportDeck/reportdeck/internal/adapter/postgres"
	"github.com/ReportDeck/reportdeck/internal/adapter/ristretto"
	"github.com/ReportDeck/reportdeck/internal/adapter/tiered"
	"github.com/ReportDeck/reportdeck/internal/config"
	"github.com/ReportDeck/reportdeck/internal/logger"
	"github.com/ReportDeck/reportdeck/internal/resilience"
	"github.com/ReportDeck/reportdeck/internal/secrets"
	"github.com/ReportDeck/reportdeck/internal/service"

	// Directory backends register themselves with the factory registry.
	_ "github.com/ReportDeck/reportdeck/internal/adapter/graph"
	_ "github.com/ReportDeck/reportdeck/internal/adapter/ldap"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	masterKey, err := secrets.LoadMasterKey(cfg.Crypto.Key, cfg.Crypto.KeyFile)
	if err != nil {
		return fmt.Errorf("master key: %w", err)
	}
	vault, err := secrets.New(masterKey)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	kv, closeNATS, err := natskv.Connect(ctx, cfg.NATS.URL, cfg.NATS.Bucket, cfg.Cache.ReportTTL*2)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer closeNATS()
	slog.Info("nats kv bucket ready", "bucket", cfg.NATS.Bucket)

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()

	shutdownMetrics, err := otel.InitMetrics(ctx, cfg.Metrics.OTLPEndpoint, cfg.Logging.Service, cfg.Metrics.Interval)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metric instruments: %w", err)
	}

	// --- Services ---

	store := postgres.NewStore(pool)
	queryCache := service.NewQueryCache(
		tiered.New(l1, natskv.New(kv), cfg.Cache.L1Expire),
		log, cfg.Cache.IOTimeout)

	registry := service.NewRegistry()
	backends := service.NewBackends(registry, cfg)
	breakers := resilience.NewBreakerSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	credentialSvc := service.NewCredentialService(store, vault, queryCache, backends, log)
	querySvc := service.NewQueryService(store, credentialSvc, backends, queryCache, breakers, metrics, cfg, log)

	// --- HTTP ---

	handlers := &rdhttp.Handlers{
		Credentials: credentialSvc,
		Queries:     querySvc,
		Cache:       queryCache,
	}

	r := chi.NewRouter()

	r.Use(rdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(rdhttp.RequestID)
	r.Use(rdhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/health", healthHandler(pool))

	rdhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports process liveness and database reachability.
func healthHandler(pool interface {
	Ping(ctx context.Context) error
}) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok"}
		code := http.StatusOK

		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			status.Status = "degraded"
			status.Postgres = err.Error()
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

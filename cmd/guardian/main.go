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
	chimw "github.com/go-chi/chi/v5/middleware"

	guardhttp "github.com/voxguard/guardian/internal/adapter/http"
	guardnats "github.com/voxguard/guardian/internal/adapter/nats"
	"github.com/voxguard/guardian/internal/adapter/natskv"
	"github.com/voxguard/guardian/internal/adapter/otel"
	"github.com/voxguard/guardian/internal/adapter/postgres"
	"github.com/voxguard/guardian/internal/adapter/ristretto"
	"github.com/voxguard/guardian/internal/adapter/room"
	"github.com/voxguard/guardian/internal/adapter/tiered"
	"github.com/voxguard/guardian/internal/adapter/ws"
	"github.com/voxguard/guardian/internal/config"
	"github.com/voxguard/guardian/internal/logger"
	"github.com/voxguard/guardian/internal/middleware"
	"github.com/voxguard/guardian/internal/resilience"
	"github.com/voxguard/guardian/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

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

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"auth_enabled", cfg.Auth.Enabled,
		"otel_enabled", cfg.Otel.Enabled,
	)

	ctx := context.Background()

	// --- Observability ---

	shutdownOtel, err := otel.Setup(ctx, cfg.Otel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

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

	queue, err := guardnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Error("nats drain", "error", err)
		}
	}()

	idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}
	cacheKV, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("cache bucket: %w", err)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()
	configCache := tiered.New(l1, natskv.New(cacheKV), cfg.Cache.L2TTL)

	rooms := room.NewClient(cfg.Room.URL, cfg.Room.APIKey, cfg.Room.APISecret)
	rooms.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---

	store := postgres.NewStore(pool)
	configSvc := service.NewConfigService(store, configCache)
	sessionSvc := service.NewSessionService(store, configSvc, cfg.Guardian)

	stream := ws.NewServer(queue, sessionSvc)
	stream.SetStatsInterval(cfg.Guardian.StatsInterval)
	stream.SetMetrics(metrics)

	takeoverSvc := service.NewTakeoverService(store, queue, rooms, stream, cfg.Guardian)
	takeoverSvc.SetMetrics(metrics)

	authSvc := service.NewAuthService(store, &cfg.Auth)
	if cfg.Auth.Enabled {
		if err := authSvc.SeedDefaultAdmin(ctx); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	ingress := service.NewIngressService(queue, sessionSvc, metrics)
	stopIngress, err := ingress.Start(ctx)
	if err != nil {
		return fmt.Errorf("ingress: %w", err)
	}
	defer stopIngress()

	// --- HTTP ---

	rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopRL := rl.StartCleanup(time.Minute, 10*time.Minute)
	defer stopRL()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(guardhttp.Logger)
	r.Use(guardhttp.SecurityHeaders)
	r.Use(guardhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(rl.Handler)
	r.Use(middleware.Idempotency(idemKV))
	r.Use(middleware.Auth(authSvc, cfg.Auth.Enabled))

	handlers := guardhttp.NewHandlers(authSvc, sessionSvc, takeoverSvc, configSvc, stream)
	handlers.DB = pool
	handlers.Queue = queue
	guardhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

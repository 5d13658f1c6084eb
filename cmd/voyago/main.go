package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/voyago/voyago/internal/adapter/cached"
	vhttp "github.com/voyago/voyago/internal/adapter/http"
	vnats "github.com/voyago/voyago/internal/adapter/nats"
	"github.com/voyago/voyago/internal/adapter/natskv"
	votel "github.com/voyago/voyago/internal/adapter/otel"
	"github.com/voyago/voyago/internal/adapter/postgres"
	"github.com/voyago/voyago/internal/adapter/ristretto"
	"github.com/voyago/voyago/internal/adapter/ws"
	"github.com/voyago/voyago/internal/config"
	"github.com/voyago/voyago/internal/logger"
	"github.com/voyago/voyago/internal/middleware"
	"github.com/voyago/voyago/internal/service"
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

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"nats_url", cfg.NATS.URL,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOtel, err := votel.Init(ctx, cfg.OTel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	var metrics *votel.Metrics
	if cfg.OTel.Enabled {
		metrics, err = votel.NewMetrics()
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	// NATS: pub/sub broker plus the JetStream KV snapshot bucket.
	bus, err := vnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = bus.Close() }()

	kv, err := bus.KeyValue(ctx, cfg.NATS.ProgressBucket, cfg.NATS.ProgressTTL)
	if err != nil {
		return fmt.Errorf("progress bucket: %w", err)
	}
	snapshots := natskv.New(kv)

	// In-process read cache in front of the KV bucket; keepalive and
	// batch polls hit it hardest.
	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	progressStore := cached.New(snapshots, cache, cfg.Cache.SnapshotTTL)

	// --- Services ---
	store := postgres.NewStore(pool)
	tracker := service.NewProgressTracker(progressStore, bus, log)
	itineraries := service.NewItineraryService(store, tracker, log)
	alerts := service.NewAlertPublisher(bus, log)

	// --- Streaming ---
	stream := ws.NewHandler(bus, progressStore, ws.NewRegistry(log), cfg.Stream, log)
	alertHub := ws.NewAlertHub(bus, cfg.Stream, log)

	if metrics != nil {
		itineraries.SetMetrics(metrics)
		alerts.SetMetrics(metrics)
		stream.SetMetrics(metrics)
		alertHub.SetMetrics(metrics)
	}

	// --- HTTP ---
	handlers := &vhttp.Handlers{
		Itineraries: itineraries,
		Alerts:      alerts,
		Progress:    progressStore,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(vhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(vhttp.SecurityHeaders)
	r.Use(vhttp.CORS(cfg.Server.CORSOrigin))
	if cfg.OTel.Enabled {
		r.Use(votel.HTTPMiddleware(cfg.Logging.Service))
	}

	vhttp.MountRoutes(r, handlers, stream, alertHub)

	addr := ":" + cfg.Server.Port

	// No global read/write timeouts: the streaming endpoints hold
	// connections open indefinitely.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

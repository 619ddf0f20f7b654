package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/config"
	"github.com/boddenberg/franchise-core-go/internal/handler"
	"github.com/boddenberg/franchise-core-go/internal/infra/memstore"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/infra/postgres"
	"github.com/boddenberg/franchise-core-go/internal/infra/resilience"
	"github.com/boddenberg/franchise-core-go/internal/infra/sequence"
	"github.com/boddenberg/franchise-core-go/internal/infra/supabase"
	"github.com/boddenberg/franchise-core-go/internal/port"
	"github.com/boddenberg/franchise-core-go/internal/repository"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("redis_sequence", cfg.RedisAddr != ""),
		zap.String("reconcile_schedule", cfg.ReconcileSchedule),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "franchise-core")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Stores ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var (
		records port.RecordStore
		objects port.ObjectStore
		health  []port.HealthChecker
		db      *sql.DB
	)

	var supabaseClient *supabase.Client
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		supabaseClient = supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceCfg,
			logger,
		)
		storage := supabase.NewStorage(supabaseClient)
		objects = storage
		health = append(health, storage)
	}

	switch cfg.StoreBackend {
	case config.BackendSupabase:
		logger.Info("using Supabase as record store", zap.String("supabase_url", cfg.SupabaseURL))
		records = supabaseClient
		health = append(health, supabaseClient)

	case config.BackendPostgres:
		db, err = postgres.Open(cfg.DatabaseURL, cfg.MaxConcurrency)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		if cfg.RunMigrations {
			if err := postgres.Migrate(db, logger); err != nil {
				logger.Fatal("migrations failed", zap.Error(err))
			}
		}
		pg := postgres.New(db, resilienceCfg, logger)
		logger.Info("using Postgres as record store")
		records = pg
		health = append(health, pg)

	case config.BackendMemory:
		logger.Warn("using in-memory record store, data is lost on restart")
		mem, memObjects := memstore.New()
		records = mem
		health = append(health, mem)
		if objects == nil {
			objects = memObjects
			health = append(health, memObjects)
		}
	}

	if objects == nil {
		logger.Warn("object storage not configured, keeping uploads in memory")
		mo := memstore.NewObjects("")
		objects = mo
		health = append(health, mo)
	}

	// --- Contract numbers ---
	var numberer port.ContractNumberer = sequence.HashNumberer{}
	if cfg.RedisAddr != "" {
		rdb := sequence.NewRedisClient(sequence.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		counter := sequence.NewRedisNumberer(rdb)
		numberer = &sequence.Fallback{Primary: counter, Secondary: sequence.HashNumberer{}, Logger: logger}
		health = append(health, counter)
	}

	// --- Services ---
	services := service.New(service.Stores{
		Profiles:     repository.NewProfiles(records),
		Applications: repository.NewApplications(records),
		Templates:    repository.NewTemplates(records),
		Contracts:    repository.NewContracts(records),
		Objects:      objects,
		Numberer:     numberer,
	}, service.Config{
		UploadConcurrency:    cfg.UploadConcurrency,
		ReconcileConcurrency: cfg.ReconcileConcurrency,
		ReconcilePageSize:    cfg.ReconcilePageSize,
	}, metrics, logger)

	// --- Reconciliation schedule ---
	scheduler := cron.New()
	if cfg.ReconcileSchedule != "" {
		_, err := scheduler.AddFunc(cfg.ReconcileSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := services.Reconciler.Run(ctx); err != nil {
				logger.Error("scheduled reconciliation failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("invalid RECONCILE_SCHEDULE", zap.String("schedule", cfg.ReconcileSchedule), zap.Error(err))
		}
		scheduler.Start()
	}

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Services:       services,
		Verifier:       supabase.NewTokenVerifier(cfg.SupabaseJWTSecret),
		Health:         health,
		Metrics:        metrics,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}
	if db != nil {
		db.Close()
	}

	logger.Info("server stopped")
}

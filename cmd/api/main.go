package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-admin/internal/api/router"
	"github.com/wolfman30/clinic-admin/internal/app/bootstrap"
	"github.com/wolfman30/clinic-admin/internal/audit"
	"github.com/wolfman30/clinic-admin/internal/auth"
	"github.com/wolfman30/clinic-admin/internal/chat"
	appconfig "github.com/wolfman30/clinic-admin/internal/config"
	"github.com/wolfman30/clinic-admin/internal/consultation"
	"github.com/wolfman30/clinic-admin/internal/doctor"
	"github.com/wolfman30/clinic-admin/internal/events"
	"github.com/wolfman30/clinic-admin/internal/hospital"
	httpmiddleware "github.com/wolfman30/clinic-admin/internal/http/middleware"
	"github.com/wolfman30/clinic-admin/internal/notify"
	"github.com/wolfman30/clinic-admin/internal/observability/metrics"
	"github.com/wolfman30/clinic-admin/internal/reservation"
	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/internal/treatment"
	"github.com/wolfman30/clinic-admin/internal/wizard"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-admin API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	metricsHandler, m := setupMetrics()

	awsCfg, err := bootstrap.BuildAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	images := bootstrap.BuildBlobStore(awsCfg, cfg, logger)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	wired, err := buildApp(cfg, appDeps{
		pool:    pool,
		sqlDB:   sqlDB,
		images:  images,
		drafts:  draftStore(redisClient, cfg),
		metrics: m,
		logger:  logger,
	})
	if err != nil {
		logger.Error("failed to wire application", "error", err)
		os.Exit(1)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.PublicRateLimitRPS, cfg.PublicRateLimitBurst)
	defer limiter.Close()
	wired.router.MetricsHandler = metricsHandler
	wired.router.PublicLimiter = limiter

	emailSender := bootstrap.BuildEmailSender(awsCfg, cfg, logger)
	notifier := notify.NewService(emailSender, wired.hospitals, strings.TrimRight(cfg.PublicBaseURL, "/"), logger)
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), notifier, logger).
		WithInterval(cfg.OutboxPollInterval).
		WithMetrics(m)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		deliverer.Start(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(wired.router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	wg.Wait()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func validateConfig(cfg *appconfig.Config) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(cfg.AdminJWTSecret) == "" {
		return errors.New("ADMIN_JWT_SECRET is required")
	}
	if cfg.IsProduction() && len(cfg.AdminJWTSecret) < 32 {
		return errors.New("ADMIN_JWT_SECRET must be at least 32 bytes in production")
	}
	return nil
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		logger.Error("DATABASE_URL not set")
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func setupMetrics() (http.Handler, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.New(reg)
}

// draftStore returns nil when Redis is unavailable, which disables drafts.
func draftStore(client *redis.Client, cfg *appconfig.Config) *wizard.DraftStore {
	if client == nil {
		return nil
	}
	return wizard.NewDraftStore(client, cfg.WizardDraftTTL)
}

type appDeps struct {
	pool    *pgxpool.Pool
	sqlDB   *sql.DB
	images  *storage.Store
	drafts  *wizard.DraftStore
	metrics *metrics.Metrics
	logger  *logging.Logger
}

type app struct {
	router    *router.Config
	hospitals *hospital.Repository
}

// buildApp wires repositories, services and handlers into a router config.
func buildApp(cfg *appconfig.Config, deps appDeps) (*app, error) {
	logger := deps.logger
	auditLog := audit.NewLog(deps.sqlDB, logger)

	hospitalRepo := hospital.NewRepository(deps.pool)
	doctorRepo := doctor.NewRepository(deps.pool)
	treatmentRepo := treatment.NewRepository(deps.pool)

	hospitalSvc := hospital.NewService(hospitalRepo, deps.images, doctorRepo, treatmentRepo, auditLog, logger)
	doctorSvc := doctor.NewService(doctorRepo, deps.images, auditLog, logger)
	treatmentSvc := treatment.NewService(treatmentRepo, auditLog, logger)
	consultationSvc := consultation.NewService(consultation.NewRepository(deps.sqlDB), auditLog, deps.metrics, logger)
	reservationSvc := reservation.NewService(reservation.NewRepository(deps.pool), hospitalSvc, auditLog, deps.metrics, logger)
	wizardSvc := wizard.NewService(deps.pool, deps.images, deps.drafts, auditLog, deps.metrics, logger)
	authSvc := auth.NewService(auth.NewRepository(deps.pool), auth.SessionConfig{
		Secret:       cfg.AdminJWTSecret,
		CookieName:   cfg.AdminSessionCookie,
		TTL:          cfg.AdminSessionTTL,
		CookieSecure: cfg.CookieSecure,
	}, auditLog, logger)

	platform, err := bootstrap.BuildChatPlatform(cfg, deps.metrics, logger)
	if err != nil {
		return nil, err
	}
	if platform == nil {
		logger.Warn("SENDBIRD_API_TOKEN not set; chat endpoints disabled")
	}
	hub := chat.NewHub(cfg.CORSAllowedOrigins, logger)
	chatSvc := chat.NewService(platform, hospitalRepo, hub, events.NewProcessedStore(deps.pool), chat.Config{
		AppID:    cfg.SendbirdAppID,
		APIToken: cfg.SendbirdAPIToken,
	}, logger)

	return &app{
		hospitals: hospitalRepo,
		router: &router.Config{
			Logger:             logger,
			Metrics:            deps.metrics,
			Auth:               auth.NewHandler(authSvc, logger),
			Hospital:           hospital.NewHandler(hospitalSvc, logger),
			Doctor:             doctor.NewHandler(doctorSvc, logger),
			Treatment:          treatment.NewHandler(treatmentSvc, logger),
			Consultation:       consultation.NewHandler(consultationSvc, logger),
			Reservation:        reservation.NewHandler(reservationSvc, logger),
			Chat:               chat.NewHandler(chatSvc, hub, logger),
			Wizard:             wizard.NewHandler(wizardSvc, logger),
			Audit:              audit.NewHandler(auditLog, logger),
			AdminJWTSecret:     cfg.AdminJWTSecret,
			AdminSessionCookie: cfg.AdminSessionCookie,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		},
	}, nil
}

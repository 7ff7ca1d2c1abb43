package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/admin"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/hospital"
	"github.com/hms/hms/internal/domain/intake"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/migrations"
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	applied, err := db.NewMigrator(pool, migrationsFS("", cfg.MigrationsDir), logger).Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if applied > 0 {
		logger.Info().Int("count", applied).Msg("applied migrations")
	}

	pub, err := newPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	files, err := newArchive(ctx, cfg)
	if err != nil {
		return err
	}

	e := newServer(cfg, pool, pub, files, telemetry.NewProvider(true), logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newServer builds the echo instance with the full middleware chain and
// every route. The pool is only touched when requests arrive.
func newServer(cfg *config.Config, pool *pgxpool.Pool, pub events.Publisher, files blobstore.Store,
	metrics *telemetry.Provider, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(metrics.MetricsMiddleware())

	jwtCfg := jwtConfig(cfg)
	if cfg.IsDev() {
		// Unauthenticated dev requests act as ADMIN; a bearer token still wins.
		e.Use(auth.DevAuthMiddleware())
		jwtCfg.Skipper = func(c echo.Context) bool {
			return auth.AuthSkipper(c) || auth.UserIDFromContext(c.Request().Context()) != ""
		}
		logger.Warn().Msg("development auth enabled")
	}
	e.Use(auth.JWTMiddleware(jwtCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, db.NewMigrator(pool, migrationsFS("", cfg.MigrationsDir), logger), logger))
	metricsHandler := metrics.Handler()
	e.GET("/metrics", func(c echo.Context) error {
		if pool != nil {
			s := db.GetPoolStats(pool)
			metrics.SetDBPool(s.Total, s.Idle, s.InUse)
		}
		return metricsHandler(c)
	})

	api := e.Group("/api/v1", db.ConnMiddleware(pool))

	txm := db.NewTxManager(pool)
	wm := ward.NewManager(ward.NewPatientRepo(pool), ward.NewDoctorRepo(pool), ward.NewRoomRepo(pool),
		ward.NewHistoryRepo(pool), txm, logger)
	wf := intake.NewWorkflow(intake.NewBookingRepo(pool), wm, txm, logger)
	engine := billing.NewEngine(wm, logger)
	facade := hospital.NewFacade(wm, wf, engine, pub, files, metrics, logger)

	ward.NewHandler(wm).RegisterRoutes(api)
	intake.NewHandler(wf).RegisterRoutes(api)
	// Login and booking intake are the unauthenticated writes; each gets its
	// own buckets.
	hospital.NewHandler(facade).RegisterRoutes(api, middleware.RateLimit(publicLimits(cfg)))
	admin.NewHandler(admin.NewService(admin.NewUserRepo(pool), jwtCfg, logger)).RegisterRoutes(api, middleware.RateLimit(publicLimits(cfg)))
	blobstore.NewHandler(files).WithGuard(facade.CanReadFile).
		RegisterRoutes(api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleDoctor)))

	return e
}

// publicLimits falls back to the defaults for unset or non-positive values.
func publicLimits(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

func newPublisher(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	switch cfg.EventsDriver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "sqs":
		p, err := events.NewSQSPublisher(ctx, cfg.AWSRegion, cfg.SQSQueueName)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqs publisher: %w", err)
		}
		return p, nil
	default:
		return events.Nop{}, nil
	}
}

func newArchive(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.ArchiveDriver != "s3" {
		return blobstore.NewInMemoryStore(), nil
	}
	s, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Region:    cfg.AWSRegion,
		Bucket:    cfg.S3Bucket,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3Endpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 store: %w", err)
	}
	return s, nil
}

// migrationsFS prefers an explicit directory, then the configured one, then
// the schema compiled into the binary.
func migrationsFS(flagDir, cfgDir string) fs.FS {
	if flagDir != "" {
		return os.DirFS(flagDir)
	}
	if cfgDir != "" {
		return os.DirFS(cfgDir)
	}
	return migrations.FS
}

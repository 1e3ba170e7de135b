package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"freecanvas/docs"
	"freecanvas/internal/auth"
	"freecanvas/internal/config"
	"freecanvas/internal/database"
	"freecanvas/internal/database/migration"
	handlers "freecanvas/internal/http/handler"
	"freecanvas/internal/http/middleware"
	"freecanvas/internal/logging"
	"freecanvas/internal/otel"
	"freecanvas/internal/repository/postgres"
	"freecanvas/internal/service"
	"freecanvas/internal/storage"
)

// @title						Canvas Item API
// @version					1.0
// @BasePath					/
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	logger := logging.Must(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, "freecanvas-api", logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// PostgreSQL connection with pooling via database/sql
	db, err := database.NewPostgres(ctx, cfg.Database, reg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, logger, cfg.Database.Host); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// S3-compatible object storage for canvas images (MinIO-supported)
	objStore, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		logger.Fatal("failed to initialize object storage", zap.Error(err))
	}

	itemRepo := postgres.NewCanvasItemPostgres(db)
	canvasSvc := service.NewCanvasService(itemRepo, objStore, logger)

	var (
		protect  []fiber.Handler
		accounts service.AccountService
	)
	if cfg.Auth.JWTSecret != "" {
		tokens, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			logger.Fatal("failed to initialize auth", zap.Error(err))
		}
		protect = append(protect, middleware.Authenticate(tokens))

		// Sessions share the secret but live longer than minted service tokens.
		sessions, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.SessionTTL)
		if err != nil {
			logger.Fatal("failed to initialize auth", zap.Error(err))
		}
		accounts = service.NewAccountService(postgres.NewUserPostgres(db), sessions, logger)
	} else {
		logger.Warn("JWT_SECRET is empty, item routes are unauthenticated and accounts are disabled")
	}

	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		logger.Fatal("failed to register http metrics", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		BodyLimit:             cfg.MaxUploadMB << 20,
		DisableStartupMessage: true,
	})

	// RequestID first so every later middleware and the error envelope can see it
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.Logger(logger))
	app.Use(promMW.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	handlers.RegisterRoutes(app, db, canvasSvc, protect...)
	if accounts != nil {
		handlers.RegisterAuthRoutes(app, accounts)
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown", zap.Error(err))
	}
}

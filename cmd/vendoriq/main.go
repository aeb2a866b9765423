package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/vendoriq/internal/adapter/fsm"
	handler "github.com/neomorfeo/vendoriq/internal/adapter/http"
	"github.com/neomorfeo/vendoriq/internal/adapter/mail"
	"github.com/neomorfeo/vendoriq/internal/adapter/otel"
	"github.com/neomorfeo/vendoriq/internal/adapter/redis"
	"github.com/neomorfeo/vendoriq/internal/adapter/river"
	"github.com/neomorfeo/vendoriq/internal/adapter/secret"
	"github.com/neomorfeo/vendoriq/internal/adapter/sqlite"
	"github.com/neomorfeo/vendoriq/internal/app"
	"github.com/neomorfeo/vendoriq/internal/config"
)

const (
	serviceName    = "vendoriq"
	serviceVersion = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		slog.Error("vendoriq stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("VENDORIQ_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := otel.Setup(ctx, otel.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otel.OpenDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	store, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	sealer, err := secret.NewAESSealer(cfg.Security.AESKey)
	if err != nil {
		return fmt.Errorf("sealer: %w", err)
	}

	queue, err := river.Setup(ctx, db, river.Config{
		Sealer:      sealer,
		Renderer:    mail.NewRenderer(),
		Sender:      mail.NewLogSender(logger),
		Logger:      logger,
		MaxAttempts: cfg.Notifications.MaxAttempts,
		MaxWorkers:  cfg.Notifications.MaxWorkers,
	})
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	// Workers outlive the signal context so Stop can drain them.
	if err := queue.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			logger.Error("river shutdown", "error", err)
		}
	}()

	// --- Application ---
	svc := app.NewVendorService(
		otel.NewTracingRepository(store),
		fsm.New(),
		otel.NewTracingNotifier(river.NewNotifier(queue, sealer)),
		secret.NewArgon2Hasher(),
		sealer,
		app.WithLogger(logger),
		app.WithTokenTTL(cfg.Lifecycle.TokenTTL),
		app.WithDetailsURL(cfg.Lifecycle.DetailsURL),
	)

	opts := handler.Options{AdminKey: cfg.Server.AdminKey, Logger: logger}
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		opts.Limiter = redis.NewLimiter(rdb, cfg.Redis.Attempts, cfg.Redis.Window)
	}
	if cfg.Server.AdminKey == "" {
		logger.Warn("admin key not set, admin routes are open")
	}

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(router)))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	api := humachi.New(router, huma.DefaultConfig(serviceName, serviceVersion))
	handler.Register(api, svc, opts)

	// --- Server ---
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("vendoriq listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("stopped")
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format %q must be json or text", cfg.Format)
	}
}

// Package main is the entry point for the SoilWatch API server.
//
// It initializes the configuration, opens the soil moisture store,
// builds the HTTP server with the core chassis (middleware, routing,
// health checks), starts the background scheduler (daily SMAP
// ingestion and secure-update checks), and listens for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT,
// SIGTERM).
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

	"soilwatch/internal/api/handlers"
	"soilwatch/internal/config"
	"soilwatch/internal/core"
	"soilwatch/internal/external"
	"soilwatch/internal/ratelimit"
	"soilwatch/internal/scheduler"
	"soilwatch/internal/smap"
	"soilwatch/internal/store"
	"soilwatch/internal/types"
	"soilwatch/internal/update"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly
// exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("soilwatch API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	compositeDate, err := types.ParseDate(cfg.Ingestion.CompositeDate)
	if err != nil {
		return fmt.Errorf("parsing composite date: %w", err)
	}

	// Open the soil moisture store.
	gateway, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", cfg.Database.Path, err)
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	// Outbound client for the SMAP archive, with retries and a breaker.
	archiveClient := external.NewBaseClient(
		&http.Client{Timeout: cfg.Ingestion.FetchTimeout},
		"smap-archive",
		external.DefaultRetryPolicy(),
		"soilwatch/"+cfg.Build.Version,
	)

	fetcher := smap.NewFetcher(smap.FetcherConfig{
		Client:        archiveClient,
		SourceURL:     cfg.Ingestion.SourceURL,
		ChunkSize:     cfg.Ingestion.ChunkSize,
		FetchTimeout:  cfg.Ingestion.FetchTimeout,
		CompositeDate: compositeDate,
		Logger:        logger,
	})

	checker, err := update.NewPinnedChecker(cfg.Update.RepositoryURL, cfg.Update.TrustedRootKeyIDs, logger)
	if err != nil {
		return fmt.Errorf("creating update checker: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.BucketIdleTTL)

	// Build the server.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		limiter.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Limiter = limiter
	srv.HealthProbes = []core.HealthProbe{storeProbe{gateway: gateway}}

	moistureHandler := handlers.NewMoistureHandler(gateway, fetcher, gateway, checker, logger)
	srv.RouteRegistrars = append(srv.RouteRegistrars, func(r chi.Router) {
		moistureHandler.RegisterRoutes(r, srv.RateLimit)
	})

	srv.MountRoutes()

	// Background jobs: daily ingestion refresh and update check.
	runner := scheduler.NewRunner(logger,
		scheduler.NewIngestionTask(fetcher, gateway, cfg.Ingestion.Interval, logger),
		scheduler.NewUpdateCheckTask(checker, cfg.Update.Interval, logger),
	)
	if err := runner.Start(context.Background()); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer runner.Stop()

	return runHTTPServer(srv, cfg, logger)
}

// storeProbe adapts the store gateway to the health probe interface.
type storeProbe struct {
	gateway *store.Gateway
}

func (p storeProbe) Name() string { return "database" }

func (p storeProbe) Check(ctx context.Context) error {
	return p.gateway.Ping(ctx)
}

// runHTTPServer starts the server in standard HTTP mode with graceful
// shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual ingestion blocks until the granule is decoded and
		// stored, so writes get the full fetch budget.
		WriteTimeout: cfg.Ingestion.FetchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}

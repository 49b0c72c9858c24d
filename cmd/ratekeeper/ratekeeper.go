package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratekeeper/internal/api"
	"ratekeeper/internal/config"
	"ratekeeper/internal/coordinator"
	"ratekeeper/internal/logger"
	"ratekeeper/internal/models"
	"ratekeeper/internal/observability"
	"ratekeeper/internal/service"
	"ratekeeper/internal/storage"
	"ratekeeper/internal/version"
)

var (
	configFile     = flag.String("config", "", "Path to configuration file")
	generateConfig = flag.String("generate-config", "", "Write an example configuration file to this path and exit")
	generateKey    = flag.Bool("generate-key", false, "Print a new random API key and exit")
	showVersion    = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	if *generateKey {
		key, err := models.GenerateAPIKey()
		if err != nil {
			slog.Error("Failed to generate API key", "error", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	if *generateConfig != "" {
		if err := config.SaveExample(*generateConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		slog.Info("Example configuration written", "path", *generateConfig)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	buildInfo := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, buildInfo)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, buildInfo)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err, "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	// Initialize the per-key coordinator and its sweeper
	coord, err := coordinator.New(activeStorage,
		coordinator.WithOwner(buildInfo.InstanceID),
		coordinator.WithRetention(cfg.Limiter.Retention),
		coordinator.WithSweepInterval(cfg.Limiter.SweepInterval),
		coordinator.WithMaxEntries(cfg.Limiter.MaxEntries),
		coordinator.WithStoreTimeout(cfg.Storage.Timeout),
		coordinator.WithPurgeOnStart(cfg.Limiter.PurgeOnStart),
		coordinator.WithLogger(log),
	)
	if err != nil {
		slog.Error("Failed to initialize coordinator", "error", err)
		os.Exit(1)
	}
	coord.Start()
	defer coord.Close()

	// Initialize limiter service
	limiterService, err := service.NewService(coord)
	if err != nil {
		slog.Error("Failed to initialize limiter service", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP handlers with storage for health checks
	handlers := api.NewHandlers(limiterService,
		api.WithStorage(activeStorage),
		api.WithVersion(buildInfo),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// The API throttles itself through the same token bucket it serves
	if cfg.Security.RateLimit.Enabled {
		routeOpts = append(routeOpts, api.WithRateLimiter(api.Throttle(limiterService, cfg.Security.RateLimit)))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"storage", cfg.Storage.Type,
			"auth", cfg.Security.EnableAuth,
			"self_throttle", cfg.Security.RateLimit.Enabled,
		)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
	}

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// In-flight checks finish before the deferred coordinator and storage close.
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete", "resident_keys", coord.Len())
}

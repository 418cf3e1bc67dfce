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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"driftmirror/internal/config"
	"driftmirror/internal/database"
	"driftmirror/internal/gate"
	"driftmirror/internal/gateway"
	"driftmirror/internal/handlers"
	"driftmirror/internal/middleware"
	"driftmirror/internal/metrics"
	"driftmirror/internal/reconcile"
	"driftmirror/internal/subscriptions"
	"driftmirror/internal/worker"
)

var (
	metricsAddr string
	workerCount int
	providerURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and reconciliation worker pool",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9101", "address for the Prometheus /metrics endpoint")
	serveCmd.Flags().IntVar(&workerCount, "workers", 4, "number of concurrent reconciliation poll loops")
	serveCmd.Flags().StringVar(&providerURL, "provider-url", "", "base URL of the provider API (overrides PROVIDER_URL)")
	viper.BindPFlag("provider_url", serveCmd.Flags().Lookup("provider-url"))
	viper.BindEnv("provider_url", "PROVIDER_URL")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting driftmirror", "host", cfg.Host, "port", cfg.Port, "store_dsn", cfg.StoreDSN)

	db, err := database.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Init(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	baseURL := viper.GetString("provider_url")
	if baseURL == "" {
		baseURL = "https://graph.microsoft.com/v1.0"
	}
	client := gateway.NewClient(baseURL, cfg.Bearer, logger)

	g := gate.New(client, db, logger)
	if cfg.DeltaEnabled && !g.IsEnabled() {
		g.Enable("config:delta_enabled")
	}

	subs := subscriptions.New(client, db, cfg.SharedSecretFloor, logger)
	engine := reconcile.New(client, db, g, logger)
	w := worker.New(db, engine, g, workerCount, logger).
		WithRateLimitBreaker(cfg.RateLimitBreakerCooldown, cfg.RateLimitBreakerRecoveryCount)

	bootstrapHandler := handlers.NewBootstrapHandler(db, client, g, subs, engine, cfg)
	notifyHandler := handlers.NewNotifyHandler(db, subs)
	healthHandler := handlers.NewHealthHandler(db)

	router := chi.NewRouter()
	router.Method(http.MethodPost, "/bootstrap", middleware.WrapHandler(metrics.EndpointBootstrap, bootstrapHandler.ServeHTTP))
	router.Method(http.MethodPost, "/notify", middleware.WrapHandler(metrics.EndpointNotify, notifyHandler.ServeHTTP))
	router.Method(http.MethodGet, "/health", middleware.WrapHandler(metrics.EndpointHealth, healthHandler.ServeHTTP))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go func() {
		if err := w.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("worker stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server listening", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

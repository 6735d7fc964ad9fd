package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-console/internal/api/router"
	"github.com/wolfman30/clinic-console/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-console/internal/config"
	"github.com/wolfman30/clinic-console/internal/views"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-console API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"backend", cfg.BackendBaseURL,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	store := bootstrap.BuildStateStore(redisClient, cfg, logger)

	metricsHandler, m := setupMetrics()
	client := bootstrap.BuildBackend(cfg, m, logger)
	collections := bootstrap.BuildCollections(bootstrap.BuildDeps(cfg, client, store, m, logger))

	// Session janitors close idle views and evict retained pages.
	janitors := startJanitors(ctx, collections, cfg.CacheSweepInterval)

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		Collections:        collections,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Ready:              bootstrap.ReadyCheck(redisClient),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	stop()
	janitors.Wait()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics builds a dedicated registry with process collectors plus the
// cache and backend collectors.
func setupMetrics() (http.Handler, bootstrap.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), bootstrap.BuildMetrics(reg)
}

// startJanitors runs every collection's sweep loop until ctx is done. Each
// loop closes its caches on exit.
func startJanitors(ctx context.Context, collections []views.Mountable, interval time.Duration) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, c := range collections {
		wg.Add(1)
		go func(c views.Mountable) {
			defer wg.Done()
			c.Run(ctx, interval)
		}(c)
	}
	return &wg
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/bootstrap"
	"github.com/chris/coin-settlement/pkg/config"
	"github.com/chris/coin-settlement/pkg/handlers"
	custommiddleware "github.com/chris/coin-settlement/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reload:
				_ = app.Reload(ctx)
			}
		}
	}()

	if app.Scheduler == nil {
		logger.Warn("SQS_QUEUE_URL not set, pending settlements will only be picked up by the reconciliation sweep")
	}

	// Create our handler
	handler := handlers.NewApiHandler(app.Ledger, app.Coordinator, app.Gate, app.Scheduler)

	// Create a new Chi router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(custommiddleware.NewStructuredLogger(logger))
	router.Use(custommiddleware.NewRequestMetrics(app.Metrics))
	router.Handle("/metrics", promhttp.Handler())

	// Use the generated function to mount our handler on the router
	api.HandlerFromMux(handler, router)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.HTTPPort, "storage", cfg.StorageBackend, "processor", app.Gateway.Processor())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}

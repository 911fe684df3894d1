package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/coin-settlement/pkg/bootstrap"
	"github.com/chris/coin-settlement/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize dependencies once per container.
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.New(context.Background(), cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Error("failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	h := &Handler{
		Resolver: app.Coordinator,
		MaxAge:   cfg.IntentMaxAge,
		Metrics:  app.Metrics,
		Logger:   logger,
	}
	lambda.Start(h.HandleRequest)
}

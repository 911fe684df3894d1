package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/scheduler"
	"github.com/chris/coin-settlement/pkg/settlement"
)

// Sweeper finds intents that never reached a final state and resolves them.
type Sweeper interface {
	StaleIntents(ctx context.Context, olderThan time.Duration) ([]models.PaymentIntent, error)
	ResolveIntent(ctx context.Context, intentID string, maxAge time.Duration) (settlement.Resolution, error)
}

// Handler is triggered by an EventBridge schedule.
type Handler struct {
	Sweeper Sweeper
	// Scheduler is optional. Without it intents are resolved inline.
	Scheduler scheduler.Scheduler
	Threshold time.Duration
	MaxAge    time.Duration
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func (h *Handler) HandleRequest(ctx context.Context) error {
	h.Logger.Info("starting reconciliation sweep", "threshold", h.Threshold.String())

	stale, err := h.Sweeper.StaleIntents(ctx, h.Threshold)
	if err != nil {
		return fmt.Errorf("failed to get stale intents: %w", err)
	}

	if len(stale) == 0 {
		h.Logger.Info("no stale intents found")
		return nil
	}

	h.Logger.Info("found stale intents", "count", len(stale))

	var failed int
	for _, intent := range stale {
		log := h.Logger.With("intent_id", intent.ID, "status", intent.Status)

		// Don't let one failure stop the whole batch.
		if h.Scheduler != nil {
			if err := h.Scheduler.ScheduleReconciliation(ctx, intent.ID); err != nil {
				log.Error("failed to re-enqueue intent", "error", err)
				failed++
			}
			continue
		}

		resolution, err := h.Sweeper.ResolveIntent(ctx, intent.ID, h.MaxAge)
		if err != nil {
			log.Error("failed to resolve intent", "error", err)
			failed++
			continue
		}
		h.Metrics.Reconciliation(string(resolution))
		log.Info("resolved intent", "resolution", resolution)
	}

	h.Logger.Info("reconciliation sweep finished", "total", len(stale), "failed", failed)
	return nil
}

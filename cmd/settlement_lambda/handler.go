package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/chris/coin-settlement/pkg/scheduler"
	"github.com/chris/coin-settlement/pkg/settlement"
	"github.com/chris/coin-settlement/pkg/storage"
)

// Resolver brings a payment intent to a final state.
type Resolver interface {
	ResolveIntent(ctx context.Context, intentID string, maxAge time.Duration) (settlement.Resolution, error)
}

// Handler resolves the intents named in a batch of queue messages.
type Handler struct {
	Resolver Resolver
	MaxAge   time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// HandleRequest reports the messages that should be redelivered as batch
// item failures. Intents still pending at the processor are redelivered too,
// so the queue's visibility timeout acts as the retry delay.
func (h *Handler) HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse

	for _, message := range sqsEvent.Records {
		log := h.Logger.With("message_id", message.MessageId)

		msg, err := scheduler.DecodeReconcileMessage(message.Body)
		if err != nil {
			// Unparseable bodies are never retried.
			log.Error("dropping unreadable reconcile message", "error", err)
			continue
		}
		log = log.With("intent_id", msg.IntentId)

		resolution, err := h.Resolver.ResolveIntent(ctx, msg.IntentId, h.MaxAge)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			log.Warn("reconcile message names an unknown intent")
			continue
		case err != nil:
			log.Error("failed to resolve intent", "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
			continue
		}

		h.Metrics.Reconciliation(string(resolution))
		log.Info("resolved intent", "resolution", resolution, "queued_for", time.Since(msg.EnqueuedAt).String())

		if resolution == settlement.ResolutionPending {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
		}
	}

	return resp, nil
}

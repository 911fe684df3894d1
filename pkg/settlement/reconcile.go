package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/coin-settlement/pkg/audit"
	"github.com/chris/coin-settlement/pkg/coins"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/payments"
	"github.com/chris/coin-settlement/pkg/storage"
)

// Resolution is the outcome of reconciling one intent.
type Resolution string

const (
	ResolutionSettled   Resolution = "settled"
	ResolutionRefunded  Resolution = "refunded"
	ResolutionFailed    Resolution = "failed"
	ResolutionAbandoned Resolution = "abandoned"
	ResolutionPending   Resolution = "pending"
	ResolutionNoop      Resolution = "noop"
)

// StaleIntents lists unsettled intents created more than olderThan ago.
func (c *Coordinator) StaleIntents(ctx context.Context, olderThan time.Duration) ([]models.PaymentIntent, error) {
	intents, err := c.store.ListUnsettledIntents(ctx, c.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled intents: %w", err)
	}
	return intents, nil
}

// ResolveIntent brings one intent to a final state:
//   - confirmed and unsettled: settle it, or refund it if the item is already owned
//   - reserved for a refund: finish the refund
//   - failed or refunded at the processor: record that
//   - still created after maxAge: cancel it at the processor and mark it abandoned
//
// A pending intent is waiting on the processor and is never abandoned.
func (c *Coordinator) ResolveIntent(ctx context.Context, intentID string, maxAge time.Duration) (Resolution, error) {
	intent, err := c.store.GetIntent(ctx, intentID)
	if err != nil {
		return "", fmt.Errorf("failed to get payment intent: %w", err)
	}
	if !intent.NeedsReconciliation() {
		return ResolutionNoop, nil
	}
	if intent.Status == models.PaymentRefunding {
		return c.refundOwned(ctx, intent)
	}

	// 1. Ask the processor unless we already know it is confirmed.
	status := intent.Status
	if status != models.PaymentConfirmed {
		status, err = c.gateway.GetStatus(ctx, intent.ExternalID)
		if err != nil {
			return "", fmt.Errorf("failed to get payment status: %w", err)
		}
		if status != intent.Status {
			err := c.store.UpdateIntentStatus(ctx, intent.ID, status, "")
			if errors.Is(err, storage.ErrIntentAlreadySettled) {
				return ResolutionNoop, nil
			}
			if err != nil {
				return "", fmt.Errorf("failed to update payment intent: %w", err)
			}
			intent.Status = status
		}
	}

	age := c.now().Sub(intent.CreatedAt)
	log := c.logger.With("intent_id", intent.ID, "external_id", intent.ExternalID, "status", status)

	// 2. Act on it.
	switch status {
	case models.PaymentConfirmed:
		return c.resolveConfirmed(ctx, intent)

	case models.PaymentFailed, models.PaymentRefunded:
		log.Info("payment intent closed at processor")
		return ResolutionFailed, nil

	case models.PaymentPending:
		if age >= maxAge {
			log.Warn("payment intent still pending at processor", "age", age)
		}
		return ResolutionPending, nil

	default:
		if age < maxAge {
			return ResolutionPending, nil
		}
		return c.abandon(ctx, intent)
	}
}

// abandon voids a checkout the buyer never completed. The processor is asked
// first so the payment cannot be confirmed after the intent is closed.
func (c *Coordinator) abandon(ctx context.Context, intent *models.PaymentIntent) (Resolution, error) {
	err := c.gateway.CancelPayment(ctx, payments.CancelRequest{
		PaymentID:      intent.ExternalID,
		IdempotencyKey: "cancel-" + intent.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to cancel abandoned payment: %w", err)
	}

	err = c.store.UpdateIntentStatus(ctx, intent.ID, models.PaymentFailed, "")
	if errors.Is(err, storage.ErrIntentAlreadySettled) {
		return ResolutionNoop, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to mark intent abandoned: %w", err)
	}

	e := audit.New(audit.TypeIntentAbandoned, audit.SeverityLow, intent.BuyerID, "checkout abandoned before confirmation").
		With("intent_id", intent.ID).
		With("processor", intent.Processor)
	e.Reference = intent.ItemID
	c.audit.Emit(ctx, e)
	c.logger.Info("payment intent abandoned", "intent_id", intent.ID, "age", c.now().Sub(intent.CreatedAt))
	return ResolutionAbandoned, nil
}

func (c *Coordinator) resolveConfirmed(ctx context.Context, intent *models.PaymentIntent) (Resolution, error) {
	if intent.Purpose == models.PurposeTopUp {
		if _, err := c.settleTopUp(ctx, intent); err != nil {
			if errors.Is(err, storage.ErrIntentAlreadySettled) {
				return ResolutionNoop, nil
			}
			return "", err
		}
		return ResolutionSettled, nil
	}

	existing, err := c.store.GetPurchase(ctx, intent.BuyerID, intent.ItemID)
	switch {
	case err == nil:
		if paidBy(existing, intent) {
			// This intent bought it; the intent was read before its settlement committed.
			return ResolutionNoop, nil
		}
		return c.refundOwned(ctx, intent)
	case !errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("failed to check ownership: %w", err)
	}

	_, err = c.settlePurchase(ctx, intent, coins.CoinsToUsd(intent.AmountMinor))
	switch {
	case err == nil:
		c.logger.Info("reconciled confirmed payment", "intent_id", intent.ID)
		return ResolutionSettled, nil
	case errors.Is(err, storage.ErrAlreadyOwned):
		return ResolutionRefunded, nil
	case errors.Is(err, storage.ErrIntentAlreadySettled):
		return ResolutionNoop, nil
	}
	return "", err
}

func (c *Coordinator) refundOwned(ctx context.Context, intent *models.PaymentIntent) (Resolution, error) {
	err := c.refund(ctx, intent)
	if errors.Is(err, storage.ErrIntentAlreadySettled) {
		return ResolutionNoop, nil
	}
	if err != nil {
		return "", err
	}
	return ResolutionRefunded, nil
}

// paidBy reports whether the purchase record was written by the intent's own payment.
func paidBy(p *models.PurchaseRecord, intent *models.PaymentIntent) bool {
	if p.ExternalTransactionID == "" {
		return false
	}
	return p.ExternalTransactionID == intent.ExternalID || p.ExternalTransactionID == intent.CaptureID
}

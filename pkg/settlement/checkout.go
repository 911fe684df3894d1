package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/coin-settlement/pkg/audit"
	"github.com/chris/coin-settlement/pkg/coins"
	"github.com/chris/coin-settlement/pkg/ledger"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/payments"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutRequest opens a real-money payment.
type CheckoutRequest struct {
	Purpose  models.IntentPurpose
	BuyerID  string
	SellerID string
	ItemID   string
	// Category receives the coins of a top-up.
	Category    models.Category
	PriceUSD    decimal.Decimal
	Description string
}

// BeginCheckout creates the payment at the processor and stores the local
// intent that later purchases, top-ups and reconciliation refer to.
func (c *Coordinator) BeginCheckout(ctx context.Context, req CheckoutRequest) (*models.PaymentIntent, error) {
	if req.BuyerID == "" {
		return nil, fmt.Errorf("buyer is required")
	}
	amount := coins.ToMinorUnits(req.PriceUSD)
	if !req.PriceUSD.IsPositive() || amount <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, req.PriceUSD)
	}

	switch req.Purpose {
	case models.PurposePurchase:
		if req.ItemID == "" || req.SellerID == "" {
			return nil, fmt.Errorf("item and seller are required for a purchase checkout")
		}
		if req.SellerID == req.BuyerID {
			return nil, ledger.ErrSelfTransfer
		}
		_, err := c.store.GetPurchase(ctx, req.BuyerID, req.ItemID)
		if err == nil {
			return nil, storage.ErrAlreadyOwned
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to check ownership: %w", err)
		}
	case models.PurposeTopUp:
		if !req.Category.Valid() {
			return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidCategory, req.Category)
		}
	default:
		return nil, fmt.Errorf("unknown checkout purpose %q", req.Purpose)
	}

	id := uuid.NewString()
	metadata := map[string]string{
		"reference": id,
		"buyer_id":  req.BuyerID,
		"purpose":   string(req.Purpose),
	}
	if req.ItemID != "" {
		metadata["item_id"] = req.ItemID
	}

	payment, err := c.gateway.CreatePayment(ctx, payments.CreateRequest{
		AmountMinor:    amount,
		Currency:       coins.Currency,
		Description:    req.Description,
		Metadata:       metadata,
		IdempotencyKey: "create-" + id,
	})
	if err != nil {
		e := audit.New(audit.TypeProviderFailure, audit.SeverityMedium, req.BuyerID, err.Error()).
			With("processor", c.gateway.Processor()).
			With("kind", string(payments.KindOf(err)))
		e.Reference = req.ItemID
		c.audit.Emit(ctx, e)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	now := c.now().UTC()
	status := payment.Status
	if status == "" {
		status = models.PaymentCreated
	}
	intent := &models.PaymentIntent{
		ID:           id,
		Processor:    c.gateway.Processor(),
		ExternalID:   payment.ID,
		Purpose:      req.Purpose,
		BuyerID:      req.BuyerID,
		SellerID:     req.SellerID,
		ItemID:       req.ItemID,
		Category:     req.Category,
		AmountMinor:  amount,
		Currency:     coins.Currency,
		Status:       status,
		ClientSecret: payment.ClientSecret,
		RedirectURL:  payment.RedirectURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.store.CreateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to store payment intent: %w", err)
	}

	c.logger.Info("checkout started",
		"intent_id", intent.ID,
		"processor", intent.Processor,
		"external_id", intent.ExternalID,
		"purpose", intent.Purpose,
		"amount_minor", intent.AmountMinor,
	)
	return intent, nil
}

// TopUpRequest completes a real-money coin purchase.
type TopUpRequest struct {
	UserID          string
	PaymentIntentID string
	PaymentMethodID string
}

// TopUp confirms a top-up intent and credits its coins to the intent's
// category. Coins are only minted after the processor confirms.
func (c *Coordinator) TopUp(ctx context.Context, req TopUpRequest) (*models.Balance, error) {
	intent, err := c.store.GetIntent(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	if intent.Purpose != models.PurposeTopUp || intent.BuyerID != req.UserID {
		c.emit(ctx, audit.TypePaymentMismatch, audit.SeverityCritical,
			PurchaseRequest{BuyerID: req.UserID, PaymentIntentID: intent.ID}, "top-up intent does not belong to user")
		return nil, ErrPaymentMismatch
	}
	if intent.Settled {
		return nil, storage.ErrIntentAlreadySettled
	}

	if err := c.ensureConfirmed(ctx, intent, req.PaymentMethodID); err != nil {
		return nil, err
	}
	return c.settleTopUp(ctx, intent)
}

func (c *Coordinator) settleTopUp(ctx context.Context, intent *models.PaymentIntent) (*models.Balance, error) {
	b, err := c.ledger.Mint(ctx, ledger.MintRequest{
		UserID:                intent.BuyerID,
		Category:              intent.Category,
		Amount:                intent.AmountMinor,
		IntentID:              intent.ID,
		ExternalTransactionID: externalTransactionID(intent),
		Processor:             intent.Processor,
	})
	if err == nil {
		c.metrics.Purchase("topup", "completed")
		return b, nil
	}
	if errors.Is(err, storage.ErrIntentAlreadySettled) {
		return nil, err
	}
	c.metrics.Purchase("topup", "settlement_failed")
	c.emit(ctx, audit.TypeSettlementFailed, audit.SeverityCritical,
		PurchaseRequest{BuyerID: intent.BuyerID, PaymentIntentID: intent.ID},
		"top-up credit failed after payment confirmation: "+err.Error())
	return nil, fmt.Errorf("%w: %w", ErrSettlementPending, err)
}

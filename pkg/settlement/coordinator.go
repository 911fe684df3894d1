// Package settlement orchestrates a marketplace purchase end to end: the
// ownership check, the payment confirmation when real money is involved, and
// the single ledger unit of work that moves coins from buyer to seller.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/coin-settlement/pkg/audit"
	"github.com/chris/coin-settlement/pkg/coins"
	"github.com/chris/coin-settlement/pkg/ledger"
	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/payments"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrPaymentNotConfirmed is returned when a real-money purchase is
	// attempted against an intent the processor has not confirmed.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	// ErrPaymentMismatch is returned when an intent does not pay for the
	// purchase it is presented with.
	ErrPaymentMismatch = errors.New("payment intent does not match purchase")
	// ErrInvalidPrice is returned for negative prices and prices below one coin.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrSettlementPending is returned when a payment was confirmed but the
	// ledger write failed. Reconciliation completes it.
	ErrSettlementPending = errors.New("payment confirmed, settlement pending")
)

// Purchase paths, used for metrics.
const (
	pathFree      = "free"
	pathCoins     = "coins"
	pathRealMoney = "real_money"
)

// Ledger is the part of the ledger service the coordinator drives.
type Ledger interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferResult, error)
	Grant(ctx context.Context, req ledger.GrantRequest) (*models.PurchaseRecord, error)
	Mint(ctx context.Context, req ledger.MintRequest) (*models.Balance, error)
}

// Gateway is the payment gateway surface the coordinator needs.
type Gateway interface {
	Processor() string
	CreatePayment(ctx context.Context, req payments.CreateRequest) (*payments.Payment, error)
	ConfirmPayment(ctx context.Context, req payments.ConfirmRequest) (*payments.Confirmation, error)
	CancelPayment(ctx context.Context, req payments.CancelRequest) error
	RefundPayment(ctx context.Context, req payments.RefundRequest) error
	GetStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error)
}

// Store is the persistence the coordinator reads directly.
type Store interface {
	storage.PurchaseReader
	storage.IntentStore
}

type Coordinator struct {
	ledger  Ledger
	store   Store
	gateway Gateway
	audit   audit.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Options holds the optional collaborators of a Coordinator.
type Options struct {
	Audit   audit.Emitter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewCoordinator(l Ledger, store Store, gateway Gateway, opts Options) *Coordinator {
	if opts.Audit == nil {
		opts.Audit = audit.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		ledger:  l,
		store:   store,
		gateway: gateway,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// PurchaseRequest is one buyer acquiring one item.
type PurchaseRequest struct {
	BuyerID  string
	SellerID string
	ItemID   string
	PriceUSD decimal.Decimal
	// PaymentIntentID selects the real-money path. It is the local intent id
	// returned by BeginCheckout.
	PaymentIntentID string
	// PaymentMethodID is passed to processors that confirm from the server.
	PaymentMethodID string
}

// PurchaseResult describes a completed purchase.
type PurchaseResult struct {
	Purchase models.PurchaseRecord
	// AlreadyOwned is true when a free item was already held and nothing was written.
	AlreadyOwned bool
	// Drain is empty for free items.
	Drain ledger.DrainPlan
}

// Purchase runs one purchase to completion or fails without moving coins.
func (c *Coordinator) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.BuyerID == "" || req.ItemID == "" {
		return nil, fmt.Errorf("buyer and item are required")
	}
	if req.PriceUSD.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, req.PriceUSD)
	}

	// 1. Ownership check before any money moves.
	existing, err := c.store.GetPurchase(ctx, req.BuyerID, req.ItemID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check ownership: %w", err)
	}
	if existing != nil {
		if req.PriceUSD.IsZero() {
			c.metrics.Purchase(pathFree, "already_owned")
			return &PurchaseResult{Purchase: *existing, AlreadyOwned: true}, nil
		}
		c.metrics.Purchase(pathOf(req), "already_owned")
		c.emit(ctx, audit.TypeDuplicatePurchase, audit.SeverityLow, req, "paid item already owned")
		return nil, storage.ErrAlreadyOwned
	}

	if req.PriceUSD.IsZero() {
		return c.purchaseFree(ctx, req)
	}

	// 2. Convert the listed price.
	priceCoins := coins.UsdToCoins(req.PriceUSD)
	if priceCoins <= 0 {
		return nil, fmt.Errorf("%w: %s is below one coin", ErrInvalidPrice, req.PriceUSD)
	}

	if req.PaymentIntentID != "" {
		return c.purchaseWithPayment(ctx, req, priceCoins)
	}
	return c.purchaseWithCoins(ctx, req, priceCoins)
}

func (c *Coordinator) purchaseFree(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	record, err := c.ledger.Grant(ctx, ledger.GrantRequest{
		TransactionID: uuid.NewString(),
		BuyerID:       req.BuyerID,
		SellerID:      req.SellerID,
		ItemID:        req.ItemID,
	})
	if errors.Is(err, storage.ErrAlreadyOwned) {
		// A concurrent request granted it first.
		existing, gerr := c.store.GetPurchase(ctx, req.BuyerID, req.ItemID)
		if gerr != nil {
			return nil, fmt.Errorf("failed to read existing grant: %w", gerr)
		}
		c.metrics.Purchase(pathFree, "already_owned")
		return &PurchaseResult{Purchase: *existing, AlreadyOwned: true}, nil
	}
	if err != nil {
		c.metrics.Purchase(pathFree, "failed")
		return nil, err
	}
	c.metrics.Purchase(pathFree, "completed")
	return &PurchaseResult{Purchase: *record}, nil
}

func (c *Coordinator) purchaseWithCoins(ctx context.Context, req PurchaseRequest, priceCoins int64) (*PurchaseResult, error) {
	res, err := c.ledger.Transfer(ctx, ledger.TransferRequest{
		TransactionID: uuid.NewString(),
		BuyerID:       req.BuyerID,
		SellerID:      req.SellerID,
		ItemID:        req.ItemID,
		PriceUSD:      req.PriceUSD,
		PriceCoins:    priceCoins,
		PaymentMethod: models.PaymentMethodCoins,
	})
	if err != nil {
		c.transferFailed(ctx, pathCoins, req, err)
		return nil, err
	}
	c.metrics.Purchase(pathCoins, "completed")
	return &PurchaseResult{Purchase: res.Purchase, Drain: res.Plan}, nil
}

func (c *Coordinator) purchaseWithPayment(ctx context.Context, req PurchaseRequest, priceCoins int64) (*PurchaseResult, error) {
	// 1. Load the local intent and make sure it pays for this purchase.
	intent, err := c.store.GetIntent(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	if err := matchIntent(intent, req, priceCoins); err != nil {
		c.metrics.Purchase(pathRealMoney, "mismatch")
		c.emit(ctx, audit.TypePaymentMismatch, audit.SeverityCritical, req, err.Error())
		return nil, err
	}
	if intent.Settled {
		return nil, storage.ErrIntentAlreadySettled
	}

	// 2. Confirm with the processor. No ledger lock is held here.
	if err := c.ensureConfirmed(ctx, intent, req.PaymentMethodID); err != nil {
		c.metrics.Purchase(pathRealMoney, "not_confirmed")
		return nil, err
	}

	// 3. Mint, drain, credit and settle the intent as one unit.
	res, err := c.settlePurchase(ctx, intent, req.PriceUSD)
	if err != nil {
		return nil, err
	}
	c.metrics.Purchase(pathRealMoney, "completed")
	return &PurchaseResult{Purchase: res.Purchase, Drain: res.Plan}, nil
}

// settlePurchase commits a confirmed purchase intent. If the commit fails the
// intent stays confirmed and unsettled for reconciliation.
func (c *Coordinator) settlePurchase(ctx context.Context, intent *models.PaymentIntent, priceUSD decimal.Decimal) (*ledger.TransferResult, error) {
	res, err := c.ledger.Transfer(ctx, ledger.TransferRequest{
		TransactionID:         uuid.NewString(),
		BuyerID:               intent.BuyerID,
		SellerID:              intent.SellerID,
		ItemID:                intent.ItemID,
		PriceUSD:              priceUSD,
		PriceCoins:            intent.AmountMinor,
		PaymentMethod:         intent.Processor,
		ExternalTransactionID: externalTransactionID(intent),
		Mint:                  intent.AmountMinor,
		IntentID:              intent.ID,
	})
	if err == nil {
		return res, nil
	}

	req := PurchaseRequest{BuyerID: intent.BuyerID, SellerID: intent.SellerID, ItemID: intent.ItemID, PaymentIntentID: intent.ID}
	if errors.Is(err, storage.ErrAlreadyOwned) {
		// Owned through another path while this payment was in flight.
		c.metrics.Purchase(pathRealMoney, "already_owned")
		if rerr := c.refund(ctx, intent); rerr != nil {
			if errors.Is(rerr, storage.ErrIntentAlreadySettled) {
				return nil, rerr
			}
			c.emit(ctx, audit.TypeSettlementFailed, audit.SeverityCritical, req, "refund after duplicate ownership failed: "+rerr.Error())
			return nil, fmt.Errorf("%w: %w", ErrSettlementPending, rerr)
		}
		return nil, storage.ErrAlreadyOwned
	}
	if errors.Is(err, storage.ErrIntentAlreadySettled) {
		return nil, err
	}

	c.metrics.Purchase(pathRealMoney, "settlement_failed")
	c.emit(ctx, audit.TypeSettlementFailed, audit.SeverityCritical, req, "ledger write failed after payment confirmation: "+err.Error())
	c.logger.Error("settlement failed after payment confirmation",
		"intent_id", intent.ID,
		"external_id", intent.ExternalID,
		"error", err,
	)
	return nil, fmt.Errorf("%w: %w", ErrSettlementPending, err)
}

// ensureConfirmed confirms the intent with the processor unless it already
// is confirmed, and persists the resulting status.
func (c *Coordinator) ensureConfirmed(ctx context.Context, intent *models.PaymentIntent, methodID string) error {
	if intent.Status == models.PaymentConfirmed {
		return nil
	}
	ref := PurchaseRequest{BuyerID: intent.BuyerID, SellerID: intent.SellerID, ItemID: intent.ItemID, PaymentIntentID: intent.ID}
	if intent.Status.Terminal() || intent.Status == models.PaymentRefunding {
		c.emit(ctx, audit.TypePaymentNotConfirmed, audit.SeverityMedium, ref, "payment intent is "+string(intent.Status))
		return fmt.Errorf("%w: intent is %s", ErrPaymentNotConfirmed, intent.Status)
	}

	conf, err := c.gateway.ConfirmPayment(ctx, payments.ConfirmRequest{
		PaymentID:      intent.ExternalID,
		MethodID:       methodID,
		IdempotencyKey: "confirm-" + intent.ID,
	})
	if err != nil {
		e := c.event(audit.TypeProviderFailure, audit.SeverityMedium, ref, err.Error()).
			With("processor", c.gateway.Processor()).
			With("kind", string(payments.KindOf(err)))
		c.audit.Emit(ctx, e)
		return fmt.Errorf("failed to confirm payment: %w", err)
	}

	if err := c.store.UpdateIntentStatus(ctx, intent.ID, conf.Status, conf.TransactionID); err != nil {
		return fmt.Errorf("failed to update payment intent: %w", err)
	}
	intent.Status = conf.Status
	if conf.TransactionID != "" {
		intent.CaptureID = conf.TransactionID
	}

	if conf.Status != models.PaymentConfirmed {
		c.emit(ctx, audit.TypePaymentNotConfirmed, audit.SeverityMedium, ref, "processor reported "+string(conf.Status))
		return fmt.Errorf("%w: processor reported %s", ErrPaymentNotConfirmed, conf.Status)
	}
	return nil
}

// refund returns a confirmed payment whose item is already owned and marks
// the intent refunded. The intent is reserved first, so a settlement racing
// the refund fails. ErrIntentAlreadySettled means the intent settled first
// and nothing was refunded.
func (c *Coordinator) refund(ctx context.Context, intent *models.PaymentIntent) error {
	if err := c.store.ReserveRefund(ctx, intent.ID); err != nil {
		return fmt.Errorf("failed to reserve intent for refund: %w", err)
	}
	// Reread for the capture id a concurrent confirmation may have stored.
	reserved, err := c.store.GetIntent(ctx, intent.ID)
	if err != nil {
		return fmt.Errorf("failed to get payment intent: %w", err)
	}

	err = c.gateway.RefundPayment(ctx, payments.RefundRequest{
		TransactionID:  externalTransactionID(reserved),
		Currency:       reserved.Currency,
		IdempotencyKey: "refund-" + reserved.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to refund payment: %w", err)
	}
	if err := c.store.UpdateIntentStatus(ctx, reserved.ID, models.PaymentRefunded, ""); err != nil {
		return fmt.Errorf("failed to mark intent refunded: %w", err)
	}
	c.emit(ctx, audit.TypeRefundAfterOwnership, audit.SeverityMedium,
		PurchaseRequest{BuyerID: reserved.BuyerID, ItemID: reserved.ItemID, PaymentIntentID: reserved.ID},
		"payment refunded because the item was already owned")
	return nil
}

func (c *Coordinator) transferFailed(ctx context.Context, path string, req PurchaseRequest, err error) {
	switch {
	case errors.Is(err, storage.ErrInsufficientFunds):
		c.metrics.Purchase(path, "insufficient_funds")
		c.emit(ctx, audit.TypeInsufficientFunds, audit.SeverityMedium, req, "insufficient coins for purchase")
	case errors.Is(err, storage.ErrAlreadyOwned):
		c.metrics.Purchase(path, "already_owned")
		c.emit(ctx, audit.TypeDuplicatePurchase, audit.SeverityLow, req, "concurrent purchase of an owned item")
	case errors.Is(err, storage.ErrConcurrencyConflict):
		c.metrics.Purchase(path, "conflict")
		c.emit(ctx, audit.TypeConcurrencyConflict, audit.SeverityLow, req, "balance changed during purchase")
	default:
		c.metrics.Purchase(path, "failed")
		c.logger.Error("purchase failed", "buyer_id", req.BuyerID, "item_id", req.ItemID, "error", err)
	}
}

func (c *Coordinator) event(eventType string, severity audit.Severity, req PurchaseRequest, msg string) audit.Event {
	e := audit.New(eventType, severity, req.BuyerID, msg)
	e.Reference = req.ItemID
	if req.PaymentIntentID != "" {
		e = e.With("intent_id", req.PaymentIntentID)
	}
	return e
}

func (c *Coordinator) emit(ctx context.Context, eventType string, severity audit.Severity, req PurchaseRequest, msg string) {
	c.audit.Emit(ctx, c.event(eventType, severity, req, msg))
}

func matchIntent(intent *models.PaymentIntent, req PurchaseRequest, priceCoins int64) error {
	switch {
	case intent.Purpose != models.PurposePurchase:
		return fmt.Errorf("%w: intent purpose is %s", ErrPaymentMismatch, intent.Purpose)
	case intent.BuyerID != req.BuyerID:
		return fmt.Errorf("%w: buyer differs", ErrPaymentMismatch)
	case intent.ItemID != req.ItemID || intent.SellerID != req.SellerID:
		return fmt.Errorf("%w: item or seller differs", ErrPaymentMismatch)
	case intent.AmountMinor != coins.ToMinorUnits(req.PriceUSD) || intent.AmountMinor != priceCoins:
		return fmt.Errorf("%w: intent amount %d, price %d", ErrPaymentMismatch, intent.AmountMinor, priceCoins)
	}
	return nil
}

// externalTransactionID is the id refunds and receipts reference: the capture
// id when the processor issued one, otherwise the payment id.
func externalTransactionID(intent *models.PaymentIntent) string {
	if intent.CaptureID != "" {
		return intent.CaptureID
	}
	return intent.ExternalID
}

func pathOf(req PurchaseRequest) string {
	if req.PaymentIntentID != "" {
		return pathRealMoney
	}
	return pathCoins
}

package ledger

import (
	"context"
	"fmt"

	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferRequest describes one paid settlement between a buyer and a seller.
type TransferRequest struct {
	TransactionID string
	BuyerID       string
	SellerID      string
	ItemID        string
	PriceUSD      decimal.Decimal
	PriceCoins    int64
	PaymentMethod string

	// ExternalTransactionID is the processor's final transaction id for a
	// real-money purchase.
	ExternalTransactionID string
	// Mint is the number of coins a confirmed real-money payment adds to the
	// buyer's analysis category before the drain.
	Mint int64
	// IntentID, when set, marks the local payment intent settled in the same
	// unit of work.
	IntentID string
}

// TransferResult is what a committed transfer wrote.
type TransferResult struct {
	Purchase models.PurchaseRecord
	Plan     DrainPlan
	Buyer    models.Balance
	Seller   models.Balance
}

// Transfer settles a paid purchase: it optionally mints the paid amount into
// the buyer's balance, drains the price from the buyer in priority order,
// credits the full price to the seller's analysis category, stores the
// purchase record, bumps the item's acquisition counter and writes the
// symmetric ledger rows. All of it commits as one unit or not at all.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	res, err := s.transfer(ctx, req)
	s.metrics.LedgerMutation("transfer", err)
	return res, err
}

func (s *Service) transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.PriceCoins <= 0 || req.Mint < 0 {
		return nil, ErrInvalidAmount
	}
	if req.BuyerID == "" || req.SellerID == "" || req.ItemID == "" {
		return nil, fmt.Errorf("transfer requires buyer, seller and item")
	}
	if req.BuyerID == req.SellerID {
		return nil, ErrSelfTransfer
	}
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCoins
	}

	unlock := s.locks.Lock(req.BuyerID, req.SellerID)
	defer unlock()

	// 1. Read both balances from one snapshot each.
	buyer, err := s.load(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}
	seller, err := s.load(ctx, req.SellerID)
	if err != nil {
		return nil, err
	}

	nextBuyer := *buyer
	nextSeller := *seller
	var entries []models.LedgerEntry

	// 2. Mint confirmed real money into the buyer's balance.
	if req.Mint > 0 {
		nextBuyer.Analysis += req.Mint
		entries = append(entries, s.entry(req.BuyerID, req.Mint, models.CategoryAnalysis, Reference{
			Type:        models.ReferencePayment,
			ID:          req.ExternalTransactionID,
			Description: fmt.Sprintf("Payment for item %s via %s", req.ItemID, req.PaymentMethod),
		}))
	}

	// 3. Plan the drain against the snapshot.
	plan, err := PlanDrain(nextBuyer, req.PriceCoins)
	if err != nil {
		return nil, err
	}
	plan.ApplyTo(&nextBuyer)

	// 4. Credit the seller in full.
	nextSeller.Analysis += req.PriceCoins

	// 5. Purchase record, ledger rows and counter.
	now := s.now().UTC()
	purchase := models.PurchaseRecord{
		TransactionID:         req.TransactionID,
		BuyerID:               req.BuyerID,
		SellerID:              req.SellerID,
		ItemID:                req.ItemID,
		PriceUSD:              req.PriceUSD,
		PriceCoins:            req.PriceCoins,
		PaymentMethod:         req.PaymentMethod,
		ExternalTransactionID: req.ExternalTransactionID,
		CreatedAt:             now,
	}
	entries = append(entries,
		s.entry(req.BuyerID, -req.PriceCoins, plan.Category(), Reference{
			Type:        models.ReferencePurchase,
			ID:          req.TransactionID,
			Description: fmt.Sprintf("Purchase of item %s (%s)", req.ItemID, plan),
		}),
		s.entry(req.SellerID, req.PriceCoins, models.CategoryAnalysis, Reference{
			Type:        models.ReferenceSale,
			ID:          req.TransactionID,
			Description: fmt.Sprintf("Sale of item %s", req.ItemID),
		}),
	)

	uow := &storage.UnitOfWork{
		Balances: []storage.BalanceChange{
			{Balance: nextBuyer},
			{Balance: nextSeller},
		},
		Entries:        entries,
		Purchase:       &purchase,
		AcquiredItemID: req.ItemID,
	}
	if req.IntentID != "" {
		uow.Intent = &storage.IntentSettlement{IntentID: req.IntentID, Status: models.PaymentConfirmed}
	}

	// 6. Commit.
	if err := s.commit(ctx, uow, req.BuyerID, req.SellerID); err != nil {
		return nil, err
	}

	s.logger.Info("settled purchase",
		"transaction_id", req.TransactionID,
		"buyer_id", req.BuyerID,
		"seller_id", req.SellerID,
		"item_id", req.ItemID,
		"coins", req.PriceCoins,
		"drain", plan.String(),
	)
	return &TransferResult{
		Purchase: purchase,
		Plan:     plan,
		Buyer:    *committed(nextBuyer, now),
		Seller:   *committed(nextSeller, now),
	}, nil
}

// GrantRequest records free access to an item.
type GrantRequest struct {
	TransactionID string
	BuyerID       string
	SellerID      string
	ItemID        string
}

// Grant stores a zero-price purchase record and bumps the acquisition counter
// without touching any balance. It returns storage.ErrAlreadyOwned if the
// buyer already holds the item.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*models.PurchaseRecord, error) {
	if req.BuyerID == "" || req.ItemID == "" {
		return nil, fmt.Errorf("grant requires buyer and item")
	}
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	record := models.PurchaseRecord{
		TransactionID: req.TransactionID,
		BuyerID:       req.BuyerID,
		SellerID:      req.SellerID,
		ItemID:        req.ItemID,
		PriceUSD:      decimal.Zero,
		PaymentMethod: models.PaymentMethodFree,
		CreatedAt:     s.now().UTC(),
	}
	err := s.store.Apply(ctx, &storage.UnitOfWork{Purchase: &record, AcquiredItemID: req.ItemID})
	s.metrics.LedgerMutation("grant", err)
	if err != nil {
		return nil, fmt.Errorf("failed to grant item: %w", err)
	}
	return &record, nil
}

// MintRequest credits a confirmed real-money top-up.
type MintRequest struct {
	UserID                string
	Category              models.Category
	Amount                int64
	IntentID              string
	ExternalTransactionID string
	Processor             string
}

// Mint credits coins bought with real money and marks the intent settled in
// the same unit of work, so a top-up can never be credited twice.
func (s *Service) Mint(ctx context.Context, req MintRequest) (*models.Balance, error) {
	b, err := s.mint(ctx, req)
	s.metrics.LedgerMutation("mint", err)
	return b, err
}

func (s *Service) mint(ctx context.Context, req MintRequest) (*models.Balance, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !req.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}

	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	b, err := s.load(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	next := *b
	next.Set(req.Category, b.Get(req.Category)+req.Amount)

	uow := &storage.UnitOfWork{
		Balances: []storage.BalanceChange{{Balance: next}},
		Entries: []models.LedgerEntry{s.entry(req.UserID, req.Amount, req.Category, Reference{
			Type:        models.ReferencePayment,
			ID:          req.ExternalTransactionID,
			Description: fmt.Sprintf("Coin top-up via %s", req.Processor),
		})},
	}
	if req.IntentID != "" {
		uow.Intent = &storage.IntentSettlement{IntentID: req.IntentID, Status: models.PaymentConfirmed}
	}
	if err := s.commit(ctx, uow, req.UserID); err != nil {
		return nil, err
	}
	return committed(next, s.now()), nil
}

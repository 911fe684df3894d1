package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) GetPurchase(ctx context.Context, buyerID, itemID string) (*models.PurchaseRecord, error) {
	query, args, err := psql.Select("transaction_id", "buyer_id", "seller_id", "item_id", "price_usd::text", "price_coins", "payment_method", "external_transaction_id", "created_at").
		From("purchases").
		Where(sq.Eq{"buyer_id": buyerID, "item_id": itemID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build purchase query: %w", err)
	}

	var p models.PurchaseRecord
	var price string
	err = s.db.QueryRow(ctx, query, args...).Scan(&p.TransactionID, &p.BuyerID, &p.SellerID, &p.ItemID, &price, &p.PriceCoins, &p.PaymentMethod, &p.ExternalTransactionID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	if p.PriceUSD, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse purchase price: %w", err)
	}
	return &p, nil
}

func (s *Store) GetAcquisitions(ctx context.Context, itemID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, "SELECT acquisitions FROM item_acquisitions WHERE item_id = $1", itemID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get acquisitions: %w", err)
	}
	return n, nil
}

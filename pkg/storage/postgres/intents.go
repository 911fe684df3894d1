package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
)

var intentColumns = []string{
	"id", "processor", "external_id", "purpose", "buyer_id", "seller_id", "item_id", "category",
	"amount_minor", "currency", "status", "redirect_url", "capture_id", "settled", "created_at", "updated_at",
}

func (s *Store) CreateIntent(ctx context.Context, in *models.PaymentIntent) error {
	query, args, err := psql.Insert("payment_intents").
		Columns(intentColumns...).
		Values(in.ID, in.Processor, in.ExternalID, string(in.Purpose), in.BuyerID, in.SellerID, in.ItemID, string(in.Category),
			in.AmountMinor, in.Currency, string(in.Status), in.RedirectURL, in.CaptureID, in.Settled, in.CreatedAt, in.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build intent insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	query, args, err := psql.Select(intentColumns...).
		From("payment_intents").
		Where(sq.Eq{"id": intentID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build intent query: %w", err)
	}
	in, err := scanIntent(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return in, nil
}

func (s *Store) UpdateIntentStatus(ctx context.Context, intentID string, status models.PaymentStatus, captureID string) error {
	return s.updateIntent(ctx, intentID, intentStatusUpdate(intentID, status, captureID, s.now().UTC()))
}

// ReserveRefund moves an open, unsettled intent to refunding.
func (s *Store) ReserveRefund(ctx context.Context, intentID string) error {
	return s.updateIntent(ctx, intentID, refundReservation(intentID, s.now().UTC()))
}

// updateIntent runs a conditional intent update. When no row matched it
// tells a missing intent apart from one that refused the transition.
func (s *Store) updateIntent(ctx context.Context, intentID string, b sq.UpdateBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build intent update: %w", err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payment intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetIntent(ctx, intentID); err != nil {
		return err
	}
	return storage.ErrIntentAlreadySettled
}

func intentStatusUpdate(intentID string, status models.PaymentStatus, captureID string, now time.Time) sq.UpdateBuilder {
	b := psql.Update("payment_intents").
		Set("status", string(status)).
		Set("updated_at", now).
		Where(sq.Eq{"id": intentID, "settled": false})
	if captureID != "" {
		b = b.Set("capture_id", captureID)
	}
	if status != models.PaymentRefunded {
		b = b.Where(sq.NotEq{"status": string(models.PaymentRefunding)})
	}
	return b
}

func refundReservation(intentID string, now time.Time) sq.UpdateBuilder {
	return psql.Update("payment_intents").
		Set("status", string(models.PaymentRefunding)).
		Set("updated_at", now).
		Where(sq.Eq{"id": intentID, "settled": false}).
		Where(sq.NotEq{"status": []string{string(models.PaymentFailed), string(models.PaymentRefunded)}})
}

func (s *Store) ListUnsettledIntents(ctx context.Context, createdBefore time.Time) ([]models.PaymentIntent, error) {
	query, args, err := psql.Select(intentColumns...).
		From("payment_intents").
		Where(sq.Eq{"settled": false}).
		Where(sq.NotEq{"status": []string{string(models.PaymentFailed), string(models.PaymentRefunded)}}).
		Where(sq.Lt{"created_at": createdBefore}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build unsettled intents query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled intents: %w", err)
	}
	defer rows.Close()

	var intents []models.PaymentIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment intent: %w", err)
		}
		intents = append(intents, *in)
	}
	return intents, rows.Err()
}

func scanIntent(row pgx.Row) (*models.PaymentIntent, error) {
	var in models.PaymentIntent
	err := row.Scan(&in.ID, &in.Processor, &in.ExternalID, &in.Purpose, &in.BuyerID, &in.SellerID, &in.ItemID, &in.Category,
		&in.AmountMinor, &in.Currency, &in.Status, &in.RedirectURL, &in.CaptureID, &in.Settled, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

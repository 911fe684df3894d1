package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
)

// Apply runs the unit of work in one transaction. Balance rows are locked in
// user id order and compared against the expected versions before any write.
func (s *Store) Apply(ctx context.Context, uow *storage.UnitOfWork) (err error) {
	if err := uow.Validate(); err != nil {
		return err
	}
	if uow.Empty() {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", "error", rerr)
			}
		}
	}()

	now := s.now().UTC()

	// 1. Lock and check balances.
	if err = lockBalances(ctx, tx, uow.Balances); err != nil {
		return err
	}
	for _, c := range uow.Balances {
		query, args, berr := balanceUpdate(c.Balance, now).ToSql()
		if berr != nil {
			return fmt.Errorf("failed to build balance update: %w", berr)
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
	}

	// 2. Ledger rows.
	for _, e := range uow.Entries {
		query, args, berr := entryInsert(e).ToSql()
		if berr != nil {
			return fmt.Errorf("failed to build ledger insert: %w", berr)
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return storage.ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}

	// 3. Purchase record.
	if p := uow.Purchase; p != nil {
		query, args, berr := purchaseInsert(p).ToSql()
		if berr != nil {
			return fmt.Errorf("failed to build purchase insert: %w", berr)
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return storage.ErrAlreadyOwned
			}
			return fmt.Errorf("failed to insert purchase: %w", err)
		}
	}

	// 4. Acquisition counter.
	if uow.AcquiredItemID != "" {
		query, args, berr := psql.Insert("item_acquisitions").
			Columns("item_id", "acquisitions").
			Values(uow.AcquiredItemID, 1).
			Suffix("ON CONFLICT (item_id) DO UPDATE SET acquisitions = item_acquisitions.acquisitions + 1").
			ToSql()
		if berr != nil {
			return fmt.Errorf("failed to build counter upsert: %w", berr)
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to increment acquisitions: %w", err)
		}
	}

	// 5. Settle the intent.
	if in := uow.Intent; in != nil {
		if err = settleIntent(ctx, tx, in, now); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit unit of work: %w", err)
	}
	return nil
}

func lockBalances(ctx context.Context, tx pgx.Tx, changes []storage.BalanceChange) error {
	if len(changes) == 0 {
		return nil
	}
	expected := make(map[string]int64, len(changes))
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		expected[c.Balance.UserID] = c.Balance.Version
		ids = append(ids, c.Balance.UserID)
	}
	sort.Strings(ids)

	query, args, err := psql.Select("user_id", "version").
		From("balances").
		Where(sq.Eq{"user_id": ids}).
		OrderBy("user_id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build balance lock: %w", err)
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to lock balances: %w", err)
	}
	defer rows.Close()

	found := 0
	for rows.Next() {
		var userID string
		var version int64
		if err := rows.Scan(&userID, &version); err != nil {
			return fmt.Errorf("failed to scan balance version: %w", err)
		}
		if expected[userID] != version {
			return storage.ErrConcurrencyConflict
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to lock balances: %w", err)
	}
	if found != len(ids) {
		return storage.ErrConcurrencyConflict
	}
	return nil
}

func settleIntent(ctx context.Context, tx pgx.Tx, in *storage.IntentSettlement, now time.Time) error {
	query, args, err := intentSettlement(in, now).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build intent update: %w", err)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to settle intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM payment_intents WHERE id = $1)", in.IntentID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check intent: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrIntentAlreadySettled
}

// intentSettlement settles an open intent. An intent reserved for a refund
// never settles.
func intentSettlement(in *storage.IntentSettlement, now time.Time) sq.UpdateBuilder {
	return psql.Update("payment_intents").
		Set("settled", true).
		Set("status", string(in.Status)).
		Set("updated_at", now).
		Where(sq.Eq{"id": in.IntentID, "settled": false}).
		Where(sq.NotEq{"status": string(models.PaymentRefunding)})
}

func balanceUpdate(b models.Balance, now time.Time) sq.UpdateBuilder {
	return psql.Update("balances").
		Set("analysis", b.Analysis).
		Set("enhancement", b.Enhancement).
		Set("exam", b.Exam).
		Set("export", b.Export).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", now).
		Where(sq.Eq{"user_id": b.UserID, "version": b.Version})
}

func entryInsert(e models.LedgerEntry) sq.InsertBuilder {
	return psql.Insert("ledger_entries").
		Columns("entry_id", "user_id", "amount", "type", "category", "reference_type", "reference_id", "description", "created_at").
		Values(e.EntryID, e.UserID, e.Amount, string(e.Direction), string(e.Category), e.ReferenceType, e.ReferenceID, e.Description, e.CreatedAt)
}

func purchaseInsert(p *models.PurchaseRecord) sq.InsertBuilder {
	return psql.Insert("purchases").
		Columns("buyer_id", "item_id", "transaction_id", "seller_id", "price_usd", "price_coins", "payment_method", "external_transaction_id", "created_at").
		Values(p.BuyerID, p.ItemID, p.TransactionID, p.SellerID, sq.Expr("?::numeric", p.PriceUSD.String()), p.PriceCoins, p.PaymentMethod, p.ExternalTransactionID, p.CreatedAt)
}

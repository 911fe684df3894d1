package storage

import (
	"fmt"

	"github.com/chris/coin-settlement/pkg/models"
)

// BalanceChange replaces a stored balance. Balance.Version carries the version
// that was read; the store rejects the change with ErrConcurrencyConflict if
// the stored version differs, and writes Version+1 otherwise.
type BalanceChange struct {
	Balance models.Balance
}

// IntentSettlement marks a payment intent settled inside the unit of work.
type IntentSettlement struct {
	IntentID string
	Status   models.PaymentStatus
}

// UnitOfWork is a set of writes that must commit together or not at all.
type UnitOfWork struct {
	Balances       []BalanceChange
	Entries        []models.LedgerEntry
	Purchase       *models.PurchaseRecord
	AcquiredItemID string
	Intent         *IntentSettlement
}

// Validate checks the invariants every backend relies on before writing.
func (u *UnitOfWork) Validate() error {
	seen := make(map[string]bool, len(u.Balances))
	for _, c := range u.Balances {
		if c.Balance.UserID == "" {
			return fmt.Errorf("balance change without user id")
		}
		if seen[c.Balance.UserID] {
			return fmt.Errorf("duplicate balance change for user %s", c.Balance.UserID)
		}
		seen[c.Balance.UserID] = true
		if !c.Balance.NonNegative() {
			return ErrInsufficientFunds
		}
	}
	for _, e := range u.Entries {
		if e.EntryID == "" {
			return fmt.Errorf("ledger entry without id")
		}
	}
	if u.Purchase != nil && (u.Purchase.BuyerID == "" || u.Purchase.ItemID == "") {
		return fmt.Errorf("purchase record without buyer or item")
	}
	return nil
}

// Empty reports whether the unit would write nothing.
func (u *UnitOfWork) Empty() bool {
	return len(u.Balances) == 0 && len(u.Entries) == 0 && u.Purchase == nil && u.AcquiredItemID == "" && u.Intent == nil
}

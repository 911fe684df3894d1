package storage

import (
	"context"

	"github.com/chris/coin-settlement/pkg/models"
)

// BalanceReader defines the interface for reading balances.
type BalanceReader interface {
	// GetBalance returns the user's balance or ErrNotFound if none was provisioned.
	GetBalance(ctx context.Context, userID string) (*models.Balance, error)
}

// BalanceProvisioner creates the initial balance row for a user.
type BalanceProvisioner interface {
	// CreateBalance inserts a new balance. It returns ErrAlreadyExists if one is present.
	CreateBalance(ctx context.Context, balance *models.Balance) error
}

// LedgerReader defines the interface for reading ledger data.
type LedgerReader interface {
	// ListLedgerEntries returns a user's most recent ledger entries, newest first.
	ListLedgerEntries(ctx context.Context, userID string, limit int32) ([]models.LedgerEntry, error)
}

// UnitOfWorkApplier is the highly-privileged interface for mutating balances.
// Every balance change, ledger row, purchase record and counter increment goes
// through Apply so that a settlement commits or fails as one unit.
type UnitOfWorkApplier interface {
	Apply(ctx context.Context, uow *UnitOfWork) error
}

// LedgerStore combines everything the ledger service needs.
type LedgerStore interface {
	BalanceReader
	BalanceProvisioner
	LedgerReader
	UnitOfWorkApplier
}

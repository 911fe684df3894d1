// Package ledger owns per-user, per-category coin balances and the
// append-only log of every change to them.
//
// Every mutation runs under an in-process per-user lock and is committed as a
// single storage.UnitOfWork guarded by the balance version, so a balance can
// never be driven negative by concurrent writers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/google/uuid"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidCategory is returned for a category that is not a balance counter.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrSelfTransfer is returned when buyer and seller are the same user.
	ErrSelfTransfer = errors.New("buyer and seller must differ")
)

// BalanceCache is a read-through cache in front of the balance store.
// Get returns (nil, nil) on a miss.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (*models.Balance, error)
	Set(ctx context.Context, balance *models.Balance) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

// Reference ties a ledger row to the thing that caused it.
type Reference struct {
	Type        string
	ID          string
	Description string
}

// Options configures a Service. Zero values are valid.
type Options struct {
	// Allotment is the balance provisioned for a user on first observation.
	Allotment models.Balance
	// AllotmentSource, when set, replaces Allotment and is read on every provisioning.
	AllotmentSource func(ctx context.Context) models.Balance
	Cache           BalanceCache
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

type Service struct {
	store     storage.LedgerStore
	cache     BalanceCache
	allotment func(ctx context.Context) models.Balance
	locks     *userLocks
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a ledger Service over store.
func New(store storage.LedgerStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AllotmentSource == nil {
		static := opts.Allotment
		opts.AllotmentSource = func(context.Context) models.Balance { return static }
	}
	return &Service{
		store:     store,
		cache:     opts.Cache,
		allotment: opts.AllotmentSource,
		locks:     newUserLocks(),
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// GetBalance returns the user's balance, provisioning the free allotment the
// first time the user is seen.
func (s *Service) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("balance cache read failed", "user_id", userID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	b, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, b); err != nil {
			s.logger.Warn("balance cache write failed", "user_id", userID, "error", err)
		}
	}
	return b, nil
}

// load reads the authoritative balance from the store, bypassing the cache.
func (s *Service) load(ctx context.Context, userID string) (*models.Balance, error) {
	b, err := s.store.GetBalance(ctx, userID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	now := s.now().UTC()
	fresh := s.allotment(ctx)
	fresh.UserID = userID
	fresh.Version = 1
	fresh.CreatedAt = now
	fresh.UpdatedAt = now

	err = s.store.CreateBalance(ctx, &fresh)
	switch {
	case err == nil:
		s.logger.Info("provisioned balance", "user_id", userID, "total", fresh.Total())
		return &fresh, nil
	case errors.Is(err, storage.ErrAlreadyExists):
		// Another writer provisioned first.
		b, err = s.store.GetBalance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance after provisioning race: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("failed to provision balance: %w", err)
	}
}

// Debit removes amount from one category. It fails with
// storage.ErrInsufficientFunds, writing nothing, if the counter would go
// negative.
func (s *Service) Debit(ctx context.Context, userID string, category models.Category, amount int64, ref Reference) (*models.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	b, err := s.adjust(ctx, userID, category, -amount, ref)
	s.metrics.LedgerMutation("debit", err)
	return b, err
}

// Credit adds amount to one category.
func (s *Service) Credit(ctx context.Context, userID string, category models.Category, amount int64, ref Reference) (*models.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	b, err := s.adjust(ctx, userID, category, amount, ref)
	s.metrics.LedgerMutation("credit", err)
	return b, err
}

func (s *Service) adjust(ctx context.Context, userID string, category models.Category, delta int64, ref Reference) (*models.Balance, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	b, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	next := *b
	next.Set(category, b.Get(category)+delta)
	if next.Get(category) < 0 {
		return nil, storage.ErrInsufficientFunds
	}

	uow := &storage.UnitOfWork{
		Balances: []storage.BalanceChange{{Balance: next}},
		Entries:  []models.LedgerEntry{s.entry(userID, delta, category, ref)},
	}
	if err := s.commit(ctx, uow, userID); err != nil {
		return nil, err
	}
	return committed(next, s.now()), nil
}

// RecordTransaction appends one ledger row without touching any balance.
// Missing ids and timestamps are filled in.
func (s *Service) RecordTransaction(ctx context.Context, entry models.LedgerEntry) (*models.LedgerEntry, error) {
	if entry.UserID == "" {
		return nil, fmt.Errorf("ledger entry requires a user id")
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if entry.Direction == "" {
		entry.Direction = direction(entry.Amount)
	}
	err := s.store.Apply(ctx, &storage.UnitOfWork{Entries: []models.LedgerEntry{entry}})
	s.metrics.LedgerMutation("record", err)
	if err != nil {
		return nil, fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return &entry, nil
}

// ListEntries returns the user's most recent ledger rows, newest first.
func (s *Service) ListEntries(ctx context.Context, userID string, limit int32) ([]models.LedgerEntry, error) {
	entries, err := s.store.ListLedgerEntries(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// commit applies uow and drops the cached balances of the touched users.
func (s *Service) commit(ctx context.Context, uow *storage.UnitOfWork, userIDs ...string) error {
	err := s.store.Apply(ctx, uow)
	if s.cache != nil {
		// Invalidate even on failure: a conflict means the cached value is stale.
		if cerr := s.cache.Invalidate(ctx, userIDs...); cerr != nil {
			s.logger.Warn("balance cache invalidation failed", "user_ids", userIDs, "error", cerr)
		}
	}
	if err != nil {
		if errors.Is(err, storage.ErrConcurrencyConflict) {
			s.logger.Warn("balance changed concurrently", "user_ids", userIDs)
		}
		return fmt.Errorf("failed to apply ledger changes: %w", err)
	}
	return nil
}

func (s *Service) entry(userID string, amount int64, category models.Category, ref Reference) models.LedgerEntry {
	return models.LedgerEntry{
		EntryID:       uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		Direction:     direction(amount),
		Category:      category,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Description:   ref.Description,
		CreatedAt:     s.now().UTC(),
	}
}

func direction(amount int64) models.Direction {
	if amount < 0 {
		return models.DirectionSpend
	}
	return models.DirectionEarn
}

// committed returns the balance as the store now holds it.
func committed(b models.Balance, now time.Time) *models.Balance {
	b.Version++
	b.UpdatedAt = now.UTC()
	return &b
}

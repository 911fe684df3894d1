// Package memory is a mutex-guarded, in-process implementation of the storage
// interfaces. It honours the same unit-of-work and optimistic-lock semantics as
// the DynamoDB and Postgres stores and backs tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
)

type purchaseKey struct {
	buyerID string
	itemID  string
}

type Store struct {
	mu sync.RWMutex

	balances     map[string]models.Balance
	entries      []models.LedgerEntry
	entryIDs     map[string]bool
	purchases    map[purchaseKey]models.PurchaseRecord
	acquisitions map[string]int64
	intents      map[string]models.PaymentIntent
	certificates map[string]map[models.Level]models.Certificate
	attempts     map[string][]models.QuizAttempt

	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		balances:     make(map[string]models.Balance),
		entryIDs:     make(map[string]bool),
		purchases:    make(map[purchaseKey]models.PurchaseRecord),
		acquisitions: make(map[string]int64),
		intents:      make(map[string]models.PaymentIntent),
		certificates: make(map[string]map[models.Level]models.Certificate),
		attempts:     make(map[string][]models.QuizAttempt),
		now:          time.Now,
	}
}

// Make sure we conform to the interfaces
var (
	_ storage.Storage            = (*Store)(nil)
	_ storage.CertificationStore = (*Store)(nil)
)

func (s *Store) GetBalance(_ context.Context, userID string) (*models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &b, nil
}

func (s *Store) CreateBalance(_ context.Context, balance *models.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[balance.UserID]; ok {
		return storage.ErrAlreadyExists
	}
	b := *balance
	if b.Version == 0 {
		b.Version = 1
	}
	s.balances[b.UserID] = b
	return nil
}

func (s *Store) ListLedgerEntries(_ context.Context, userID string, limit int32) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID != userID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

// Apply validates every precondition before writing anything.
func (s *Store) Apply(_ context.Context, uow *storage.UnitOfWork) error {
	if err := uow.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Check optimistic locks.
	for _, c := range uow.Balances {
		current, ok := s.balances[c.Balance.UserID]
		if !ok || current.Version != c.Balance.Version {
			return storage.ErrConcurrencyConflict
		}
	}

	// 2. Check uniqueness constraints.
	for _, e := range uow.Entries {
		if s.entryIDs[e.EntryID] {
			return storage.ErrAlreadyExists
		}
	}
	if p := uow.Purchase; p != nil {
		if _, ok := s.purchases[purchaseKey{p.BuyerID, p.ItemID}]; ok {
			return storage.ErrAlreadyOwned
		}
	}
	if in := uow.Intent; in != nil {
		intent, ok := s.intents[in.IntentID]
		if !ok {
			return storage.ErrNotFound
		}
		if intent.Settled || intent.Status == models.PaymentRefunding {
			return storage.ErrIntentAlreadySettled
		}
	}

	// 3. Write.
	now := s.now()
	for _, c := range uow.Balances {
		b := c.Balance
		b.Version++
		b.UpdatedAt = now
		s.balances[b.UserID] = b
	}
	for _, e := range uow.Entries {
		s.entries = append(s.entries, e)
		s.entryIDs[e.EntryID] = true
	}
	if p := uow.Purchase; p != nil {
		s.purchases[purchaseKey{p.BuyerID, p.ItemID}] = *p
	}
	if uow.AcquiredItemID != "" {
		s.acquisitions[uow.AcquiredItemID]++
	}
	if in := uow.Intent; in != nil {
		intent := s.intents[in.IntentID]
		intent.Settled = true
		intent.Status = in.Status
		intent.UpdatedAt = now
		s.intents[in.IntentID] = intent
	}
	return nil
}

func (s *Store) GetPurchase(_ context.Context, buyerID, itemID string) (*models.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[purchaseKey{buyerID, itemID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetAcquisitions(_ context.Context, itemID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acquisitions[itemID], nil
}

// PurchaseCount returns the number of stored purchase records.
func (s *Store) PurchaseCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.purchases)
}

func (s *Store) CreateIntent(_ context.Context, intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[intent.ID]; ok {
		return storage.ErrAlreadyExists
	}
	s.intents[intent.ID] = *intent
	return nil
}

func (s *Store) GetIntent(_ context.Context, intentID string) (*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.intents[intentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &intent, nil
}

func (s *Store) UpdateIntentStatus(_ context.Context, intentID string, status models.PaymentStatus, captureID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[intentID]
	if !ok {
		return storage.ErrNotFound
	}
	if intent.Settled || (intent.Status == models.PaymentRefunding && status != models.PaymentRefunded) {
		return storage.ErrIntentAlreadySettled
	}
	intent.Status = status
	if captureID != "" {
		intent.CaptureID = captureID
	}
	intent.UpdatedAt = s.now()
	s.intents[intentID] = intent
	return nil
}

func (s *Store) ReserveRefund(_ context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[intentID]
	if !ok {
		return storage.ErrNotFound
	}
	if intent.Settled || intent.Status.Terminal() {
		return storage.ErrIntentAlreadySettled
	}
	intent.Status = models.PaymentRefunding
	intent.UpdatedAt = s.now()
	s.intents[intentID] = intent
	return nil
}

func (s *Store) ListUnsettledIntents(_ context.Context, createdBefore time.Time) ([]models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PaymentIntent
	for _, intent := range s.intents {
		if intent.NeedsReconciliation() && intent.CreatedAt.Before(createdBefore) {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListCertificates(_ context.Context, userID string) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Certificate
	for _, c := range s.certificates[userID] {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) ListAttempts(_ context.Context, userID string, level models.Level) ([]models.QuizAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.QuizAttempt
	for _, a := range s.attempts[userID] {
		if a.Level == level {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) RecordAttempt(_ context.Context, attempt *models.QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.UserID] = append(s.attempts[attempt.UserID], *attempt)
	return nil
}

func (s *Store) UpsertCertificate(_ context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	certs, ok := s.certificates[cert.UserID]
	if !ok {
		certs = make(map[models.Level]models.Certificate)
		s.certificates[cert.UserID] = certs
	}
	certs[cert.Level] = *cert
	return nil
}

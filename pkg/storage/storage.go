package storage

import (
	"context"
	"time"

	"github.com/chris/coin-settlement/pkg/models"
)

// PurchaseReader defines the interface for checking ownership.
type PurchaseReader interface {
	// GetPurchase returns the purchase record for (buyerID, itemID) or ErrNotFound.
	GetPurchase(ctx context.Context, buyerID, itemID string) (*models.PurchaseRecord, error)

	// GetAcquisitions returns how many times an item has been acquired.
	GetAcquisitions(ctx context.Context, itemID string) (int64, error)
}

// IntentStore persists the local mirror of provider payment intents.
type IntentStore interface {
	// CreateIntent stores a newly created intent. It returns ErrAlreadyExists on a duplicate id.
	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error

	// GetIntent returns an intent by local id or ErrNotFound.
	GetIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error)

	// UpdateIntentStatus records a provider status transition for an unsettled intent.
	// An intent reserved for a refund only accepts PaymentRefunded.
	UpdateIntentStatus(ctx context.Context, intentID string, status models.PaymentStatus, captureID string) error

	// ReserveRefund moves an unsettled, open intent to PaymentRefunding so no
	// settlement can commit it while the refund is in flight. Reserving an
	// intent twice succeeds. It returns ErrIntentAlreadySettled otherwise.
	ReserveRefund(ctx context.Context, intentID string) error

	// ListUnsettledIntents returns unsettled, non-terminal intents created before the cutoff.
	ListUnsettledIntents(ctx context.Context, createdBefore time.Time) ([]models.PaymentIntent, error)
}

// CertificationReader exposes the certificate and quiz attempt collaborator data.
type CertificationReader interface {
	ListCertificates(ctx context.Context, userID string) ([]models.Certificate, error)
	// ListAttempts returns the user's attempts at a level, in any order.
	ListAttempts(ctx context.Context, userID string, level models.Level) ([]models.QuizAttempt, error)
}

// CertificationWriter records attempts and issued certificates.
type CertificationWriter interface {
	RecordAttempt(ctx context.Context, attempt *models.QuizAttempt) error
	// UpsertCertificate stores a certificate, replacing any previous one at the same level.
	UpsertCertificate(ctx context.Context, cert *models.Certificate) error
}

// CertificationStore combines the reader and writer interfaces.
type CertificationStore interface {
	CertificationReader
	CertificationWriter
}

// Storage defines the root interface for the entire data layer.
// Components should depend on the more granular interfaces instead of this one.
type Storage interface {
	LedgerStore
	PurchaseReader
	IntentStore
}

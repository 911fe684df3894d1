package models

import "time"

// PaymentStatus mirrors the lifecycle of a provider-owned payment intent.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "created"
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	// PaymentRefunding marks an intent reserved for a refund. It can no
	// longer settle and only moves on to refunded.
	PaymentRefunding PaymentStatus = "refunding"
)

// Terminal reports whether no further provider transition is expected.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentRefunded
}

// IntentPurpose says what a confirmed intent pays for.
type IntentPurpose string

const (
	PurposePurchase IntentPurpose = "purchase"
	PurposeTopUp    IntentPurpose = "topup"
)

// PaymentIntent is the local record of an intent created at an external
// processor. Settled flips to true in the same unit of work that moves coins.
type PaymentIntent struct {
	ID           string        `json:"id" dynamodbav:"id"`
	Processor    string        `json:"processor" dynamodbav:"processor"`
	ExternalID   string        `json:"external_id" dynamodbav:"external_id"`
	Purpose      IntentPurpose `json:"purpose" dynamodbav:"purpose"`
	BuyerID      string        `json:"buyer_id" dynamodbav:"buyer_id"`
	SellerID     string        `json:"seller_id,omitempty" dynamodbav:"seller_id,omitempty"`
	ItemID       string        `json:"item_id,omitempty" dynamodbav:"item_id,omitempty"`
	Category     Category      `json:"category,omitempty" dynamodbav:"category,omitempty"`
	AmountMinor  int64         `json:"amount_minor" dynamodbav:"amount_minor"`
	Currency     string        `json:"currency" dynamodbav:"currency"`
	Status       PaymentStatus `json:"status" dynamodbav:"status"`
	ClientSecret string        `json:"client_secret,omitempty" dynamodbav:"-"`
	RedirectURL  string        `json:"redirect_url,omitempty" dynamodbav:"redirect_url,omitempty"`
	CaptureID    string        `json:"capture_id,omitempty" dynamodbav:"capture_id,omitempty"`
	Settled      bool          `json:"settled" dynamodbav:"settled"`
	CreatedAt    time.Time     `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" dynamodbav:"updated_at"`
}

// NeedsReconciliation reports whether the sweep should look at the intent.
func (p *PaymentIntent) NeedsReconciliation() bool {
	if p.Settled {
		return false
	}
	return !p.Status.Terminal()
}

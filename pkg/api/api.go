// Package api holds the HTTP wire types and the route table of the coin
// settlement service.
package api

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Balance is a user's coin balance per category.
type Balance struct {
	UserId      string `json:"user_id"`
	Analysis    int64  `json:"analysis"`
	Enhancement int64  `json:"enhancement"`
	Exam        int64  `json:"exam"`
	Export      int64  `json:"export"`
	Total       int64  `json:"total"`
	Version     int64  `json:"version"`
}

type LedgerEntry struct {
	EntryId       *string   `json:"entry_id,omitempty"`
	UserId        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	Type          string    `json:"type"`
	Category      string    `json:"category"`
	ReferenceType string    `json:"reference_type,omitempty"`
	ReferenceId   string    `json:"reference_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListLedgerEntriesParams are the query parameters of the ledger listing.
type ListLedgerEntriesParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}

// NewPurchase is the purchase request body. PriceUsd is a decimal string,
// "0" for free items. PaymentIntentId selects the real-money path.
type NewPurchase struct {
	BuyerId         string              `json:"buyer_id"`
	SellerId        string              `json:"seller_id"`
	ItemId          string              `json:"item_id"`
	PriceUsd        string              `json:"price_usd"`
	PaymentIntentId *openapi_types.UUID `json:"payment_intent_id,omitempty"`
	PaymentMethodId *string             `json:"payment_method_id,omitempty"`
}

// DrainStep is how much one category contributed to a purchase.
type DrainStep struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

type Purchase struct {
	TransactionId         string      `json:"transaction_id"`
	BuyerId               string      `json:"buyer_id"`
	SellerId              string      `json:"seller_id"`
	ItemId                string      `json:"item_id"`
	PriceUsd              string      `json:"price_usd"`
	PriceCoins            int64       `json:"price_coins"`
	PaymentMethod         string      `json:"payment_method"`
	ExternalTransactionId *string     `json:"external_transaction_id,omitempty"`
	AlreadyOwned          bool        `json:"already_owned"`
	Drain                 []DrainStep `json:"drain,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
}

// CheckoutPurpose says what a checkout pays for.
type CheckoutPurpose string

const (
	CheckoutPurposePurchase CheckoutPurpose = "purchase"
	CheckoutPurposeTopup    CheckoutPurpose = "topup"
)

// NewCheckout opens a payment. Purchases name the seller and item, top-ups
// name the category to credit.
type NewCheckout struct {
	Purpose     CheckoutPurpose `json:"purpose"`
	BuyerId     string          `json:"buyer_id"`
	SellerId    *string         `json:"seller_id,omitempty"`
	ItemId      *string         `json:"item_id,omitempty"`
	Category    *string         `json:"category,omitempty"`
	PriceUsd    string          `json:"price_usd"`
	Description *string         `json:"description,omitempty"`
}

// PaymentIntent is the local view of a processor payment. ClientSecret and
// RedirectUrl are only set on the response that created it.
type PaymentIntent struct {
	Id           openapi_types.UUID `json:"id"`
	Processor    string             `json:"processor"`
	Purpose      CheckoutPurpose    `json:"purpose"`
	Status       string             `json:"status"`
	AmountMinor  int64              `json:"amount_minor"`
	Currency     string             `json:"currency"`
	ClientSecret *string            `json:"client_secret,omitempty"`
	RedirectUrl  *string            `json:"redirect_url,omitempty"`
	Settled      bool               `json:"settled"`
	CreatedAt    time.Time          `json:"created_at"`
}

type NewTopUp struct {
	UserId          string  `json:"user_id"`
	PaymentMethodId *string `json:"payment_method_id,omitempty"`
}

// ExamEligibility tells a user whether and when they may retry an exam.
type ExamEligibility struct {
	Level               string     `json:"level"`
	State               string     `json:"state"`
	RecommendedLevel    string     `json:"recommended_level"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	RetryAt             *time.Time `json:"retry_at,omitempty"`
}

// ExamTicket is returned once the attempt cost has been debited.
type ExamTicket struct {
	AttemptId string  `json:"attempt_id"`
	Level     string  `json:"level"`
	Cost      int64   `json:"cost"`
	Balance   Balance `json:"balance"`
}

type NewExamResult struct {
	AttemptId *string `json:"attempt_id,omitempty"`
	Passed    bool    `json:"passed"`
}

type Certificate struct {
	UserId    string    `json:"user_id"`
	Slug      string    `json:"slug"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExamResult carries the certificate issued by a passing attempt.
type ExamResult struct {
	AttemptId   string       `json:"attempt_id"`
	Passed      bool         `json:"passed"`
	Certificate *Certificate `json:"certificate,omitempty"`
}

// NewAction spends coins from one category. ActionId makes the spend idempotent.
type NewAction struct {
	Category string  `json:"category"`
	Cost     int64   `json:"cost"`
	ActionId *string `json:"action_id,omitempty"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReconcileMessage is the body of a reconciliation queue message.
type ReconcileMessage struct {
	IntentId   string    `json:"intent_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

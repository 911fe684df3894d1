package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is an independent sub-balance gating one metered feature.
type Category string

const (
	CategoryAnalysis    Category = "analysis"
	CategoryEnhancement Category = "enhancement"
	CategoryExam        Category = "exam"
	CategoryExport      Category = "export"

	// CategoryPooled marks a ledger row produced by a multi-category drain.
	// It is never a balance counter.
	CategoryPooled Category = "pooled"
)

// Categories lists the balance counters in storage order.
var Categories = []Category{CategoryAnalysis, CategoryEnhancement, CategoryExam, CategoryExport}

// DrainOrder is the fixed priority used when a category-agnostic price is paid.
var DrainOrder = []Category{CategoryAnalysis, CategoryEnhancement, CategoryExam}

// Valid reports whether c names a balance counter.
func (c Category) Valid() bool {
	switch c {
	case CategoryAnalysis, CategoryEnhancement, CategoryExam, CategoryExport:
		return true
	}
	return false
}

// Balance holds a user's coins per category.
// Version is the optimistic-lock counter; stores bump it on every write.
type Balance struct {
	UserID      string    `json:"user_id" dynamodbav:"user_id"`
	Analysis    int64     `json:"analysis" dynamodbav:"analysis"`
	Enhancement int64     `json:"enhancement" dynamodbav:"enhancement"`
	Exam        int64     `json:"exam" dynamodbav:"exam"`
	Export      int64     `json:"export" dynamodbav:"export"`
	Version     int64     `json:"version" dynamodbav:"version"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Get returns the counter for category c. Unknown categories read as zero.
func (b *Balance) Get(c Category) int64 {
	switch c {
	case CategoryAnalysis:
		return b.Analysis
	case CategoryEnhancement:
		return b.Enhancement
	case CategoryExam:
		return b.Exam
	case CategoryExport:
		return b.Export
	}
	return 0
}

// Set overwrites the counter for category c.
func (b *Balance) Set(c Category, v int64) {
	switch c {
	case CategoryAnalysis:
		b.Analysis = v
	case CategoryEnhancement:
		b.Enhancement = v
	case CategoryExam:
		b.Exam = v
	case CategoryExport:
		b.Export = v
	}
}

// Total sums every category.
func (b *Balance) Total() int64 {
	return b.Analysis + b.Enhancement + b.Exam + b.Export
}

// Drainable sums the categories a pooled purchase may draw from.
func (b *Balance) Drainable() int64 {
	var sum int64
	for _, c := range DrainOrder {
		sum += b.Get(c)
	}
	return sum
}

// NonNegative reports whether every counter is >= 0.
func (b *Balance) NonNegative() bool {
	return b.Analysis >= 0 && b.Enhancement >= 0 && b.Exam >= 0 && b.Export >= 0
}

// Direction is the accounting side of a ledger entry.
type Direction string

const (
	DirectionEarn  Direction = "earn"
	DirectionSpend Direction = "spend"
)

// Reference types used on ledger entries.
const (
	ReferencePurchase    = "purchase"
	ReferenceSale        = "sale"
	ReferencePayment     = "payment"
	ReferenceExamAttempt = "exam_attempt"
	ReferenceAction      = "metered_action"
	ReferenceAdjustment  = "adjustment"
)

// LedgerEntry is a single immutable row in the append-only coin log.
// Amount is signed: negative for spends, positive for earns.
type LedgerEntry struct {
	EntryID       string    `json:"entry_id" dynamodbav:"entry_id"`
	UserID        string    `json:"user_id" dynamodbav:"user_id"`
	Amount        int64     `json:"amount" dynamodbav:"amount"`
	Direction     Direction `json:"type" dynamodbav:"type"`
	Category      Category  `json:"category" dynamodbav:"category"`
	ReferenceType string    `json:"reference_type" dynamodbav:"reference_type"`
	ReferenceID   string    `json:"reference_id" dynamodbav:"reference_id"`
	Description   string    `json:"description" dynamodbav:"description"`
	CreatedAt     time.Time `json:"created_at" dynamodbav:"created_at"`
}

// Payment methods recorded on a PurchaseRecord. Real-money purchases record
// the processor identifier instead.
const (
	PaymentMethodFree  = "free"
	PaymentMethodCoins = "coins"
)

// PurchaseRecord exists iff a completed transfer (or free grant) occurred.
type PurchaseRecord struct {
	TransactionID         string          `json:"transaction_id" dynamodbav:"transaction_id"`
	BuyerID               string          `json:"buyer_id" dynamodbav:"buyer_id"`
	SellerID              string          `json:"seller_id" dynamodbav:"seller_id"`
	ItemID                string          `json:"item_id" dynamodbav:"item_id"`
	PriceUSD              decimal.Decimal `json:"price_usd" dynamodbav:"-"`
	PriceCoins            int64           `json:"price_coins" dynamodbav:"price_coins"`
	PaymentMethod         string          `json:"payment_method" dynamodbav:"payment_method"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty" dynamodbav:"external_transaction_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at" dynamodbav:"created_at"`
}

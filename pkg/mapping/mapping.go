package mapping

import (
	"fmt"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/coins"
	"github.com/chris/coin-settlement/pkg/entitlement"
	"github.com/chris/coin-settlement/pkg/ledger"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/settlement"
	"github.com/google/uuid"
)

// ToApiBalance converts a domain Balance to an API Balance.
func ToApiBalance(b *models.Balance) *api.Balance {
	return &api.Balance{
		UserId:      b.UserID,
		Analysis:    b.Analysis,
		Enhancement: b.Enhancement,
		Exam:        b.Exam,
		Export:      b.Export,
		Total:       b.Total(),
		Version:     b.Version,
	}
}

// ToApiLedgerEntry converts a domain LedgerEntry to an API LedgerEntry.
func ToApiLedgerEntry(entry *models.LedgerEntry) *api.LedgerEntry {
	id := entry.EntryID
	return &api.LedgerEntry{
		EntryId:       &id,
		UserId:        entry.UserID,
		Amount:        entry.Amount,
		Type:          string(entry.Direction),
		Category:      string(entry.Category),
		ReferenceType: entry.ReferenceType,
		ReferenceId:   entry.ReferenceID,
		Description:   entry.Description,
		CreatedAt:     entry.CreatedAt,
	}
}

// ToDomainPurchaseRequest converts an API NewPurchase to a settlement request.
// The price must be a plain decimal USD amount.
func ToDomainPurchaseRequest(p *api.NewPurchase) (settlement.PurchaseRequest, error) {
	price, err := coins.ParseUSD(p.PriceUsd)
	if err != nil {
		return settlement.PurchaseRequest{}, fmt.Errorf("%w: %v", settlement.ErrInvalidPrice, err)
	}
	req := settlement.PurchaseRequest{
		BuyerID:  p.BuyerId,
		SellerID: p.SellerId,
		ItemID:   p.ItemId,
		PriceUSD: price,
	}
	if p.PaymentIntentId != nil {
		req.PaymentIntentID = p.PaymentIntentId.String()
	}
	if p.PaymentMethodId != nil {
		req.PaymentMethodID = *p.PaymentMethodId
	}
	return req, nil
}

// ToApiPurchase converts a settlement result to an API Purchase.
func ToApiPurchase(res *settlement.PurchaseResult) *api.Purchase {
	p := res.Purchase
	out := &api.Purchase{
		TransactionId: p.TransactionID,
		BuyerId:       p.BuyerID,
		SellerId:      p.SellerID,
		ItemId:        p.ItemID,
		PriceUsd:      p.PriceUSD.StringFixed(2),
		PriceCoins:    p.PriceCoins,
		PaymentMethod: p.PaymentMethod,
		AlreadyOwned:  res.AlreadyOwned,
		Drain:         ToApiDrain(res.Drain),
		CreatedAt:     p.CreatedAt,
	}
	if p.ExternalTransactionID != "" {
		ext := p.ExternalTransactionID
		out.ExternalTransactionId = &ext
	}
	return out
}

func ToApiDrain(plan ledger.DrainPlan) []api.DrainStep {
	if len(plan) == 0 {
		return nil
	}
	steps := make([]api.DrainStep, len(plan))
	for i, s := range plan {
		steps[i] = api.DrainStep{Category: string(s.Category), Amount: s.Amount}
	}
	return steps
}

// ToDomainCheckoutRequest converts an API NewCheckout to a settlement request.
func ToDomainCheckoutRequest(c *api.NewCheckout) (settlement.CheckoutRequest, error) {
	price, err := coins.ParseUSD(c.PriceUsd)
	if err != nil {
		return settlement.CheckoutRequest{}, fmt.Errorf("%w: %v", settlement.ErrInvalidPrice, err)
	}
	req := settlement.CheckoutRequest{
		Purpose:  models.IntentPurpose(c.Purpose),
		BuyerID:  c.BuyerId,
		PriceUSD: price,
	}
	if c.SellerId != nil {
		req.SellerID = *c.SellerId
	}
	if c.ItemId != nil {
		req.ItemID = *c.ItemId
	}
	if c.Category != nil {
		req.Category = models.Category(*c.Category)
	}
	if c.Description != nil {
		req.Description = *c.Description
	}
	return req, nil
}

// ToApiPaymentIntent converts a domain PaymentIntent to an API PaymentIntent.
// The client secret is only present on a freshly created intent.
func ToApiPaymentIntent(in *models.PaymentIntent) (*api.PaymentIntent, error) {
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid payment intent id %q: %w", in.ID, err)
	}
	out := &api.PaymentIntent{
		Id:          id,
		Processor:   in.Processor,
		Purpose:     api.CheckoutPurpose(in.Purpose),
		Status:      string(in.Status),
		AmountMinor: in.AmountMinor,
		Currency:    in.Currency,
		Settled:     in.Settled,
		CreatedAt:   in.CreatedAt,
	}
	if in.ClientSecret != "" {
		secret := in.ClientSecret
		out.ClientSecret = &secret
	}
	if in.RedirectURL != "" {
		redirect := in.RedirectURL
		out.RedirectUrl = &redirect
	}
	return out, nil
}

// ToApiExamEligibility converts a retry assessment to an API ExamEligibility.
func ToApiExamEligibility(level models.Level, a *entitlement.RetryAssessment) *api.ExamEligibility {
	out := &api.ExamEligibility{
		Level:               string(level),
		State:               string(a.State),
		RecommendedLevel:    string(a.RecommendedLevel),
		ConsecutiveFailures: a.ConsecutiveFailures,
	}
	if !a.RetryAt.IsZero() {
		retryAt := a.RetryAt
		out.RetryAt = &retryAt
	}
	return out
}

// ToApiExamTicket converts a paid exam attempt to an API ExamTicket.
func ToApiExamTicket(t *entitlement.ExamTicket) *api.ExamTicket {
	out := &api.ExamTicket{
		AttemptId: t.AttemptID,
		Level:     string(t.Level),
		Cost:      t.Cost,
	}
	if t.Balance != nil {
		out.Balance = *ToApiBalance(t.Balance)
	}
	return out
}

// ToApiCertificate converts a domain Certificate to an API Certificate.
func ToApiCertificate(c *models.Certificate) *api.Certificate {
	return &api.Certificate{
		UserId:    c.UserID,
		Slug:      string(c.Level),
		IssuedAt:  c.IssuedAt,
		ExpiresAt: c.ExpiresAt,
	}
}

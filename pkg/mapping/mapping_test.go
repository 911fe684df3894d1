package mapping

import (
	"testing"
	"time"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/entitlement"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/settlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainPurchaseRequest(t *testing.T) {
	t.Run("Coins", func(t *testing.T) {
		req, err := ToDomainPurchaseRequest(&api.NewPurchase{BuyerId: "b", SellerId: "s", ItemId: "i", PriceUsd: "2.345"})
		require.NoError(t, err)
		assert.True(t, req.PriceUSD.Equal(decimal.RequireFromString("2.345")))
		assert.Empty(t, req.PaymentIntentID)
	})

	t.Run("With Payment", func(t *testing.T) {
		intentID := uuid.New()
		method := "pm-1"
		req, err := ToDomainPurchaseRequest(&api.NewPurchase{BuyerId: "b", ItemId: "i", PriceUsd: "1", PaymentIntentId: &intentID, PaymentMethodId: &method})
		require.NoError(t, err)
		assert.Equal(t, intentID.String(), req.PaymentIntentID)
		assert.Equal(t, "pm-1", req.PaymentMethodID)
	})

	t.Run("Invalid Price", func(t *testing.T) {
		for _, price := range []string{"", "abc", "-0.01"} {
			_, err := ToDomainPurchaseRequest(&api.NewPurchase{PriceUsd: price})
			assert.ErrorIs(t, err, settlement.ErrInvalidPrice, price)
		}
	})
}

func TestToApiPaymentIntent(t *testing.T) {
	id := uuid.New()

	out, err := ToApiPaymentIntent(&models.PaymentIntent{ID: id.String(), Purpose: models.PurposePurchase, Status: models.PaymentPending})
	require.NoError(t, err)
	assert.Equal(t, id, out.Id)
	assert.Equal(t, api.CheckoutPurposePurchase, out.Purpose)
	assert.Nil(t, out.ClientSecret)
	assert.Nil(t, out.RedirectUrl)

	_, err = ToApiPaymentIntent(&models.PaymentIntent{ID: "not-a-uuid"})
	assert.Error(t, err)
}

func TestToApiExamEligibility(t *testing.T) {
	retryAt := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	out := ToApiExamEligibility(models.LevelMaster, &entitlement.RetryAssessment{
		State:               entitlement.StateCoolingDown,
		RecommendedLevel:    models.LevelMaster,
		ConsecutiveFailures: 3,
		RetryAt:             retryAt,
	})

	assert.Equal(t, "master", out.Level)
	require.NotNil(t, out.RetryAt)
	assert.Equal(t, retryAt, *out.RetryAt)
}

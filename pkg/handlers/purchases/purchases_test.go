package purchases_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/handlers/mocks"
	"github.com/chris/coin-settlement/pkg/handlers/purchases"
	"github.com/chris/coin-settlement/pkg/ledger"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/settlement"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingScheduler struct {
	ids []string
}

func (s *recordingScheduler) ScheduleReconciliation(_ context.Context, intentID string) error {
	s.ids = append(s.ids, intentID)
	return nil
}

func post(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
}

func TestCreatePurchase(t *testing.T) {
	newPurchase := api.NewPurchase{BuyerId: "buyer", SellerId: "seller", ItemId: "item-1", PriceUsd: "1.00"}
	result := &settlement.PurchaseResult{
		Purchase: models.PurchaseRecord{
			TransactionID: uuid.NewString(),
			BuyerID:       "buyer",
			SellerID:      "seller",
			ItemID:        "item-1",
			PriceUSD:      decimal.RequireFromString("1"),
			PriceCoins:    100,
			PaymentMethod: models.PaymentMethodCoins,
			CreatedAt:     time.Now(),
		},
		Drain: ledger.DrainPlan{{Category: models.CategoryAnalysis, Amount: 30}, {Category: models.CategoryEnhancement, Amount: 70}},
	}

	t.Run("Success", func(t *testing.T) {
		// Arrange
		mockCoordinator := new(mocks.Coordinator)
		mockCoordinator.On("Purchase", mock.Anything, mock.MatchedBy(func(req settlement.PurchaseRequest) bool {
			return req.BuyerID == "buyer" && req.PriceUSD.Equal(decimal.NewFromInt(1)) && req.PaymentIntentID == ""
		})).Return(result, nil)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		// Act
		h.CreatePurchase(rr, post(t, "/purchases", newPurchase))

		// Assert
		assert.Equal(t, http.StatusCreated, rr.Code)

		var returned api.Purchase
		json.Unmarshal(rr.Body.Bytes(), &returned)
		assert.Equal(t, "1.00", returned.PriceUsd)
		assert.Equal(t, int64(100), returned.PriceCoins)
		assert.Len(t, returned.Drain, 2)
		mockCoordinator.AssertExpectations(t)
	})

	t.Run("Already Owned Free Item", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		owned := *result
		owned.AlreadyOwned = true
		owned.Drain = nil
		mockCoordinator.On("Purchase", mock.Anything, mock.Anything).Return(&owned, nil)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		h.CreatePurchase(rr, post(t, "/purchases", api.NewPurchase{BuyerId: "buyer", ItemId: "item-1", PriceUsd: "0"}))

		assert.Equal(t, http.StatusOK, rr.Code)
		mockCoordinator.AssertExpectations(t)
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		mockCoordinator.On("Purchase", mock.Anything, mock.Anything).Return(nil, storage.ErrInsufficientFunds)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		h.CreatePurchase(rr, post(t, "/purchases", newPurchase))

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, rr.Body.String(), "insufficient_funds")
		mockCoordinator.AssertExpectations(t)
	})

	t.Run("Already Owned", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		mockCoordinator.On("Purchase", mock.Anything, mock.Anything).Return(nil, storage.ErrAlreadyOwned)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		h.CreatePurchase(rr, post(t, "/purchases", newPurchase))

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Settlement Pending Is Scheduled", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		mockCoordinator.On("Purchase", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: %w", settlement.ErrSettlementPending, storage.ErrConcurrencyConflict))
		sched := &recordingScheduler{}

		h := purchases.NewPurchasesHandler(mockCoordinator, sched)
		rr := httptest.NewRecorder()

		intentID := uuid.New()
		body := newPurchase
		body.PaymentIntentId = &intentID
		h.CreatePurchase(rr, post(t, "/purchases", body))

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, []string{intentID.String()}, sched.ids)
	})

	t.Run("Bad Request - Invalid Price", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		h.CreatePurchase(rr, post(t, "/purchases", api.NewPurchase{BuyerId: "buyer", ItemId: "item-1", PriceUsd: "-1"}))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockCoordinator.AssertNotCalled(t, "Purchase", mock.Anything, mock.Anything)
	})

	t.Run("Bad Request - Invalid JSON", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		h := purchases.NewPurchasesHandler(mockCoordinator, nil)

		req := httptest.NewRequest(http.MethodPost, "/purchases", strings.NewReader("not-json"))
		rr := httptest.NewRecorder()

		h.CreatePurchase(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCreateCheckout(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		mockCoordinator := new(mocks.Coordinator)
		intentID := uuid.NewString()
		mockCoordinator.On("BeginCheckout", mock.Anything, mock.MatchedBy(func(req settlement.CheckoutRequest) bool {
			return req.Purpose == models.PurposeTopUp && req.Category == models.CategoryExam && req.PriceUSD.Equal(decimal.NewFromInt(5))
		})).Return(&models.PaymentIntent{
			ID:           intentID,
			Processor:    "rest",
			Purpose:      models.PurposeTopUp,
			AmountMinor:  500,
			Currency:     "USD",
			Status:       models.PaymentCreated,
			ClientSecret: "secret",
		}, nil)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		category := "exam"
		// Act
		h.CreateCheckout(rr, post(t, "/checkouts", api.NewCheckout{Purpose: api.CheckoutPurposeTopup, BuyerId: "buyer", Category: &category, PriceUsd: "5"}))

		// Assert
		assert.Equal(t, http.StatusCreated, rr.Code)

		var returned api.PaymentIntent
		json.Unmarshal(rr.Body.Bytes(), &returned)
		assert.Equal(t, intentID, returned.Id.String())
		assert.Equal(t, int64(500), returned.AmountMinor)
		require.NotNil(t, returned.ClientSecret)
		assert.Equal(t, "secret", *returned.ClientSecret)
		mockCoordinator.AssertExpectations(t)
	})

	t.Run("Already Owned", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		mockCoordinator.On("BeginCheckout", mock.Anything, mock.Anything).Return(nil, storage.ErrAlreadyOwned)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		seller, item := "seller", "item-1"
		h.CreateCheckout(rr, post(t, "/checkouts", api.NewCheckout{Purpose: api.CheckoutPurposePurchase, BuyerId: "buyer", SellerId: &seller, ItemId: &item, PriceUsd: "2.50"}))

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestCompleteTopUp(t *testing.T) {
	intentID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		mockCoordinator.On("TopUp", mock.Anything, settlement.TopUpRequest{UserID: "buyer", PaymentIntentID: intentID.String(), PaymentMethodID: "pm-1"}).
			Return(&models.Balance{UserID: "buyer", Exam: 500}, nil)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		method := "pm-1"
		h.CompleteTopUp(rr, post(t, "/checkouts/"+intentID.String()+"/top-up", api.NewTopUp{UserId: "buyer", PaymentMethodId: &method}), intentID)

		assert.Equal(t, http.StatusOK, rr.Code)

		var returned api.Balance
		json.Unmarshal(rr.Body.Bytes(), &returned)
		assert.Equal(t, int64(500), returned.Exam)
		mockCoordinator.AssertExpectations(t)
	})

	t.Run("Not Confirmed", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		mockCoordinator.On("TopUp", mock.Anything, mock.Anything).Return(nil, settlement.ErrPaymentNotConfirmed)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		h.CompleteTopUp(rr, post(t, "/checkouts/"+intentID.String()+"/top-up", api.NewTopUp{UserId: "buyer"}), intentID)

		assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	})

	t.Run("Mismatch", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		mockCoordinator.On("TopUp", mock.Anything, mock.Anything).Return(nil, settlement.ErrPaymentMismatch)

		h := purchases.NewPurchasesHandler(mockCoordinator, nil)
		rr := httptest.NewRecorder()

		h.CompleteTopUp(rr, post(t, "/checkouts/"+intentID.String()+"/top-up", api.NewTopUp{UserId: "someone-else"}), intentID)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "payment_mismatch")
	})
}

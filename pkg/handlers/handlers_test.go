package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/handlers/mocks"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newRouter(l *mocks.Ledger, c *mocks.Coordinator, g *mocks.Gate) http.Handler {
	return api.HandlerFromMux(NewApiHandler(l, c, g, nil), chi.NewRouter())
}

func TestRouting(t *testing.T) {
	t.Run("Balance", func(t *testing.T) {
		// Arrange
		mockLedger := new(mocks.Ledger)
		mockLedger.On("GetBalance", mock.Anything, "user-a").Return(&models.Balance{UserID: "user-a"}, nil)
		router := newRouter(mockLedger, new(mocks.Coordinator), new(mocks.Gate))

		req := httptest.NewRequest(http.MethodGet, "/balances/user-a", nil)
		rr := httptest.NewRecorder()

		// Act
		router.ServeHTTP(rr, req)

		// Assert
		assert.Equal(t, http.StatusOK, rr.Code)
		mockLedger.AssertExpectations(t)
	})

	t.Run("Ledger Limit Query", func(t *testing.T) {
		mockLedger := new(mocks.Ledger)
		mockLedger.On("ListEntries", mock.Anything, "user-a", int32(5)).Return([]models.LedgerEntry{}, nil)
		router := newRouter(mockLedger, new(mocks.Coordinator), new(mocks.Gate))

		req := httptest.NewRequest(http.MethodGet, "/balances/user-a/ledger?limit=5", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockLedger.AssertExpectations(t)
	})

	t.Run("Bad Limit Query", func(t *testing.T) {
		router := newRouter(new(mocks.Ledger), new(mocks.Coordinator), new(mocks.Gate))

		req := httptest.NewRequest(http.MethodGet, "/balances/user-a/ledger?limit=abc", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Top Up Intent Id Must Be A UUID", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		router := newRouter(new(mocks.Ledger), mockCoordinator, new(mocks.Gate))

		req := httptest.NewRequest(http.MethodPost, "/checkouts/not-a-uuid/top-up", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockCoordinator.AssertNotCalled(t, "TopUp", mock.Anything, mock.Anything)
	})

	t.Run("Top Up", func(t *testing.T) {
		mockCoordinator := new(mocks.Coordinator)
		intentID := uuid.New()
		mockCoordinator.On("TopUp", mock.Anything, settlement.TopUpRequest{UserID: "user-a", PaymentIntentID: intentID.String()}).
			Return(&models.Balance{UserID: "user-a", Exam: 500}, nil)
		router := newRouter(new(mocks.Ledger), mockCoordinator, new(mocks.Gate))

		req := httptest.NewRequest(http.MethodPost, "/checkouts/"+intentID.String()+"/top-up", strings.NewReader(`{"user_id":"user-a"}`))
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockCoordinator.AssertExpectations(t)
	})

	t.Run("Exam Level Path", func(t *testing.T) {
		mockGate := new(mocks.Gate)
		mockGate.On("StartExamAttempt", mock.Anything, "user-a", models.LevelMaster).Return(nil, assert.AnError)
		router := newRouter(new(mocks.Ledger), new(mocks.Coordinator), mockGate)

		req := httptest.NewRequest(http.MethodPost, "/users/user-a/exams/master/attempts", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		mockGate.AssertExpectations(t)
	})
}

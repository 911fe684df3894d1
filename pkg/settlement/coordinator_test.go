package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chris/coin-settlement/pkg/audit"
	"github.com/chris/coin-settlement/pkg/ledger"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/payments"
	"github.com/chris/coin-settlement/pkg/settlement/mocks"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/chris/coin-settlement/pkg/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	ledger  *ledger.Service
	gateway *mocks.Gateway
	sink    *audit.MemorySink
	coord   *Coordinator
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		store:   memory.New(),
		gateway: mocks.NewGateway(t),
		sink:    &audit.MemorySink{},
		now:     epoch,
	}
	clock := func() time.Time { return f.now }
	f.ledger = ledger.New(f.store, ledger.Options{Now: clock})
	f.gateway.On("Processor").Return("rest").Maybe()
	f.coord = NewCoordinator(f.ledger, f.store, f.gateway, Options{Audit: f.sink, Now: clock})
	return f
}

func (f *fixture) seed(t *testing.T, b models.Balance) {
	t.Helper()
	require.NoError(t, f.store.CreateBalance(context.Background(), &b))
}

func (f *fixture) balance(t *testing.T, userID string) *models.Balance {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPurchaseFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "free-template", PriceUSD: decimal.Zero}

	first, err := f.coord.Purchase(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.AlreadyOwned)
	assert.Equal(t, models.PaymentMethodFree, first.Purchase.PaymentMethod)

	second, err := f.coord.Purchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.AlreadyOwned)
	assert.Equal(t, first.Purchase.TransactionID, second.Purchase.TransactionID)

	assert.Equal(t, 1, f.store.PurchaseCount())
	n, _ := f.store.GetAcquisitions(ctx, "free-template")
	assert.Equal(t, int64(1), n)

	// The free path never touches balances.
	_, err = f.store.GetBalance(ctx, "buyer")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPurchaseWithCoins(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, models.Balance{UserID: "buyer", Analysis: 30, Enhancement: 100})
		f.seed(t, models.Balance{UserID: "seller", Analysis: 10})

		res, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("1.00")})
		require.NoError(t, err)
		assert.Equal(t, int64(100), res.Purchase.PriceCoins)
		assert.True(t, usd("1").Equal(res.Purchase.PriceUSD))
		assert.Equal(t, "analysis:30,enhancement:70", res.Drain.String())

		buyer := f.balance(t, "buyer")
		seller := f.balance(t, "seller")
		assert.Equal(t, int64(0), buyer.Analysis)
		assert.Equal(t, int64(30), buyer.Enhancement)
		assert.Equal(t, int64(110), seller.Analysis)
		assert.Equal(t, int64(130+10), buyer.Total()+seller.Total())
		assert.Empty(t, f.sink.Events())
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, models.Balance{UserID: "buyer", Analysis: 30, Export: 500})

		_, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("1.00")})
		assert.ErrorIs(t, err, storage.ErrInsufficientFunds)

		assert.Equal(t, int64(30), f.balance(t, "buyer").Analysis)
		assert.Equal(t, 0, f.store.PurchaseCount())
		events := f.sink.OfType(audit.TypeInsufficientFunds)
		require.Len(t, events, 1)
		assert.Equal(t, audit.SeverityMedium, events[0].Severity)
		assert.Equal(t, "item-1", events[0].Reference)
	})

	t.Run("Already Owned", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, models.Balance{UserID: "buyer", Analysis: 500})
		req := PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("2.00")}

		_, err := f.coord.Purchase(ctx, req)
		require.NoError(t, err)
		_, err = f.coord.Purchase(ctx, req)
		assert.ErrorIs(t, err, storage.ErrAlreadyOwned)

		assert.Equal(t, int64(300), f.balance(t, "buyer").Analysis)
		assert.Len(t, f.sink.OfType(audit.TypeDuplicatePurchase), 1)
	})

	t.Run("Invalid Prices", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "b", SellerID: "s", ItemID: "i", PriceUSD: usd("-1")})
		assert.ErrorIs(t, err, ErrInvalidPrice)
		_, err = f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "b", SellerID: "s", ItemID: "i", PriceUSD: usd("0.004")})
		assert.ErrorIs(t, err, ErrInvalidPrice)
	})
}

func (f *fixture) checkout(t *testing.T, req CheckoutRequest, externalID string) *models.PaymentIntent {
	t.Helper()
	f.gateway.On("CreatePayment", mock.Anything, mock.MatchedBy(func(r payments.CreateRequest) bool {
		return r.Currency == "USD" && r.IdempotencyKey != ""
	})).Return(&payments.Payment{ID: externalID, Status: models.PaymentCreated, RedirectURL: "https://pay/" + externalID}, nil).Once()

	intent, err := f.coord.BeginCheckout(context.Background(), req)
	require.NoError(t, err)
	return intent
}

func TestPurchaseWithPayment(t *testing.T) {
	ctx := context.Background()
	checkout := CheckoutRequest{Purpose: models.PurposePurchase, BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("2.50")}

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, models.Balance{UserID: "buyer", Analysis: 7})
		intent := f.checkout(t, checkout, "ext-1")
		assert.Equal(t, int64(250), intent.AmountMinor)
		assert.Equal(t, "https://pay/ext-1", intent.RedirectURL)

		f.gateway.On("ConfirmPayment", mock.Anything, payments.ConfirmRequest{
			PaymentID:      "ext-1",
			MethodID:       "pm_1",
			IdempotencyKey: "confirm-" + intent.ID,
		}).Return(&payments.Confirmation{PaymentID: "ext-1", TransactionID: "cap-1", Status: models.PaymentConfirmed}, nil).Once()

		res, err := f.coord.Purchase(ctx, PurchaseRequest{
			BuyerID:         "buyer",
			SellerID:        "seller",
			ItemID:          "item-1",
			PriceUSD:        usd("2.50"),
			PaymentIntentID: intent.ID,
			PaymentMethodID: "pm_1",
		})
		require.NoError(t, err)
		assert.Equal(t, "rest", res.Purchase.PaymentMethod)
		assert.Equal(t, "cap-1", res.Purchase.ExternalTransactionID)

		// The paid amount is minted and drained, so the buyer's coins are untouched.
		assert.Equal(t, int64(7), f.balance(t, "buyer").Analysis)
		assert.Equal(t, int64(250), f.balance(t, "seller").Analysis)

		stored, _ := f.store.GetIntent(ctx, intent.ID)
		assert.True(t, stored.Settled)
		assert.Equal(t, models.PaymentConfirmed, stored.Status)
	})

	t.Run("Not Confirmed", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).
			Return(&payments.Confirmation{PaymentID: "ext-1", Status: models.PaymentPending}, nil).Once()

		_, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("2.50"), PaymentIntentID: intent.ID})
		assert.ErrorIs(t, err, ErrPaymentNotConfirmed)

		assert.Equal(t, 0, f.store.PurchaseCount())
		stored, _ := f.store.GetIntent(ctx, intent.ID)
		assert.Equal(t, models.PaymentPending, stored.Status)
		assert.False(t, stored.Settled)
		assert.Len(t, f.sink.OfType(audit.TypePaymentNotConfirmed), 1)
	})

	t.Run("Provider Failure", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).
			Return(nil, &payments.ProviderError{Kind: payments.KindAuth, Processor: "rest", Op: "confirm", StatusCode: 401}).Once()

		_, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("2.50"), PaymentIntentID: intent.ID})
		assert.Equal(t, payments.KindAuth, payments.KindOf(err))

		assert.Equal(t, 0, f.store.PurchaseCount())
		events := f.sink.OfType(audit.TypeProviderFailure)
		require.Len(t, events, 1)
		assert.Equal(t, "auth", events[0].Attributes["kind"])
	})

	t.Run("Mismatched Intent", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")

		_, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-2", PriceUSD: usd("2.50"), PaymentIntentID: intent.ID})
		assert.ErrorIs(t, err, ErrPaymentMismatch)
		_, err = f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("0.50"), PaymentIntentID: intent.ID})
		assert.ErrorIs(t, err, ErrPaymentMismatch)

		f.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything)
		events := f.sink.OfType(audit.TypePaymentMismatch)
		require.Len(t, events, 2)
		assert.Equal(t, audit.SeverityCritical, events[0].Severity)
	})
}

// failingLedger breaks every transfer.
type failingLedger struct {
	*ledger.Service
}

func (failingLedger) Transfer(context.Context, ledger.TransferRequest) (*ledger.TransferResult, error) {
	return nil, errors.New("table unavailable")
}

// staleIntents serves a fixed intent snapshot, as a read that raced a
// concurrent settlement would.
type staleIntents struct {
	*memory.Store
	snapshot models.PaymentIntent
}

func (s staleIntents) GetIntent(context.Context, string) (*models.PaymentIntent, error) {
	in := s.snapshot
	return &in, nil
}

func TestSettlementFailureIsReconciled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	intent := f.checkout(t, CheckoutRequest{Purpose: models.PurposePurchase, BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("4.00")}, "ext-1")
	f.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).
		Return(&payments.Confirmation{PaymentID: "ext-1", TransactionID: "cap-1", Status: models.PaymentConfirmed}, nil).Once()

	broken := NewCoordinator(failingLedger{f.ledger}, f.store, f.gateway, Options{Audit: f.sink, Now: func() time.Time { return f.now }})
	_, err := broken.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("4.00"), PaymentIntentID: intent.ID})
	assert.ErrorIs(t, err, ErrSettlementPending)

	events := f.sink.OfType(audit.TypeSettlementFailed)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)

	stored, _ := f.store.GetIntent(ctx, intent.ID)
	assert.Equal(t, models.PaymentConfirmed, stored.Status)
	assert.False(t, stored.Settled)
	assert.Equal(t, "cap-1", stored.CaptureID)

	// The sweep finds it and settles it without asking the processor again.
	f.now = f.now.Add(10 * time.Minute)
	stale, err := f.coord.StaleIntents(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	res, err := f.coord.ResolveIntent(ctx, intent.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ResolutionSettled, res)
	assert.Equal(t, int64(400), f.balance(t, "seller").Analysis)

	p, err := f.store.GetPurchase(ctx, "buyer", "item-1")
	require.NoError(t, err)
	assert.Equal(t, "cap-1", p.ExternalTransactionID)

	res, err = f.coord.ResolveIntent(ctx, intent.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ResolutionNoop, res)
}

func TestResolveIntent(t *testing.T) {
	ctx := context.Background()
	checkout := CheckoutRequest{Purpose: models.PurposePurchase, BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("1.00")}

	t.Run("Abandoned", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.gateway.On("GetStatus", mock.Anything, "ext-1").Return(models.PaymentCreated, nil)

		f.now = f.now.Add(10 * time.Minute)
		res, err := f.coord.ResolveIntent(ctx, intent.ID, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, ResolutionPending, res)
		f.gateway.AssertNotCalled(t, "CancelPayment", mock.Anything, mock.Anything)

		f.gateway.On("CancelPayment", mock.Anything, payments.CancelRequest{
			PaymentID:      "ext-1",
			IdempotencyKey: "cancel-" + intent.ID,
		}).Return(nil).Once()
		f.now = f.now.Add(time.Hour)
		res, err = f.coord.ResolveIntent(ctx, intent.ID, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, ResolutionAbandoned, res)

		stored, _ := f.store.GetIntent(ctx, intent.ID)
		assert.Equal(t, models.PaymentFailed, stored.Status)
		assert.Len(t, f.sink.OfType(audit.TypeIntentAbandoned), 1)

		stale, err := f.coord.StaleIntents(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("Cancel Failure Keeps The Intent Open", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.gateway.On("GetStatus", mock.Anything, "ext-1").Return(models.PaymentCreated, nil).Once()
		f.gateway.On("CancelPayment", mock.Anything, mock.Anything).
			Return(&payments.ProviderError{Kind: payments.KindValidation, Message: "payment already confirmed"}).Once()

		f.now = f.now.Add(2 * time.Hour)
		_, err := f.coord.ResolveIntent(ctx, intent.ID, 30*time.Minute)
		assert.Equal(t, payments.KindValidation, payments.KindOf(err))

		stored, _ := f.store.GetIntent(ctx, intent.ID)
		assert.Equal(t, models.PaymentCreated, stored.Status)
		assert.Empty(t, f.sink.OfType(audit.TypeIntentAbandoned))
	})

	t.Run("Pending Is Never Abandoned", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.gateway.On("GetStatus", mock.Anything, "ext-1").Return(models.PaymentPending, nil).Once()
		f.now = f.now.Add(2 * time.Hour)

		// Act
		res, err := f.coord.ResolveIntent(ctx, intent.ID, 30*time.Minute)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, ResolutionPending, res)
		f.gateway.AssertNotCalled(t, "CancelPayment", mock.Anything, mock.Anything)
		stored, _ := f.store.GetIntent(ctx, intent.ID)
		assert.Equal(t, models.PaymentPending, stored.Status)
		assert.Empty(t, f.sink.OfType(audit.TypeIntentAbandoned))

		stale, err := f.coord.StaleIntents(ctx, 5*time.Minute)
		require.NoError(t, err)
		require.Len(t, stale, 1)

		// The late confirmation still settles.
		f.gateway.On("GetStatus", mock.Anything, "ext-1").Return(models.PaymentConfirmed, nil).Once()
		res, err = f.coord.ResolveIntent(ctx, intent.ID, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, ResolutionSettled, res)
		assert.Equal(t, int64(100), f.balance(t, "seller").Analysis)
	})

	t.Run("Failed At Processor", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.gateway.On("GetStatus", mock.Anything, "ext-1").Return(models.PaymentFailed, nil).Once()

		res, err := f.coord.ResolveIntent(ctx, intent.ID, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, ResolutionFailed, res)
	})

	t.Run("Confirmed Out Of Band Is Settled", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.gateway.On("GetStatus", mock.Anything, "ext-1").Return(models.PaymentConfirmed, nil).Once()

		res, err := f.coord.ResolveIntent(ctx, intent.ID, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, ResolutionSettled, res)
		assert.Equal(t, int64(100), f.balance(t, "seller").Analysis)
	})

	t.Run("Refunds When Already Owned", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.seed(t, models.Balance{UserID: "buyer", Analysis: 100})
		_, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("1.00")})
		require.NoError(t, err)

		f.gateway.On("GetStatus", mock.Anything, "ext-1").Return(models.PaymentConfirmed, nil).Once()
		f.gateway.On("RefundPayment", mock.Anything, payments.RefundRequest{
			TransactionID:  "ext-1",
			Currency:       "USD",
			IdempotencyKey: "refund-" + intent.ID,
		}).Return(nil).Once()

		res, err := f.coord.ResolveIntent(ctx, intent.ID, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, ResolutionRefunded, res)

		stored, _ := f.store.GetIntent(ctx, intent.ID)
		assert.Equal(t, models.PaymentRefunded, stored.Status)
		assert.Equal(t, int64(100), f.balance(t, "seller").Analysis)
	})

	t.Run("Stale Read Of A Settled Intent Is Not Refunded", func(t *testing.T) {
		for _, tt := range []struct {
			name      string
			captureID string
		}{
			{name: "Capture Known", captureID: "cap-1"},
			{name: "Capture Not Yet Read", captureID: ""},
		} {
			t.Run(tt.name, func(t *testing.T) {
				// Arrange
				f := newFixture(t)
				intent := f.checkout(t, CheckoutRequest{Purpose: models.PurposePurchase, BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("2.50")}, "ext-1")
				f.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).
					Return(&payments.Confirmation{PaymentID: "ext-1", TransactionID: "cap-1", Status: models.PaymentConfirmed}, nil).Once()
				_, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("2.50"), PaymentIntentID: intent.ID})
				require.NoError(t, err)

				snapshot, err := f.store.GetIntent(ctx, intent.ID)
				require.NoError(t, err)
				snapshot.Settled = false
				snapshot.CaptureID = tt.captureID
				stale := NewCoordinator(f.ledger, staleIntents{Store: f.store, snapshot: *snapshot}, f.gateway, Options{Audit: f.sink, Now: func() time.Time { return f.now }})

				// Act
				res, err := stale.ResolveIntent(ctx, intent.ID, time.Hour)

				// Assert
				require.NoError(t, err)
				assert.Equal(t, ResolutionNoop, res)
				f.gateway.AssertNotCalled(t, "RefundPayment", mock.Anything, mock.Anything)
				assert.Empty(t, f.sink.OfType(audit.TypeRefundAfterOwnership))

				stored, _ := f.store.GetIntent(ctx, intent.ID)
				assert.True(t, stored.Settled)
				assert.Equal(t, models.PaymentConfirmed, stored.Status)
				assert.Equal(t, int64(250), f.balance(t, "seller").Analysis)
			})
		}
	})

	t.Run("Reserved Refund Blocks Settlement And Resumes", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		require.NoError(t, f.store.UpdateIntentStatus(ctx, intent.ID, models.PaymentConfirmed, "cap-1"))
		require.NoError(t, f.store.ReserveRefund(ctx, intent.ID))

		// Act
		_, purchaseErr := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("1.00"), PaymentIntentID: intent.ID})
		f.gateway.On("RefundPayment", mock.Anything, payments.RefundRequest{
			TransactionID:  "cap-1",
			Currency:       "USD",
			IdempotencyKey: "refund-" + intent.ID,
		}).Return(nil).Once()
		res, err := f.coord.ResolveIntent(ctx, intent.ID, time.Hour)

		// Assert
		assert.ErrorIs(t, purchaseErr, ErrPaymentNotConfirmed)
		f.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything)
		f.gateway.AssertNotCalled(t, "GetStatus", mock.Anything, mock.Anything)
		require.NoError(t, err)
		assert.Equal(t, ResolutionRefunded, res)
		assert.Equal(t, 0, f.store.PurchaseCount())

		stored, _ := f.store.GetIntent(ctx, intent.ID)
		assert.Equal(t, models.PaymentRefunded, stored.Status)
		assert.False(t, stored.Settled)
	})

	t.Run("Status Error Is Returned", func(t *testing.T) {
		f := newFixture(t)
		intent := f.checkout(t, checkout, "ext-1")
		f.gateway.On("GetStatus", mock.Anything, "ext-1").Return(models.PaymentStatus(""), &payments.ProviderError{Kind: payments.KindNetwork}).Once()

		_, err := f.coord.ResolveIntent(ctx, intent.ID, time.Hour)
		assert.Equal(t, payments.KindNetwork, payments.KindOf(err))
	})
}

func TestBeginCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("Rejects Owned Item", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coord.Purchase(ctx, PurchaseRequest{BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: decimal.Zero})
		require.NoError(t, err)

		_, err = f.coord.BeginCheckout(ctx, CheckoutRequest{Purpose: models.PurposePurchase, BuyerID: "buyer", SellerID: "seller", ItemID: "item-1", PriceUSD: usd("1")})
		assert.ErrorIs(t, err, storage.ErrAlreadyOwned)
	})

	t.Run("Provider Failure", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.On("CreatePayment", mock.Anything, mock.Anything).
			Return(nil, &payments.ProviderError{Kind: payments.KindNotConfigured}).Once()

		_, err := f.coord.BeginCheckout(ctx, CheckoutRequest{Purpose: models.PurposeTopUp, BuyerID: "buyer", Category: models.CategoryExam, PriceUSD: usd("5")})
		assert.Equal(t, payments.KindNotConfigured, payments.KindOf(err))
		assert.Len(t, f.sink.OfType(audit.TypeProviderFailure), 1)
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.coord.BeginCheckout(ctx, CheckoutRequest{Purpose: models.PurposeTopUp, BuyerID: "buyer", Category: models.CategoryPooled, PriceUSD: usd("5")})
		assert.ErrorIs(t, err, ledger.ErrInvalidCategory)
		_, err = f.coord.BeginCheckout(ctx, CheckoutRequest{Purpose: models.PurposeTopUp, BuyerID: "buyer", Category: models.CategoryExam})
		assert.ErrorIs(t, err, ErrInvalidPrice)
	})
}

func TestTopUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	intent := f.checkout(t, CheckoutRequest{Purpose: models.PurposeTopUp, BuyerID: "buyer", Category: models.CategoryExam, PriceUSD: usd("5")}, "ext-9")
	f.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).
		Return(&payments.Confirmation{PaymentID: "ext-9", TransactionID: "ext-9", Status: models.PaymentConfirmed}, nil).Once()

	b, err := f.coord.TopUp(ctx, TopUpRequest{UserID: "buyer", PaymentIntentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Exam)

	_, err = f.coord.TopUp(ctx, TopUpRequest{UserID: "buyer", PaymentIntentID: intent.ID})
	assert.ErrorIs(t, err, storage.ErrIntentAlreadySettled)

	_, err = f.coord.TopUp(ctx, TopUpRequest{UserID: "someone-else", PaymentIntentID: intent.ID})
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	assert.Equal(t, int64(500), f.balance(t, "buyer").Exam)
}

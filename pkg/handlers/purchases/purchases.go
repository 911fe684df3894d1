package purchases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/handlers/respond"
	"github.com/chris/coin-settlement/pkg/mapping"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/settlement"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Coordinator is the settlement surface the handlers drive.
type Coordinator interface {
	Purchase(ctx context.Context, req settlement.PurchaseRequest) (*settlement.PurchaseResult, error)
	BeginCheckout(ctx context.Context, req settlement.CheckoutRequest) (*models.PaymentIntent, error)
	TopUp(ctx context.Context, req settlement.TopUpRequest) (*models.Balance, error)
}

// Scheduler queues an intent for reconciliation.
type Scheduler interface {
	ScheduleReconciliation(ctx context.Context, intentID string) error
}

// PurchasesHandler holds the dependencies for purchase and checkout handlers.
type PurchasesHandler struct {
	Coordinator Coordinator
	Scheduler   Scheduler
}

// NewPurchasesHandler creates a new PurchasesHandler. scheduler may be nil.
func NewPurchasesHandler(c Coordinator, scheduler Scheduler) *PurchasesHandler {
	return &PurchasesHandler{Coordinator: c, Scheduler: scheduler}
}

// CreatePurchase settles one purchase through the free, coin or real-money path.
func (h *PurchasesHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var body api.NewPurchase
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.BadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	req, err := mapping.ToDomainPurchaseRequest(&body)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	res, err := h.Coordinator.Purchase(r.Context(), req)
	if err != nil {
		// The payment went through but coins did not move; make sure the
		// sweep picks it up without waiting for the next schedule.
		if req.PaymentIntentID != "" && errors.Is(err, settlement.ErrSettlementPending) {
			h.schedule(r.Context(), req.PaymentIntentID)
		}
		respond.Error(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyOwned {
		status = http.StatusOK
	}
	respond.JSON(w, status, mapping.ToApiPurchase(res))
}

// CreateCheckout opens a payment at the configured processor.
func (h *PurchasesHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var body api.NewCheckout
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.BadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	req, err := mapping.ToDomainCheckoutRequest(&body)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	intent, err := h.Coordinator.BeginCheckout(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	out, err := mapping.ToApiPaymentIntent(intent)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, out)
}

// CompleteTopUp confirms a top-up intent and credits its coins.
func (h *PurchasesHandler) CompleteTopUp(w http.ResponseWriter, r *http.Request, intentId openapi_types.UUID) {
	var body api.NewTopUp
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.BadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	req := settlement.TopUpRequest{UserID: body.UserId, PaymentIntentID: intentId.String()}
	if body.PaymentMethodId != nil {
		req.PaymentMethodID = *body.PaymentMethodId
	}

	b, err := h.Coordinator.TopUp(r.Context(), req)
	if err != nil {
		if errors.Is(err, settlement.ErrSettlementPending) {
			h.schedule(r.Context(), req.PaymentIntentID)
		}
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiBalance(b))
}

func (h *PurchasesHandler) schedule(ctx context.Context, intentID string) {
	if h.Scheduler == nil {
		return
	}
	if err := h.Scheduler.ScheduleReconciliation(ctx, intentID); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue intent for reconciliation", "intent_id", intentID, "error", err)
	}
}

// Package respond writes JSON responses and maps domain errors to HTTP
// statuses for the handler packages.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/entitlement"
	"github.com/chris/coin-settlement/pkg/ledger"
	"github.com/chris/coin-settlement/pkg/payments"
	"github.com/chris/coin-settlement/pkg/settlement"
	"github.com/chris/coin-settlement/pkg/storage"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// BadRequest writes a 400 for a malformed request.
func BadRequest(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusBadRequest, api.Error{Code: "invalid_request", Message: msg})
}

// Error maps err to a status and error code and writes it.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	JSON(w, status, api.Error{Code: code, Message: err.Error()})
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, string) {
	var provider *payments.ProviderError
	switch {
	case errors.Is(err, settlement.ErrSettlementPending):
		// Wraps the ledger failure as well; the payment itself went through.
		return http.StatusAccepted, "settlement_pending"
	case errors.Is(err, settlement.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidCategory),
		errors.Is(err, ledger.ErrSelfTransfer),
		errors.Is(err, entitlement.ErrInvalidLevel),
		errors.Is(err, entitlement.ErrInvalidCost):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, settlement.ErrPaymentMismatch):
		return http.StatusBadRequest, "payment_mismatch"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, storage.ErrAlreadyOwned):
		return http.StatusConflict, "already_owned"
	case errors.Is(err, storage.ErrIntentAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, storage.ErrConcurrencyConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, entitlement.ErrDemoted):
		return http.StatusForbidden, "demoted"
	case errors.Is(err, entitlement.ErrPrerequisiteNotMet):
		return http.StatusForbidden, "prerequisite_not_met"
	case errors.Is(err, entitlement.ErrCoolingDown):
		return http.StatusForbidden, "cooling_down"
	case errors.Is(err, settlement.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired, "payment_not_confirmed"
	case errors.As(err, &provider):
		if provider.Kind == payments.KindNotConfigured {
			return http.StatusServiceUnavailable, "payments_unavailable"
		}
		return http.StatusBadGateway, "provider_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

package ledger

import (
	"context"
	"net/http"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/handlers/respond"
	"github.com/chris/coin-settlement/pkg/mapping"
	"github.com/chris/coin-settlement/pkg/models"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// Ledger is the read side of the ledger service.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (*models.Balance, error)
	ListEntries(ctx context.Context, userID string, limit int32) ([]models.LedgerEntry, error)
}

// LedgerHandler holds the dependencies for balance and ledger handlers.
type LedgerHandler struct {
	Ledger Ledger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l Ledger) *LedgerHandler {
	return &LedgerHandler{Ledger: l}
}

// GetBalance returns the user's per-category balance, provisioning the free
// allotment on first sight.
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request, userId string) {
	b, err := h.Ledger.GetBalance(r.Context(), userId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiBalance(b))
}

func (h *LedgerHandler) ListLedgerEntries(w http.ResponseWriter, r *http.Request, userId string, params api.ListLedgerEntriesParams) {
	limit := int32(defaultLimit)
	if params.Limit != nil {
		if *params.Limit <= 0 || *params.Limit > maxLimit {
			respond.BadRequest(w, "limit must be between 1 and 200")
			return
		}
		limit = int32(*params.Limit)
	}

	domainEntries, err := h.Ledger.ListEntries(r.Context(), userId, limit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	apiEntries := make([]*api.LedgerEntry, len(domainEntries))
	for i, entry := range domainEntries {
		apiEntries[i] = mapping.ToApiLedgerEntry(&entry)
	}
	respond.JSON(w, http.StatusOK, apiEntries)
}

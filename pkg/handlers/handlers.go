package handlers

import (
	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/handlers/exams"
	"github.com/chris/coin-settlement/pkg/handlers/ledger"
	"github.com/chris/coin-settlement/pkg/handlers/purchases"
)

// ApiHandler implements the api.ServerInterface by composing the
// feature handlers.
type ApiHandler struct {
	*ledger.LedgerHandler
	*purchases.PurchasesHandler
	*exams.ExamsHandler
}

// NewApiHandler creates a new ApiHandler. scheduler may be nil.
func NewApiHandler(l ledger.Ledger, c purchases.Coordinator, g exams.Gate, scheduler purchases.Scheduler) *ApiHandler {
	return &ApiHandler{
		LedgerHandler:    ledger.NewLedgerHandler(l),
		PurchasesHandler: purchases.NewPurchasesHandler(c, scheduler),
		ExamsHandler:     exams.NewExamsHandler(g),
	}
}

// Make sure we conform to the interface
var _ api.ServerInterface = (*ApiHandler)(nil)

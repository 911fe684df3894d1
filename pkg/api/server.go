package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ServerInterface is implemented by the HTTP handlers. Path parameters arrive
// already bound.
type ServerInterface interface {
	GetBalance(w http.ResponseWriter, r *http.Request, userId string)
	ListLedgerEntries(w http.ResponseWriter, r *http.Request, userId string, params ListLedgerEntriesParams)
	CreatePurchase(w http.ResponseWriter, r *http.Request)
	CreateCheckout(w http.ResponseWriter, r *http.Request)
	CompleteTopUp(w http.ResponseWriter, r *http.Request, intentId openapi_types.UUID)
	GetExamEligibility(w http.ResponseWriter, r *http.Request, userId string, level string)
	StartExamAttempt(w http.ResponseWriter, r *http.Request, userId string, level string)
	RecordExamResult(w http.ResponseWriter, r *http.Request, userId string, level string)
	ConsumeAction(w http.ResponseWriter, r *http.Request, userId string)
}

// InvalidParamFormatError reports a path or query parameter that could not be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ServerInterfaceWrapper binds parameters before calling the handler.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// pathParam binds one required path parameter, reporting failures itself.
func (siw *ServerInterfaceWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string, dest interface{}) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) GetBalance(w http.ResponseWriter, r *http.Request) {
	var userId string
	if !siw.pathParam(w, r, "userId", &userId) {
		return
	}
	siw.Handler.GetBalance(w, r, userId)
}

// ListLedgerEntries also binds the optional limit query parameter.
func (siw *ServerInterfaceWrapper) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	var userId string
	if !siw.pathParam(w, r, "userId", &userId) {
		return
	}

	var params ListLedgerEntriesParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}
	siw.Handler.ListLedgerEntries(w, r, userId, params)
}

func (siw *ServerInterfaceWrapper) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	siw.Handler.CreatePurchase(w, r)
}

func (siw *ServerInterfaceWrapper) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	siw.Handler.CreateCheckout(w, r)
}

func (siw *ServerInterfaceWrapper) CompleteTopUp(w http.ResponseWriter, r *http.Request) {
	var intentId openapi_types.UUID
	if !siw.pathParam(w, r, "intentId", &intentId) {
		return
	}
	siw.Handler.CompleteTopUp(w, r, intentId)
}

func (siw *ServerInterfaceWrapper) GetExamEligibility(w http.ResponseWriter, r *http.Request) {
	var userId, level string
	if !siw.pathParam(w, r, "userId", &userId) || !siw.pathParam(w, r, "level", &level) {
		return
	}
	siw.Handler.GetExamEligibility(w, r, userId, level)
}

func (siw *ServerInterfaceWrapper) StartExamAttempt(w http.ResponseWriter, r *http.Request) {
	var userId, level string
	if !siw.pathParam(w, r, "userId", &userId) || !siw.pathParam(w, r, "level", &level) {
		return
	}
	siw.Handler.StartExamAttempt(w, r, userId, level)
}

func (siw *ServerInterfaceWrapper) RecordExamResult(w http.ResponseWriter, r *http.Request) {
	var userId, level string
	if !siw.pathParam(w, r, "userId", &userId) || !siw.pathParam(w, r, "level", &level) {
		return
	}
	siw.Handler.RecordExamResult(w, r, userId, level)
}

func (siw *ServerInterfaceWrapper) ConsumeAction(w http.ResponseWriter, r *http.Request) {
	var userId string
	if !siw.pathParam(w, r, "userId", &userId) {
		return
	}
	siw.Handler.ConsumeAction(w, r, userId)
}

// HandlerFromMux mounts every route on r. Binding failures answer 400.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
		ErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		},
	}

	r.Get("/balances/{userId}", wrapper.GetBalance)
	r.Get("/balances/{userId}/ledger", wrapper.ListLedgerEntries)
	r.Post("/purchases", wrapper.CreatePurchase)
	r.Post("/checkouts", wrapper.CreateCheckout)
	r.Post("/checkouts/{intentId}/top-up", wrapper.CompleteTopUp)
	r.Get("/users/{userId}/exams/{level}/eligibility", wrapper.GetExamEligibility)
	r.Post("/users/{userId}/exams/{level}/attempts", wrapper.StartExamAttempt)
	r.Post("/users/{userId}/exams/{level}/results", wrapper.RecordExamResult)
	r.Post("/users/{userId}/actions", wrapper.ConsumeAction)

	return r
}

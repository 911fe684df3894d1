package payments

import (
	"context"
	"net/http"
	"net/url"

	"github.com/chris/coin-settlement/pkg/models"
)

// RESTProcessor talks JSON to a configurable endpoint with bearer auth.
type RESTProcessor struct {
	http httpClient
}

// NewRESTProcessor is the Constructor for ProcessorREST.
func NewRESTProcessor(s Settings) (Processor, error) {
	if s.APIKey == "" {
		return nil, &ConfigurationError{Processor: ProcessorREST, Reason: "api key is required"}
	}
	if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
		return nil, &ConfigurationError{Processor: ProcessorREST, Reason: "invalid base url"}
	}
	token := s.APIKey
	return &RESTProcessor{http: httpClient{
		processor: ProcessorREST,
		baseURL:   s.BaseURL,
		client:    s.httpClient(),
		auth: func(_ context.Context, req *http.Request) error {
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		},
	}}, nil
}

func (p *RESTProcessor) Name() string { return ProcessorREST }

type restPayment struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	ClientSecret  string `json:"client_secret"`
	RedirectURL   string `json:"redirect_url"`
}

func (p *RESTProcessor) CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error) {
	var out restPayment
	err := p.post(ctx, "create", "/payments", req.IdempotencyKey, map[string]any{
		"amount":      req.AmountMinor,
		"currency":    req.Currency,
		"description": req.Description,
		"metadata":    req.Metadata,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &Payment{
		ID:           out.ID,
		Status:       restStatus(out.Status),
		ClientSecret: out.ClientSecret,
		RedirectURL:  out.RedirectURL,
	}, nil
}

func (p *RESTProcessor) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	payload := map[string]any{}
	if req.MethodID != "" {
		payload["method_id"] = req.MethodID
	}
	var out restPayment
	path := "/payments/" + url.PathEscape(req.PaymentID) + "/confirm"
	if err := p.post(ctx, "confirm", path, req.IdempotencyKey, payload, &out); err != nil {
		return nil, err
	}
	txID := out.TransactionID
	if txID == "" {
		txID = out.ID
	}
	return &Confirmation{PaymentID: out.ID, TransactionID: txID, Status: restStatus(out.Status)}, nil
}

func (p *RESTProcessor) CancelPayment(ctx context.Context, req CancelRequest) error {
	path := "/payments/" + url.PathEscape(req.PaymentID) + "/cancel"
	return p.post(ctx, "cancel", path, req.IdempotencyKey, map[string]any{}, nil)
}

func (p *RESTProcessor) RefundPayment(ctx context.Context, req RefundRequest) error {
	payload := map[string]any{}
	if req.AmountMinor != nil {
		payload["amount"] = *req.AmountMinor
	}
	path := "/payments/" + url.PathEscape(req.TransactionID) + "/refund"
	return p.post(ctx, "refund", path, req.IdempotencyKey, payload, nil)
}

func (p *RESTProcessor) GetStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	var out restPayment
	err := p.http.do(ctx, request{
		op:     "status",
		method: http.MethodGet,
		path:   "/payments/" + url.PathEscape(paymentID),
	}, &out)
	if err != nil {
		return "", err
	}
	return restStatus(out.Status), nil
}

func (p *RESTProcessor) post(ctx context.Context, op, path, idempotencyKey string, payload any, out any) error {
	body, err := jsonBody(payload)
	if err != nil {
		return err
	}
	return p.http.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        path,
		body:        body,
		contentType: "application/json",
		headers:     map[string]string{"Idempotency-Key": idempotencyKey},
	}, out)
}

func restStatus(s string) models.PaymentStatus {
	switch s {
	case "confirmed", "succeeded", "completed", "paid":
		return models.PaymentConfirmed
	case "pending", "processing":
		return models.PaymentPending
	case "failed", "canceled", "cancelled", "declined":
		return models.PaymentFailed
	case "refunded":
		return models.PaymentRefunded
	}
	return models.PaymentCreated
}

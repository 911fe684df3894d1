package payments

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/chris/coin-settlement/pkg/models"
)

// IntentsProcessor drives a direct-intent processor: the server creates an
// intent and hands its client secret to the caller, which confirms it.
// Requests are form-encoded and authenticated with a secret key.
type IntentsProcessor struct {
	http httpClient
}

// NewIntentsProcessor is the Constructor for ProcessorIntents.
func NewIntentsProcessor(s Settings) (Processor, error) {
	if s.APIKey == "" {
		return nil, &ConfigurationError{Processor: ProcessorIntents, Reason: "secret key is required"}
	}
	if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
		return nil, &ConfigurationError{Processor: ProcessorIntents, Reason: "invalid base url"}
	}
	key := s.APIKey
	return &IntentsProcessor{http: httpClient{
		processor: ProcessorIntents,
		baseURL:   s.BaseURL,
		client:    s.httpClient(),
		auth: func(_ context.Context, req *http.Request) error {
			req.Header.Set("Authorization", "Bearer "+key)
			return nil
		},
	}}, nil
}

func (p *IntentsProcessor) Name() string { return ProcessorIntents }

type intentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
}

func (p *IntentsProcessor) CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error) {
	form := url.Values{
		"amount":                              {strconv.FormatInt(req.AmountMinor, 10)},
		"currency":                            {strings.ToLower(req.Currency)},
		"automatic_payment_methods[enabled]": {"true"},
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", req.Metadata[k])
	}

	var out intentResponse
	if err := p.post(ctx, "create", "/v1/payment_intents", form, req.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	return &Payment{ID: out.ID, Status: intentStatus(out.Status), ClientSecret: out.ClientSecret}, nil
}

func (p *IntentsProcessor) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	form := url.Values{}
	if req.MethodID != "" {
		form.Set("payment_method", req.MethodID)
	}
	var out intentResponse
	path := "/v1/payment_intents/" + url.PathEscape(req.PaymentID) + "/confirm"
	if err := p.post(ctx, "confirm", path, form, req.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	// Refunds address the intent itself, so it doubles as the transaction id.
	return &Confirmation{PaymentID: out.ID, TransactionID: out.ID, Status: intentStatus(out.Status)}, nil
}

func (p *IntentsProcessor) CancelPayment(ctx context.Context, req CancelRequest) error {
	path := "/v1/payment_intents/" + url.PathEscape(req.PaymentID) + "/cancel"
	form := url.Values{"cancellation_reason": {"abandoned"}}
	return p.post(ctx, "cancel", path, form, req.IdempotencyKey, nil)
}

func (p *IntentsProcessor) RefundPayment(ctx context.Context, req RefundRequest) error {
	form := url.Values{"payment_intent": {req.TransactionID}}
	if req.AmountMinor != nil {
		form.Set("amount", strconv.FormatInt(*req.AmountMinor, 10))
	}
	return p.post(ctx, "refund", "/v1/refunds", form, req.IdempotencyKey, nil)
}

func (p *IntentsProcessor) GetStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	var out intentResponse
	err := p.http.do(ctx, request{
		op:     "status",
		method: http.MethodGet,
		path:   "/v1/payment_intents/" + url.PathEscape(paymentID),
	}, &out)
	if err != nil {
		return "", err
	}
	return intentStatus(out.Status), nil
}

func (p *IntentsProcessor) post(ctx context.Context, op, path string, form url.Values, idempotencyKey string, out any) error {
	return p.http.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        path,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		headers:     map[string]string{"Idempotency-Key": idempotencyKey},
	}, out)
}

func intentStatus(s string) models.PaymentStatus {
	switch s {
	case "succeeded":
		return models.PaymentConfirmed
	case "processing", "requires_confirmation", "requires_action", "requires_capture":
		return models.PaymentPending
	case "canceled":
		return models.PaymentFailed
	}
	return models.PaymentCreated
}

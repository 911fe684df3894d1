package payments

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chris/coin-settlement/pkg/models"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenTimeout bounds a token fetch when the configured client has no timeout.
const tokenTimeout = 10 * time.Second

// OrdersProcessor drives a two-phase order processor: an order is created,
// the buyer approves it out of band via the approval link, and the order is
// then captured. Requests authenticate with an OAuth client-credentials token.
type OrdersProcessor struct {
	http   httpClient
	tokens oauth2.TokenSource
}

// NewOrdersProcessor is the Constructor for ProcessorOrders.
func NewOrdersProcessor(s Settings) (Processor, error) {
	if s.ClientID == "" || s.ClientSecret == "" {
		return nil, &ConfigurationError{Processor: ProcessorOrders, Reason: "client id and client secret are required"}
	}
	if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
		return nil, &ConfigurationError{Processor: ProcessorOrders, Reason: "invalid base url"}
	}

	client := s.httpClient()
	tokenClient := *client
	if tokenClient.Timeout == 0 {
		tokenClient.Timeout = tokenTimeout
	}
	creds := clientcredentials.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     strings.TrimRight(s.BaseURL, "/") + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	p := &OrdersProcessor{
		// The token source caches the token and refreshes it shortly before expiry.
		tokens: creds.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, &tokenClient)),
	}
	p.http = httpClient{
		processor: ProcessorOrders,
		baseURL:   s.BaseURL,
		client:    client,
		auth:      p.authorize,
	}
	return p, nil
}

func (p *OrdersProcessor) Name() string { return ProcessorOrders }

type ordersAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type ordersLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type ordersCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type ordersResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []ordersLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []ordersCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (p *OrdersProcessor) CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error) {
	unit := map[string]any{
		"amount":      amountOf(req.AmountMinor, req.Currency),
		"description": req.Description,
	}
	if ref := req.Metadata["reference"]; ref != "" {
		unit["custom_id"] = ref
	}
	body, err := jsonBody(map[string]any{
		"intent":         "CAPTURE",
		"purchase_units": []any{unit},
	})
	if err != nil {
		return nil, err
	}

	var out ordersResponse
	err = p.http.do(ctx, request{
		op:          "create",
		method:      http.MethodPost,
		path:        "/v2/checkout/orders",
		body:        body,
		contentType: "application/json",
		headers:     map[string]string{"PayPal-Request-Id": req.IdempotencyKey},
	}, &out)
	if err != nil {
		return nil, err
	}

	payment := &Payment{ID: out.ID, Status: ordersStatus(out.Status)}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			payment.RedirectURL = l.Href
			break
		}
	}
	return payment, nil
}

func (p *OrdersProcessor) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	var out ordersResponse
	err := p.http.do(ctx, request{
		op:          "confirm",
		method:      http.MethodPost,
		path:        "/v2/checkout/orders/" + url.PathEscape(req.PaymentID) + "/capture",
		body:        strings.NewReader("{}"),
		contentType: "application/json",
		headers:     map[string]string{"PayPal-Request-Id": req.IdempotencyKey},
	}, &out)
	if err != nil {
		return nil, err
	}

	conf := &Confirmation{PaymentID: out.ID, Status: ordersStatus(out.Status)}
	for _, u := range out.PurchaseUnits {
		for _, c := range u.Payments.Captures {
			conf.TransactionID = c.ID
			if c.Status == "PENDING" {
				conf.Status = models.PaymentPending
			}
		}
	}
	if conf.TransactionID == "" {
		return nil, &ProviderError{Kind: KindUnknown, Processor: ProcessorOrders, Op: "confirm", Message: "capture response carried no capture id"}
	}
	return conf, nil
}

// CancelPayment has nothing to void: an order that was never captured expires
// at the processor. It refuses an order that was already captured.
func (p *OrdersProcessor) CancelPayment(ctx context.Context, req CancelRequest) error {
	status, err := p.GetStatus(ctx, req.PaymentID)
	if err != nil {
		return err
	}
	if status == models.PaymentConfirmed {
		return &ProviderError{Kind: KindValidation, Processor: ProcessorOrders, Op: "cancel", Message: "order is already captured"}
	}
	return nil
}

func (p *OrdersProcessor) RefundPayment(ctx context.Context, req RefundRequest) error {
	payload := map[string]any{}
	if req.AmountMinor != nil {
		payload["amount"] = amountOf(*req.AmountMinor, req.Currency)
	}
	body, err := jsonBody(payload)
	if err != nil {
		return err
	}
	return p.http.do(ctx, request{
		op:          "refund",
		method:      http.MethodPost,
		path:        "/v2/payments/captures/" + url.PathEscape(req.TransactionID) + "/refund",
		body:        body,
		contentType: "application/json",
		headers:     map[string]string{"PayPal-Request-Id": req.IdempotencyKey},
	}, nil)
}

func (p *OrdersProcessor) GetStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	var out ordersResponse
	err := p.http.do(ctx, request{
		op:     "status",
		method: http.MethodGet,
		path:   "/v2/checkout/orders/" + url.PathEscape(paymentID),
	}, &out)
	if err != nil {
		return "", err
	}
	return ordersStatus(out.Status), nil
}

// authorize attaches a bearer token from the cached token source.
func (p *OrdersProcessor) authorize(_ context.Context, req *http.Request) error {
	token, err := p.tokens.Token()
	if err != nil {
		return tokenError(err)
	}
	token.SetAuthHeader(req)
	return nil
}

// tokenError converts a failed token fetch into a *ProviderError. A rejected
// fetch carries the processor's status; anything else is a network failure.
func tokenError(err error) error {
	pe := &ProviderError{Kind: KindNetwork, Processor: ProcessorOrders, Op: "token", Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		pe.Kind = kindForStatus(re.Response.StatusCode)
		pe.StatusCode = re.Response.StatusCode
		pe.Message = errorMessage(re.Body)
	}
	return pe
}

func amountOf(minor int64, currency string) ordersAmount {
	return ordersAmount{
		CurrencyCode: strings.ToUpper(currency),
		Value:        decimal.New(minor, -2).StringFixed(2),
	}
}

func ordersStatus(s string) models.PaymentStatus {
	switch s {
	case "COMPLETED":
		return models.PaymentConfirmed
	case "APPROVED":
		return models.PaymentPending
	case "VOIDED":
		return models.PaymentFailed
	}
	return models.PaymentCreated
}

// Package payments puts interchangeable real-money processors behind one
// lifecycle interface: create, confirm, cancel, refund and status.
//
// Exactly one Processor is active per deployment. The Gateway wraps it so
// that every failure comes back as a *ProviderError, every call is bounded by
// a timeout, and only status reads are ever retried. Nothing in this package
// touches the ledger.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/google/uuid"
)

// CreateRequest opens a payment at the processor.
type CreateRequest struct {
	// AmountMinor is the amount in the currency's minor unit (cents).
	AmountMinor    int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Payment is the processor's answer to CreatePayment.
type Payment struct {
	ID           string
	Status       models.PaymentStatus
	ClientSecret string
	RedirectURL  string
}

// ConfirmRequest confirms (or captures) a created payment.
type ConfirmRequest struct {
	PaymentID      string
	MethodID       string
	IdempotencyKey string
}

// Confirmation carries the final transaction id of a confirmed payment. For
// two-phase processors it is the capture id.
type Confirmation struct {
	PaymentID     string
	TransactionID string
	Status        models.PaymentStatus
}

// CancelRequest voids a payment that was never confirmed.
type CancelRequest struct {
	PaymentID      string
	IdempotencyKey string
}

// RefundRequest refunds a confirmed transaction. A nil AmountMinor refunds in full.
type RefundRequest struct {
	TransactionID  string
	AmountMinor    *int64
	Currency       string
	IdempotencyKey string
}

// Processor is implemented once per external payment service.
type Processor interface {
	Name() string
	CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error)
	ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Confirmation, error)
	// CancelPayment voids an unconfirmed payment so it can never be
	// confirmed afterwards. It fails once the payment is confirmed.
	CancelPayment(ctx context.Context, req CancelRequest) error
	RefundPayment(ctx context.Context, req RefundRequest) error
	GetStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error)
}

// Gateway is the only way the rest of the system talks to a Processor.
type Gateway struct {
	processor     Processor
	timeout       time.Duration
	statusRetries uint
	newBackOff    func() backoff.BackOff
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout bounds every processor call.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithStatusRetries sets how many times a status read is retried after a
// network failure.
func WithStatusRetries(n uint) GatewayOption {
	return func(g *Gateway) { g.statusRetries = n }
}

// WithBackOff replaces the exponential retry policy.
func WithBackOff(f func() backoff.BackOff) GatewayOption {
	return func(g *Gateway) { g.newBackOff = f }
}

func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGatewayFor wraps an already-built processor.
func NewGatewayFor(p Processor, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		processor:     p,
		timeout:       10 * time.Second,
		statusRetries: 3,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Processor returns the identifier of the active processor.
func (g *Gateway) Processor() string {
	return g.processor.Name()
}

// Enabled reports whether a real processor is configured.
func (g *Gateway) Enabled() bool {
	_, disabled := g.processor.(Disabled)
	return !disabled
}

// CreatePayment opens a payment. It is never retried.
func (g *Gateway) CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error) {
	if req.AmountMinor <= 0 {
		return nil, g.validation("create", "amount must be positive")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	return invoke(ctx, g, "create", func(ctx context.Context) (*Payment, error) {
		return g.processor.CreatePayment(ctx, req)
	})
}

// ConfirmPayment confirms or captures a payment. It is never retried.
func (g *Gateway) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	if req.PaymentID == "" {
		return nil, g.validation("confirm", "payment id is required")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	return invoke(ctx, g, "confirm", func(ctx context.Context) (*Confirmation, error) {
		return g.processor.ConfirmPayment(ctx, req)
	})
}

// CancelPayment voids an unconfirmed payment. It is never retried.
func (g *Gateway) CancelPayment(ctx context.Context, req CancelRequest) error {
	if req.PaymentID == "" {
		return g.validation("cancel", "payment id is required")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	_, err := invoke(ctx, g, "cancel", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.processor.CancelPayment(ctx, req)
	})
	return err
}

// RefundPayment refunds a confirmed transaction. It is never retried.
func (g *Gateway) RefundPayment(ctx context.Context, req RefundRequest) error {
	if req.TransactionID == "" {
		return g.validation("refund", "transaction id is required")
	}
	if req.AmountMinor != nil && *req.AmountMinor <= 0 {
		return g.validation("refund", "refund amount must be positive")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	_, err := invoke(ctx, g, "refund", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.processor.RefundPayment(ctx, req)
	})
	return err
}

// GetStatus reads the processor-side status, retrying network failures with
// exponential backoff.
func (g *Gateway) GetStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	if paymentID == "" {
		return "", g.validation("status", "payment id is required")
	}
	op := func() (models.PaymentStatus, error) {
		status, err := invoke(ctx, g, "status", func(ctx context.Context) (models.PaymentStatus, error) {
			return g.processor.GetStatus(ctx, paymentID)
		})
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && pe.Retryable() {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return status, nil
	}
	status, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(g.newBackOff()),
		backoff.WithMaxTries(g.statusRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.Warn("retrying payment status", "processor", g.processor.Name(), "payment_id", paymentID, "in", next, "error", err)
		}),
	)
	if err != nil {
		// Retry stops with the bare context error when ctx ends between attempts.
		return "", classify(g.processor.Name(), "status", err)
	}
	return status, nil
}

func (g *Gateway) validation(op, msg string) error {
	return &ProviderError{Kind: KindValidation, Processor: g.processor.Name(), Op: op, Message: msg}
}

// invoke runs one processor call under the gateway's timeout, converting
// errors and panics into *ProviderError and recording metrics.
func invoke[T any](ctx context.Context, g *Gateway, op string, fn func(context.Context) (T, error)) (res T, err error) {
	name := g.processor.Name()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			var zero T
			res = zero
			err = &ProviderError{Kind: KindUnknown, Processor: name, Op: op, Message: fmt.Sprintf("panic: %v", r)}
		}
		if err != nil {
			pe := classify(name, op, err)
			err = pe
			g.logger.Error("payment processor call failed",
				"processor", name,
				"op", op,
				"kind", pe.Kind,
				"status_code", pe.StatusCode,
				"error", pe.Error(),
			)
		}
		g.metrics.ProviderCall(name, op, started, err)
	}()

	return fn(ctx)
}

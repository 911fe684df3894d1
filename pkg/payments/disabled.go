package payments

import (
	"context"

	"github.com/chris/coin-settlement/pkg/models"
)

// Disabled is the safe default processor. It refuses every call.
type Disabled struct{}

var _ Processor = Disabled{}

func (Disabled) Name() string { return ProcessorDisabled }

func (d Disabled) CreatePayment(context.Context, CreateRequest) (*Payment, error) {
	return nil, d.refuse("create")
}

func (d Disabled) ConfirmPayment(context.Context, ConfirmRequest) (*Confirmation, error) {
	return nil, d.refuse("confirm")
}

func (d Disabled) CancelPayment(context.Context, CancelRequest) error {
	return d.refuse("cancel")
}

func (d Disabled) RefundPayment(context.Context, RefundRequest) error {
	return d.refuse("refund")
}

func (d Disabled) GetStatus(context.Context, string) (models.PaymentStatus, error) {
	return "", d.refuse("status")
}

func (Disabled) refuse(op string) error {
	return &ProviderError{
		Kind:      KindNotConfigured,
		Processor: ProcessorDisabled,
		Op:        op,
		Message:   "no payment processor is configured",
	}
}

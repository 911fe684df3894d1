package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a processor failure.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindAuth          Kind = "auth"
	KindValidation    Kind = "validation"
	KindNotConfigured Kind = "not_configured"
	KindUnknown       Kind = "unknown"
)

// ProviderError is the single error shape returned across the gateway
// boundary. Callers switch on Kind.
type ProviderError struct {
	Kind       Kind
	Processor  string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment processor %s: %s failed (%s, status %d): %s", e.Processor, e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("payment processor %s: %s failed (%s): %s", e.Processor, e.Op, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same idempotent call could succeed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindNetwork
}

// ConfigurationError means a processor could not be built from its settings.
type ConfigurationError struct {
	Processor string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("payment processor %q is misconfigured: %s", e.Processor, e.Reason)
}

// KindOf returns the Kind of err, or KindUnknown if err is not a ProviderError.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// kindForStatus maps an HTTP status from a processor to a Kind.
func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return KindNetwork
	case code >= 400:
		return KindValidation
	}
	return KindUnknown
}

// classify wraps an arbitrary failure as a ProviderError.
func classify(processor, op string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		out := *pe
		if out.Processor == "" {
			out.Processor = processor
		}
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}

	kind := KindUnknown
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &netErr):
		kind = KindNetwork
	}
	return &ProviderError{Kind: kind, Processor: processor, Op: op, Err: err}
}

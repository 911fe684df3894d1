// Package audit carries structured events about failed or suspicious money
// movements. Severity is independent of the error returned to the caller so
// that abuse monitoring can be tuned without changing user-facing behaviour.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/google/uuid"
)

// Severity tiers.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityCritical Severity = "critical"
)

// Event types emitted by the core.
const (
	TypeInsufficientFunds    = "insufficient_funds"
	TypeConcurrencyConflict  = "concurrency_conflict"
	TypeDuplicatePurchase    = "duplicate_purchase"
	TypeProviderFailure      = "provider_failure"
	TypePaymentNotConfirmed  = "payment_not_confirmed"
	TypePaymentMismatch      = "payment_mismatch"
	TypeSettlementFailed     = "settlement_failed"
	TypePrerequisiteNotMet   = "prerequisite_not_met"
	TypeExamCoolingDown      = "exam_cooling_down"
	TypeProcessorDegraded    = "processor_degraded"
	TypeIntentAbandoned      = "intent_abandoned"
	TypeRefundAfterOwnership = "refund_after_ownership"
)

// Event is a single audit record.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Severity   Severity          `json:"severity"`
	UserID     string            `json:"user_id,omitempty"`
	Reference  string            `json:"reference,omitempty"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Emitter publishes audit events. Implementations handle their own delivery
// failures; emitting never fails the operation being audited.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// New fills in the id and timestamp of an event.
func New(eventType string, severity Severity, userID, message string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Severity:   severity,
		UserID:     userID,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// With returns a copy of e with an extra attribute.
func (e Event) With(key, value string) Event {
	attrs := make(map[string]string, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attributes = attrs
	return e
}

// LogSink writes events to a slog logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch e.Severity {
	case SeverityMedium:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	attrs := []any{
		slog.String("event_id", e.ID),
		slog.String("type", e.Type),
		slog.String("severity", string(e.Severity)),
		slog.String("user_id", e.UserID),
		slog.String("reference", e.Reference),
	}
	for k, v := range e.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.Log(ctx, level, "audit: "+e.Message, slog.Group("audit", attrs...))
}

// Fanout sends each event to every sink and counts it.
type Fanout struct {
	Sinks   []Emitter
	Metrics *metrics.Metrics
}

func (f Fanout) Emit(ctx context.Context, e Event) {
	f.Metrics.AuditEvent(e.Type, string(e.Severity))
	for _, s := range f.Sinks {
		s.Emit(ctx, e)
	}
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Emit(_ context.Context, e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a snapshot of recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType returns recorded events with the given type.
func (m *MemorySink) OfType(eventType string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}

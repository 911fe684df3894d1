package scheduler

import (
	"context"
)

// Scheduler defines the interface for a component that schedules a payment
// intent for asynchronous reconciliation.
type Scheduler interface {
	// ScheduleReconciliation enqueues an intent so a worker can resolve it later.
	ScheduleReconciliation(ctx context.Context, intentID string) error
}

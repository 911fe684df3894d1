package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/coin-settlement/pkg/api"
)

// SQSAPI is the subset of the SQS client used by SQSScheduler.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSScheduler implements the Scheduler interface using AWS SQS.
type SQSScheduler struct {
	Client   SQSAPI
	QueueURL string
	now      func() time.Time
}

// NewSQSScheduler creates a new SQSScheduler.
func NewSQSScheduler(client SQSAPI, queueURL string) *SQSScheduler {
	return &SQSScheduler{
		Client:   client,
		QueueURL: queueURL,
		now:      time.Now,
	}
}

// Make sure we conform to the interface
var _ Scheduler = (*SQSScheduler)(nil)

// ScheduleReconciliation sends the intent id to the SQS queue. The message
// group and deduplication ids are left to the queue configuration.
func (s *SQSScheduler) ScheduleReconciliation(ctx context.Context, intentID string) error {
	if intentID == "" {
		return fmt.Errorf("cannot schedule reconciliation without an intent id")
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}

	body, err := json.Marshal(api.ReconcileMessage{IntentId: intentID, EnqueuedAt: now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal reconcile message for SQS: %w", err)
	}

	_, err = s.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	return nil
}

// DecodeReconcileMessage parses a queue message body produced by
// ScheduleReconciliation.
func DecodeReconcileMessage(body string) (api.ReconcileMessage, error) {
	var msg api.ReconcileMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal reconcile message: %w", err)
	}
	if msg.IntentId == "" {
		return msg, fmt.Errorf("reconcile message has no intent id")
	}
	return msg, nil
}

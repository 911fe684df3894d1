package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
)

const (
	// reconcileAttribute is present only on intents the sweep must visit,
	// which keeps the index sparse.
	reconcileAttribute = "reconcile"
	reconcilePending   = "PENDING"
	reconcileIndex     = "reconcile-created_at-index"
)

// CreateIntent stores a newly created payment intent.
func (s *Store) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	item, err := attributevalue.MarshalMap(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal payment intent: %w", err)
	}
	if intent.NeedsReconciliation() {
		item[reconcileAttribute] = &types.AttributeValueMemberS{Value: reconcilePending}
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.Tables.Intents),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create payment intent in DynamoDB: %w", err)
	}
	return nil
}

// GetIntent retrieves a payment intent by its local ID.
func (s *Store) GetIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Tables.Intents),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: intentID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrNotFound
	}

	var intent models.PaymentIntent
	if err := attributevalue.UnmarshalMap(result.Item, &intent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment intent: %w", err)
	}
	return &intent, nil
}

// UpdateIntentStatus records a provider status transition. Settled intents
// are immutable, and an intent reserved for a refund only becomes refunded.
func (s *Store) UpdateIntentStatus(ctx context.Context, intentID string, status models.PaymentStatus, captureID string) error {
	nowAV, err := attributevalue.Marshal(s.now())
	if err != nil {
		return fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	update := "SET #status = :status, updated_at = :now"
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
		":now":    nowAV,
		":false":  &types.AttributeValueMemberBOOL{Value: false},
	}
	names := map[string]string{"#status": "status"}
	if captureID != "" {
		update += ", capture_id = :capture_id"
		values[":capture_id"] = &types.AttributeValueMemberS{Value: captureID}
	}
	if status.Terminal() {
		update += " REMOVE #reconcile"
		names["#reconcile"] = reconcileAttribute
	}
	condition := "attribute_exists(id) AND settled = :false"
	if status != models.PaymentRefunded {
		condition += " AND #status <> :refunding"
		values[":refunding"] = &types.AttributeValueMemberS{Value: string(models.PaymentRefunding)}
	}

	return s.updateIntent(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.Tables.Intents),
		Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: intentID}},
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
}

// ReserveRefund moves an open, unsettled intent to refunding.
func (s *Store) ReserveRefund(ctx context.Context, intentID string) error {
	nowAV, err := attributevalue.Marshal(s.now())
	if err != nil {
		return fmt.Errorf("failed to marshal timestamp: %w", err)
	}
	return s.updateIntent(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.Tables.Intents),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: intentID}},
		UpdateExpression:    aws.String("SET #status = :refunding, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id) AND settled = :false AND NOT #status IN (:failed, :refunded)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":refunding": &types.AttributeValueMemberS{Value: string(models.PaymentRefunding)},
			":failed":    &types.AttributeValueMemberS{Value: string(models.PaymentFailed)},
			":refunded":  &types.AttributeValueMemberS{Value: string(models.PaymentRefunded)},
			":false":     &types.AttributeValueMemberBOOL{Value: false},
			":now":       nowAV,
		},
	})
}

// updateIntent runs a conditional intent update and maps a failed condition
// to ErrNotFound or ErrIntentAlreadySettled.
func (s *Store) updateIntent(ctx context.Context, input *dynamodb.UpdateItemInput) error {
	input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	_, err := s.Client.UpdateItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			if len(condCheckFailed.Item) == 0 {
				return storage.ErrNotFound
			}
			return storage.ErrIntentAlreadySettled
		}
		return fmt.Errorf("failed to update payment intent: %w", err)
	}
	return nil
}

// ListUnsettledIntents queries the sparse reconcile index for intents created
// before the cutoff.
func (s *Store) ListUnsettledIntents(ctx context.Context, createdBefore time.Time) ([]models.PaymentIntent, error) {
	cutoff, err := createdBefore.UTC().MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cutoff time: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Intents),
		IndexName:              aws.String(reconcileIndex),
		KeyConditionExpression: aws.String("#reconcile = :pending AND created_at < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#reconcile": reconcileAttribute,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: reconcilePending},
			":cutoff":  &types.AttributeValueMemberS{Value: string(cutoff)},
		},
	}

	var intents []models.PaymentIntent
	for {
		result, err := s.Client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query unsettled intents: %w", err)
		}
		var page []models.PaymentIntent
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment intents: %w", err)
		}
		intents = append(intents, page...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return intents, nil
}

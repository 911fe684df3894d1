package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
)

// writeKind identifies what a TransactWriteItem guards, so a cancellation
// reason can be mapped back to a storage error.
type writeKind int

const (
	writeBalance writeKind = iota
	writeEntry
	writePurchase
	writeCounter
	writeIntent
)

// Apply commits the unit of work with a single TransactWriteItems call.
// Every balance is written with a version condition, every insert with an
// attribute_not_exists condition, and the intent with settled = false.
func (s *Store) Apply(ctx context.Context, uow *storage.UnitOfWork) error {
	if err := uow.Validate(); err != nil {
		return err
	}
	if uow.Empty() {
		return nil
	}
	now := s.now()

	var items []types.TransactWriteItem
	var kinds []writeKind

	// 1. Balances, guarded by their version.
	for _, c := range uow.Balances {
		b := c.Balance
		expected := b.Version
		b.Version++
		b.UpdatedAt = now
		av, err := attributevalue.MarshalMap(b)
		if err != nil {
			return fmt.Errorf("failed to marshal balance: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.Tables.Balances),
				Item:                av,
				ConditionExpression: aws.String("attribute_exists(user_id) AND version = :version"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":version": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
				},
			},
		})
		kinds = append(kinds, writeBalance)
	}

	// 2. Ledger rows.
	for _, e := range uow.Entries {
		av, err := attributevalue.MarshalMap(e)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger entry: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.Tables.Ledger),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(entry_id)"),
			},
		})
		kinds = append(kinds, writeEntry)
	}

	// 3. The purchase record, unique per (buyer, item).
	if uow.Purchase != nil {
		av, err := marshalPurchase(uow.Purchase)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.Tables.Purchases),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(buyer_id)"),
			},
		})
		kinds = append(kinds, writePurchase)
	}

	// 4. The acquisition counter.
	if uow.AcquiredItemID != "" {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:        aws.String(s.Tables.Items),
				Key:              map[string]types.AttributeValue{"item_id": &types.AttributeValueMemberS{Value: uow.AcquiredItemID}},
				UpdateExpression: aws.String("ADD acquisitions :one"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":one": &types.AttributeValueMemberN{Value: "1"},
				},
			},
		})
		kinds = append(kinds, writeCounter)
	}

	// 5. The payment intent, settled exactly once.
	if in := uow.Intent; in != nil {
		nowAV, err := attributevalue.Marshal(now)
		if err != nil {
			return fmt.Errorf("failed to marshal timestamp: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(s.Tables.Intents),
				Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: in.IntentID}},
				UpdateExpression:    aws.String("SET settled = :true, #status = :status, updated_at = :now REMOVE #reconcile"),
				ConditionExpression: aws.String("attribute_exists(id) AND settled = :false AND #status <> :refunding"),
				ExpressionAttributeNames: map[string]string{
					"#status":    "status",
					"#reconcile": reconcileAttribute,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":true":      &types.AttributeValueMemberBOOL{Value: true},
					":false":     &types.AttributeValueMemberBOOL{Value: false},
					":status":    &types.AttributeValueMemberS{Value: string(in.Status)},
					":refunding": &types.AttributeValueMemberS{Value: string(models.PaymentRefunding)},
					":now":       nowAV,
				},
			},
		})
		kinds = append(kinds, writeIntent)
	}

	_, err := s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return cancellationError(err, kinds)
	}
	return nil
}

// cancellationError maps the first failed condition of a cancelled
// transaction to the matching storage error.
func cancellationError(err error, kinds []writeKind) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("failed to execute unit of work: %w", err)
	}
	for i, reason := range tce.CancellationReasons {
		code := aws.ToString(reason.Code)
		if code == "TransactionConflict" {
			return storage.ErrConcurrencyConflict
		}
		if code != "ConditionalCheckFailed" || i >= len(kinds) {
			continue
		}
		switch kinds[i] {
		case writeBalance:
			return storage.ErrConcurrencyConflict
		case writeEntry:
			return storage.ErrAlreadyExists
		case writePurchase:
			return storage.ErrAlreadyOwned
		case writeIntent:
			return storage.ErrIntentAlreadySettled
		}
	}
	return fmt.Errorf("failed to execute unit of work: %w", err)
}

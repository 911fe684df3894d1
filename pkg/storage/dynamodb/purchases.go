package dynamodb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/shopspring/decimal"
)

// GetPurchase retrieves the purchase record for a (buyer, item) pair.
func (s *Store) GetPurchase(ctx context.Context, buyerID, itemID string) (*models.PurchaseRecord, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.Tables.Purchases),
		Key: map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyerID},
			"item_id":  &types.AttributeValueMemberS{Value: itemID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrNotFound
	}
	return unmarshalPurchase(result.Item)
}

// GetAcquisitions returns how many times an item has been acquired.
func (s *Store) GetAcquisitions(ctx context.Context, itemID string) (int64, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.Tables.Items),
		Key:       map[string]types.AttributeValue{"item_id": &types.AttributeValueMemberS{Value: itemID}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get item counter from DynamoDB: %w", err)
	}
	n, ok := result.Item["acquisitions"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	count, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse acquisitions: %w", err)
	}
	return count, nil
}

// The USD price is stored as a decimal string.
func marshalPurchase(p *models.PurchaseRecord) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purchase: %w", err)
	}
	av["price_usd"] = &types.AttributeValueMemberS{Value: p.PriceUSD.String()}
	return av, nil
}

func unmarshalPurchase(item map[string]types.AttributeValue) (*models.PurchaseRecord, error) {
	var p models.PurchaseRecord
	if err := attributevalue.UnmarshalMap(item, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal purchase: %w", err)
	}
	if s, ok := item["price_usd"].(*types.AttributeValueMemberS); ok {
		price, err := decimal.NewFromString(s.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse purchase price: %w", err)
		}
		p.PriceUSD = price
	}
	return &p, nil
}

package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/chris/coin-settlement/pkg/storage/dynamodb/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTables = Tables{
	Balances:       "balances",
	Ledger:         "ledger",
	Purchases:      "purchases",
	Items:          "items",
	Intents:        "intents",
	Certifications: "certifications",
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestStore(client DynamoDBAPI) *Store {
	s := New(client, testTables)
	s.Now = func() time.Time { return fixedNow }
	return s
}

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestGetBalance(t *testing.T) {
	balance := &models.Balance{UserID: "user1", Analysis: 100, Enhancement: 50, Version: 3}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		av, _ := attributevalue.MarshalMap(balance)
		mockClient.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return aws.ToString(in.TableName) == "balances" && aws.ToBool(in.ConsistentRead)
		})).Return(&dynamodb.GetItemOutput{Item: av}, nil)

		got, err := newTestStore(mockClient).GetBalance(context.Background(), "user1")

		assert.NoError(t, err)
		assert.Equal(t, balance, got)
		mockClient.AssertExpectations(t)
	})

	t.Run("Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: nil}, nil)

		_, err := newTestStore(mockClient).GetBalance(context.Background(), "user1")

		assert.ErrorIs(t, err, storage.ErrNotFound)
		mockClient.AssertExpectations(t)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

		_, err := newTestStore(mockClient).GetBalance(context.Background(), "user1")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get balance from DynamoDB")
		mockClient.AssertExpectations(t)
	})
}

func TestCreateBalance(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			return aws.ToString(in.ConditionExpression) == "attribute_not_exists(user_id)"
		})).Return(&dynamodb.PutItemOutput{}, nil)

		b := &models.Balance{UserID: "user1", Analysis: 100}
		err := newTestStore(mockClient).CreateBalance(context.Background(), b)

		assert.NoError(t, err)
		assert.Equal(t, int64(1), b.Version)
		mockClient.AssertExpectations(t)
	})

	t.Run("Conflict", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

		err := newTestStore(mockClient).CreateBalance(context.Background(), &models.Balance{UserID: "user1"})

		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
		mockClient.AssertExpectations(t)
	})
}

func transferUnit() *storage.UnitOfWork {
	return &storage.UnitOfWork{
		Balances: []storage.BalanceChange{
			{Balance: models.Balance{UserID: "buyer", Enhancement: 30, Version: 4}},
			{Balance: models.Balance{UserID: "seller", Analysis: 100, Version: 1}},
		},
		Entries: []models.LedgerEntry{
			{EntryID: "e1", UserID: "buyer", Amount: -100, Direction: models.DirectionSpend, Category: models.CategoryPooled},
			{EntryID: "e2", UserID: "seller", Amount: 100, Direction: models.DirectionEarn, Category: models.CategoryAnalysis},
		},
		Purchase: &models.PurchaseRecord{
			TransactionID: "tx1",
			BuyerID:       "buyer",
			SellerID:      "seller",
			ItemID:        "item1",
			PriceUSD:      decimal.RequireFromString("1.00"),
			PriceCoins:    100,
			PaymentMethod: models.PaymentMethodCoins,
		},
		AcquiredItemID: "item1",
		Intent:         &storage.IntentSettlement{IntentID: "intent1", Status: models.PaymentConfirmed},
	}
}

func TestApply(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		var captured *dynamodb.TransactWriteItemsInput
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
			Return(&dynamodb.TransactWriteItemsOutput{}, nil)

		err := newTestStore(mockClient).Apply(context.Background(), transferUnit())
		require.NoError(t, err)
		require.Len(t, captured.TransactItems, 7)

		// The buyer row is written at version+1 and guarded by the version read.
		buyer := captured.TransactItems[0].Put
		assert.Equal(t, "balances", aws.ToString(buyer.TableName))
		assert.Equal(t, &types.AttributeValueMemberN{Value: "4"}, buyer.ExpressionAttributeValues[":version"])
		var written models.Balance
		require.NoError(t, attributevalue.UnmarshalMap(buyer.Item, &written))
		assert.Equal(t, int64(5), written.Version)
		assert.Equal(t, int64(30), written.Enhancement)

		purchase := captured.TransactItems[4].Put
		assert.Equal(t, "purchases", aws.ToString(purchase.TableName))
		assert.Equal(t, &types.AttributeValueMemberS{Value: "1"}, purchase.Item["price_usd"])

		assert.Equal(t, "ADD acquisitions :one", aws.ToString(captured.TransactItems[5].Update.UpdateExpression))
		assert.Equal(t, "attribute_exists(id) AND settled = :false AND #status <> :refunding", aws.ToString(captured.TransactItems[6].Update.ConditionExpression))
		mockClient.AssertExpectations(t)
	})

	tests := []struct {
		name  string
		codes []string
		want  error
	}{
		{"Version Conflict", []string{"ConditionalCheckFailed", "None", "None", "None", "None", "None", "None"}, storage.ErrConcurrencyConflict},
		{"Duplicate Entry", []string{"None", "None", "ConditionalCheckFailed", "None", "None", "None", "None"}, storage.ErrAlreadyExists},
		{"Already Owned", []string{"None", "None", "None", "None", "ConditionalCheckFailed", "None", "None"}, storage.ErrAlreadyOwned},
		{"Intent Settled", []string{"None", "None", "None", "None", "None", "None", "ConditionalCheckFailed"}, storage.ErrIntentAlreadySettled},
		{"Transaction Conflict", []string{"None", "TransactionConflict"}, storage.ErrConcurrencyConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(mocks.DynamoDBAPI)
			mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(tt.codes...))

			err := newTestStore(mockClient).Apply(context.Background(), transferUnit())

			assert.ErrorIs(t, err, tt.want)
			mockClient.AssertExpectations(t)
		})
	}

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, errors.New("service unavailable"))

		err := newTestStore(mockClient).Apply(context.Background(), transferUnit())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to execute unit of work")
		mockClient.AssertExpectations(t)
	})

	t.Run("Negative Balance Rejected Before Write", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		uow := &storage.UnitOfWork{Balances: []storage.BalanceChange{{Balance: models.Balance{UserID: "u", Exam: -1}}}}

		err := newTestStore(mockClient).Apply(context.Background(), uow)

		assert.ErrorIs(t, err, storage.ErrInsufficientFunds)
		mockClient.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	})
}

func TestGetPurchase(t *testing.T) {
	record := &models.PurchaseRecord{
		TransactionID: "tx1",
		BuyerID:       "buyer",
		SellerID:      "seller",
		ItemID:        "item1",
		PriceUSD:      decimal.RequireFromString("12.5"),
		PriceCoins:    1250,
		PaymentMethod: "orders",
		CreatedAt:     fixedNow,
	}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		av, err := marshalPurchase(record)
		require.NoError(t, err)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: av}, nil)

		got, err := newTestStore(mockClient).GetPurchase(context.Background(), "buyer", "item1")

		require.NoError(t, err)
		assert.True(t, record.PriceUSD.Equal(got.PriceUSD))
		assert.Equal(t, record.PriceCoins, got.PriceCoins)
		assert.Equal(t, record.PaymentMethod, got.PaymentMethod)
		mockClient.AssertExpectations(t)
	})

	t.Run("Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		_, err := newTestStore(mockClient).GetPurchase(context.Background(), "buyer", "item1")

		assert.ErrorIs(t, err, storage.ErrNotFound)
		mockClient.AssertExpectations(t)
	})
}

func TestGetAcquisitions(t *testing.T) {
	mockClient := new(mocks.DynamoDBAPI)
	mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{
		Item: map[string]types.AttributeValue{
			"item_id":      &types.AttributeValueMemberS{Value: "item1"},
			"acquisitions": &types.AttributeValueMemberN{Value: "42"},
		},
	}, nil).Once()
	mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

	store := newTestStore(mockClient)
	n, err := store.GetAcquisitions(context.Background(), "item1")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), n)

	n, err = store.GetAcquisitions(context.Background(), "never-sold")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
	mockClient.AssertExpectations(t)
}

func TestIntents(t *testing.T) {
	intent := &models.PaymentIntent{
		ID:          "intent1",
		Processor:   "rest",
		ExternalID:  "pay_1",
		Purpose:     models.PurposePurchase,
		BuyerID:     "buyer",
		SellerID:    "seller",
		ItemID:      "item1",
		AmountMinor: 250,
		Currency:    "USD",
		Status:      models.PaymentCreated,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}

	t.Run("Create Marks For Reconciliation", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			return assert.ObjectsAreEqual(&types.AttributeValueMemberS{Value: reconcilePending}, in.Item[reconcileAttribute])
		})).Return(&dynamodb.PutItemOutput{}, nil)

		assert.NoError(t, newTestStore(mockClient).CreateIntent(context.Background(), intent))
		mockClient.AssertExpectations(t)
	})

	t.Run("Update Settled Intent", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		old, _ := attributevalue.MarshalMap(intent)
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{Item: old})

		err := newTestStore(mockClient).UpdateIntentStatus(context.Background(), "intent1", models.PaymentConfirmed, "cap_1")

		assert.ErrorIs(t, err, storage.ErrIntentAlreadySettled)
		mockClient.AssertExpectations(t)
	})

	t.Run("Update Missing Intent", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

		err := newTestStore(mockClient).UpdateIntentStatus(context.Background(), "missing", models.PaymentFailed, "")

		assert.ErrorIs(t, err, storage.ErrNotFound)
		mockClient.AssertExpectations(t)
	})

	t.Run("Terminal Status Leaves The Index", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return aws.ToString(in.UpdateExpression) == "SET #status = :status, updated_at = :now REMOVE #reconcile"
		})).Return(&dynamodb.UpdateItemOutput{}, nil)

		err := newTestStore(mockClient).UpdateIntentStatus(context.Background(), "intent1", models.PaymentFailed, "")

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Update Guards Refund Reservation", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return aws.ToString(in.ConditionExpression) == "attribute_exists(id) AND settled = :false AND #status <> :refunding"
		})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()
		mockClient.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return aws.ToString(in.ConditionExpression) == "attribute_exists(id) AND settled = :false"
		})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

		store := newTestStore(mockClient)
		require.NoError(t, store.UpdateIntentStatus(context.Background(), "intent1", models.PaymentConfirmed, ""))
		require.NoError(t, store.UpdateIntentStatus(context.Background(), "intent1", models.PaymentRefunded, ""))

		mockClient.AssertExpectations(t)
	})

	t.Run("Reserve Refund", func(t *testing.T) {
		// Arrange
		mockClient := new(mocks.DynamoDBAPI)
		var captured *dynamodb.UpdateItemInput
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			captured = args.Get(1).(*dynamodb.UpdateItemInput)
		}).Return(&dynamodb.UpdateItemOutput{}, nil)

		// Act
		err := newTestStore(mockClient).ReserveRefund(context.Background(), "intent1")

		// Assert
		require.NoError(t, err)
		require.NotNil(t, captured)
		assert.Equal(t, "SET #status = :refunding, updated_at = :now", aws.ToString(captured.UpdateExpression))
		assert.Contains(t, aws.ToString(captured.ConditionExpression), "settled = :false")
		assert.Equal(t, &types.AttributeValueMemberS{Value: "refunding"}, captured.ExpressionAttributeValues[":refunding"])
		mockClient.AssertExpectations(t)
	})

	t.Run("Reserve Refund On Settled Intent", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		settled := *intent
		settled.Settled = true
		old, _ := attributevalue.MarshalMap(settled)
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{Item: old})

		err := newTestStore(mockClient).ReserveRefund(context.Background(), "intent1")

		assert.ErrorIs(t, err, storage.ErrIntentAlreadySettled)
		mockClient.AssertExpectations(t)
	})

	t.Run("List Unsettled Follows Pages", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		first, _ := attributevalue.MarshalMap(intent)
		second := *intent
		second.ID = "intent2"
		secondAV, _ := attributevalue.MarshalMap(second)
		lastKey := map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "intent1"}}

		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return in.ExclusiveStartKey == nil
		})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{first}, LastEvaluatedKey: lastKey}, nil).Once()
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return in.ExclusiveStartKey != nil && aws.ToString(in.IndexName) == reconcileIndex
		})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{secondAV}}, nil).Once()

		got, err := newTestStore(mockClient).ListUnsettledIntents(context.Background(), fixedNow)

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "intent1", got[0].ID)
		assert.Equal(t, "intent2", got[1].ID)
		mockClient.AssertExpectations(t)
	})
}

func TestCertifications(t *testing.T) {
	t.Run("Record Attempt Uses Typed Sort Key", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			sk, ok := in.Item["sk"].(*types.AttributeValueMemberS)
			return ok && sk.Value == "ATTEMPT#intermediate#2026-05-04T10:00:00Z#a1" && aws.ToString(in.TableName) == "certifications"
		})).Return(&dynamodb.PutItemOutput{}, nil)

		err := newTestStore(mockClient).RecordAttempt(context.Background(), &models.QuizAttempt{
			AttemptID:   "a1",
			UserID:      "user1",
			Level:       models.LevelIntermediate,
			AttemptedAt: fixedNow,
		})

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("List Certificates", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		cert := models.Certificate{UserID: "user1", Level: models.LevelBeginner, IssuedAt: fixedNow, ExpiresAt: fixedNow.Add(time.Hour)}
		av, _ := attributevalue.MarshalMap(cert)
		av["sk"] = &types.AttributeValueMemberS{Value: "CERT#beginner"}
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return assert.ObjectsAreEqual(&types.AttributeValueMemberS{Value: certPrefix}, in.ExpressionAttributeValues[":prefix"])
		})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{av}}, nil)

		got, err := newTestStore(mockClient).ListCertificates(context.Background(), "user1")

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, models.LevelBeginner, got[0].Level)
		assert.True(t, got[0].ExpiresAt.Equal(cert.ExpiresAt))
		mockClient.AssertExpectations(t)
	})
}

package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/coin-settlement/pkg/models"
)

// Certificates and attempts share one table keyed by user_id with a typed
// sort key: CERT#<level> and ATTEMPT#<level>#<attempted_at>#<attempt_id>.
const (
	certPrefix    = "CERT#"
	attemptPrefix = "ATTEMPT#"
)

func (s *Store) ListCertificates(ctx context.Context, userID string) ([]models.Certificate, error) {
	var certs []models.Certificate
	if err := s.queryPrefix(ctx, userID, certPrefix, &certs); err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	return certs, nil
}

func (s *Store) ListAttempts(ctx context.Context, userID string, level models.Level) ([]models.QuizAttempt, error) {
	var attempts []models.QuizAttempt
	if err := s.queryPrefix(ctx, userID, attemptPrefix+string(level)+"#", &attempts); err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	return attempts, nil
}

func (s *Store) RecordAttempt(ctx context.Context, attempt *models.QuizAttempt) error {
	sk := fmt.Sprintf("%s%s#%s#%s", attemptPrefix, attempt.Level, attempt.AttemptedAt.UTC().Format(time.RFC3339Nano), attempt.AttemptID)
	if err := s.putWithSortKey(ctx, attempt, sk); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (s *Store) UpsertCertificate(ctx context.Context, cert *models.Certificate) error {
	if err := s.putWithSortKey(ctx, cert, certPrefix+string(cert.Level)); err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	return nil
}

func (s *Store) putWithSortKey(ctx context.Context, v any, sk string) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return err
	}
	item["sk"] = &types.AttributeValueMemberS{Value: sk}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Tables.Certifications),
		Item:      item,
	})
	return err
}

func (s *Store) queryPrefix(ctx context.Context, userID, prefix string, out any) error {
	result, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Certifications),
		KeyConditionExpression: aws.String("user_id = :user_id AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: userID},
			":prefix":  &types.AttributeValueMemberS{Value: prefix},
		},
	})
	if err != nil {
		return err
	}
	return attributevalue.UnmarshalListOfMaps(result.Items, out)
}

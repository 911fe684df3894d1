package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/chris/coin-settlement/pkg/models"
)

func (s *Store) ListCertificates(ctx context.Context, userID string) ([]models.Certificate, error) {
	rows, err := s.db.Query(ctx, "SELECT user_id, level, issued_at, expires_at FROM certificates WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer rows.Close()

	var certs []models.Certificate
	for rows.Next() {
		var c models.Certificate
		if err := rows.Scan(&c.UserID, &c.Level, &c.IssuedAt, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

func (s *Store) ListAttempts(ctx context.Context, userID string, level models.Level) ([]models.QuizAttempt, error) {
	query, args, err := psql.Select("attempt_id", "user_id", "level", "passed", "attempted_at").
		From("quiz_attempts").
		Where(sq.Eq{"user_id": userID, "level": string(level)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build attempts query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.QuizAttempt
	for rows.Next() {
		var a models.QuizAttempt
		if err := rows.Scan(&a.AttemptID, &a.UserID, &a.Level, &a.Passed, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *Store) RecordAttempt(ctx context.Context, a *models.QuizAttempt) error {
	query, args, err := psql.Insert("quiz_attempts").
		Columns("attempt_id", "user_id", "level", "passed", "attempted_at").
		Values(a.AttemptID, a.UserID, string(a.Level), a.Passed, a.AttemptedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build attempt insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (s *Store) UpsertCertificate(ctx context.Context, c *models.Certificate) error {
	query, args, err := psql.Insert("certificates").
		Columns("user_id", "level", "issued_at", "expires_at").
		Values(c.UserID, string(c.Level), c.IssuedAt, c.ExpiresAt).
		Suffix("ON CONFLICT (user_id, level) DO UPDATE SET issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build certificate upsert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	return nil
}

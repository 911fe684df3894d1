// Package postgres implements the storage interfaces on PostgreSQL with pgx
// and squirrel. A unit of work runs in one database transaction with the
// touched balance rows locked FOR UPDATE.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db     DB
	logger *slog.Logger
	now    func() time.Time
}

// Make sure we conform to the interfaces
var (
	_ storage.Storage            = (*Store)(nil)
	_ storage.CertificationStore = (*Store)(nil)
)

func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

var balanceColumns = []string{"user_id", "analysis", "enhancement", "exam", "export", "version", "created_at", "updated_at"}

func (s *Store) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	query, args, err := psql.Select(balanceColumns...).
		From("balances").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build balance query: %w", err)
	}

	var b models.Balance
	err = s.db.QueryRow(ctx, query, args...).Scan(&b.UserID, &b.Analysis, &b.Enhancement, &b.Exam, &b.Export, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}

func (s *Store) CreateBalance(ctx context.Context, b *models.Balance) error {
	if b.Version == 0 {
		b.Version = 1
	}
	now := s.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	query, args, err := psql.Insert("balances").
		Columns(balanceColumns...).
		Values(b.UserID, b.Analysis, b.Enhancement, b.Exam, b.Export, b.Version, b.CreatedAt, b.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build balance insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		s.logger.Error("SQL error", "error", err, "query", query)
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, userID string, limit int32) ([]models.LedgerEntry, error) {
	b := psql.Select("entry_id", "user_id", "amount", "type", "category", "reference_type", "reference_id", "description", "created_at").
		From("ledger_entries").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "entry_id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.UserID, &e.Amount, &e.Direction, &e.Category, &e.ReferenceType, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

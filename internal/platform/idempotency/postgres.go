package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDB is the subset of pgxpool.Pool used by PostgresStore.
type PostgresDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on the idempotency_records table whose primary key is (key, scope).
type PostgresStore struct {
	db PostgresDB
}

// NewPostgresStore constructs a Postgres-backed idempotency store.
func NewPostgresStore(db PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key, scope string) (Record, error) {
	var (
		rec    Record
		status string
	)
	err := s.db.QueryRow(ctx, `
		SELECT key, scope, request_hash, status, response_status, response_body, created_at, updated_at, expires_at
		FROM idempotency_records
		WHERE key = $1 AND scope = $2`, key, scope).
		Scan(&rec.Key, &rec.Scope, &rec.RequestHash, &status, &rec.ResponseStatus, &rec.ResponseBody, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, record Record) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO idempotency_records (key, scope, request_hash, status, response_status, response_body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key, scope) DO NOTHING`,
		record.Key, record.Scope, record.RequestHash, string(record.Status), record.ResponseStatus,
		cloneBody(record.ResponseBody), record.CreatedAt, record.UpdatedAt, record.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Complete implements Store.
func (s *PostgresStore) Complete(ctx context.Context, key, scope, requestHash string, status int, body []byte, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $4, response_status = $5, response_body = $6, updated_at = $7
		WHERE key = $1 AND scope = $2 AND request_hash = $3`,
		key, scope, requestHash, string(StatusCompleted), status, cloneBody(body), now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key, scope, requestHash string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_records WHERE key = $1 AND scope = $2 AND request_hash = $3`, key, scope, requestHash)
	return err
}

// CleanupExpired implements Store.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tag, err := s.db.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE (key, scope) IN (
			SELECT key, scope FROM idempotency_records WHERE expires_at <= $1 LIMIT $2
		)`, now, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

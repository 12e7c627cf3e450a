package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoredResponse is one Idempotency-Key as seen by a single user. While the
// first request is still running it holds only the request hash.
type StoredResponse struct {
	Key          string
	UserID       uuid.UUID
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
	CompletedAt  *time.Time
	ExpiresAt    time.Time
}

func (s *StoredResponse) Completed() bool { return s.CompletedAt != nil }

const storedResponseColumns = `idempotency_key, user_id, request_hash, status_code, response_body, created_at, completed_at, expires_at`

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Reserve claims key for the caller. It returns nil when the claim succeeded,
// otherwise the live entry that holds the key, finished or not. An expired
// entry is taken over.
func (r *IdempotencyRepository) Reserve(ctx context.Context, key string, userID uuid.UUID, requestHash string, ttl time.Duration) (*StoredResponse, error) {
	// The second pass covers an entry that expired between the two statements.
	for range 2 {
		claimed, err := r.claim(ctx, key, userID, requestHash, ttl)
		if err != nil {
			return nil, fmt.Errorf("Reserve: %w", err)
		}
		if claimed {
			return nil, nil
		}

		held, err := r.Get(ctx, key, userID)
		if err != nil {
			return nil, fmt.Errorf("Reserve: %w", err)
		}
		if held != nil {
			return held, nil
		}
	}
	return nil, fmt.Errorf("Reserve: key %s neither claimable nor held", key)
}

func (r *IdempotencyRepository) claim(ctx context.Context, key string, userID uuid.UUID, requestHash string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_cache (idempotency_key, user_id, request_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key, user_id) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
			status_code = NULL,
			response_body = NULL,
			created_at = EXCLUDED.created_at,
			completed_at = NULL,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_cache.expires_at <= now()`,
		key, userID, requestHash, now, now.Add(ttl),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string, userID uuid.UUID) (*StoredResponse, error) {
	var (
		e      StoredResponse
		status sql.NullInt32
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+storedResponseColumns+`
		FROM idempotency_cache
		WHERE idempotency_key = $1 AND user_id = $2 AND expires_at > now()`,
		key, userID,
	).Scan(&e.Key, &e.UserID, &e.RequestHash, &status, &e.ResponseBody, &e.CreatedAt, &e.CompletedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	e.StatusCode = int(status.Int32)
	return &e, nil
}

// Complete records the response for a reserved key.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, userID uuid.UUID, statusCode int, body []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE idempotency_cache
		SET status_code = $3, response_body = $4, completed_at = now()
		WHERE idempotency_key = $1 AND user_id = $2 AND completed_at IS NULL`,
		key, userID, statusCode, body,
	)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Complete: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Complete: key %s not reserved", key)
	}
	return nil
}

// Release drops an unfinished reservation so the key can be retried.
func (r *IdempotencyRepository) Release(ctx context.Context, key string, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_cache WHERE idempotency_key = $1 AND user_id = $2 AND completed_at IS NULL`,
		key, userID,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

// CleanExpired deletes entries past their expiry, reservations included.
func (r *IdempotencyRepository) CleanExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_cache WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: rows affected: %w", err)
	}
	return n, nil
}

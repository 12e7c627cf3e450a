package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

const gatewayCallbackColumns = `id, idempotency_key, kind, payload, status,
	attempts, last_attempt, created_at`

type GatewayCallbackRepository struct {
	db *sql.DB
}

func NewGatewayCallbackRepository(db *sql.DB) *GatewayCallbackRepository {
	return &GatewayCallbackRepository{db: db}
}

func (r *GatewayCallbackRepository) Create(ctx context.Context, cb *domain.GatewayCallback) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_callbacks (`+gatewayCallbackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cb.ID, cb.IdempotencyKey, cb.Kind, []byte(cb.Payload),
		cb.Status, cb.Attempts, cb.LastAttempt, cb.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending moves up to limit pending callbacks to processing and returns them.
// SKIP LOCKED lets several processors poll the same table without double claims.
func (r *GatewayCallbackRepository) ClaimPending(ctx context.Context, limit int) ([]domain.GatewayCallback, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE gateway_callbacks SET status = $1, attempts = attempts + 1, last_attempt = now()
		WHERE id IN (
			SELECT id FROM gateway_callbacks
			WHERE status = $2 ORDER BY created_at LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+gatewayCallbackColumns,
		domain.GatewayCallbackStatusProcessing, domain.GatewayCallbackStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var callbacks []domain.GatewayCallback
	for rows.Next() {
		cb, err := scanGatewayCallback(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		callbacks = append(callbacks, *cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return callbacks, nil
}

func (r *GatewayCallbackRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.GatewayCallbackStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE gateway_callbacks SET status = $1, last_attempt = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func scanGatewayCallback(s scanner) (*domain.GatewayCallback, error) {
	var cb domain.GatewayCallback
	var payload []byte
	err := s.Scan(
		&cb.ID, &cb.IdempotencyKey, &cb.Kind, &payload,
		&cb.Status, &cb.Attempts, &cb.LastAttempt, &cb.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	cb.Payload = payload
	return &cb, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

const settlementEventColumns = `id, settlement_id, event_type, actor, payload, created_at`

type SettlementEventRepository struct {
	db *sql.DB
}

func NewSettlementEventRepository(db *sql.DB) *SettlementEventRepository {
	return &SettlementEventRepository{db: db}
}

func (r *SettlementEventRepository) Create(ctx context.Context, tx *sql.Tx, event *domain.SettlementEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settlement_events (`+settlementEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.SettlementID, event.EventType, event.Actor,
		nullJSON(event.Payload), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *SettlementEventRepository) GetBySettlementID(ctx context.Context, settlementID uuid.UUID) ([]domain.SettlementEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+settlementEventColumns+` FROM settlement_events
		WHERE settlement_id = $1 ORDER BY created_at, id`, settlementID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetBySettlementID: %w", err)
	}
	defer rows.Close()

	var events []domain.SettlementEvent
	for rows.Next() {
		e, err := scanSettlementEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetBySettlementID: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetBySettlementID: rows: %w", err)
	}
	return events, nil
}

func scanSettlementEvent(s scanner) (*domain.SettlementEvent, error) {
	var e domain.SettlementEvent
	var payload *[]byte
	err := s.Scan(&e.ID, &e.SettlementID, &e.EventType, &e.Actor, &payload, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		e.Payload = *payload
	}
	return &e, nil
}

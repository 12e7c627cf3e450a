package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

type callbackRepository interface {
	ClaimPending(ctx context.Context, limit int) ([]domain.GatewayCallback, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.GatewayCallbackStatus) error
}

type bookingLookup interface {
	GetBookingByChargeRequest(ctx context.Context, gatewayRequestID string) (uuid.UUID, error)
}

type chargeHandler interface {
	CreateReconciliation(ctx context.Context, bookingID uuid.UUID, cb domain.ChargeResult) (*domain.Reconciliation, domain.Outcome, error)
	RecordChargeFailure(ctx context.Context, bookingID uuid.UUID, cb domain.ChargeResult) (*domain.Reconciliation, error)
}

type transferHandler interface {
	ApplyTransferResult(ctx context.Context, result domain.TransferResult) (*domain.Settlement, error)
}

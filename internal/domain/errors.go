package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidState            = errors.New("invalid state")
	ErrConflict                = errors.New("conflict")
	ErrGateway                 = errors.New("payment gateway error")
	ErrGatewayTimeout          = errors.New("payment gateway timeout")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidAmount           = errors.New("amount must not be negative")
	ErrInvalidPeriod           = errors.New("period start must not be after period end")
	ErrInvalidCommission       = errors.New("commission percentage must be between 0 and 100")
	ErrVersionConflict         = errors.New("optimistic lock conflict")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrForbidden               = errors.New("forbidden")
)

// SettlementConflictError reports an active settlement that already covers part of
// the requested hostel period.
type SettlementConflictError struct {
	Existing *Settlement
}

func (e *SettlementConflictError) Error() string {
	return fmt.Sprintf("active settlement %s already covers %s to %s",
		e.Existing.Reference,
		e.Existing.PeriodStart.Format("2006-01-02"),
		e.Existing.PeriodEnd.Format("2006-01-02"),
	)
}

func (e *SettlementConflictError) Unwrap() error { return ErrConflict }

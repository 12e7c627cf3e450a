package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReconciliationStatus string

const (
	ReconciliationStatusPending    ReconciliationStatus = "pending"
	ReconciliationStatusReceived   ReconciliationStatus = "received"
	ReconciliationStatusVerified   ReconciliationStatus = "verified"
	ReconciliationStatusReconciled ReconciliationStatus = "reconciled"
	ReconciliationStatusFailed     ReconciliationStatus = "failed"
	ReconciliationStatusReversed   ReconciliationStatus = "reversed"
)

func (s ReconciliationStatus) IsValid() bool {
	switch s {
	case ReconciliationStatusPending, ReconciliationStatusReceived, ReconciliationStatusVerified,
		ReconciliationStatusReconciled, ReconciliationStatusFailed, ReconciliationStatusReversed:
		return true
	}
	return false
}

// CanVerify reports whether a record in this status may move to verified.
// Verified itself is accepted so that repeated verification is a no-op.
func (s ReconciliationStatus) CanVerify() bool {
	switch s {
	case ReconciliationStatusPending, ReconciliationStatusReceived, ReconciliationStatusVerified:
		return true
	}
	return false
}

// IsPreReconciled is true for the states from which failure or reversal is allowed.
func (s ReconciliationStatus) IsPreReconciled() bool {
	switch s {
	case ReconciliationStatusPending, ReconciliationStatusReceived, ReconciliationStatusVerified:
		return true
	}
	return false
}

func (s ReconciliationStatus) IsTerminal() bool {
	return s == ReconciliationStatusFailed || s == ReconciliationStatusReversed
}

type Reconciliation struct {
	ID                uuid.UUID
	BookingID         uuid.UUID
	HostelID          uuid.UUID
	HostelOwnerID     uuid.UUID
	TransactionID     string
	ReceiptNumber     *string
	GuestPhone        *string
	GrossAmount       int64
	CommissionPct     decimal.Decimal
	CommissionAmount  int64
	TaxAmount         int64
	HostPayableAmount int64
	Currency          string
	Status            ReconciliationStatus
	ReceivedAt        *time.Time
	VerifiedAt        *time.Time
	VerifiedBy        *uuid.UUID
	ReconciledAt      *time.Time
	FailureReason     *string
	Notes             *string
	IsDisputed        bool
	DisputeReason     *string
	DisputeResolvedAt *time.Time
	DisputeResolution *string
	GatewayResponse   json.RawMessage
	Attempts          int
	CreatedBy         string
	LastUpdatedBy     string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SplitBalanced checks gross = commission + tax + host payable.
func (r *Reconciliation) SplitBalanced() bool {
	return r.GrossAmount == r.CommissionAmount+r.TaxAmount+r.HostPayableAmount
}

type ReconciliationFilter struct {
	Status        *ReconciliationStatus
	HostelID      *uuid.UUID
	HostelOwnerID *uuid.UUID
	TransactionID string
}

// HostEarnings summarises what a hostel owner earned and was paid over a window.
type HostEarnings struct {
	HostelOwnerID      uuid.UUID
	PeriodStart        time.Time
	PeriodEnd          time.Time
	GrossAmount        int64
	CommissionAmount   int64
	Earnings           int64
	PaidOut            int64
	Outstanding        int64
	TransactionCount   int
	SettlementCount    int
	PendingVerifyCount int
}

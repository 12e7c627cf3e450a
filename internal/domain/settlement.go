package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusApproved  PayoutStatus = "approved"
	PayoutStatusScheduled PayoutStatus = "scheduled"
	PayoutStatusProcessed PayoutStatus = "processed"
	PayoutStatusFailed    PayoutStatus = "failed"
	PayoutStatusCancelled PayoutStatus = "cancelled"
)

func (s PayoutStatus) IsValid() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusApproved, PayoutStatusScheduled,
		PayoutStatusProcessed, PayoutStatusFailed, PayoutStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether a settlement in this status still owns its period.
func (s PayoutStatus) IsActive() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusApproved, PayoutStatusScheduled, PayoutStatusProcessed:
		return true
	}
	return false
}

func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusProcessed || s == PayoutStatusCancelled
}

// ActivePayoutStatuses lists the statuses that block an overlapping settlement.
var ActivePayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusApproved,
	PayoutStatusScheduled,
	PayoutStatusProcessed,
}

type PayoutMethod string

const (
	PayoutMethodMobileMoney  PayoutMethod = "mobile_money"
	PayoutMethodBankTransfer PayoutMethod = "bank_transfer"
	PayoutMethodManual       PayoutMethod = "manual"
)

type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	SwiftCode     string `json:"swift_code,omitempty"`
}

type Approval struct {
	ID           uuid.UUID
	SettlementID uuid.UUID
	ApprovedBy   uuid.UUID
	Role         Role
	Notes        *string
	ApprovedAt   time.Time
}

type Settlement struct {
	ID                    uuid.UUID
	Reference             string
	HostelID              uuid.UUID
	HostelOwnerID         uuid.UUID
	PeriodStart           time.Time
	PeriodEnd             time.Time
	TotalGrossAmount      int64
	TotalCommissionAmount int64
	TotalTaxAmount        int64
	TotalPayableAmount    int64
	TransactionCount      int
	Currency              string
	PayoutStatus          PayoutStatus
	PayoutMethod          PayoutMethod
	PayoutPhone           *string
	PayoutBank            *BankDetails
	PayoutDate            *time.Time
	ProcessedDate         *time.Time
	PayoutTransactionID   *string
	OnHold                bool
	HoldReason            *string
	HeldAt                *time.Time
	ReleasedAt            *time.Time
	AdminNotes            *string
	IsDisputed            bool
	DisputeReason         *string
	DisputedBy            *uuid.UUID
	DisputeResolvedAt     *time.Time
	DisputeResolution     *string
	CreatedBy             uuid.UUID
	LastUpdatedBy         *uuid.UUID
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Approvals             []Approval
	ReconciliationIDs     []uuid.UUID
}

// CanBeProcessed gates payout: approved, not held, approved at least once and
// not under dispute.
func (s *Settlement) CanBeProcessed() error {
	if s.PayoutStatus != PayoutStatusApproved {
		return fmt.Errorf("settlement is %s, payout requires approved: %w", s.PayoutStatus, ErrInvalidState)
	}
	if s.OnHold {
		return fmt.Errorf("settlement is on hold: %w", ErrInvalidState)
	}
	if len(s.Approvals) == 0 {
		return fmt.Errorf("settlement has no approvals: %w", ErrInvalidState)
	}
	if s.IsDisputed {
		return fmt.Errorf("settlement is under dispute: %w", ErrInvalidState)
	}
	return nil
}

// AppendAdminNote adds a line to the admin notes.
func (s *Settlement) AppendAdminNote(note string) {
	if s.AdminNotes == nil || *s.AdminNotes == "" {
		s.AdminNotes = &note
		return
	}
	joined := *s.AdminNotes + "\n" + note
	s.AdminNotes = &joined
}

// Overlaps reports whether the settlement period intersects [start, end].
func (s *Settlement) Overlaps(start, end time.Time) bool {
	return !s.PeriodStart.After(end) && !s.PeriodEnd.Before(start)
}

// SamePeriod reports whether the settlement covers exactly [start, end].
func (s *Settlement) SamePeriod(start, end time.Time) bool {
	return s.PeriodStart.Equal(start) && s.PeriodEnd.Equal(end)
}

type SettlementFilter struct {
	HostelID      *uuid.UUID
	HostelOwnerID *uuid.UUID
	PayoutStatus  *PayoutStatus
	StartDate     *time.Time
	EndDate       *time.Time
}

type StatusStats struct {
	PayoutStatus PayoutStatus
	Count        int
	TotalAmount  int64
	AvgAmount    int64
}

type SettlementStats struct {
	ByStatus          []StatusStats
	TotalSettlements  int
	TotalPaidOut      int64
	TotalPending      int64
	TotalPlatformFees int64
	TotalGrossAmount  int64
}

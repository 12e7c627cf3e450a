package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

type approvalDTO struct {
	ApprovedBy uuid.UUID `json:"approved_by"`
	Role       string    `json:"role"`
	Notes      *string   `json:"notes,omitempty"`
	ApprovedAt time.Time `json:"approved_at"`
}

type settlementDTO struct {
	ID                    uuid.UUID           `json:"id"`
	Reference             string              `json:"settlement_reference"`
	HostelID              uuid.UUID           `json:"hostel_id"`
	HostelOwnerID         uuid.UUID           `json:"hostel_owner_id"`
	PeriodStart           string              `json:"period_start"`
	PeriodEnd             string              `json:"period_end"`
	TotalGrossAmount      int64               `json:"total_gross_amount"`
	TotalCommissionAmount int64               `json:"total_commission_amount"`
	TotalTaxAmount        int64               `json:"total_tax_amount"`
	TotalPayableAmount    int64               `json:"total_payable_amount"`
	TransactionCount      int                 `json:"transaction_count"`
	Currency              string              `json:"currency"`
	PayoutStatus          string              `json:"payout_status"`
	PayoutMethod          string              `json:"payout_method"`
	PayoutPhone           *string             `json:"payout_phone,omitempty"`
	PayoutBank            *domain.BankDetails `json:"payout_bank,omitempty"`
	PayoutDate            *time.Time          `json:"payout_date,omitempty"`
	ProcessedDate         *time.Time          `json:"processed_date,omitempty"`
	PayoutTransactionID   *string             `json:"payout_transaction_id,omitempty"`
	OnHold                bool                `json:"on_hold"`
	HoldReason            *string             `json:"hold_reason,omitempty"`
	AdminNotes            *string             `json:"admin_notes,omitempty"`
	IsDisputed            bool                `json:"is_disputed"`
	DisputeReason         *string             `json:"dispute_reason,omitempty"`
	DisputeResolution     *string             `json:"dispute_resolution,omitempty"`
	Approvals             []approvalDTO       `json:"approvals"`
	Version               int64               `json:"version"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

func toSettlementDTO(s *domain.Settlement) settlementDTO {
	approvals := make([]approvalDTO, 0, len(s.Approvals))
	for _, a := range s.Approvals {
		approvals = append(approvals, approvalDTO{
			ApprovedBy: a.ApprovedBy,
			Role:       string(a.Role),
			Notes:      a.Notes,
			ApprovedAt: a.ApprovedAt,
		})
	}
	return settlementDTO{
		ID:                    s.ID,
		Reference:             s.Reference,
		HostelID:              s.HostelID,
		HostelOwnerID:         s.HostelOwnerID,
		PeriodStart:           s.PeriodStart.Format(dateLayout),
		PeriodEnd:             s.PeriodEnd.Format(dateLayout),
		TotalGrossAmount:      s.TotalGrossAmount,
		TotalCommissionAmount: s.TotalCommissionAmount,
		TotalTaxAmount:        s.TotalTaxAmount,
		TotalPayableAmount:    s.TotalPayableAmount,
		TransactionCount:      s.TransactionCount,
		Currency:              s.Currency,
		PayoutStatus:          string(s.PayoutStatus),
		PayoutMethod:          string(s.PayoutMethod),
		PayoutPhone:           s.PayoutPhone,
		PayoutBank:            s.PayoutBank,
		PayoutDate:            s.PayoutDate,
		ProcessedDate:         s.ProcessedDate,
		PayoutTransactionID:   s.PayoutTransactionID,
		OnHold:                s.OnHold,
		HoldReason:            s.HoldReason,
		AdminNotes:            s.AdminNotes,
		IsDisputed:            s.IsDisputed,
		DisputeReason:         s.DisputeReason,
		DisputeResolution:     s.DisputeResolution,
		Approvals:             approvals,
		Version:               s.Version,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func toSettlementDTOs(list []domain.Settlement) []settlementDTO {
	out := make([]settlementDTO, 0, len(list))
	for i := range list {
		out = append(out, toSettlementDTO(&list[i]))
	}
	return out
}

type reconciliationDTO struct {
	ID                uuid.UUID  `json:"id"`
	BookingID         uuid.UUID  `json:"booking_id"`
	HostelID          uuid.UUID  `json:"hostel_id"`
	HostelOwnerID     uuid.UUID  `json:"hostel_owner_id"`
	TransactionID     string     `json:"transaction_id"`
	ReceiptNumber     *string    `json:"receipt_number,omitempty"`
	GrossAmount       int64      `json:"gross_amount"`
	CommissionPct     string     `json:"commission_percentage"`
	CommissionAmount  int64      `json:"commission_amount"`
	TaxAmount         int64      `json:"tax_amount"`
	HostPayableAmount int64      `json:"host_payable_amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	ReceivedAt        *time.Time `json:"received_at,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerifiedBy        *uuid.UUID `json:"verified_by,omitempty"`
	ReconciledAt      *time.Time `json:"reconciled_at,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	IsDisputed        bool       `json:"is_disputed"`
	DisputeReason     *string    `json:"dispute_reason,omitempty"`
	DisputeResolution *string    `json:"dispute_resolution,omitempty"`
	Attempts          int        `json:"attempts"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toReconciliationDTO(r *domain.Reconciliation) reconciliationDTO {
	return reconciliationDTO{
		ID:                r.ID,
		BookingID:         r.BookingID,
		HostelID:          r.HostelID,
		HostelOwnerID:     r.HostelOwnerID,
		TransactionID:     r.TransactionID,
		ReceiptNumber:     r.ReceiptNumber,
		GrossAmount:       r.GrossAmount,
		CommissionPct:     r.CommissionPct.StringFixed(2),
		CommissionAmount:  r.CommissionAmount,
		TaxAmount:         r.TaxAmount,
		HostPayableAmount: r.HostPayableAmount,
		Currency:          r.Currency,
		Status:            string(r.Status),
		ReceivedAt:        r.ReceivedAt,
		VerifiedAt:        r.VerifiedAt,
		VerifiedBy:        r.VerifiedBy,
		ReconciledAt:      r.ReconciledAt,
		FailureReason:     r.FailureReason,
		Notes:             r.Notes,
		IsDisputed:        r.IsDisputed,
		DisputeReason:     r.DisputeReason,
		DisputeResolution: r.DisputeResolution,
		Attempts:          r.Attempts,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func toReconciliationDTOs(list []domain.Reconciliation) []reconciliationDTO {
	out := make([]reconciliationDTO, 0, len(list))
	for i := range list {
		out = append(out, toReconciliationDTO(&list[i]))
	}
	return out
}

type statusStatsDTO struct {
	PayoutStatus string `json:"payout_status"`
	Count        int    `json:"count"`
	TotalAmount  int64  `json:"total_amount"`
	AvgAmount    int64  `json:"avg_amount"`
}

type statsDTO struct {
	ByStatus          []statusStatsDTO `json:"by_status"`
	TotalSettlements  int              `json:"total_settlements"`
	TotalPaidOut      int64            `json:"total_paid_out"`
	TotalPending      int64            `json:"total_pending"`
	TotalPlatformFees int64            `json:"total_platform_fees"`
	TotalGrossAmount  int64            `json:"total_gross_amount"`
}

func toStatsDTO(s *domain.SettlementStats) statsDTO {
	by := make([]statusStatsDTO, 0, len(s.ByStatus))
	for _, st := range s.ByStatus {
		by = append(by, statusStatsDTO{
			PayoutStatus: string(st.PayoutStatus),
			Count:        st.Count,
			TotalAmount:  st.TotalAmount,
			AvgAmount:    st.AvgAmount,
		})
	}
	return statsDTO{
		ByStatus:          by,
		TotalSettlements:  s.TotalSettlements,
		TotalPaidOut:      s.TotalPaidOut,
		TotalPending:      s.TotalPending,
		TotalPlatformFees: s.TotalPlatformFees,
		TotalGrossAmount:  s.TotalGrossAmount,
	}
}

type earningsDTO struct {
	HostelOwnerID      uuid.UUID `json:"hostel_owner_id"`
	PeriodStart        string    `json:"period_start"`
	PeriodEnd          string    `json:"period_end"`
	GrossAmount        int64     `json:"gross_amount"`
	CommissionAmount   int64     `json:"commission_amount"`
	Earnings           int64     `json:"earnings"`
	PaidOut            int64     `json:"paid_out"`
	Outstanding        int64     `json:"outstanding"`
	TransactionCount   int       `json:"transaction_count"`
	SettlementCount    int       `json:"settlement_count"`
	PendingVerifyCount int       `json:"pending_verification_count"`
}

func toEarningsDTO(e *domain.HostEarnings) earningsDTO {
	return earningsDTO{
		HostelOwnerID:      e.HostelOwnerID,
		PeriodStart:        e.PeriodStart.Format(dateLayout),
		PeriodEnd:          e.PeriodEnd.Format(dateLayout),
		GrossAmount:        e.GrossAmount,
		CommissionAmount:   e.CommissionAmount,
		Earnings:           e.Earnings,
		PaidOut:            e.PaidOut,
		Outstanding:        e.Outstanding,
		TransactionCount:   e.TransactionCount,
		SettlementCount:    e.SettlementCount,
		PendingVerifyCount: e.PendingVerifyCount,
	}
}

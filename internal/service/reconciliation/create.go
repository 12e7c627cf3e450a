package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
	"github.com/josh-kwaku/roomlink-settlements/internal/notify"
)

// CreateReconciliation records a successful charge for a booking. A second call
// for the same booking, concurrent or not, returns the stored record with
// OutcomeAlreadyExists.
func (s *Service) CreateReconciliation(ctx context.Context, bookingID uuid.UUID, cb domain.ChargeResult) (*domain.Reconciliation, domain.Outcome, error) {
	log := logging.FromContext(ctx)

	existing, err := s.findByBooking(ctx, bookingID)
	if err != nil {
		return nil, "", fmt.Errorf("CreateReconciliation: %w", err)
	}
	if existing != nil {
		log.Info("reconciliation already recorded", "booking_id", bookingID, "reconciliation_id", existing.ID)
		return existing, domain.OutcomeAlreadyExists, nil
	}

	rec, err := s.buildReconciliation(ctx, bookingID, cb)
	if err != nil {
		return nil, "", fmt.Errorf("CreateReconciliation: %w", err)
	}

	inserted, err := s.recs.Create(ctx, rec)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent callback for the same charge can trip the transaction
			// index before the booking index.
			stored, findErr := s.findByBooking(ctx, bookingID)
			if findErr != nil {
				return nil, "", fmt.Errorf("CreateReconciliation: reload after conflict: %w", findErr)
			}
			if stored != nil {
				return stored, domain.OutcomeAlreadyExists, nil
			}
		}
		return nil, "", fmt.Errorf("CreateReconciliation: %w", err)
	}
	if !inserted {
		stored, err := s.recs.GetByBookingID(ctx, bookingID)
		if err != nil {
			return nil, "", fmt.Errorf("CreateReconciliation: reload after race: %w", err)
		}
		log.Info("reconciliation already recorded (race)", "booking_id", bookingID, "reconciliation_id", stored.ID)
		return stored, domain.OutcomeAlreadyExists, nil
	}

	log.Info("reconciliation created",
		"reconciliation_id", rec.ID,
		"booking_id", bookingID,
		"hostel_id", rec.HostelID,
		"gross_amount", rec.GrossAmount,
		"commission_amount", rec.CommissionAmount,
		"host_payable_amount", rec.HostPayableAmount,
	)

	s.invalidate(ctx)
	s.publish(ctx, notify.EventReconciliationCreated, rec, "")
	return rec, domain.OutcomeCreated, nil
}

func (s *Service) findByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Reconciliation, error) {
	rec, err := s.recs.GetByBookingID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("findByBooking: %w", err)
	}
	return rec, nil
}

func (s *Service) buildReconciliation(ctx context.Context, bookingID uuid.UUID, cb domain.ChargeResult) (*domain.Reconciliation, error) {
	booking, err := s.catalog.GetBookingForPayment(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("buildReconciliation: booking %s: %w", bookingID, err)
	}

	owner, err := s.catalog.GetHostelOwner(ctx, booking.HostelID)
	if err != nil {
		return nil, fmt.Errorf("buildReconciliation: hostel %s: %w", booking.HostelID, err)
	}

	split, err := s.policy.SplitFor(booking.TotalPrice, owner.CommissionPct)
	if err != nil {
		return nil, fmt.Errorf("buildReconciliation: %w", err)
	}

	raw, err := json.Marshal(cb)
	if err != nil {
		return nil, fmt.Errorf("buildReconciliation: marshal callback: %w", err)
	}

	transactionID := cb.GatewayRequestID
	if transactionID == "" {
		transactionID = cb.EventID
	}
	if transactionID == "" {
		return nil, fmt.Errorf("buildReconciliation: callback carries no transaction id: %w", domain.ErrInvalidRequest)
	}

	var notes *string
	if cb.Amount != 0 && cb.Amount != booking.TotalPrice {
		notes = appendNote(nil, fmt.Sprintf("gateway reported %d, booking total is %d", cb.Amount, booking.TotalPrice))
	}

	guestPhone := booking.GuestPhone
	if cb.Phone != "" {
		guestPhone = &cb.Phone
	}

	now := s.now()
	return &domain.Reconciliation{
		ID:                uuid.New(),
		BookingID:         bookingID,
		HostelID:          booking.HostelID,
		HostelOwnerID:     owner.OwnerID,
		TransactionID:     transactionID,
		ReceiptNumber:     strPtr(cb.ReceiptNumber),
		GuestPhone:        guestPhone,
		GrossAmount:       split.GrossAmount,
		CommissionPct:     split.CommissionPct,
		CommissionAmount:  split.CommissionAmount,
		TaxAmount:         split.TaxAmount,
		HostPayableAmount: split.HostPayableAmount,
		Currency:          booking.Currency,
		Status:            domain.ReconciliationStatusReceived,
		ReceivedAt:        &now,
		Notes:             notes,
		GatewayResponse:   raw,
		Attempts:          1,
		CreatedBy:         GatewayActor,
		LastUpdatedBy:     GatewayActor,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// RecordChargeFailure applies a failed charge callback. A record still awaiting
// verification moves to failed; a booking with no record is only logged so a
// later successful charge can still be reconciled.
func (s *Service) RecordChargeFailure(ctx context.Context, bookingID uuid.UUID, cb domain.ChargeResult) (*domain.Reconciliation, error) {
	log := logging.FromContext(ctx)
	reason := fmt.Sprintf("charge failed: %s (code %d)", cb.ResultDesc, cb.ResultCode)

	existing, err := s.findByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("RecordChargeFailure: %w", err)
	}
	if existing == nil {
		log.Warn("charge failed before any reconciliation existed",
			"booking_id", bookingID,
			"result_code", cb.ResultCode,
			"result_desc", cb.ResultDesc,
		)
		return nil, nil
	}

	switch existing.Status {
	case domain.ReconciliationStatusPending, domain.ReconciliationStatusReceived:
	default:
		log.Warn("ignoring charge failure for settled-forward reconciliation",
			"reconciliation_id", existing.ID,
			"status", existing.Status,
		)
		return existing, nil
	}

	rec, err := s.transition(ctx, existing.ID, func(r *domain.Reconciliation) error {
		if !r.Status.IsPreReconciled() || r.Status == domain.ReconciliationStatusVerified {
			return fmt.Errorf("reconciliation is %s: %w", r.Status, domain.ErrInvalidState)
		}
		r.Status = domain.ReconciliationStatusFailed
		r.FailureReason = &reason
		r.Attempts++
		r.LastUpdatedBy = GatewayActor
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("RecordChargeFailure: %w", err)
	}

	log.Info("reconciliation failed by gateway", "reconciliation_id", rec.ID, "reason", reason)
	s.publish(ctx, notify.EventReconciliationFailed, rec, reason)
	return rec, nil
}

// RequestPayment asks the gateway to charge the guest for a booking. The
// result arrives later as a charge callback.
func (s *Service) RequestPayment(ctx context.Context, bookingID uuid.UUID) (*gateway.ChargeResponse, error) {
	log := logging.FromContext(ctx)

	existing, err := s.findByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("RequestPayment: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("RequestPayment: booking already paid (reconciliation %s): %w", existing.ID, domain.ErrInvalidState)
	}

	booking, err := s.catalog.GetBookingForPayment(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("RequestPayment: %w", err)
	}
	if booking.GuestPhone == nil || *booking.GuestPhone == "" {
		return nil, fmt.Errorf("RequestPayment: guest phone missing: %w", domain.ErrInvalidRequest)
	}
	if booking.TotalPrice <= 0 {
		return nil, fmt.Errorf("RequestPayment: %w", domain.ErrInvalidAmount)
	}

	resp, err := s.gateway.InitiateCharge(ctx, gateway.ChargeRequest{
		Phone:       *booking.GuestPhone,
		Amount:      booking.TotalPrice,
		Reference:   bookingID.String(),
		Description: "RoomLink booking payment",
	})
	if err != nil {
		return nil, fmt.Errorf("RequestPayment: %w", err)
	}

	if err := s.catalog.SetChargeRequest(ctx, bookingID, resp.GatewayRequestID); err != nil {
		return nil, fmt.Errorf("RequestPayment: %w", err)
	}

	log.Info("charge requested",
		"booking_id", bookingID,
		"gateway_request_id", resp.GatewayRequestID,
		"amount", booking.TotalPrice,
	)
	return resp, nil
}

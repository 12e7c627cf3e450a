package settlement

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/notify"
)

// ApproveSettlement appends an approval and moves a pending, unheld settlement
// to approved.
func (s *Service) ApproveSettlement(ctx context.Context, id, approvedBy uuid.UUID, role domain.Role, notes string) (*domain.Settlement, error) {
	now := s.now()
	payload := map[string]any{"role": role, "notes": notes}

	st, err := s.mutate(ctx, id, domain.SettlementEventApproved, approvedBy, payload, func(tx *sql.Tx, st *domain.Settlement) error {
		if st.PayoutStatus != domain.PayoutStatusPending {
			return fmt.Errorf("settlement is %s, approval requires pending: %w", st.PayoutStatus, domain.ErrInvalidState)
		}
		if st.OnHold {
			return fmt.Errorf("settlement is on hold: %w", domain.ErrInvalidState)
		}

		a := domain.Approval{
			ID:           uuid.New(),
			SettlementID: st.ID,
			ApprovedBy:   approvedBy,
			Role:         role,
			ApprovedAt:   now,
		}
		if notes != "" {
			a.Notes = &notes
		}
		if err := s.settlements.AddApproval(ctx, tx, &a); err != nil {
			return err
		}

		st.Approvals = append(st.Approvals, a)
		st.PayoutStatus = domain.PayoutStatusApproved
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ApproveSettlement: %w", err)
	}

	logSettlement(ctx, "settlement approved", st, "approved_by", approvedBy, "approvals", len(st.Approvals))
	s.publish(ctx, notify.EventSettlementApproved, st, "")
	return st, nil
}

// HoldSettlement blocks payout until released. Holding a held settlement only
// refreshes the reason.
func (s *Service) HoldSettlement(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Settlement, error) {
	now := s.now()
	st, err := s.mutate(ctx, id, domain.SettlementEventHeld, by, map[string]any{"reason": reason}, func(_ *sql.Tx, st *domain.Settlement) error {
		if st.PayoutStatus.IsTerminal() {
			return fmt.Errorf("settlement is %s: %w", st.PayoutStatus, domain.ErrInvalidState)
		}
		if !st.OnHold {
			st.HeldAt = &now
		}
		st.OnHold = true
		st.HoldReason = &reason
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("HoldSettlement: %w", err)
	}

	logSettlement(ctx, "settlement held", st, "by", by, "reason", reason)
	s.publish(ctx, notify.EventSettlementHeld, st, reason)
	return st, nil
}

func (s *Service) ReleaseSettlement(ctx context.Context, id, by uuid.UUID) (*domain.Settlement, error) {
	now := s.now()
	st, err := s.mutate(ctx, id, domain.SettlementEventReleased, by, nil, func(_ *sql.Tx, st *domain.Settlement) error {
		if st.PayoutStatus.IsTerminal() {
			return fmt.Errorf("settlement is %s: %w", st.PayoutStatus, domain.ErrInvalidState)
		}
		if st.OnHold {
			st.ReleasedAt = &now
		}
		st.OnHold = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ReleaseSettlement: %w", err)
	}

	logSettlement(ctx, "settlement released", st, "by", by)
	s.publish(ctx, notify.EventSettlementReleased, st, "")
	return st, nil
}

// CancelSettlement aborts a settlement that has not started paying out and
// returns its payments to verified so they can be batched again.
func (s *Service) CancelSettlement(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Settlement, error) {
	st, err := s.mutate(ctx, id, domain.SettlementEventCancelled, by, map[string]any{"reason": reason}, func(tx *sql.Tx, st *domain.Settlement) error {
		switch st.PayoutStatus {
		case domain.PayoutStatusPending, domain.PayoutStatusApproved, domain.PayoutStatusFailed:
		default:
			return fmt.Errorf("settlement is %s and cannot be cancelled: %w", st.PayoutStatus, domain.ErrInvalidState)
		}

		released, err := s.settlements.ReleaseMembers(ctx, tx, st.ID)
		if err != nil {
			return err
		}
		n, err := s.recs.ReleaseToVerified(ctx, tx, released, by.String())
		if err != nil {
			return err
		}
		if n != int64(len(released)) {
			return fmt.Errorf("released %d of %d payments: %w", n, len(released), domain.ErrConflict)
		}

		st.PayoutStatus = domain.PayoutStatusCancelled
		st.AppendAdminNote("cancelled: " + reason)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("CancelSettlement: %w", err)
	}

	logSettlement(ctx, "settlement cancelled", st, "by", by, "reason", reason)
	s.publish(ctx, notify.EventSettlementCancelled, st, reason)
	return st, nil
}

// ReopenSettlement puts a failed settlement back to pending. It must be
// approved again before another payout attempt.
func (s *Service) ReopenSettlement(ctx context.Context, id, by uuid.UUID) (*domain.Settlement, error) {
	st, err := s.mutate(ctx, id, domain.SettlementEventReopened, by, nil, func(_ *sql.Tx, st *domain.Settlement) error {
		if st.PayoutStatus != domain.PayoutStatusFailed {
			return fmt.Errorf("settlement is %s, reopen requires failed: %w", st.PayoutStatus, domain.ErrInvalidState)
		}
		st.PayoutStatus = domain.PayoutStatusPending
		st.AppendAdminNote("reopened for another payout attempt")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ReopenSettlement: %w", err)
	}

	logSettlement(ctx, "settlement reopened", st, "by", by)
	return st, nil
}

func (s *Service) DisputeSettlement(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Settlement, error) {
	st, err := s.mutate(ctx, id, domain.SettlementEventDisputed, by, map[string]any{"reason": reason}, func(_ *sql.Tx, st *domain.Settlement) error {
		if st.PayoutStatus == domain.PayoutStatusCancelled {
			return fmt.Errorf("settlement is cancelled: %w", domain.ErrInvalidState)
		}
		if st.IsDisputed {
			return fmt.Errorf("settlement already disputed: %w", domain.ErrInvalidState)
		}
		st.IsDisputed = true
		st.DisputeReason = &reason
		st.DisputedBy = &by
		st.DisputeResolvedAt = nil
		st.DisputeResolution = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("DisputeSettlement: %w", err)
	}

	logSettlement(ctx, "settlement disputed", st, "by", by, "reason", reason)
	return st, nil
}

func (s *Service) ResolveSettlementDispute(ctx context.Context, id uuid.UUID, resolution string, by uuid.UUID) (*domain.Settlement, error) {
	now := s.now()
	st, err := s.mutate(ctx, id, domain.SettlementEventDisputeResolved, by, map[string]any{"resolution": resolution}, func(_ *sql.Tx, st *domain.Settlement) error {
		if !st.IsDisputed {
			return fmt.Errorf("settlement is not disputed: %w", domain.ErrInvalidState)
		}
		st.IsDisputed = false
		st.DisputeResolvedAt = &now
		st.DisputeResolution = &resolution
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ResolveSettlementDispute: %w", err)
	}

	logSettlement(ctx, "settlement dispute resolved", st, "by", by)
	return st, nil
}

package reconciliation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
	"github.com/josh-kwaku/roomlink-settlements/internal/notify"
)

// transition locks the record, applies mutate and writes it back in one
// transaction.
func (s *Service) transition(ctx context.Context, id uuid.UUID, mutate func(*domain.Reconciliation) error) (*domain.Reconciliation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("transition: begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.recs.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}

	if err := mutate(rec); err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}

	if err := s.recs.Update(ctx, tx, rec); err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("transition: commit: %w", err)
	}

	s.invalidate(ctx)
	return rec, nil
}

// VerifyReconciliation marks a received payment as checked by an admin. Records
// already verified are returned unchanged. Records swept into a settlement or
// closed by failure/reversal are rejected.
func (s *Service) VerifyReconciliation(ctx context.Context, id, verifiedBy uuid.UUID) (*domain.Reconciliation, error) {
	log := logging.FromContext(ctx)

	current, err := s.recs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("VerifyReconciliation: %w", err)
	}
	if !current.Status.CanVerify() {
		return nil, fmt.Errorf("VerifyReconciliation: reconciliation is %s: %w", current.Status, domain.ErrInvalidState)
	}
	if current.Status == domain.ReconciliationStatusVerified {
		return current, nil
	}

	var status *gateway.ChargeStatus
	if s.opts.VerifyWithGateway && s.gateway != nil {
		status, err = s.gateway.QueryChargeStatus(ctx, current.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("VerifyReconciliation: %w", err)
		}
		if !status.Succeeded() {
			reason := fmt.Sprintf("gateway reports charge unsuccessful: %s (code %d)", status.ResultDesc, status.ResultCode)
			failed, err := s.markClosed(ctx, id, domain.ReconciliationStatusFailed, reason, verifiedBy.String())
			if err != nil {
				return nil, fmt.Errorf("VerifyReconciliation: %w", err)
			}
			s.publish(ctx, notify.EventReconciliationFailed, failed, reason)
			return nil, fmt.Errorf("VerifyReconciliation: %s: %w", reason, domain.ErrInvalidState)
		}
	}

	now := s.now()
	rec, err := s.transition(ctx, id, func(r *domain.Reconciliation) error {
		if !r.Status.CanVerify() {
			return fmt.Errorf("reconciliation is %s: %w", r.Status, domain.ErrInvalidState)
		}
		r.Status = domain.ReconciliationStatusVerified
		r.VerifiedAt = &now
		r.VerifiedBy = &verifiedBy
		r.LastUpdatedBy = verifiedBy.String()
		if status != nil && status.ReceiptNumber != "" && r.ReceiptNumber == nil {
			r.ReceiptNumber = &status.ReceiptNumber
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("VerifyReconciliation: %w", err)
	}

	log.Info("reconciliation verified", "reconciliation_id", rec.ID, "verified_by", verifiedBy)
	s.publish(ctx, notify.EventReconciliationVerified, rec, "")
	return rec, nil
}

// MarkFailed closes a not-yet-settled record after a gateway failure.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Reconciliation, error) {
	rec, err := s.markClosed(ctx, id, domain.ReconciliationStatusFailed, reason, by.String())
	if err != nil {
		return nil, fmt.Errorf("MarkFailed: %w", err)
	}
	logging.FromContext(ctx).Info("reconciliation marked failed", "reconciliation_id", id, "by", by)
	s.publish(ctx, notify.EventReconciliationFailed, rec, reason)
	return rec, nil
}

// MarkReversed closes a not-yet-settled record after a chargeback.
func (s *Service) MarkReversed(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Reconciliation, error) {
	rec, err := s.markClosed(ctx, id, domain.ReconciliationStatusReversed, reason, by.String())
	if err != nil {
		return nil, fmt.Errorf("MarkReversed: %w", err)
	}
	logging.FromContext(ctx).Info("reconciliation reversed", "reconciliation_id", id, "by", by)
	s.publish(ctx, notify.EventReconciliationFailed, rec, reason)
	return rec, nil
}

func (s *Service) markClosed(ctx context.Context, id uuid.UUID, to domain.ReconciliationStatus, reason, by string) (*domain.Reconciliation, error) {
	return s.transition(ctx, id, func(r *domain.Reconciliation) error {
		if !r.Status.IsPreReconciled() {
			return fmt.Errorf("reconciliation is %s, cannot become %s: %w", r.Status, to, domain.ErrInvalidState)
		}
		r.Status = to
		r.FailureReason = &reason
		r.LastUpdatedBy = by
		return nil
	})
}

// FlagDispute annotates the record without touching its status.
func (s *Service) FlagDispute(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Reconciliation, error) {
	rec, err := s.transition(ctx, id, func(r *domain.Reconciliation) error {
		if r.IsDisputed {
			return fmt.Errorf("reconciliation already disputed: %w", domain.ErrInvalidState)
		}
		r.IsDisputed = true
		r.DisputeReason = &reason
		r.DisputeResolvedAt = nil
		r.DisputeResolution = nil
		r.LastUpdatedBy = by.String()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FlagDispute: %w", err)
	}
	logging.FromContext(ctx).Info("reconciliation disputed", "reconciliation_id", id, "by", by)
	return rec, nil
}

func (s *Service) ResolveDispute(ctx context.Context, id uuid.UUID, resolution string, by uuid.UUID) (*domain.Reconciliation, error) {
	now := s.now()
	rec, err := s.transition(ctx, id, func(r *domain.Reconciliation) error {
		if !r.IsDisputed {
			return fmt.Errorf("reconciliation is not disputed: %w", domain.ErrInvalidState)
		}
		r.IsDisputed = false
		r.DisputeResolvedAt = &now
		r.DisputeResolution = &resolution
		r.LastUpdatedBy = by.String()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ResolveDispute: %w", err)
	}
	logging.FromContext(ctx).Info("reconciliation dispute resolved", "reconciliation_id", id, "by", by)
	return rec, nil
}

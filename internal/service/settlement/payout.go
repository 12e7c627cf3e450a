package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
	"github.com/josh-kwaku/roomlink-settlements/internal/notify"
)

// ProcessSettlementPayout sends the settlement's payable total to the owner.
//
// The settlement is first claimed by moving it from approved to scheduled under
// a row lock, so only one caller ever reaches the gateway. The transfer runs
// outside any transaction. A gateway rejection marks the settlement failed; a
// timeout leaves it scheduled, since the transfer may still have gone through.
func (s *Service) ProcessSettlementPayout(ctx context.Context, id, processedBy uuid.UUID) (*domain.Settlement, error) {
	log := logging.FromContext(ctx)

	claimed, err := s.claimForPayout(ctx, id, processedBy)
	if err != nil {
		return nil, fmt.Errorf("ProcessSettlementPayout: %w", err)
	}
	logSettlement(ctx, "settlement scheduled for payout", claimed, "by", processedBy)

	resp, sendErr := s.gateway.SendTransfer(ctx, gateway.TransferRequest{
		Phone:     *claimed.PayoutPhone,
		Amount:    claimed.TotalPayableAmount,
		Remarks:   "RoomLink settlement " + claimed.Reference,
		Reference: claimed.Reference,
	})

	// The request context may already be done after a timeout; the outcome must
	// still be written.
	finalCtx := context.WithoutCancel(ctx)

	switch {
	case sendErr == nil:
		st, err := s.markProcessed(finalCtx, id, processedBy, resp.TransferID, domain.PayoutStatusScheduled)
		if err != nil {
			return nil, fmt.Errorf("ProcessSettlementPayout: transfer %s sent but not recorded: %w", resp.TransferID, err)
		}
		logSettlement(ctx, "settlement paid out", st, "transfer_id", resp.TransferID, "amount", st.TotalPayableAmount)
		s.publish(ctx, notify.EventSettlementProcessed, st, "")
		return st, nil

	case errors.Is(sendErr, domain.ErrGatewayTimeout):
		note := fmt.Sprintf("payout indeterminate: %v; query the gateway for reference %s before retrying", sendErr, claimed.Reference)
		st, err := s.mutate(finalCtx, id, domain.SettlementEventScheduled, processedBy, map[string]any{"indeterminate": true}, func(_ *sql.Tx, st *domain.Settlement) error {
			st.AppendAdminNote(note)
			return nil
		})
		if err != nil {
			log.Error("failed to record indeterminate payout", "settlement_id", id, "error", err)
		} else {
			logSettlement(ctx, "settlement payout indeterminate", st)
		}
		return nil, fmt.Errorf("ProcessSettlementPayout: %w", sendErr)

	default:
		reason := fmt.Sprintf("payout failed: %v", sendErr)
		st, err := s.markFailed(finalCtx, id, processedBy, reason)
		if err != nil {
			log.Error("failed to record payout failure", "settlement_id", id, "gateway_error", sendErr, "error", err)
			return nil, fmt.Errorf("ProcessSettlementPayout: %w", sendErr)
		}
		logSettlement(ctx, "settlement payout failed", st, "error", sendErr)
		s.publish(ctx, notify.EventSettlementFailed, st, reason)
		return nil, fmt.Errorf("ProcessSettlementPayout: %w", sendErr)
	}
}

func (s *Service) claimForPayout(ctx context.Context, id, by uuid.UUID) (*domain.Settlement, error) {
	now := s.now()
	st, err := s.mutate(ctx, id, domain.SettlementEventScheduled, by, nil, func(_ *sql.Tx, st *domain.Settlement) error {
		if err := st.CanBeProcessed(); err != nil {
			return err
		}
		if st.PayoutMethod != domain.PayoutMethodMobileMoney || st.PayoutPhone == nil || *st.PayoutPhone == "" {
			return fmt.Errorf("settlement pays out by %s, no mobile money destination: %w", st.PayoutMethod, domain.ErrInvalidState)
		}
		st.PayoutStatus = domain.PayoutStatusScheduled
		st.PayoutDate = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claimForPayout: %w", err)
	}
	return st, nil
}

// lateSuccessFrom lists the states a confirmed transfer can still land on. A
// payout recorded as failed, or reopened but not yet sent again, has already
// reached the owner once the gateway confirms it.
var lateSuccessFrom = []domain.PayoutStatus{
	domain.PayoutStatusScheduled,
	domain.PayoutStatusFailed,
	domain.PayoutStatusPending,
	domain.PayoutStatusApproved,
}

func (s *Service) markProcessed(ctx context.Context, id, by uuid.UUID, transferID string, from ...domain.PayoutStatus) (*domain.Settlement, error) {
	now := s.now()
	return s.mutate(ctx, id, domain.SettlementEventProcessed, by, map[string]any{"transfer_id": transferID}, func(_ *sql.Tx, st *domain.Settlement) error {
		if !slices.Contains(from, st.PayoutStatus) {
			return fmt.Errorf("settlement is %s, cannot record transfer %s: %w", st.PayoutStatus, transferID, domain.ErrInvalidState)
		}
		if st.PayoutStatus != domain.PayoutStatusScheduled {
			st.AppendAdminNote(fmt.Sprintf("gateway confirmed transfer %s while settlement was %s", transferID, st.PayoutStatus))
		}
		st.PayoutStatus = domain.PayoutStatusProcessed
		st.ProcessedDate = &now
		if transferID != "" {
			st.PayoutTransactionID = &transferID
		}
		return nil
	})
}

func (s *Service) markFailed(ctx context.Context, id, by uuid.UUID, reason string) (*domain.Settlement, error) {
	return s.mutate(ctx, id, domain.SettlementEventFailed, by, map[string]any{"reason": reason}, func(_ *sql.Tx, st *domain.Settlement) error {
		if st.PayoutStatus != domain.PayoutStatusScheduled && st.PayoutStatus != domain.PayoutStatusProcessed {
			return fmt.Errorf("settlement is %s, expected scheduled or processed: %w", st.PayoutStatus, domain.ErrInvalidState)
		}
		st.PayoutStatus = domain.PayoutStatusFailed
		st.AppendAdminNote(reason)
		return nil
	})
}

// ApplyTransferResult applies the gateway's asynchronous verdict on a payout. A
// success for an already processed settlement is a no-op, and a success for one
// recorded as failed still marks it processed so it is not paid twice. A
// failure reported after processing moves it to failed.
func (s *Service) ApplyTransferResult(ctx context.Context, result domain.TransferResult) (*domain.Settlement, error) {
	current, err := s.settlements.GetByReference(ctx, result.Reference)
	if err != nil {
		return nil, fmt.Errorf("ApplyTransferResult: %w", err)
	}

	if result.Succeeded() {
		if current.PayoutStatus == domain.PayoutStatusProcessed {
			return current, nil
		}
		st, err := s.markProcessed(ctx, current.ID, s.systemUser, result.TransferID, lateSuccessFrom...)
		if err != nil {
			logging.FromContext(ctx).Error("confirmed transfer could not be recorded",
				"settlement_id", current.ID, "reference", result.Reference, "transfer_id", result.TransferID, "error", err)
			return nil, fmt.Errorf("ApplyTransferResult: %w", err)
		}
		logSettlement(ctx, "settlement confirmed by transfer result", st, "transfer_id", result.TransferID)
		s.publish(ctx, notify.EventSettlementProcessed, st, "")
		return st, nil
	}

	if current.PayoutStatus == domain.PayoutStatusFailed {
		return current, nil
	}
	reason := fmt.Sprintf("gateway reported transfer failure: %s (code %d)", result.ResultDesc, result.ResultCode)
	st, err := s.markFailed(ctx, current.ID, s.systemUser, reason)
	if err != nil {
		return nil, fmt.Errorf("ApplyTransferResult: %w", err)
	}
	logSettlement(ctx, "settlement failed by transfer result", st, "transfer_id", result.TransferID)
	s.publish(ctx, notify.EventSettlementFailed, st, reason)
	return st, nil
}

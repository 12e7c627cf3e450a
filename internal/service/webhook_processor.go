package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
)

// maxCallbackAttempts bounds retries of callbacks that fail for transient reasons.
const maxCallbackAttempts = 5

// CallbackProcessor applies stored gateway callbacks in the background.
type CallbackProcessor struct {
	callbacks callbackRepository
	bookings  bookingLookup
	charges   chargeHandler
	transfers transferHandler
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewCallbackProcessor(
	callbacks callbackRepository,
	bookings bookingLookup,
	charges chargeHandler,
	transfers transferHandler,
	logger *slog.Logger,
	interval time.Duration,
	batchSize int,
) *CallbackProcessor {
	return &CallbackProcessor{
		callbacks: callbacks,
		bookings:  bookings,
		charges:   charges,
		transfers: transfers,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (p *CallbackProcessor) Start(ctx context.Context) {
	p.logger.Info("callback processor started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("callback processor stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll claims one batch of pending callbacks and applies them.
func (p *CallbackProcessor) Poll(ctx context.Context) {
	callbacks, err := p.callbacks.ClaimPending(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to claim pending callbacks", "error", err)
		return
	}

	for _, cb := range callbacks {
		cbCtx := logging.WithLogger(ctx, p.logger.With("callback_id", cb.ID, "kind", cb.Kind))
		status := p.process(cbCtx, cb)
		if err := p.callbacks.UpdateStatus(ctx, cb.ID, status); err != nil {
			p.logger.Error("failed to update callback status", "callback_id", cb.ID, "status", status, "error", err)
		}
	}
}

func (p *CallbackProcessor) process(ctx context.Context, cb domain.GatewayCallback) domain.GatewayCallbackStatus {
	log := logging.FromContext(ctx)

	var err error
	switch cb.Kind {
	case domain.GatewayCallbackKindCharge:
		err = p.processCharge(ctx, cb.Payload)
	case domain.GatewayCallbackKindTransfer:
		err = p.processTransfer(ctx, cb.Payload)
	default:
		err = fmt.Errorf("unknown callback kind %q: %w", cb.Kind, domain.ErrInvalidRequest)
	}

	switch {
	case err == nil:
		return domain.GatewayCallbackStatusDispatched
	case isPermanent(err):
		log.Error("callback rejected", "error", err)
		return domain.GatewayCallbackStatusFailed
	case cb.Attempts >= maxCallbackAttempts:
		log.Error("callback abandoned after retries", "attempts", cb.Attempts, "error", err)
		return domain.GatewayCallbackStatusFailed
	default:
		log.Warn("callback will be retried", "attempts", cb.Attempts, "error", err)
		return domain.GatewayCallbackStatusPending
	}
}

func (p *CallbackProcessor) processCharge(ctx context.Context, payload json.RawMessage) error {
	var result domain.ChargeResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("processCharge: malformed payload: %v: %w", err, domain.ErrInvalidRequest)
	}

	bookingID, err := p.resolveBooking(ctx, result)
	if err != nil {
		return fmt.Errorf("processCharge: %w", err)
	}

	if !result.Succeeded() {
		if _, err := p.charges.RecordChargeFailure(ctx, bookingID, result); err != nil {
			return fmt.Errorf("processCharge: %w", err)
		}
		return nil
	}

	rec, outcome, err := p.charges.CreateReconciliation(ctx, bookingID, result)
	if err != nil {
		return fmt.Errorf("processCharge: %w", err)
	}
	logging.FromContext(ctx).Info("charge callback applied", "reconciliation_id", rec.ID, "outcome", outcome)
	return nil
}

func (p *CallbackProcessor) resolveBooking(ctx context.Context, result domain.ChargeResult) (uuid.UUID, error) {
	if result.BookingID != "" {
		id, err := uuid.Parse(result.BookingID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("resolveBooking: invalid booking_id %q: %w", result.BookingID, domain.ErrInvalidRequest)
		}
		return id, nil
	}
	if result.GatewayRequestID == "" {
		return uuid.Nil, fmt.Errorf("resolveBooking: no booking reference: %w", domain.ErrInvalidRequest)
	}
	id, err := p.bookings.GetBookingByChargeRequest(ctx, result.GatewayRequestID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolveBooking: %w", err)
	}
	return id, nil
}

func (p *CallbackProcessor) processTransfer(ctx context.Context, payload json.RawMessage) error {
	var result domain.TransferResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("processTransfer: malformed payload: %v: %w", err, domain.ErrInvalidRequest)
	}
	if result.Reference == "" {
		return fmt.Errorf("processTransfer: missing reference: %w", domain.ErrInvalidRequest)
	}

	st, err := p.transfers.ApplyTransferResult(ctx, result)
	if err != nil {
		return fmt.Errorf("processTransfer: %w", err)
	}
	logging.FromContext(ctx).Info("transfer callback applied", "settlement_id", st.ID, "payout_status", st.PayoutStatus)
	return nil
}

// isPermanent reports errors that will not go away on retry.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrInvalidCommission) ||
		errors.Is(err, domain.ErrConflict)
}

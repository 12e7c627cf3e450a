package settlement

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
	"github.com/josh-kwaku/roomlink-settlements/internal/notify"
)

const (
	referencePrefix   = "SETTLE"
	referenceSuffix   = 8
	referenceAttempts = 3
	referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

type CreateSettlementRequest struct {
	HostelID    uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
	CreatedBy   uuid.UUID
}

// CreateSettlement batches every verified, unsettled payment of a hostel whose
// verification date falls in the inclusive period. An active settlement for the
// exact same period is returned with OutcomeAlreadyExists; any other overlap
// fails with a SettlementConflictError.
func (s *Service) CreateSettlement(ctx context.Context, req CreateSettlementRequest) (*domain.Settlement, domain.Outcome, error) {
	start, end := truncateDay(req.PeriodStart), truncateDay(req.PeriodEnd)
	if start.After(end) {
		return nil, "", fmt.Errorf("CreateSettlement: %w", domain.ErrInvalidPeriod)
	}

	owner, err := s.catalog.GetHostelOwner(ctx, req.HostelID)
	if err != nil {
		return nil, "", fmt.Errorf("CreateSettlement: hostel %s: %w", req.HostelID, err)
	}

	for attempt := 1; ; attempt++ {
		st, outcome, err := s.createOnce(ctx, req, owner, start, end)
		if err == nil {
			if outcome == domain.OutcomeCreated {
				logSettlement(ctx, "settlement created", st,
					"hostel_id", st.HostelID,
					"transaction_count", st.TransactionCount,
					"total_payable_amount", st.TotalPayableAmount,
				)
				s.invalidate(ctx)
				s.publish(ctx, notify.EventSettlementCreated, st, "")
			} else {
				logSettlement(ctx, "settlement already exists for period", st)
			}
			return st, outcome, nil
		}
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) && attempt < referenceAttempts {
			logging.FromContext(ctx).Warn("settlement reference collision, retrying", "attempt", attempt)
			continue
		}
		return nil, "", fmt.Errorf("CreateSettlement: %w", err)
	}
}

func (s *Service) createOnce(ctx context.Context, req CreateSettlementRequest, owner *domain.HostelOwner, start, end time.Time) (*domain.Settlement, domain.Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("createOnce: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.settlements.LockHostel(ctx, tx, req.HostelID); err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}

	overlapping, err := s.settlements.FindActiveOverlapping(ctx, tx, req.HostelID, start, end)
	if err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}
	for i := range overlapping {
		if overlapping[i].SamePeriod(start, end) {
			return &overlapping[i], domain.OutcomeAlreadyExists, nil
		}
	}
	if len(overlapping) > 0 {
		return nil, "", &domain.SettlementConflictError{Existing: &overlapping[0]}
	}

	recs, err := s.recs.ListVerifiedForUpdate(ctx, tx, req.HostelID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}
	if len(recs) == 0 {
		return nil, "", fmt.Errorf("createOnce: no verified payments for hostel %s between %s and %s: %w",
			req.HostelID, start.Format(time.DateOnly), end.Format(time.DateOnly), domain.ErrInvalidState)
	}

	reference, err := newReference(s.now())
	if err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}

	st, err := buildSettlement(reference, owner, recs, start, end, req.CreatedBy, s.now())
	if err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}

	if err := s.settlements.Create(ctx, tx, st); err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}

	if err := s.settlements.AddMembers(ctx, tx, st.ID, st.ReconciliationIDs); err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}

	flipped, err := s.recs.MarkReconciled(ctx, tx, st.ReconciliationIDs, st.CreatedAt, req.CreatedBy.String())
	if err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}
	if flipped != int64(len(st.ReconciliationIDs)) {
		return nil, "", fmt.Errorf("createOnce: claimed %d of %d payments: %w", flipped, len(st.ReconciliationIDs), domain.ErrConflict)
	}

	payload := map[string]any{
		"period_start":      start.Format(time.DateOnly),
		"period_end":        end.Format(time.DateOnly),
		"transaction_count": st.TransactionCount,
		"total_payable":     st.TotalPayableAmount,
	}
	if err := s.writeEvent(ctx, tx, st.ID, domain.SettlementEventCreated, req.CreatedBy.String(), payload); err != nil {
		return nil, "", fmt.Errorf("createOnce: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("createOnce: commit: %w", err)
	}
	return st, domain.OutcomeCreated, nil
}

func buildSettlement(reference string, owner *domain.HostelOwner, recs []domain.Reconciliation, start, end time.Time, createdBy uuid.UUID, now time.Time) (*domain.Settlement, error) {
	st := &domain.Settlement{
		ID:                uuid.New(),
		Reference:         reference,
		HostelID:          owner.HostelID,
		HostelOwnerID:     owner.OwnerID,
		PeriodStart:       start,
		PeriodEnd:         end,
		Currency:          recs[0].Currency,
		PayoutStatus:      domain.PayoutStatusPending,
		CreatedBy:         createdBy,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
		Approvals:         []domain.Approval{},
		ReconciliationIDs: make([]uuid.UUID, 0, len(recs)),
	}

	for _, rec := range recs {
		if rec.Currency != st.Currency {
			return nil, fmt.Errorf("buildSettlement: mixed currencies %s and %s: %w", st.Currency, rec.Currency, domain.ErrInvalidState)
		}
		st.TotalGrossAmount += rec.GrossAmount
		st.TotalCommissionAmount += rec.CommissionAmount
		st.TotalTaxAmount += rec.TaxAmount
		st.TotalPayableAmount += rec.HostPayableAmount
		st.ReconciliationIDs = append(st.ReconciliationIDs, rec.ID)
	}
	st.TransactionCount = len(st.ReconciliationIDs)

	switch {
	case owner.PayoutDestination() != "":
		phone := owner.PayoutDestination()
		st.PayoutMethod = domain.PayoutMethodMobileMoney
		st.PayoutPhone = &phone
	case owner.PayoutBank != nil:
		st.PayoutMethod = domain.PayoutMethodBankTransfer
		st.PayoutBank = owner.PayoutBank
	default:
		st.PayoutMethod = domain.PayoutMethodManual
	}
	return st, nil
}

func newReference(now time.Time) (string, error) {
	var b strings.Builder
	b.WriteString(referencePrefix)
	b.WriteString(now.Format("20060102"))

	base := big.NewInt(int64(len(referenceAlphabet)))
	for range referenceSuffix {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("newReference: %w", err)
		}
		b.WriteByte(referenceAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// AutoSettle settles every hostel holding verified payments, from its earliest
// unsettled verification up to yesterday. Per-hostel failures are logged and
// do not stop the run.
func (s *Service) AutoSettle(ctx context.Context) (int, error) {
	log := logging.FromContext(ctx)
	today := truncateDay(s.now())
	end := today.AddDate(0, 0, -1)

	hostels, err := s.recs.HostelsWithUnsettled(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("AutoSettle: %w", err)
	}

	created := 0
	for _, h := range hostels {
		start := truncateDay(h.EarliestVerified)
		if start.After(end) {
			continue
		}
		st, outcome, err := s.CreateSettlement(ctx, CreateSettlementRequest{
			HostelID:    h.HostelID,
			PeriodStart: start,
			PeriodEnd:   end,
			CreatedBy:   s.systemUser,
		})
		if err != nil {
			log.Warn("auto settlement skipped", "hostel_id", h.HostelID, "error", err)
			continue
		}
		if outcome == domain.OutcomeCreated {
			created++
			log.Info("auto settlement created", "hostel_id", h.HostelID, "reference", st.Reference)
		}
	}
	return created, nil
}

package reconciliation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/cache"
	"github.com/josh-kwaku/roomlink-settlements/internal/commission"
	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/notify"
)

// GatewayActor is recorded as the author of records created from callbacks.
const GatewayActor = "gateway"

type reconciliationRepo interface {
	Create(ctx context.Context, rec *domain.Reconciliation) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Reconciliation, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Reconciliation, error)
	Update(ctx context.Context, tx *sql.Tx, rec *domain.Reconciliation) error
	List(ctx context.Context, f domain.ReconciliationFilter, limit, offset int) ([]domain.Reconciliation, int, error)
	EarningsForOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) (*domain.HostEarnings, error)
}

type payoutReader interface {
	PaidOutForOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) (int64, int, error)
}

type catalogReader interface {
	GetBookingForPayment(ctx context.Context, bookingID uuid.UUID) (*domain.BookingPayment, error)
	GetHostelOwner(ctx context.Context, hostelID uuid.UUID) (*domain.HostelOwner, error)
	SetChargeRequest(ctx context.Context, bookingID uuid.UUID, gatewayRequestID string) error
}

type gatewayClient interface {
	InitiateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResponse, error)
	QueryChargeStatus(ctx context.Context, gatewayRequestID string) (*gateway.ChargeStatus, error)
}

type readCache interface {
	Get(ctx context.Context, key string, dst any) (cache.Generation, bool)
	Set(ctx context.Context, key string, gen cache.Generation, v any)
	Invalidate(ctx context.Context)
}

type Options struct {
	// VerifyWithGateway re-queries the charge before a record is verified.
	VerifyWithGateway bool
}

type Service struct {
	recs     reconciliationRepo
	payouts  payoutReader
	catalog  catalogReader
	gateway  gatewayClient
	policy   *commission.Policy
	notifier notify.Notifier
	cache    readCache
	db       *sql.DB
	opts     Options
	now      func() time.Time
}

func NewService(
	recs reconciliationRepo,
	payouts payoutReader,
	catalog catalogReader,
	gw gatewayClient,
	policy *commission.Policy,
	notifier notify.Notifier,
	reads readCache,
	db *sql.DB,
	opts Options,
) *Service {
	return &Service{
		recs:     recs,
		payouts:  payouts,
		catalog:  catalog,
		gateway:  gw,
		policy:   policy,
		notifier: notifier,
		cache:    reads,
		db:       db,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) GetReconciliation(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error) {
	rec, err := s.recs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetReconciliation: %w", err)
	}
	return rec, nil
}

func (s *Service) ListReconciliations(ctx context.Context, f domain.ReconciliationFilter, limit, offset int) ([]domain.Reconciliation, int, error) {
	recs, total, err := s.recs.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListReconciliations: %w", err)
	}
	return recs, total, nil
}

// GetHostEarnings summarises an owner's verified income and processed payouts
// between two inclusive dates.
func (s *Service) GetHostEarnings(ctx context.Context, ownerID uuid.UUID, periodStart, periodEnd time.Time) (*domain.HostEarnings, error) {
	from, to := truncateDay(periodStart), truncateDay(periodEnd)
	if from.After(to) {
		return nil, fmt.Errorf("GetHostEarnings: %w", domain.ErrInvalidPeriod)
	}

	key := fmt.Sprintf("earnings:%s:%s:%s", ownerID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	var cached domain.HostEarnings
	gen := cache.NoGeneration
	if s.cache != nil {
		var hit bool
		if gen, hit = s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	end := to.AddDate(0, 0, 1)
	e, err := s.recs.EarningsForOwner(ctx, ownerID, from, end)
	if err != nil {
		return nil, fmt.Errorf("GetHostEarnings: %w", err)
	}

	paid, settled, err := s.payouts.PaidOutForOwner(ctx, ownerID, from, end)
	if err != nil {
		return nil, fmt.Errorf("GetHostEarnings: %w", err)
	}

	e.PeriodStart = from
	e.PeriodEnd = to
	e.PaidOut = paid
	e.SettlementCount = settled
	e.Outstanding = e.Earnings - paid

	if s.cache != nil {
		s.cache.Set(ctx, key, gen, e)
	}
	return e, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func (s *Service) publish(ctx context.Context, t notify.EventType, rec *domain.Reconciliation, reason string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:          t,
		SubjectID:     rec.ID,
		Reference:     rec.TransactionID,
		HostelID:      rec.HostelID,
		HostelOwnerID: rec.HostelOwnerID,
		Amount:        rec.GrossAmount,
		Currency:      rec.Currency,
		Status:        string(rec.Status),
		Reason:        reason,
		OccurredAt:    s.now(),
	})
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func appendNote(existing *string, note string) *string {
	if existing == nil || *existing == "" {
		return &note
	}
	joined := *existing + "\n" + note
	return &joined
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

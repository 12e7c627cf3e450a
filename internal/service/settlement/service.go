package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/cache"
	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
	"github.com/josh-kwaku/roomlink-settlements/internal/notify"
	"github.com/josh-kwaku/roomlink-settlements/internal/repository"
)

type settlementRepo interface {
	LockHostel(ctx context.Context, tx *sql.Tx, hostelID uuid.UUID) error
	FindActiveOverlapping(ctx context.Context, tx *sql.Tx, hostelID uuid.UUID, start, end time.Time) ([]domain.Settlement, error)
	Create(ctx context.Context, tx *sql.Tx, s *domain.Settlement) error
	AddMembers(ctx context.Context, tx *sql.Tx, settlementID uuid.UUID, reconciliationIDs []uuid.UUID) error
	ReleaseMembers(ctx context.Context, tx *sql.Tx, settlementID uuid.UUID) ([]uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error)
	GetByReference(ctx context.Context, reference string) (*domain.Settlement, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Settlement, error)
	Update(ctx context.Context, tx *sql.Tx, s *domain.Settlement) error
	AddApproval(ctx context.Context, tx *sql.Tx, a *domain.Approval) error
	List(ctx context.Context, f domain.SettlementFilter, limit, offset int) ([]domain.Settlement, int, error)
	Stats(ctx context.Context, f domain.SettlementFilter) (*domain.SettlementStats, error)
}

type reconciliationRepo interface {
	ListVerifiedForUpdate(ctx context.Context, tx *sql.Tx, hostelID uuid.UUID, from, to time.Time) ([]domain.Reconciliation, error)
	MarkReconciled(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, at time.Time, by string) (int64, error)
	ReleaseToVerified(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, by string) (int64, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Reconciliation, error)
	HostelsWithUnsettled(ctx context.Context, before time.Time) ([]repository.UnsettledHostel, error)
}

type eventRepo interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.SettlementEvent) error
}

type catalogReader interface {
	GetHostelOwner(ctx context.Context, hostelID uuid.UUID) (*domain.HostelOwner, error)
}

type transferClient interface {
	SendTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResponse, error)
}

type readCache interface {
	Get(ctx context.Context, key string, dst any) (cache.Generation, bool)
	Set(ctx context.Context, key string, gen cache.Generation, v any)
	Invalidate(ctx context.Context)
}

type Service struct {
	settlements settlementRepo
	recs        reconciliationRepo
	events      eventRepo
	catalog     catalogReader
	gateway     transferClient
	notifier    notify.Notifier
	cache       readCache
	db          *sql.DB
	systemUser  uuid.UUID
	now         func() time.Time
}

func NewService(
	settlements settlementRepo,
	recs reconciliationRepo,
	events eventRepo,
	catalog catalogReader,
	gw transferClient,
	notifier notify.Notifier,
	reads readCache,
	db *sql.DB,
	systemUser uuid.UUID,
) *Service {
	return &Service{
		settlements: settlements,
		recs:        recs,
		events:      events,
		catalog:     catalog,
		gateway:     gw,
		notifier:    notifier,
		cache:       reads,
		db:          db,
		systemUser:  systemUser,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SettlementDetail is a settlement together with the payments it swept up.
type SettlementDetail struct {
	Settlement      *domain.Settlement
	Reconciliations []domain.Reconciliation
}

func (s *Service) GetSettlement(ctx context.Context, id uuid.UUID) (*SettlementDetail, error) {
	st, err := s.settlements.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetSettlement: %w", err)
	}

	members := []domain.Reconciliation{}
	if len(st.ReconciliationIDs) > 0 {
		members, err = s.recs.ListByIDs(ctx, st.ReconciliationIDs)
		if err != nil {
			return nil, fmt.Errorf("GetSettlement: %w", err)
		}
	}
	return &SettlementDetail{Settlement: st, Reconciliations: members}, nil
}

func (s *Service) ListSettlements(ctx context.Context, f domain.SettlementFilter, limit, offset int) ([]domain.Settlement, int, error) {
	settlements, total, err := s.settlements.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListSettlements: %w", err)
	}
	return settlements, total, nil
}

func (s *Service) GetSettlementStats(ctx context.Context, f domain.SettlementFilter) (*domain.SettlementStats, error) {
	key := "stats:" + statsKey(f)
	var cached domain.SettlementStats
	gen := cache.NoGeneration
	if s.cache != nil {
		var hit bool
		if gen, hit = s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	stats, err := s.settlements.Stats(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("GetSettlementStats: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, gen, stats)
	}
	return stats, nil
}

func statsKey(f domain.SettlementFilter) string {
	hostel, owner, status, start, end := "-", "-", "-", "-", "-"
	if f.HostelID != nil {
		hostel = f.HostelID.String()
	}
	if f.HostelOwnerID != nil {
		owner = f.HostelOwnerID.String()
	}
	if f.PayoutStatus != nil {
		status = string(*f.PayoutStatus)
	}
	if f.StartDate != nil {
		start = f.StartDate.Format(time.DateOnly)
	}
	if f.EndDate != nil {
		end = f.EndDate.Format(time.DateOnly)
	}
	return strings.Join([]string{hostel, owner, status, start, end}, ":")
}

// mutate locks the settlement, applies change and persists it with an audit
// event in one transaction.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, eventType domain.SettlementEventType, actor uuid.UUID, payload any, change func(tx *sql.Tx, st *domain.Settlement) error) (*domain.Settlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mutate: begin tx: %w", err)
	}
	defer tx.Rollback()

	st, err := s.settlements.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("mutate: %w", err)
	}

	if err := change(tx, st); err != nil {
		return nil, fmt.Errorf("mutate: %w", err)
	}
	st.LastUpdatedBy = &actor

	if err := s.settlements.Update(ctx, tx, st); err != nil {
		return nil, fmt.Errorf("mutate: %w", err)
	}

	if err := s.writeEvent(ctx, tx, st.ID, eventType, actor.String(), payload); err != nil {
		return nil, fmt.Errorf("mutate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("mutate: commit: %w", err)
	}

	s.invalidate(ctx)
	return st, nil
}

func (s *Service) writeEvent(ctx context.Context, tx *sql.Tx, settlementID uuid.UUID, eventType domain.SettlementEventType, actor string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("writeEvent: marshal payload: %w", err)
		}
		raw = b
	}

	err := s.events.Create(ctx, tx, &domain.SettlementEvent{
		ID:           uuid.New(),
		SettlementID: settlementID,
		EventType:    eventType,
		Actor:        actor,
		Payload:      raw,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return fmt.Errorf("writeEvent: %w", err)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func (s *Service) publish(ctx context.Context, t notify.EventType, st *domain.Settlement, reason string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:          t,
		SubjectID:     st.ID,
		Reference:     st.Reference,
		HostelID:      st.HostelID,
		HostelOwnerID: st.HostelOwnerID,
		Amount:        st.TotalPayableAmount,
		Currency:      st.Currency,
		Status:        string(st.PayoutStatus),
		Reason:        reason,
		OccurredAt:    s.now(),
	})
}

func logSettlement(ctx context.Context, msg string, st *domain.Settlement, args ...any) {
	base := []any{
		"settlement_id", st.ID,
		"reference", st.Reference,
		"payout_status", st.PayoutStatus,
	}
	logging.FromContext(ctx).Info(msg, append(base, args...)...)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

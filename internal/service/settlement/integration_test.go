package settlement_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/repository"
	"github.com/josh-kwaku/roomlink-settlements/internal/service/settlement"
	"github.com/josh-kwaku/roomlink-settlements/internal/testutil"
)

type countingGateway struct {
	calls atomic.Int32
	delay time.Duration
	err   error

	mu       sync.Mutex
	requests []gateway.TransferRequest
}

func (g *countingGateway) SendTransfer(_ context.Context, req gateway.TransferRequest) (*gateway.TransferResponse, error) {
	n := g.calls.Add(1)
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.TransferResponse{TransferID: fmt.Sprintf("B2C%04d", n), ResponseCode: "0"}, nil
}

type fixture struct {
	db     *sql.DB
	svc    *settlement.Service
	gw     *countingGateway
	admin  *domain.User
	owner  *domain.User
	hostel uuid.UUID
	today  time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	gw := &countingGateway{}

	svc := settlement.NewService(
		repository.NewSettlementRepository(db),
		repository.NewReconciliationRepository(db),
		repository.NewSettlementEventRepository(db),
		repository.NewCatalogRepository(db),
		gw,
		nil,
		nil,
		db,
		testutil.SystemUserID,
	)

	admin := testutil.SeedTestUser(t, db, "admin@test.com", "Admin", domain.RoleAdmin)
	owner := testutil.SeedTestUser(t, db, "owner@test.com", "Owner", domain.RoleHost)
	hostel := testutil.SeedHostel(t, db, owner.ID, testutil.HostelOpts{PayoutPhone: "0700111222"})

	y, m, d := time.Now().UTC().Date()
	return &fixture{
		db:     db,
		svc:    svc,
		gw:     gw,
		admin:  admin,
		owner:  owner,
		hostel: hostel,
		today:  time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
	}
}

// serviceOn returns a service over db that pays out through gw.
func (f *fixture) serviceOn(db *sql.DB, gw interface {
	SendTransfer(context.Context, gateway.TransferRequest) (*gateway.TransferResponse, error)
}) *settlement.Service {
	return settlement.NewService(
		repository.NewSettlementRepository(db),
		repository.NewReconciliationRepository(db),
		repository.NewSettlementEventRepository(db),
		repository.NewCatalogRepository(db),
		gw,
		nil,
		nil,
		db,
		testutil.SystemUserID,
	)
}

func (f *fixture) create(t *testing.T, start, end time.Time) *domain.Settlement {
	t.Helper()
	st, outcome, err := f.svc.CreateSettlement(context.Background(), settlement.CreateSettlementRequest{
		HostelID:    f.hostel,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedBy:   f.admin.ID,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCreated, outcome)
	return st
}

func (f *fixture) approved(t *testing.T, gross int64) *domain.Settlement {
	t.Helper()
	testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, gross, time.Now().UTC())
	st := f.create(t, f.today, f.today)
	st, err := f.svc.ApproveSettlement(context.Background(), st.ID, f.admin.ID, domain.RoleAdmin, "checked")
	require.NoError(t, err)
	return st
}

func TestCreateSettlement_BatchesVerifiedPayments(t *testing.T) {
	f := setup(t)
	recID := testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 100_000, time.Now().UTC())

	st := f.create(t, f.today, f.today)

	assert.Equal(t, domain.PayoutStatusPending, st.PayoutStatus)
	assert.Equal(t, 1, st.TransactionCount)
	assert.Equal(t, int64(100_000), st.TotalGrossAmount)
	assert.Equal(t, int64(15_000), st.TotalCommissionAmount)
	assert.Equal(t, int64(85_000), st.TotalPayableAmount)
	assert.Equal(t, domain.PayoutMethodMobileMoney, st.PayoutMethod)
	require.NotNil(t, st.PayoutPhone)
	assert.Equal(t, "0700111222", *st.PayoutPhone)
	assert.Regexp(t, `^SETTLE\d{8}[0-9A-Z]{8}$`, st.Reference)

	assert.Equal(t, domain.ReconciliationStatusReconciled, testutil.GetReconciliationStatus(t, f.db, recID))
	assert.Equal(t, 1, testutil.CountActiveMemberships(t, f.db, recID))
	assert.Equal(t, 1, testutil.CountSettlementEvents(t, f.db, st.ID, domain.SettlementEventCreated))

	detail, err := f.svc.GetSettlement(context.Background(), st.ID)
	require.NoError(t, err)
	require.Len(t, detail.Reconciliations, 1)
	assert.Equal(t, recID, detail.Reconciliations[0].ID)
	assert.NotNil(t, detail.Reconciliations[0].ReconciledAt)
}

func TestCreateSettlement_AggregatesOnlyThePeriod(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	var wantPayable int64
	for _, gross := range []int64{10_000, 25_000, 33_333} {
		testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, gross, now)
		wantPayable += gross - (gross*15+50)/100
	}
	outside := testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 99_000, now.AddDate(0, 0, -10))

	st := f.create(t, f.today.AddDate(0, 0, -2), f.today)

	assert.Equal(t, 3, st.TransactionCount)
	assert.Len(t, st.ReconciliationIDs, 3)
	assert.Equal(t, wantPayable, st.TotalPayableAmount)
	assert.Equal(t, st.TotalGrossAmount, st.TotalCommissionAmount+st.TotalTaxAmount+st.TotalPayableAmount)
	assert.Equal(t, domain.ReconciliationStatusVerified, testutil.GetReconciliationStatus(t, f.db, outside))
}

func TestCreateSettlement_Overlaps(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 100_000, time.Now().UTC())
	first := f.create(t, f.today.AddDate(0, 0, -3), f.today)

	t.Run("same period returns existing", func(t *testing.T) {
		again, outcome, err := f.svc.CreateSettlement(ctx, settlement.CreateSettlementRequest{
			HostelID: f.hostel, PeriodStart: f.today.AddDate(0, 0, -3), PeriodEnd: f.today, CreatedBy: f.admin.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyExists, outcome)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("different overlapping period conflicts", func(t *testing.T) {
		_, _, err := f.svc.CreateSettlement(ctx, settlement.CreateSettlementRequest{
			HostelID: f.hostel, PeriodStart: f.today, PeriodEnd: f.today.AddDate(0, 0, 5), CreatedBy: f.admin.ID,
		})
		require.ErrorIs(t, err, domain.ErrConflict)

		var conflict *domain.SettlementConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, first.Reference, conflict.Existing.Reference)
	})

	t.Run("later period with nothing verified", func(t *testing.T) {
		_, _, err := f.svc.CreateSettlement(ctx, settlement.CreateSettlementRequest{
			HostelID: f.hostel, PeriodStart: f.today.AddDate(0, 0, 1), PeriodEnd: f.today.AddDate(0, 0, 7), CreatedBy: f.admin.ID,
		})
		require.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("inverted period", func(t *testing.T) {
		_, _, err := f.svc.CreateSettlement(ctx, settlement.CreateSettlementRequest{
			HostelID: f.hostel, PeriodStart: f.today, PeriodEnd: f.today.AddDate(0, 0, -1), CreatedBy: f.admin.ID,
		})
		require.ErrorIs(t, err, domain.ErrInvalidPeriod)
	})

	t.Run("unknown hostel", func(t *testing.T) {
		_, _, err := f.svc.CreateSettlement(ctx, settlement.CreateSettlementRequest{
			HostelID: uuid.New(), PeriodStart: f.today, PeriodEnd: f.today, CreatedBy: f.admin.ID,
		})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCreateSettlement_PeriodIgnoresSessionTimeZone(t *testing.T) {
	for _, zone := range []string{"Pacific/Honolulu", "Pacific/Kiritimati"} {
		t.Run(zone, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			svc := f.serviceOn(testutil.OpenInZone(t, zone), f.gw)
			testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 100_000, time.Now().UTC())

			req := settlement.CreateSettlementRequest{
				HostelID: f.hostel, PeriodStart: f.today, PeriodEnd: f.today, CreatedBy: f.admin.ID,
			}
			st, outcome, err := svc.CreateSettlement(ctx, req)
			require.NoError(t, err)
			require.Equal(t, domain.OutcomeCreated, outcome)

			var start, end string
			require.NoError(t, f.db.QueryRow(
				`SELECT period_start::text, period_end::text FROM payment_settlements WHERE id = $1`, st.ID,
			).Scan(&start, &end))
			assert.Equal(t, f.today.Format(time.DateOnly), start)
			assert.Equal(t, f.today.Format(time.DateOnly), end)

			again, outcome, err := svc.CreateSettlement(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeAlreadyExists, outcome)
			assert.Equal(t, st.ID, again.ID)

			list, total, err := svc.ListSettlements(ctx, domain.SettlementFilter{StartDate: &f.today, EndDate: &f.today}, 10, 0)
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			require.Len(t, list, 1)
			assert.Equal(t, st.ID, list[0].ID)
		})
	}
}

func TestCreateSettlement_ConcurrentOverlappingRequests(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	recID := testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 100_000, time.Now().UTC())

	periods := [][2]time.Time{
		{f.today.AddDate(0, 0, -1), f.today},
		{f.today, f.today.AddDate(0, 0, 1)},
		{f.today.AddDate(0, 0, -7), f.today},
		{f.today, f.today},
	}

	var wg sync.WaitGroup
	var created atomic.Int32
	for _, p := range periods {
		wg.Add(1)
		go func(start, end time.Time) {
			defer wg.Done()
			_, outcome, err := f.svc.CreateSettlement(ctx, settlement.CreateSettlementRequest{
				HostelID: f.hostel, PeriodStart: start, PeriodEnd: end, CreatedBy: f.admin.ID,
			})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrConflict)
				return
			}
			if outcome == domain.OutcomeCreated {
				created.Add(1)
			}
		}(p[0], p[1])
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load(), "exactly one settlement may claim the payment")
	assert.Equal(t, 1, testutil.CountActiveMemberships(t, f.db, recID))

	var total int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM payment_settlements WHERE hostel_id = $1`, f.hostel).Scan(&total))
	assert.Equal(t, 1, total)
}

func TestCreateSettlement_RerunDoesNotRebatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 100_000, time.Now().UTC())

	first := f.create(t, f.today, f.today)
	_, err := f.svc.CancelSettlement(ctx, first.ID, "wrong period", f.admin.ID)
	require.NoError(t, err)

	second := f.create(t, f.today, f.today)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.TotalPayableAmount, second.TotalPayableAmount)

	for _, id := range second.ReconciliationIDs {
		assert.Equal(t, 1, testutil.CountActiveMemberships(t, f.db, id))
	}
}

func TestProcessPayout_RequiresApproval(t *testing.T) {
	f := setup(t)
	testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 100_000, time.Now().UTC())
	st := f.create(t, f.today, f.today)

	_, err := f.svc.ProcessSettlementPayout(context.Background(), st.ID, f.admin.ID)

	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, int32(0), f.gw.calls.Load())
}

func TestProcessPayout_Success(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	st := f.approved(t, 100_000)
	assert.Equal(t, domain.PayoutStatusApproved, st.PayoutStatus)
	require.Len(t, st.Approvals, 1)
	assert.Equal(t, f.admin.ID, st.Approvals[0].ApprovedBy)

	paid, err := f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PayoutStatusProcessed, paid.PayoutStatus)
	require.NotNil(t, paid.PayoutTransactionID)
	assert.Equal(t, "B2C0001", *paid.PayoutTransactionID)
	assert.NotNil(t, paid.PayoutDate)
	assert.NotNil(t, paid.ProcessedDate)

	require.Len(t, f.gw.requests, 1)
	assert.Equal(t, int64(85_000), f.gw.requests[0].Amount)
	assert.Equal(t, "0700111222", f.gw.requests[0].Phone)
	assert.Equal(t, st.Reference, f.gw.requests[0].Reference)

	_, err = f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, int32(1), f.gw.calls.Load())
}

func TestProcessPayout_GatewayFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	st := f.approved(t, 100_000)
	f.gw.err = fmt.Errorf("transfer rejected: insufficient float: %w", domain.ErrGateway)

	_, err := f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.ErrorIs(t, err, domain.ErrGateway)

	detail, err := f.svc.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, detail.Settlement.PayoutStatus)
	require.NotNil(t, detail.Settlement.AdminNotes)
	assert.Contains(t, *detail.Settlement.AdminNotes, "insufficient float")
	assert.Nil(t, detail.Settlement.ProcessedDate)

	t.Run("reopen and pay again", func(t *testing.T) {
		f.gw.err = nil

		reopened, err := f.svc.ReopenSettlement(ctx, st.ID, f.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutStatusPending, reopened.PayoutStatus)

		_, err = f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
		require.ErrorIs(t, err, domain.ErrInvalidState)

		_, err = f.svc.ApproveSettlement(ctx, st.ID, f.admin.ID, domain.RoleSuperAdmin, "float topped up")
		require.NoError(t, err)

		paid, err := f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutStatusProcessed, paid.PayoutStatus)
		assert.Len(t, paid.Approvals, 2)
	})
}

func TestProcessPayout_TimeoutIsIndeterminate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	st := f.approved(t, 100_000)
	f.gw.err = fmt.Errorf("send transfer: %w", domain.ErrGatewayTimeout)

	_, err := f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.ErrorIs(t, err, domain.ErrGatewayTimeout)

	detail, err := f.svc.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusScheduled, detail.Settlement.PayoutStatus)
	require.NotNil(t, detail.Settlement.AdminNotes)
	assert.Contains(t, *detail.Settlement.AdminNotes, "indeterminate")

	_, err = f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState, "a scheduled payout must not be sent twice")
	assert.Equal(t, int32(1), f.gw.calls.Load())

	confirmed, err := f.svc.ApplyTransferResult(ctx, domain.TransferResult{
		TransferID: "B2C-LATE", Reference: st.Reference, ResultCode: 0, ResultDesc: "accepted",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessed, confirmed.PayoutStatus)
	require.NotNil(t, confirmed.PayoutTransactionID)
	assert.Equal(t, "B2C-LATE", *confirmed.PayoutTransactionID)
}

func TestProcessPayout_GarbledAcceptStaysScheduled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	st := f.approved(t, 100_000)

	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"transfer_id":"TR-1","response_code":`))
	}))
	t.Cleanup(srv.Close)
	svc := f.serviceOn(f.db, gateway.NewClient(gateway.Config{BaseURL: srv.URL, Timeout: time.Second}))

	_, err := svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.ErrorIs(t, err, domain.ErrGatewayTimeout)
	assert.NotErrorIs(t, err, domain.ErrGateway)

	detail, err := svc.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusScheduled, detail.Settlement.PayoutStatus)
	require.NotNil(t, detail.Settlement.AdminNotes)
	assert.Contains(t, *detail.Settlement.AdminNotes, "query the gateway")

	_, err = svc.ReopenSettlement(ctx, st.ID, f.admin.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, int32(1), sent.Load())
}

func TestApplyTransferResult_SuccessAfterRecordedFailure(t *testing.T) {
	tests := []struct {
		name   string
		reopen bool
	}{
		{name: "still failed"},
		{name: "reopened but not sent again", reopen: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			st := f.approved(t, 100_000)
			f.gw.err = fmt.Errorf("transfer status unknown: %w", domain.ErrGateway)

			_, err := f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
			require.ErrorIs(t, err, domain.ErrGateway)

			if tt.reopen {
				reopened, err := f.svc.ReopenSettlement(ctx, st.ID, f.admin.ID)
				require.NoError(t, err)
				require.Equal(t, domain.PayoutStatusPending, reopened.PayoutStatus)
			}

			confirmed, err := f.svc.ApplyTransferResult(ctx, domain.TransferResult{
				EventID: "evt-late", TransferID: "B2C-LATE", Reference: st.Reference, ResultCode: 0, ResultDesc: "completed",
			})
			require.NoError(t, err)
			assert.Equal(t, domain.PayoutStatusProcessed, confirmed.PayoutStatus)
			require.NotNil(t, confirmed.PayoutTransactionID)
			assert.Equal(t, "B2C-LATE", *confirmed.PayoutTransactionID)
			require.NotNil(t, confirmed.AdminNotes)
			assert.Contains(t, *confirmed.AdminNotes, "gateway confirmed transfer B2C-LATE")

			_, err = f.svc.ReopenSettlement(ctx, st.ID, f.admin.ID)
			require.ErrorIs(t, err, domain.ErrInvalidState)
			_, err = f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
			require.ErrorIs(t, err, domain.ErrInvalidState)
			assert.Equal(t, int32(1), f.gw.calls.Load())
		})
	}
}

func TestApplyTransferResult_SuccessForCancelledIsRefused(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	st := f.approved(t, 100_000)
	f.gw.err = fmt.Errorf("transfer rejected: %w", domain.ErrGateway)

	_, err := f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.ErrorIs(t, err, domain.ErrGateway)
	_, err = f.svc.CancelSettlement(ctx, st.ID, "owner changed wallet", f.admin.ID)
	require.NoError(t, err)

	_, err = f.svc.ApplyTransferResult(ctx, domain.TransferResult{TransferID: "B2C-LATE", Reference: st.Reference})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestProcessPayout_ConcurrentTriggersPayOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	st := f.approved(t, 100_000)
	f.gw.delay = 100 * time.Millisecond

	const callers = 5
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidState)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), f.gw.calls.Load(), "the gateway must be called exactly once")
	assert.Equal(t, 1, testutil.CountSettlementEvents(t, f.db, st.ID, domain.SettlementEventProcessed))
}

func TestProcessPayout_Gates(t *testing.T) {
	ctx := context.Background()

	t.Run("held", func(t *testing.T) {
		f := setup(t)
		st := f.approved(t, 50_000)
		_, err := f.svc.HoldSettlement(ctx, st.ID, "owner under review", f.admin.ID)
		require.NoError(t, err)

		_, err = f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
		require.ErrorIs(t, err, domain.ErrInvalidState)

		_, err = f.svc.ReleaseSettlement(ctx, st.ID, f.admin.ID)
		require.NoError(t, err)
		_, err = f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
		require.NoError(t, err)
	})

	t.Run("disputed", func(t *testing.T) {
		f := setup(t)
		st := f.approved(t, 50_000)
		_, err := f.svc.DisputeSettlement(ctx, st.ID, "totals questioned", f.admin.ID)
		require.NoError(t, err)

		_, err = f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
		require.ErrorIs(t, err, domain.ErrInvalidState)

		_, err = f.svc.ResolveSettlementDispute(ctx, st.ID, "totals confirmed", f.admin.ID)
		require.NoError(t, err)
		_, err = f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
		require.NoError(t, err)
	})
}

func TestHoldAndRelease(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 100_000, time.Now().UTC())
	st := f.create(t, f.today, f.today)

	held, err := f.svc.HoldSettlement(ctx, st.ID, "kyc", f.admin.ID)
	require.NoError(t, err)
	assert.True(t, held.OnHold)
	require.NotNil(t, held.HeldAt)

	again, err := f.svc.HoldSettlement(ctx, st.ID, "kyc pending", f.admin.ID)
	require.NoError(t, err)
	assert.True(t, again.OnHold)
	assert.Equal(t, "kyc pending", *again.HoldReason)
	assert.WithinDuration(t, *held.HeldAt, *again.HeldAt, time.Millisecond)

	_, err = f.svc.ApproveSettlement(ctx, st.ID, f.admin.ID, domain.RoleAdmin, "")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	released, err := f.svc.ReleaseSettlement(ctx, st.ID, f.admin.ID)
	require.NoError(t, err)
	assert.False(t, released.OnHold)
	assert.NotNil(t, released.ReleasedAt)

	_, err = f.svc.ReleaseSettlement(ctx, st.ID, f.admin.ID)
	require.NoError(t, err)
}

func TestCancelSettlement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	recID := testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 100_000, time.Now().UTC())
	st := f.create(t, f.today, f.today)

	cancelled, err := f.svc.CancelSettlement(ctx, st.ID, "duplicate run", f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCancelled, cancelled.PayoutStatus)
	assert.Equal(t, domain.ReconciliationStatusVerified, testutil.GetReconciliationStatus(t, f.db, recID))
	assert.Equal(t, 0, testutil.CountActiveMemberships(t, f.db, recID))

	_, err = f.svc.CancelSettlement(ctx, st.ID, "again", f.admin.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = f.svc.HoldSettlement(ctx, st.ID, "late hold", f.admin.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestApplyTransferResult_FailureAfterProcessing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	st := f.approved(t, 100_000)
	_, err := f.svc.ProcessSettlementPayout(ctx, st.ID, f.admin.ID)
	require.NoError(t, err)

	same, err := f.svc.ApplyTransferResult(ctx, domain.TransferResult{Reference: st.Reference, TransferID: "B2C0001"})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessed, same.PayoutStatus)

	failed, err := f.svc.ApplyTransferResult(ctx, domain.TransferResult{
		Reference: st.Reference, TransferID: "B2C0001", ResultCode: 2001, ResultDesc: "recipient wallet closed",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, failed.PayoutStatus)
	assert.Contains(t, *failed.AdminNotes, "recipient wallet closed")

	_, err = f.svc.ApplyTransferResult(ctx, domain.TransferResult{Reference: "SETTLE00000000NOPE0000"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetSettlementStats(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	empty, err := f.svc.GetSettlementStats(ctx, domain.SettlementFilter{})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalSettlements)
	assert.Zero(t, empty.TotalPaidOut)
	assert.Empty(t, empty.ByStatus)

	paid := f.approved(t, 100_000)
	_, err = f.svc.ProcessSettlementPayout(ctx, paid.ID, f.admin.ID)
	require.NoError(t, err)

	earlier := f.today.AddDate(0, 0, -3)
	testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 40_000, earlier.Add(time.Hour))
	f.create(t, earlier, earlier)

	stats, err := f.svc.GetSettlementStats(ctx, domain.SettlementFilter{HostelID: &f.hostel})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSettlements)
	assert.Equal(t, int64(85_000), stats.TotalPaidOut)
	assert.Equal(t, int64(34_000), stats.TotalPending)
	assert.Equal(t, int64(21_000), stats.TotalPlatformFees)
	assert.Equal(t, int64(140_000), stats.TotalGrossAmount)
}

func TestAutoSettle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 10_000, now.AddDate(0, 0, -2))
	recent := testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 20_000, now.AddDate(0, 0, -1))
	today := testutil.SeedVerifiedReconciliation(t, f.db, f.hostel, f.owner.ID, 30_000, now)

	created, err := f.svc.AutoSettle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	assert.Equal(t, domain.ReconciliationStatusReconciled, testutil.GetReconciliationStatus(t, f.db, older))
	assert.Equal(t, domain.ReconciliationStatusReconciled, testutil.GetReconciliationStatus(t, f.db, recent))
	assert.Equal(t, domain.ReconciliationStatusVerified, testutil.GetReconciliationStatus(t, f.db, today))

	list, total, err := f.svc.ListSettlements(ctx, domain.SettlementFilter{HostelID: &f.hostel}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, testutil.SystemUserID, list[0].CreatedBy)
	assert.True(t, list[0].PeriodStart.Equal(f.today.AddDate(0, 0, -2)))
	assert.True(t, list[0].PeriodEnd.Equal(f.today.AddDate(0, 0, -1)))

	again, err := f.svc.AutoSettle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

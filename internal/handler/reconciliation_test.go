package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

type fakeReconciliationService struct {
	rec    *domain.Reconciliation
	err    error
	filter domain.ReconciliationFilter
	by     uuid.UUID
	reason string
}

func (f *fakeReconciliationService) GetReconciliation(context.Context, uuid.UUID) (*domain.Reconciliation, error) {
	return f.result()
}

func (f *fakeReconciliationService) ListReconciliations(_ context.Context, flt domain.ReconciliationFilter, _, _ int) ([]domain.Reconciliation, int, error) {
	f.filter = flt
	return []domain.Reconciliation{*f.rec}, 1, f.err
}

func (f *fakeReconciliationService) VerifyReconciliation(_ context.Context, _, by uuid.UUID) (*domain.Reconciliation, error) {
	f.by = by
	return f.result()
}

func (f *fakeReconciliationService) MarkFailed(_ context.Context, _ uuid.UUID, reason string, by uuid.UUID) (*domain.Reconciliation, error) {
	f.reason, f.by = reason, by
	return f.result()
}

func (f *fakeReconciliationService) MarkReversed(_ context.Context, _ uuid.UUID, reason string, by uuid.UUID) (*domain.Reconciliation, error) {
	f.reason, f.by = reason, by
	return f.result()
}

func (f *fakeReconciliationService) FlagDispute(_ context.Context, _ uuid.UUID, reason string, _ uuid.UUID) (*domain.Reconciliation, error) {
	f.reason = reason
	return f.result()
}

func (f *fakeReconciliationService) ResolveDispute(_ context.Context, _ uuid.UUID, resolution string, _ uuid.UUID) (*domain.Reconciliation, error) {
	f.reason = resolution
	return f.result()
}

func (f *fakeReconciliationService) result() (*domain.Reconciliation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func sampleReconciliation() *domain.Reconciliation {
	return &domain.Reconciliation{
		ID:                uuid.New(),
		BookingID:         uuid.New(),
		TransactionID:     "ws_CO_42",
		GrossAmount:       100000,
		CommissionPct:     decimal.RequireFromString("15"),
		CommissionAmount:  15000,
		HostPayableAmount: 85000,
		Currency:          "UGX",
		Status:            domain.ReconciliationStatusVerified,
	}
}

func TestReconciliationHandler_Verify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"verified", nil, http.StatusOK},
		{"closed record", fmt.Errorf("reversed: %w", domain.ErrInvalidState), http.StatusUnprocessableEntity},
		{"unknown", fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound), http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeReconciliationService{rec: sampleReconciliation(), err: tc.err}
			rr := httptest.NewRecorder()
			NewReconciliationHandler(svc).Verify(rr, newRequest(http.MethodPut, "/", "", adminID, domain.RoleAdmin, uuid.NewString()))

			require.Equal(t, tc.wantStatus, rr.Code)
			if tc.err == nil {
				assert.Equal(t, adminID, svc.by)
				var got reconciliationDTO
				dataAs(t, decodeResponse(t, rr), &got)
				assert.Equal(t, "15.00", got.CommissionPct)
				assert.Equal(t, int64(85000), got.HostPayableAmount)
			}
		})
	}
}

func TestReconciliationHandler_Reverse(t *testing.T) {
	svc := &fakeReconciliationService{rec: sampleReconciliation()}
	h := NewReconciliationHandler(svc)

	rr := httptest.NewRecorder()
	h.Reverse(rr, newRequest(http.MethodPut, "/", `{"reason":"chargeback"}`, adminID, domain.RoleAdmin, uuid.NewString()))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "chargeback", svc.reason)

	rr = httptest.NewRecorder()
	h.Reverse(rr, newRequest(http.MethodPut, "/", `{"reason":""}`, adminID, domain.RoleAdmin, uuid.NewString()))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReconciliationHandler_ListFilters(t *testing.T) {
	svc := &fakeReconciliationService{rec: sampleReconciliation()}
	h := NewReconciliationHandler(svc)
	hostel := uuid.New()

	rr := httptest.NewRecorder()
	h.List(rr, newRequest(http.MethodGet, "/api/v1/reconciliations?status=verified&transaction_id=ws_CO_42&hostel_id="+hostel.String(), "", adminID, domain.RoleAdmin, ""))

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.filter.Status)
	assert.Equal(t, domain.ReconciliationStatusVerified, *svc.filter.Status)
	assert.Equal(t, "ws_CO_42", svc.filter.TransactionID)
	assert.Equal(t, hostel, *svc.filter.HostelID)

	rr = httptest.NewRecorder()
	h.List(rr, newRequest(http.MethodGet, "/api/v1/reconciliations?hostel_id=abc", "", adminID, domain.RoleAdmin, ""))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
)

type reconciliationService interface {
	GetReconciliation(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error)
	ListReconciliations(ctx context.Context, f domain.ReconciliationFilter, limit, offset int) ([]domain.Reconciliation, int, error)
	VerifyReconciliation(ctx context.Context, id, verifiedBy uuid.UUID) (*domain.Reconciliation, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Reconciliation, error)
	MarkReversed(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Reconciliation, error)
	FlagDispute(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Reconciliation, error)
	ResolveDispute(ctx context.Context, id uuid.UUID, resolution string, by uuid.UUID) (*domain.Reconciliation, error)
}

type ReconciliationHandler struct {
	recs reconciliationService
}

func NewReconciliationHandler(recs reconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{recs: recs}
}

func (h *ReconciliationHandler) List(w http.ResponseWriter, r *http.Request) {
	var fields []FieldError
	q := r.URL.Query()
	f := domain.ReconciliationFilter{
		HostelID:      queryUUID(r, "hostel_id", &fields),
		HostelOwnerID: queryUUID(r, "owner_id", &fields),
		TransactionID: q.Get("transaction_id"),
	}
	if raw := q.Get("status"); raw != "" {
		status := domain.ReconciliationStatus(raw)
		if !status.IsValid() {
			fields = append(fields, FieldError{Field: "status", Message: "must be a valid reconciliation status"})
		} else {
			f.Status = &status
		}
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}
	page, limit := pagination(r)

	items, total, err := h.recs.ListReconciliations(r.Context(), f, limit, (page-1)*limit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, listResponse{Items: toReconciliationDTOs(items), Total: total, Page: page, Limit: limit})
}

func (h *ReconciliationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	rec, err := h.recs.GetReconciliation(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toReconciliationDTO(rec))
}

func (h *ReconciliationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "verify", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Reconciliation, error) {
		return h.recs.VerifyReconciliation(ctx, id, p.ID)
	})
}

func (h *ReconciliationHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.act(w, r, "fail", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Reconciliation, error) {
		return h.recs.MarkFailed(ctx, id, req.Reason, p.ID)
	})
}

func (h *ReconciliationHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.act(w, r, "reverse", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Reconciliation, error) {
		return h.recs.MarkReversed(ctx, id, req.Reason, p.ID)
	})
}

func (h *ReconciliationHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.act(w, r, "dispute", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Reconciliation, error) {
		return h.recs.FlagDispute(ctx, id, req.Reason, p.ID)
	})
}

func (h *ReconciliationHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.act(w, r, "resolve dispute", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Reconciliation, error) {
		return h.recs.ResolveDispute(ctx, id, req.Resolution, p.ID)
	})
}

func (h *ReconciliationHandler) act(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID, principal) (*domain.Reconciliation, error)) {
	p, appErr := principalFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	id, ok := idParam(r)
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	rec, err := fn(r.Context(), id, p)
	if err != nil {
		logging.FromContext(r.Context()).Warn("reconciliation "+op+" refused", "reconciliation_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toReconciliationDTO(rec))
}

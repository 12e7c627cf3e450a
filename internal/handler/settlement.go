package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
	"github.com/josh-kwaku/roomlink-settlements/internal/service/settlement"
)

type settlementService interface {
	CreateSettlement(ctx context.Context, req settlement.CreateSettlementRequest) (*domain.Settlement, domain.Outcome, error)
	GetSettlement(ctx context.Context, id uuid.UUID) (*settlement.SettlementDetail, error)
	ListSettlements(ctx context.Context, f domain.SettlementFilter, limit, offset int) ([]domain.Settlement, int, error)
	GetSettlementStats(ctx context.Context, f domain.SettlementFilter) (*domain.SettlementStats, error)
	ApproveSettlement(ctx context.Context, id, approvedBy uuid.UUID, role domain.Role, notes string) (*domain.Settlement, error)
	HoldSettlement(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Settlement, error)
	ReleaseSettlement(ctx context.Context, id, by uuid.UUID) (*domain.Settlement, error)
	CancelSettlement(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Settlement, error)
	ReopenSettlement(ctx context.Context, id, by uuid.UUID) (*domain.Settlement, error)
	DisputeSettlement(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*domain.Settlement, error)
	ResolveSettlementDispute(ctx context.Context, id uuid.UUID, resolution string, by uuid.UUID) (*domain.Settlement, error)
	ProcessSettlementPayout(ctx context.Context, id, processedBy uuid.UUID) (*domain.Settlement, error)
}

type SettlementHandler struct {
	settlements settlementService
}

func NewSettlementHandler(settlements settlementService) *SettlementHandler {
	return &SettlementHandler{settlements: settlements}
}

type createSettlementRequest struct {
	HostelID    string `json:"hostel_id" validate:"required,uuid"`
	PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"required,datetime=2006-01-02"`
}

type approveRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type resolutionRequest struct {
	Resolution string `json:"resolution" validate:"required,max=1000"`
}

type createSettlementResponse struct {
	Outcome    string        `json:"outcome"`
	Settlement settlementDTO `json:"settlement"`
}

type settlementDetailDTO struct {
	settlementDTO
	Reconciliations []reconciliationDTO `json:"reconciliations"`
}

func (h *SettlementHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	p, appErr := principalFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req createSettlementRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	// Formats are already validated.
	hostelID := uuid.MustParse(req.HostelID)
	start, _ := time.Parse(dateLayout, req.PeriodStart)
	end, _ := time.Parse(dateLayout, req.PeriodEnd)
	if start.After(end) {
		RespondValidationError(w, []FieldError{{Field: "period_end", Message: "must not be before period_start"}})
		return
	}

	st, outcome, err := h.settlements.CreateSettlement(r.Context(), settlement.CreateSettlementRequest{
		HostelID:    hostelID,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedBy:   p.ID,
	})
	if err != nil {
		log.Warn("settlement creation failed", "hostel_id", hostelID, "error", err)
		RespondDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if outcome == domain.OutcomeAlreadyExists {
		status = http.StatusOK
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/settlements/%s", st.ID))
	RespondSuccess(w, status, createSettlementResponse{Outcome: string(outcome), Settlement: toSettlementDTO(st)})
}

func (h *SettlementHandler) List(w http.ResponseWriter, r *http.Request) {
	f, fields := settlementFilter(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}
	page, limit := pagination(r)

	items, total, err := h.settlements.ListSettlements(r.Context(), f, limit, (page-1)*limit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, listResponse{Items: toSettlementDTOs(items), Total: total, Page: page, Limit: limit})
}

func (h *SettlementHandler) Stats(w http.ResponseWriter, r *http.Request) {
	f, fields := settlementFilter(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	stats, err := h.settlements.GetSettlementStats(r.Context(), f)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toStatsDTO(stats))
}

func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	detail, err := h.settlements.GetSettlement(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if !p.canSee(detail.Settlement.HostelOwnerID) {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, settlementDetailDTO{
		settlementDTO:   toSettlementDTO(detail.Settlement),
		Reconciliations: toReconciliationDTOs(detail.Reconciliations),
	})
}

func (h *SettlementHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := validationErrors(validate.Struct(req)); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	h.act(w, r, "approve", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Settlement, error) {
		return h.settlements.ApproveSettlement(ctx, id, p.ID, p.Role, req.Notes)
	})
}

func (h *SettlementHandler) Hold(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.act(w, r, "hold", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Settlement, error) {
		return h.settlements.HoldSettlement(ctx, id, req.Reason, p.ID)
	})
}

func (h *SettlementHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "release", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Settlement, error) {
		return h.settlements.ReleaseSettlement(ctx, id, p.ID)
	})
}

func (h *SettlementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.act(w, r, "cancel", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Settlement, error) {
		return h.settlements.CancelSettlement(ctx, id, req.Reason, p.ID)
	})
}

func (h *SettlementHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "reopen", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Settlement, error) {
		return h.settlements.ReopenSettlement(ctx, id, p.ID)
	})
}

func (h *SettlementHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.act(w, r, "dispute", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Settlement, error) {
		return h.settlements.DisputeSettlement(ctx, id, req.Reason, p.ID)
	})
}

func (h *SettlementHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.act(w, r, "resolve dispute", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Settlement, error) {
		return h.settlements.ResolveSettlementDispute(ctx, id, req.Resolution, p.ID)
	})
}

func (h *SettlementHandler) Payout(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "payout", func(ctx context.Context, id uuid.UUID, p principal) (*domain.Settlement, error) {
		return h.settlements.ProcessSettlementPayout(ctx, id, p.ID)
	})
}

func (h *SettlementHandler) act(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID, principal) (*domain.Settlement, error)) {
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

	st, err := fn(r.Context(), id, p)
	if err != nil {
		logging.FromContext(r.Context()).Warn("settlement "+op+" refused", "settlement_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toSettlementDTO(st))
}

func settlementFilter(r *http.Request) (domain.SettlementFilter, []FieldError) {
	var fields []FieldError
	f := domain.SettlementFilter{
		HostelID:      queryUUID(r, "hostel_id", &fields),
		HostelOwnerID: queryUUID(r, "owner_id", &fields),
		StartDate:     queryDate(r, "from", &fields),
		EndDate:       queryDate(r, "to", &fields),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.PayoutStatus(raw)
		if !status.IsValid() {
			fields = append(fields, FieldError{Field: "status", Message: "must be a valid payout status"})
		} else {
			f.PayoutStatus = &status
		}
	}
	return f, fields
}

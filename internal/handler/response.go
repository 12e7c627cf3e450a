package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type listResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

func RespondDomainError(w http.ResponseWriter, err error) {
	var conflict *domain.SettlementConflictError
	if errors.As(err, &conflict) && conflict.Existing != nil {
		RespondAppError(w, ErrSettlementExists, map[string]any{
			"settlement_id":        conflict.Existing.ID,
			"settlement_reference": conflict.Existing.Reference,
			"period_start":         conflict.Existing.PeriodStart.Format(dateLayout),
			"period_end":           conflict.Existing.PeriodEnd.Format(dateLayout),
		})
		return
	}

	var appErr *AppError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrForbidden):
		appErr = ErrForbidden
	case errors.Is(err, domain.ErrInvalidState):
		appErr = ErrInvalidState
	case errors.Is(err, domain.ErrVersionConflict):
		appErr = ErrVersionConflict
	case errors.Is(err, domain.ErrConflict):
		appErr = ErrConflict
	case errors.Is(err, domain.ErrGatewayTimeout):
		appErr = ErrGatewayTimeout
	case errors.Is(err, domain.ErrGateway):
		appErr = ErrGateway
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.Is(err, domain.ErrInvalidPeriod):
		appErr = ErrInvalidPeriod
	case errors.Is(err, domain.ErrInvalidCommission):
		appErr = ErrInvalidCommission
	case errors.Is(err, domain.ErrInvalidRequest):
		appErr = ErrInvalidRequest
	default:
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, nil)
}

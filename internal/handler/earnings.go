package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

const (
	defaultEarningsMonths = 6
	maxEarningsMonths     = 24
)

type earningsService interface {
	GetHostEarnings(ctx context.Context, ownerID uuid.UUID, periodStart, periodEnd time.Time) (*domain.HostEarnings, error)
}

type EarningsHandler struct {
	earnings earningsService
	now      func() time.Time
}

func NewEarningsHandler(earnings earningsService) *EarningsHandler {
	return &EarningsHandler{earnings: earnings, now: func() time.Time { return time.Now().UTC() }}
}

// Get reports a host's earnings. Hosts see their own; admins pass owner_id.
// The window is from/to when given, otherwise the last `months` months.
func (h *EarningsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, appErr := principalFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var fields []FieldError
	ownerID := p.ID
	if requested := queryUUID(r, "owner_id", &fields); requested != nil {
		if !p.canSee(*requested) {
			RespondAppError(w, ErrResourceNotFound, nil)
			return
		}
		ownerID = *requested
	} else if p.Role.IsAdmin() && len(fields) == 0 {
		fields = append(fields, FieldError{Field: "owner_id", Message: "required"})
	}

	start, end := h.window(r, &fields)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	earnings, err := h.earnings.GetHostEarnings(r.Context(), ownerID, start, end)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toEarningsDTO(earnings))
}

func (h *EarningsHandler) window(r *http.Request, fields *[]FieldError) (time.Time, time.Time) {
	from := queryDate(r, "from", fields)
	to := queryDate(r, "to", fields)

	today := h.now().Truncate(24 * time.Hour)
	end := today
	if to != nil {
		end = *to
	}
	if from != nil {
		return *from, end
	}

	months := defaultEarningsMonths
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEarningsMonths {
			*fields = append(*fields, FieldError{Field: "months", Message: "must be between 1 and 24"})
		} else {
			months = n
		}
	}
	return end.AddDate(0, -months, 0), end
}

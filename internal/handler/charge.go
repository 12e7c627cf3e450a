package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
)

type chargeService interface {
	RequestPayment(ctx context.Context, bookingID uuid.UUID) (*gateway.ChargeResponse, error)
}

type ChargeHandler struct {
	charges chargeService
}

func NewChargeHandler(charges chargeService) *ChargeHandler {
	return &ChargeHandler{charges: charges}
}

type chargeResponse struct {
	BookingID        uuid.UUID `json:"booking_id"`
	GatewayRequestID string    `json:"gateway_request_id"`
	ResponseDesc     string    `json:"response_desc,omitempty"`
}

// Request starts a guest charge for a booking. The outcome arrives on the
// charge webhook, so success here only means the gateway accepted the request.
func (h *ChargeHandler) Request(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := idParam(r)
	if !ok {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	resp, err := h.charges.RequestPayment(r.Context(), bookingID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("charge request failed", "booking_id", bookingID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusAccepted, chargeResponse{
		BookingID:        bookingID,
		GatewayRequestID: resp.GatewayRequestID,
		ResponseDesc:     resp.ResponseDesc,
	})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
)

type callbackStore interface {
	Create(ctx context.Context, cb *domain.GatewayCallback) error
}

// WebhookHandler authenticates gateway callbacks and stores them for the
// background processor. Nothing is applied inline.
type WebhookHandler struct {
	callbacks callbackStore
	secret    string
}

func NewWebhookHandler(callbacks callbackStore, secret string) *WebhookHandler {
	return &WebhookHandler{callbacks: callbacks, secret: secret}
}

type chargeCallbackPayload struct {
	EventID          string `json:"event_id" validate:"required,max=128"`
	BookingID        string `json:"booking_id" validate:"omitempty,uuid"`
	GatewayRequestID string `json:"gateway_request_id" validate:"required_without=BookingID,max=128"`
	ResultCode       *int   `json:"result_code" validate:"required"`
	Amount           int64  `json:"amount" validate:"gte=0"`
}

type transferCallbackPayload struct {
	EventID    string `json:"event_id" validate:"required,max=128"`
	Reference  string `json:"reference" validate:"required,max=64"`
	ResultCode *int   `json:"result_code" validate:"required"`
}

func (h *WebhookHandler) ReceiveChargeResult(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, domain.GatewayCallbackKindCharge, func(body []byte) (string, []FieldError, error) {
		var p chargeCallbackPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return "", nil, err
		}
		return p.EventID, validationErrors(validate.Struct(p)), nil
	})
}

func (h *WebhookHandler) ReceiveTransferResult(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, domain.GatewayCallbackKindTransfer, func(body []byte) (string, []FieldError, error) {
		var p transferCallbackPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return "", nil, err
		}
		return p.EventID, validationErrors(validate.Struct(p)), nil
	})
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request, kind domain.GatewayCallbackKind, parse func([]byte) (string, []FieldError, error)) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if !gateway.VerifySignature(body, r.Header.Get(gateway.SignatureHeader), h.secret) {
		log.Warn("webhook signature verification failed", "kind", kind)
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	eventID, fields, err := parse(body)
	if err != nil {
		log.Warn("failed to parse webhook payload", "kind", kind, "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	cb := &domain.GatewayCallback{
		ID:             uuid.New(),
		IdempotencyKey: string(kind) + ":" + eventID,
		Kind:           kind,
		Payload:        body,
		Status:         domain.GatewayCallbackStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.callbacks.Create(r.Context(), cb); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			log.Info("duplicate webhook received", "kind", kind, "event_id", eventID)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store gateway callback", "kind", kind, "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("gateway callback stored", "callback_id", cb.ID, "kind", kind, "event_id", eventID)
	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

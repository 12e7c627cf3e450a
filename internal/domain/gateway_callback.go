package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type GatewayCallbackStatus string

const (
	GatewayCallbackStatusPending    GatewayCallbackStatus = "pending"
	GatewayCallbackStatusProcessing GatewayCallbackStatus = "processing"
	GatewayCallbackStatusDispatched GatewayCallbackStatus = "dispatched"
	GatewayCallbackStatusFailed     GatewayCallbackStatus = "failed"
)

type GatewayCallbackKind string

const (
	GatewayCallbackKindCharge   GatewayCallbackKind = "charge_result"
	GatewayCallbackKindTransfer GatewayCallbackKind = "transfer_result"
)

// GatewayCallback is a signed result payload persisted before it is applied.
type GatewayCallback struct {
	ID             uuid.UUID
	IdempotencyKey string
	Kind           GatewayCallbackKind
	Payload        json.RawMessage
	Status         GatewayCallbackStatus
	Attempts       int
	LastAttempt    *time.Time
	CreatedAt      time.Time
}

// ChargeResult is the gateway's asynchronous verdict on a guest charge.
type ChargeResult struct {
	EventID          string    `json:"event_id"`
	BookingID        string    `json:"booking_id"`
	GatewayRequestID string    `json:"gateway_request_id"`
	ResultCode       int       `json:"result_code"`
	ResultDesc       string    `json:"result_desc"`
	ReceiptNumber    string    `json:"receipt_number,omitempty"`
	Amount           int64     `json:"amount"`
	Phone            string    `json:"phone,omitempty"`
	TransactionDate  time.Time `json:"transaction_date"`
}

func (c ChargeResult) Succeeded() bool { return c.ResultCode == 0 }

// TransferResult is the gateway's asynchronous verdict on a payout transfer.
type TransferResult struct {
	EventID    string `json:"event_id"`
	TransferID string `json:"transfer_id"`
	Reference  string `json:"reference"`
	ResultCode int    `json:"result_code"`
	ResultDesc string `json:"result_desc"`
}

func (t TransferResult) Succeeded() bool { return t.ResultCode == 0 }

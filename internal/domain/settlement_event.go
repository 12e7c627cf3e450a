package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SettlementEventType string

const (
	SettlementEventCreated         SettlementEventType = "created"
	SettlementEventApproved        SettlementEventType = "approved"
	SettlementEventHeld            SettlementEventType = "held"
	SettlementEventReleased        SettlementEventType = "released"
	SettlementEventScheduled       SettlementEventType = "scheduled"
	SettlementEventProcessed       SettlementEventType = "processed"
	SettlementEventFailed          SettlementEventType = "failed"
	SettlementEventCancelled       SettlementEventType = "cancelled"
	SettlementEventReopened        SettlementEventType = "reopened"
	SettlementEventDisputed        SettlementEventType = "disputed"
	SettlementEventDisputeResolved SettlementEventType = "dispute_resolved"
)

// SettlementEvent is an append-only audit entry for a settlement.
type SettlementEvent struct {
	ID           uuid.UUID
	SettlementID uuid.UUID
	EventType    SettlementEventType
	Actor        string
	Payload      json.RawMessage
	CreatedAt    time.Time
}

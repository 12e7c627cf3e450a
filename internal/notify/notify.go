package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventReconciliationCreated  EventType = "reconciliation.created"
	EventReconciliationVerified EventType = "reconciliation.verified"
	EventReconciliationFailed   EventType = "reconciliation.failed"
	EventSettlementCreated      EventType = "settlement.created"
	EventSettlementApproved     EventType = "settlement.approved"
	EventSettlementHeld         EventType = "settlement.held"
	EventSettlementReleased     EventType = "settlement.released"
	EventSettlementProcessed    EventType = "settlement.processed"
	EventSettlementFailed       EventType = "settlement.failed"
	EventSettlementCancelled    EventType = "settlement.cancelled"
)

// Event is what downstream mailers and dashboards receive. SubjectID is the
// settlement or reconciliation id and doubles as the partition key.
type Event struct {
	Type          EventType `json:"type"`
	SubjectID     uuid.UUID `json:"subject_id"`
	Reference     string    `json:"reference,omitempty"`
	HostelID      uuid.UUID `json:"hostel_id"`
	HostelOwnerID uuid.UUID `json:"hostel_owner_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier never reports failure to the caller: delivery problems are logged
// and the money workflow carries on.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

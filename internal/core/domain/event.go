package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a class of domain event endpoints can subscribe to.
type EventType string

const (
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"
	EventRefundProcessed  EventType = "refund.processed"
	EventTopupCompleted   EventType = "topup.completed"
)

// KnownEventTypes lists every event type the pipeline dispatches.
var KnownEventTypes = []EventType{
	EventPaymentCompleted,
	EventPaymentFailed,
	EventRefundProcessed,
	EventTopupCompleted,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range KnownEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is an internal domain event to be fanned out to subscribed endpoints.
// Sequence is a monotonic per-source ordering hint embedded in the payload;
// the pipeline itself makes no cross-record ordering guarantee.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       EventType       `json:"type"`
	Data       json.RawMessage `json:"data"`
	Sequence   int64           `json:"sequence"`
	OccurredAt time.Time       `json:"occurred_at"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the state of a delivery attempt record.
// Transitions are monotonic: PENDING -> IN_FLIGHT -> {DELIVERED | DEAD},
// with IN_FLIGHT -> PENDING on a retryable failure.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusInFlight  DeliveryStatus = "IN_FLIGHT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusDead      DeliveryStatus = "DEAD"
)

// IsTerminal reports whether the status admits no further transitions.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusDead
}

// DeliveryAttempt is one queued delivery: a single (event, endpoint) pair.
// Payload is the JSON body captured at enqueue time; it is never recomputed,
// so later changes to the source entity do not alter delivered history.
type DeliveryAttempt struct {
	ID            uuid.UUID      `json:"id"`
	EndpointID    uuid.UUID      `json:"endpoint_id"`
	EventID       uuid.UUID      `json:"event_id"`
	EventType     EventType      `json:"event_type"`
	Payload       []byte         `json:"payload"`
	Status        DeliveryStatus `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	LastError     *string        `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

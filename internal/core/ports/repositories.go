package ports

import (
	"context"
	"time"

	"webhook-relay/internal/core/domain"

	"github.com/google/uuid"
)

// EndpointRepository defines persistence operations for delivery endpoints.
type EndpointRepository interface {
	Create(ctx context.Context, endpoint *domain.Endpoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error)
	// ListSubscribed returns enabled endpoints subscribed to the event type.
	ListSubscribed(ctx context.Context, eventType domain.EventType) ([]domain.Endpoint, error)
	// TouchLastDelivery is best-effort bookkeeping: callers ignore its error.
	TouchLastDelivery(ctx context.Context, id uuid.UUID, at time.Time) error
}

// DeliveryRepository defines the durable delivery queue.
type DeliveryRepository interface {
	// Enqueue inserts PENDING records, one per (event, endpoint) pair.
	Enqueue(ctx context.Context, attempts []*domain.DeliveryAttempt) error
	// ClaimDueBatch atomically moves up to limit due PENDING records to
	// IN_FLIGHT and returns them. Safe under concurrent callers: no two
	// workers receive the same record.
	ClaimDueBatch(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error)
	// MarkDelivered finalizes a record. Idempotent: a no-op when the
	// record is already terminal.
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	// MarkRetry returns the record to PENDING with the next attempt time,
	// incrementing the attempt count. No-op on terminal records.
	MarkRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, deliveryErr string) error
	// MarkDead finalizes a record as permanently failed, incrementing the
	// attempt count. Idempotent like MarkDelivered.
	MarkDead(ctx context.Context, id uuid.UUID, deliveryErr string) error
	// Postpone returns an IN_FLIGHT record to PENDING with a pushed-forward
	// attempt time, without counting an attempt. Used when the endpoint's
	// circuit is open.
	Postpone(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error
	// ListByEventID returns the audit trail for one event.
	ListByEventID(ctx context.Context, eventID uuid.UUID) ([]domain.DeliveryAttempt, error)
}

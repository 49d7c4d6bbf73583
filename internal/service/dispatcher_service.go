package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"webhook-relay/internal/core/domain"
	"webhook-relay/internal/core/ports"
	"webhook-relay/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// eventEnvelope is the wire shape delivered to endpoints. It is marshaled
// once per event so every subscriber receives a byte-identical snapshot,
// even if the source record changes later.
type eventEnvelope struct {
	ID         uuid.UUID        `json:"id"`
	Type       domain.EventType `json:"type"`
	Data       json.RawMessage  `json:"data"`
	Sequence   int64            `json:"sequence"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// DispatcherService implements ports.Dispatcher.
type DispatcherService struct {
	endpointRepo ports.EndpointRepository
	deliveryRepo ports.DeliveryRepository
	log          zerolog.Logger
}

func NewDispatcherService(
	endpointRepo ports.EndpointRepository,
	deliveryRepo ports.DeliveryRepository,
	log zerolog.Logger,
) *DispatcherService {
	return &DispatcherService{
		endpointRepo: endpointRepo,
		deliveryRepo: deliveryRepo,
		log:          log,
	}
}

// Dispatch snapshots the event and enqueues one PENDING delivery per
// subscribed endpoint. An event with no subscribers is a successful
// dispatch of zero deliveries, not an error.
func (s *DispatcherService) Dispatch(ctx context.Context, event *domain.Event) (int, error) {
	if !event.Type.Valid() {
		return 0, apperror.ErrUnknownEventType(string(event.Type))
	}

	payload, err := json.Marshal(eventEnvelope{
		ID:         event.ID,
		Type:       event.Type,
		Data:       event.Data,
		Sequence:   event.Sequence,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("marshaling event %s: %w", event.ID, err))
	}

	endpoints, err := s.endpointRepo.ListSubscribed(ctx, event.Type)
	if err != nil {
		return 0, err
	}
	if len(endpoints) == 0 {
		s.log.Debug().
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.Type)).
			Msg("dispatcher: no subscribers")
		return 0, nil
	}

	now := time.Now()
	attempts := make([]*domain.DeliveryAttempt, 0, len(endpoints))
	for i := range endpoints {
		attempts = append(attempts, &domain.DeliveryAttempt{
			ID:            uuid.New(),
			EndpointID:    endpoints[i].ID,
			EventID:       event.ID,
			EventType:     event.Type,
			Payload:       payload,
			Status:        domain.DeliveryStatusPending,
			AttemptCount:  0,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := s.deliveryRepo.Enqueue(ctx, attempts); err != nil {
		return 0, err
	}

	s.log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Int("enqueued", len(attempts)).
		Msg("dispatcher: event fanned out")
	return len(attempts), nil
}

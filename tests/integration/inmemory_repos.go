package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"webhook-relay/internal/core/domain"
	"webhook-relay/pkg/apperror"

	"github.com/google/uuid"
)

// --- In-Memory Endpoint Repo ---

type inMemoryEndpointRepo struct {
	mu        sync.RWMutex
	endpoints map[uuid.UUID]*domain.Endpoint
}

func newInMemoryEndpointRepo() *inMemoryEndpointRepo {
	return &inMemoryEndpointRepo{endpoints: make(map[uuid.UUID]*domain.Endpoint)}
}

func (r *inMemoryEndpointRepo) Create(ctx context.Context, e *domain.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.endpoints[e.ID] = &cp
	return nil
}

func (r *inMemoryEndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	if !ok {
		return nil, apperror.ErrEndpointNotFound()
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryEndpointRepo) ListSubscribed(ctx context.Context, eventType domain.EventType) ([]domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Endpoint
	for _, e := range r.endpoints {
		if e.Enabled && e.SubscribedTo(eventType) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *inMemoryEndpointRepo) TouchLastDelivery(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.endpoints[id]; ok {
		e.LastDeliveryAt = &at
	}
	return nil
}

func (r *inMemoryEndpointRepo) disable(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.endpoints[id]; ok {
		e.Enabled = false
	}
}

// --- In-Memory Delivery Repo ---

type inMemoryDeliveryRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.DeliveryAttempt
}

func newInMemoryDeliveryRepo() *inMemoryDeliveryRepo {
	return &inMemoryDeliveryRepo{records: make(map[uuid.UUID]*domain.DeliveryAttempt)}
}

func (r *inMemoryDeliveryRepo) Enqueue(ctx context.Context, attempts []*domain.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range attempts {
		cp := *a
		r.records[a.ID] = &cp
	}
	return nil
}

func (r *inMemoryDeliveryRepo) ClaimDueBatch(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var due []*domain.DeliveryAttempt
	for _, rec := range r.records {
		if rec.Status == domain.DeliveryStatusPending && !rec.NextAttemptAt.After(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	batch := make([]domain.DeliveryAttempt, 0, len(due))
	for _, rec := range due {
		rec.Status = domain.DeliveryStatusInFlight
		rec.UpdatedAt = now
		batch = append(batch, *rec)
	}
	return batch, nil
}

func (r *inMemoryDeliveryRepo) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status.IsTerminal() {
		return nil
	}
	rec.Status = domain.DeliveryStatusDelivered
	rec.AttemptCount++
	rec.LastError = nil
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryDeliveryRepo) MarkRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, deliveryErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status.IsTerminal() {
		return nil
	}
	rec.Status = domain.DeliveryStatusPending
	rec.AttemptCount++
	rec.NextAttemptAt = nextAttemptAt
	rec.LastError = &deliveryErr
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryDeliveryRepo) MarkDead(ctx context.Context, id uuid.UUID, deliveryErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status.IsTerminal() {
		return nil
	}
	rec.Status = domain.DeliveryStatusDead
	rec.AttemptCount++
	rec.LastError = &deliveryErr
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryDeliveryRepo) Postpone(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status.IsTerminal() {
		return nil
	}
	rec.Status = domain.DeliveryStatusPending
	rec.NextAttemptAt = nextAttemptAt
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryDeliveryRepo) ListByEventID(ctx context.Context, eventID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DeliveryAttempt
	for _, rec := range r.records {
		if rec.EventID == eventID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *inMemoryDeliveryRepo) all() []domain.DeliveryAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DeliveryAttempt, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// forceDue rewinds every PENDING record's next attempt time so the next
// drain picks it up without sleeping through real backoff.
func (r *inMemoryDeliveryRepo) forceDue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	past := time.Now().Add(-time.Second)
	for _, rec := range r.records {
		if rec.Status == domain.DeliveryStatusPending {
			rec.NextAttemptAt = past
		}
	}
}

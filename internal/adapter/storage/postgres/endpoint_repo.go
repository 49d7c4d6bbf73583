package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook-relay/internal/core/domain"
	"webhook-relay/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EndpointRepo implements ports.EndpointRepository.
type EndpointRepo struct {
	pool Pool
}

// NewEndpointRepo creates a new EndpointRepo.
func NewEndpointRepo(pool Pool) *EndpointRepo {
	return &EndpointRepo{pool: pool}
}

// Create inserts a new delivery endpoint.
func (r *EndpointRepo) Create(ctx context.Context, e *domain.Endpoint) error {
	query := `INSERT INTO webhook_endpoints (id, merchant_id, url, event_types, secret_enc, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.MerchantID, e.URL, eventTypeStrings(e.EventTypes),
		e.SecretEnc, e.Enabled, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("insert endpoint: %w", err))
	}
	return nil
}

// GetByID fetches an endpoint by its UUID.
func (r *EndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	query := `SELECT id, merchant_id, url, event_types, secret_enc, enabled, last_delivery_at, created_at, updated_at
		FROM webhook_endpoints WHERE id = $1`

	e := &domain.Endpoint{}
	var types []string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.MerchantID, &e.URL, &types,
		&e.SecretEnc, &e.Enabled, &e.LastDeliveryAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrEndpointNotFound()
		}
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("get endpoint by id: %w", err))
	}
	e.EventTypes = eventTypesFromStrings(types)
	return e, nil
}

// ListSubscribed returns every enabled endpoint subscribed to the event type.
func (r *EndpointRepo) ListSubscribed(ctx context.Context, eventType domain.EventType) ([]domain.Endpoint, error) {
	query := `SELECT id, merchant_id, url, event_types, secret_enc, enabled, last_delivery_at, created_at, updated_at
		FROM webhook_endpoints
		WHERE enabled = TRUE AND $1 = ANY(event_types)
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, string(eventType))
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list subscribed endpoints: %w", err))
	}
	defer rows.Close()

	var endpoints []domain.Endpoint
	for rows.Next() {
		var e domain.Endpoint
		var types []string
		if err := rows.Scan(
			&e.ID, &e.MerchantID, &e.URL, &types,
			&e.SecretEnc, &e.Enabled, &e.LastDeliveryAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, apperror.ErrStoreUnavailable(fmt.Errorf("scan endpoint: %w", err))
		}
		e.EventTypes = eventTypesFromStrings(types)
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list subscribed endpoints: %w", err))
	}
	return endpoints, nil
}

// TouchLastDelivery records the time of the most recent successful delivery.
func (r *EndpointRepo) TouchLastDelivery(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE webhook_endpoints SET last_delivery_at=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("touch last delivery: %w", err))
	}
	return nil
}

func eventTypeStrings(types []domain.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func eventTypesFromStrings(values []string) []domain.EventType {
	out := make([]domain.EventType, len(values))
	for i, v := range values {
		out[i] = domain.EventType(v)
	}
	return out
}

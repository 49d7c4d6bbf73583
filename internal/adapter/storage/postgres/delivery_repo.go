package postgres

import (
	"context"
	"fmt"
	"time"

	"webhook-relay/internal/core/domain"
	"webhook-relay/pkg/apperror"

	"github.com/google/uuid"
)

// DeliveryRepo implements ports.DeliveryRepository on PostgreSQL. The
// delivery_queue table is both the work queue and the audit trail: rows are
// never deleted, terminal rows just stop matching the claim query.
type DeliveryRepo struct {
	pool Pool
}

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(pool Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

// Enqueue inserts the batch inside one transaction so an event's fan-out is
// all-or-nothing.
func (r *DeliveryRepo) Enqueue(ctx context.Context, attempts []*domain.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("begin enqueue: %w", err))
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO delivery_queue
		(id, endpoint_id, event_id, event_type, payload, status, attempt_count, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, a := range attempts {
		if _, err := tx.Exec(ctx, query,
			a.ID, a.EndpointID, a.EventID, string(a.EventType), a.Payload,
			string(a.Status), a.AttemptCount, a.NextAttemptAt, a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return apperror.ErrStoreUnavailable(fmt.Errorf("insert delivery: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("commit enqueue: %w", err))
	}
	return nil
}

// ClaimDueBatch atomically flips up to limit due PENDING rows to IN_FLIGHT
// and returns them. SKIP LOCKED keeps concurrent workers from claiming the
// same rows; the subquery UPDATE makes claim and fetch one statement.
func (r *DeliveryRepo) ClaimDueBatch(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	query := `UPDATE delivery_queue
		SET status='IN_FLIGHT', updated_at=NOW()
		WHERE id IN (
			SELECT id FROM delivery_queue
			WHERE status='PENDING' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, endpoint_id, event_id, event_type, payload, status, attempt_count, next_attempt_at, last_error, created_at, updated_at`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("claim due batch: %w", err))
	}
	defer rows.Close()

	var batch []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		var status, eventType string
		if err := rows.Scan(
			&a.ID, &a.EndpointID, &a.EventID, &eventType, &a.Payload,
			&status, &a.AttemptCount, &a.NextAttemptAt, &a.LastError,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, apperror.ErrStoreUnavailable(fmt.Errorf("scan claimed delivery: %w", err))
		}
		a.Status = domain.DeliveryStatus(status)
		a.EventType = domain.EventType(eventType)
		batch = append(batch, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("claim due batch: %w", err))
	}
	return batch, nil
}

// MarkDelivered finalizes a row. The status guard makes a duplicate mark a
// zero-row no-op rather than a state regression.
func (r *DeliveryRepo) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE delivery_queue
		SET status='DELIVERED', attempt_count=attempt_count+1, last_error=NULL, updated_at=NOW()
		WHERE id=$1 AND status NOT IN ('DELIVERED','DEAD')`

	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("mark delivered: %w", err))
	}
	return nil
}

// MarkRetry returns a row to PENDING with its next attempt time, spending
// one attempt. No-op on terminal rows.
func (r *DeliveryRepo) MarkRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, deliveryErr string) error {
	query := `UPDATE delivery_queue
		SET status='PENDING', attempt_count=attempt_count+1, next_attempt_at=$1, last_error=$2, updated_at=NOW()
		WHERE id=$3 AND status NOT IN ('DELIVERED','DEAD')`

	_, err := r.pool.Exec(ctx, query, nextAttemptAt, deliveryErr, id)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("mark retry: %w", err))
	}
	return nil
}

// MarkDead finalizes a permanently failed row. Idempotent like MarkDelivered.
func (r *DeliveryRepo) MarkDead(ctx context.Context, id uuid.UUID, deliveryErr string) error {
	query := `UPDATE delivery_queue
		SET status='DEAD', attempt_count=attempt_count+1, last_error=$1, updated_at=NOW()
		WHERE id=$2 AND status NOT IN ('DELIVERED','DEAD')`

	_, err := r.pool.Exec(ctx, query, deliveryErr, id)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("mark dead: %w", err))
	}
	return nil
}

// Postpone pushes an IN_FLIGHT row back to PENDING without spending an
// attempt. Used when the endpoint's circuit is open.
func (r *DeliveryRepo) Postpone(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	query := `UPDATE delivery_queue
		SET status='PENDING', next_attempt_at=$1, updated_at=NOW()
		WHERE id=$2 AND status NOT IN ('DELIVERED','DEAD')`

	_, err := r.pool.Exec(ctx, query, nextAttemptAt, id)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("postpone delivery: %w", err))
	}
	return nil
}

// ListByEventID returns the audit trail for one event, newest first.
func (r *DeliveryRepo) ListByEventID(ctx context.Context, eventID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	query := `SELECT id, endpoint_id, event_id, event_type, payload, status, attempt_count, next_attempt_at, last_error, created_at, updated_at
		FROM delivery_queue
		WHERE event_id=$1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list deliveries by event: %w", err))
	}
	defer rows.Close()

	var deliveries []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		var status, eventType string
		if err := rows.Scan(
			&a.ID, &a.EndpointID, &a.EventID, &eventType, &a.Payload,
			&status, &a.AttemptCount, &a.NextAttemptAt, &a.LastError,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, apperror.ErrStoreUnavailable(fmt.Errorf("scan delivery: %w", err))
		}
		a.Status = domain.DeliveryStatus(status)
		a.EventType = domain.EventType(eventType)
		deliveries = append(deliveries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("list deliveries by event: %w", err))
	}
	return deliveries, nil
}

package ports

import (
	"context"
	"time"

	"webhook-relay/internal/core/domain"

	"github.com/google/uuid"
)

// SecretVault handles AES-256-GCM encryption of signing secrets at rest.
type SecretVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
	// IsEncrypted is a structural check on the token format only, used to
	// recognize legacy plaintext secrets during migration. It is not a
	// security guarantee.
	IsEncrypted(value string) bool
}

// SignatureService handles HMAC-SHA256 signing of delivery payloads.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// CircuitBreaker tracks per-endpoint delivery failures in a shared store.
// All methods are permissive on store outage: IsOpen reports closed and the
// recorders silently no-op, so a store failure degrades to unthrottled
// best-effort delivery instead of halting the pipeline.
type CircuitBreaker interface {
	IsOpen(ctx context.Context, endpointID uuid.UUID) bool
	RecordFailure(ctx context.Context, endpointID uuid.UUID)
	RecordSuccess(ctx context.Context, endpointID uuid.UUID)
}

// DeliveryOutcome is the classified result of one delivery attempt.
// Error is human-readable and redacted: it never contains the signing
// secret or the computed signature. Permanent marks failures that retrying
// cannot fix (tampered ciphertext, missing key material); the worker dead-
// letters those immediately instead of rescheduling.
type DeliveryOutcome struct {
	Success    bool
	HTTPStatus int
	Error      string
	Permanent  bool
	Duration   time.Duration
}

// Deliverer signs and posts one delivery attempt to its endpoint.
type Deliverer interface {
	Attempt(ctx context.Context, record *domain.DeliveryAttempt, endpoint *domain.Endpoint) DeliveryOutcome
}

// Dispatcher fans a domain event out to the delivery queue.
type Dispatcher interface {
	// Dispatch snapshots the event payload and enqueues one PENDING
	// delivery per subscribed endpoint. Returns the number enqueued.
	Dispatch(ctx context.Context, event *domain.Event) (int, error)
}

// WorkerSummary reports one drain invocation.
type WorkerSummary struct {
	Processed int           `json:"processed"`
	Delivered int           `json:"delivered"`
	Retried   int           `json:"retried"`
	Dead      int           `json:"dead"`
	Skipped   int           `json:"skipped"` // circuit open, postponed without an attempt
	Duration  time.Duration `json:"-"`
}

// QueueWorker drains a bounded batch of due deliveries.
type QueueWorker interface {
	ProcessQueue(ctx context.Context) (WorkerSummary, error)
}

// MetricsSnapshot is a point-in-time view of pipeline counters.
type MetricsSnapshot struct {
	Runs           int64     `json:"runs"`
	Processed      int64     `json:"processed"`
	Delivered      int64     `json:"delivered"`
	Retried        int64     `json:"retried"`
	Dead           int64     `json:"dead"`
	Skipped        int64     `json:"skipped"`
	LastRunAt      time.Time `json:"last_run_at"`
	LastDurationMs int64     `json:"last_duration_ms"`
}

// MetricsCollector receives explicit reports from the worker and deliverer.
// It replaces package-level mutable state so the core stays testable.
type MetricsCollector interface {
	ObserveRun(summary WorkerSummary)
	Snapshot() MetricsSnapshot
}

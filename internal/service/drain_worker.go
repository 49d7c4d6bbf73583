package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"webhook-relay/internal/core/domain"
	"webhook-relay/internal/core/ports"
	"webhook-relay/pkg/apperror"

	"github.com/rs/zerolog"
)

// circuitPostponeDelay pushes a record forward when its endpoint's circuit
// is open. Fixed rather than exponential: the postponement is not an
// attempt, so it must not consume the record's retry budget.
const circuitPostponeDelay = time.Minute

// WorkerOptions bound one drain invocation.
type WorkerOptions struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DrainWorker implements ports.QueueWorker. Each invocation claims one
// batch of due deliveries and processes it with bounded concurrency.
type DrainWorker struct {
	deliveryRepo ports.DeliveryRepository
	endpointRepo ports.EndpointRepository
	deliverer    ports.Deliverer
	breaker      ports.CircuitBreaker
	metrics      ports.MetricsCollector
	opts         WorkerOptions
	log          zerolog.Logger
}

func NewDrainWorker(
	deliveryRepo ports.DeliveryRepository,
	endpointRepo ports.EndpointRepository,
	deliverer ports.Deliverer,
	breaker ports.CircuitBreaker,
	metrics ports.MetricsCollector,
	opts WorkerOptions,
	log zerolog.Logger,
) *DrainWorker {
	return &DrainWorker{
		deliveryRepo: deliveryRepo,
		endpointRepo: endpointRepo,
		deliverer:    deliverer,
		breaker:      breaker,
		metrics:      metrics,
		opts:         opts,
		log:          log,
	}
}

// ProcessQueue claims up to BatchSize due records and drains them. A batch
// once claimed is always driven to completion: the trigger request's
// cancellation must not strand records in IN_FLIGHT.
func (w *DrainWorker) ProcessQueue(ctx context.Context) (ports.WorkerSummary, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	batch, err := w.deliveryRepo.ClaimDueBatch(ctx, w.opts.BatchSize)
	if err != nil {
		return ports.WorkerSummary{Duration: time.Since(start)}, err
	}
	if len(batch) == 0 {
		summary := ports.WorkerSummary{Duration: time.Since(start)}
		w.metrics.ObserveRun(summary)
		return summary, nil
	}

	var (
		mu      sync.Mutex
		summary = ports.WorkerSummary{Processed: len(batch)}
		wg      sync.WaitGroup
		sem     = make(chan struct{}, w.opts.Concurrency)
	)

	for i := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(record *domain.DeliveryAttempt) {
			defer wg.Done()
			defer func() { <-sem }()
			defer w.contain(ctx, record)

			outcome := w.processRecord(ctx, record)
			mu.Lock()
			switch outcome {
			case recordDelivered:
				summary.Delivered++
			case recordRetried:
				summary.Retried++
			case recordDead:
				summary.Dead++
			case recordSkipped:
				summary.Skipped++
			}
			mu.Unlock()
		}(&batch[i])
	}
	wg.Wait()

	summary.Duration = time.Since(start)
	w.metrics.ObserveRun(summary)
	w.log.Info().
		Int("processed", summary.Processed).
		Int("delivered", summary.Delivered).
		Int("retried", summary.Retried).
		Int("dead", summary.Dead).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("worker: batch drained")
	return summary, nil
}

type recordResult int

const (
	recordDelivered recordResult = iota
	recordRetried
	recordDead
	recordSkipped
)

func (w *DrainWorker) processRecord(ctx context.Context, record *domain.DeliveryAttempt) recordResult {
	endpoint, err := w.endpointRepo.GetByID(ctx, record.EndpointID)
	if err != nil {
		if apperror.IsStoreUnavailable(err) {
			// Endpoint state is unknown, not the endpoint's fault: push the
			// record forward without spending an attempt.
			w.postpone(ctx, record)
			return recordSkipped
		}
		// An endpoint deleted after fan-out can never receive this delivery.
		w.markDead(ctx, record, "endpoint no longer exists")
		return recordDead
	}
	if !endpoint.Enabled {
		w.markDead(ctx, record, "endpoint disabled")
		return recordDead
	}

	if w.breaker.IsOpen(ctx, endpoint.ID) {
		w.log.Debug().
			Str("endpoint_id", endpoint.ID.String()).
			Str("record_id", record.ID.String()).
			Msg("worker: circuit open, postponing")
		w.postpone(ctx, record)
		return recordSkipped
	}

	outcome := w.deliverer.Attempt(ctx, record, endpoint)
	if outcome.Success {
		if err := w.deliveryRepo.MarkDelivered(ctx, record.ID); err != nil {
			w.log.Error().Err(err).
				Str("record_id", record.ID.String()).
				Msg("worker: failed to mark delivered")
		}
		w.breaker.RecordSuccess(ctx, endpoint.ID)
		// Best-effort bookkeeping.
		if err := w.endpointRepo.TouchLastDelivery(ctx, endpoint.ID, time.Now()); err != nil {
			w.log.Debug().Err(err).
				Str("endpoint_id", endpoint.ID.String()).
				Msg("worker: failed to touch last delivery time")
		}
		return recordDelivered
	}

	if outcome.Permanent {
		// Nothing about retrying fixes bad key material or tampered
		// ciphertext. No breaker failure either: the endpoint never saw a
		// request.
		w.markDead(ctx, record, outcome.Error)
		return recordDead
	}

	w.breaker.RecordFailure(ctx, endpoint.ID)

	if record.AttemptCount+1 >= w.opts.MaxAttempts {
		w.log.Warn().
			Str("record_id", record.ID.String()).
			Str("endpoint_id", endpoint.ID.String()).
			Int("attempts", record.AttemptCount+1).
			Msg("worker: retry budget exhausted, dead-lettering")
		w.markDead(ctx, record, outcome.Error)
		return recordDead
	}

	next := time.Now().Add(NextBackoff(w.opts.BackoffBase, w.opts.BackoffCap, record.AttemptCount))
	if err := w.deliveryRepo.MarkRetry(ctx, record.ID, next, outcome.Error); err != nil {
		w.log.Error().Err(err).
			Str("record_id", record.ID.String()).
			Msg("worker: failed to schedule retry")
	}
	return recordRetried
}

func (w *DrainWorker) postpone(ctx context.Context, record *domain.DeliveryAttempt) {
	next := time.Now().Add(circuitPostponeDelay)
	if err := w.deliveryRepo.Postpone(ctx, record.ID, next); err != nil {
		w.log.Error().Err(err).
			Str("record_id", record.ID.String()).
			Msg("worker: failed to postpone")
	}
}

func (w *DrainWorker) markDead(ctx context.Context, record *domain.DeliveryAttempt, deliveryErr string) {
	if err := w.deliveryRepo.MarkDead(ctx, record.ID, deliveryErr); err != nil {
		w.log.Error().Err(err).
			Str("record_id", record.ID.String()).
			Msg("worker: failed to dead-letter")
	}
}

// contain keeps a panicking record handler from taking down the batch. The
// record goes back to PENDING so a later run can retry it.
func (w *DrainWorker) contain(ctx context.Context, record *domain.DeliveryAttempt) {
	r := recover()
	if r == nil {
		return
	}
	w.log.Error().
		Str("record_id", record.ID.String()).
		Interface("panic", r).
		Msg("worker: record handler panicked")
	next := time.Now().Add(NextBackoff(w.opts.BackoffBase, w.opts.BackoffCap, record.AttemptCount))
	if err := w.deliveryRepo.MarkRetry(ctx, record.ID, next, fmt.Sprintf("handler panic: %v", r)); err != nil {
		w.log.Error().Err(err).
			Str("record_id", record.ID.String()).
			Msg("worker: failed to reschedule after panic")
	}
}

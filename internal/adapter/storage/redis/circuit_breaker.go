package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BreakerOptions tune the per-endpoint circuit.
type BreakerOptions struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int64
	// FailureWindow is how long the failure counter lives without new
	// failures before resetting to zero.
	FailureWindow time.Duration
	// Cooldown is how long an open circuit stays open.
	Cooldown time.Duration
}

// DefaultBreakerOptions matches the delivery pipeline's tuning.
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		Threshold:     10,
		FailureWindow: 10 * time.Minute,
		Cooldown:      5 * time.Minute,
	}
}

// recordFailureScript increments the failure counter and opens the circuit
// in one atomic step, so concurrent workers racing past the threshold open
// it exactly once. The open marker outlives the cooldown (see IsOpen) so
// its TTL only collects garbage, never decides circuit state.
//
// KEYS[1] failure counter, KEYS[2] open marker
// ARGV[1] threshold, ARGV[2] window seconds, ARGV[3] marker retention seconds, ARGV[4] now unix
var recordFailureScript = goredis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if count >= tonumber(ARGV[1]) and redis.call('EXISTS', KEYS[2]) == 0 then
  redis.call('SET', KEYS[2], ARGV[4], 'EX', ARGV[3])
  return 1
end
return 0
`)

// CircuitBreaker implements ports.CircuitBreaker on shared Redis state, so
// every worker process sees the same per-endpoint circuit. Every method is
// permissive on store failure: a Redis outage degrades delivery to
// unthrottled best-effort instead of halting it.
type CircuitBreaker struct {
	client *goredis.Client
	opts   BreakerOptions
	log    zerolog.Logger
	now    func() time.Time
}

// NewCircuitBreaker creates a Redis-backed circuit breaker.
func NewCircuitBreaker(client *goredis.Client, opts BreakerOptions, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{client: client, opts: opts, log: log, now: time.Now}
}

// markerRetention is how long the open marker is kept in Redis. It must
// exceed the cooldown: IsOpen needs to observe the marker after the
// cooldown has elapsed to clear the failure counter along with it.
func (b *CircuitBreaker) markerRetention() time.Duration {
	return b.opts.Cooldown + b.opts.FailureWindow
}

func (b *CircuitBreaker) failureKey(endpointID uuid.UUID) string {
	return "circuit:" + endpointID.String() + ":failures"
}

func (b *CircuitBreaker) openKey(endpointID uuid.UUID) string {
	return "circuit:" + endpointID.String() + ":open"
}

// IsOpen reports whether the endpoint's circuit is open. The marker's
// value is the open timestamp and the cooldown is judged against it here,
// not via the key's TTL. The marker is retained past the cooldown so the
// first check after expiry deletes both it and the failure counter, and
// re-opening takes a full threshold of fresh failures.
func (b *CircuitBreaker) IsOpen(ctx context.Context, endpointID uuid.UUID) bool {
	openedAt, err := b.client.Get(ctx, b.openKey(endpointID)).Int64()
	if err != nil {
		if err != goredis.Nil {
			b.log.Debug().Err(err).
				Str("endpoint_id", endpointID.String()).
				Msg("circuit breaker: store unavailable, treating as closed")
		}
		return false
	}

	if b.now().Sub(time.Unix(openedAt, 0)) >= b.opts.Cooldown {
		b.client.Del(ctx, b.openKey(endpointID), b.failureKey(endpointID))
		return false
	}
	return true
}

// RecordFailure counts one delivery failure and opens the circuit at the
// threshold.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, endpointID uuid.UUID) {
	opened, err := recordFailureScript.Run(ctx, b.client,
		[]string{b.failureKey(endpointID), b.openKey(endpointID)},
		b.opts.Threshold,
		int64(b.opts.FailureWindow.Seconds()),
		int64(b.markerRetention().Seconds()),
		b.now().Unix(),
	).Int64()
	if err != nil {
		b.log.Debug().Err(err).
			Str("endpoint_id", endpointID.String()).
			Msg("circuit breaker: failed to record failure")
		return
	}
	if opened == 1 {
		b.log.Warn().
			Str("endpoint_id", endpointID.String()).
			Int64("threshold", b.opts.Threshold).
			Dur("cooldown", b.opts.Cooldown).
			Msg("circuit breaker: opened")
	}
}

// RecordSuccess resets the endpoint's circuit state.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, endpointID uuid.UUID) {
	if err := b.client.Del(ctx, b.failureKey(endpointID), b.openKey(endpointID)).Err(); err != nil {
		b.log.Debug().Err(err).
			Str("endpoint_id", endpointID.String()).
			Msg("circuit breaker: failed to record success")
	}
}

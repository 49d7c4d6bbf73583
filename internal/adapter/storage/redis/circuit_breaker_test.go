package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"webhook-relay/internal/adapter/storage/redis"
	"webhook-relay/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*redis.CircuitBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b := redis.NewCircuitBreaker(client, redis.DefaultBreakerOptions(), logger.Nop())
	return b, mr
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	for i := 0; i < 9; i++ {
		b.RecordFailure(ctx, endpointID)
		assert.False(t, b.IsOpen(ctx, endpointID), "circuit must stay closed below the threshold (failure %d)", i+1)
	}

	b.RecordFailure(ctx, endpointID)
	assert.True(t, b.IsOpen(ctx, endpointID), "tenth failure must open the circuit")
}

func TestCircuitBreaker_ConcurrentFailuresOpenOnce(t *testing.T) {
	b, mr := newTestBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure(ctx, endpointID)
		}()
	}
	wg.Wait()

	assert.True(t, b.IsOpen(ctx, endpointID))

	// The failure counter saw every increment exactly once.
	count, err := mr.Get("circuit:" + endpointID.String() + ":failures")
	require.NoError(t, err)
	assert.Equal(t, "10", count)
}

func TestCircuitBreaker_CooldownCloses(t *testing.T) {
	b, mr := newTestBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	base := time.Now()
	b.SetNow(func() time.Time { return base })

	for i := 0; i < 10; i++ {
		b.RecordFailure(ctx, endpointID)
	}
	require.True(t, b.IsOpen(ctx, endpointID))

	b.SetNow(func() time.Time { return base.Add(5 * time.Minute) })
	mr.FastForward(5 * time.Minute)

	assert.False(t, b.IsOpen(ctx, endpointID), "circuit must close after the cooldown")

	// The cooldown check cleared both keys, not just the open marker.
	_, err := mr.Get("circuit:" + endpointID.String() + ":failures")
	assert.Error(t, err, "failure counter must be cleared with the open marker")

	// A single new failure must not reopen it: the old counter is gone.
	b.RecordFailure(ctx, endpointID)
	assert.False(t, b.IsOpen(ctx, endpointID), "one failure after cooldown must not reopen the circuit")
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	for i := 0; i < 9; i++ {
		b.RecordFailure(ctx, endpointID)
	}
	b.RecordSuccess(ctx, endpointID)

	// The count starts over: nine more failures stay below the threshold.
	for i := 0; i < 9; i++ {
		b.RecordFailure(ctx, endpointID)
	}
	assert.False(t, b.IsOpen(ctx, endpointID))

	b.RecordFailure(ctx, endpointID)
	assert.True(t, b.IsOpen(ctx, endpointID))
}

func TestCircuitBreaker_SuccessClosesOpenCircuit(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	for i := 0; i < 10; i++ {
		b.RecordFailure(ctx, endpointID)
	}
	require.True(t, b.IsOpen(ctx, endpointID))

	b.RecordSuccess(ctx, endpointID)
	assert.False(t, b.IsOpen(ctx, endpointID))
}

func TestCircuitBreaker_EndpointsAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()
	broken := uuid.New()
	healthy := uuid.New()

	for i := 0; i < 10; i++ {
		b.RecordFailure(ctx, broken)
	}

	assert.True(t, b.IsOpen(ctx, broken))
	assert.False(t, b.IsOpen(ctx, healthy))
}

func TestCircuitBreaker_FailureWindowExpires(t *testing.T) {
	b, mr := newTestBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	for i := 0; i < 9; i++ {
		b.RecordFailure(ctx, endpointID)
	}

	// Failures stop arriving; the counter ages out.
	mr.FastForward(10 * time.Minute)

	b.RecordFailure(ctx, endpointID)
	assert.False(t, b.IsOpen(ctx, endpointID), "a stale counter must not carry into a new window")
}

func TestCircuitBreaker_PermissiveOnStoreOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	b := redis.NewCircuitBreaker(client, redis.DefaultBreakerOptions(), logger.Nop())

	ctx := context.Background()
	endpointID := uuid.New()
	mr.Close()

	// All operations degrade silently: deliveries proceed unthrottled.
	assert.False(t, b.IsOpen(ctx, endpointID))
	b.RecordFailure(ctx, endpointID)
	b.RecordSuccess(ctx, endpointID)
	assert.False(t, b.IsOpen(ctx, endpointID))
}

package redis

import "time"

// SetNow overrides the breaker's clock for tests.
func (b *CircuitBreaker) SetNow(now func() time.Time) {
	b.now = now
}

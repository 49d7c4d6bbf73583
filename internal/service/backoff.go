package service

import (
	"math/rand/v2"
	"time"
)

// NextBackoff computes the delay before retry number attempt (0-based),
// doubling from base up to ceiling, plus up to 20% random jitter so a burst
// of failures against one endpoint does not retry in lockstep.
func NextBackoff(base, ceiling time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			delay = ceiling
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/5 + 1))
	return delay + jitter
}

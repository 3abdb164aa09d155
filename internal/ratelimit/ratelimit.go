// Package ratelimit wraps the shared token bucket that throttles probe
// admission across all workers.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/pulsenet/pulsescan/internal/metrics"
)

// Bucket is the single global throttle for connection attempts. Refill
// is continuous, so sustained throughput converges to the configured
// rate regardless of worker count or burst pattern.
type Bucket struct {
	limiter *rate.Limiter
}

// New creates a bucket refilling at perSecond tokens per second with
// the given capacity. A capacity of zero or less defaults to the rate.
func New(perSecond, capacity int) *Bucket {
	if capacity <= 0 {
		capacity = perSecond
	}
	return &Bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), capacity)}
}

// Acquire debits one token, suspending the caller until one is
// available or the context is done. One token authorizes exactly one
// connection attempt.
func (b *Bucket) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	wait := time.Since(start)
	metrics.RecordRateWait(wait)
	metrics.RecordRateWaitPrometheus(wait)
	return nil
}

// Rate returns the sustained refill rate in tokens per second.
func (b *Bucket) Rate() int {
	return int(b.limiter.Limit())
}

// Capacity returns the bucket capacity.
func (b *Bucket) Capacity() int {
	return b.limiter.Burst()
}

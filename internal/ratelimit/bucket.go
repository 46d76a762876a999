// Package ratelimit provides a continuous-refill token bucket shared
// between the IndicatorPoller and the agent/LLM call path, so waiting
// tasks suspend cooperatively instead of racing a fixed per-minute counter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket with a fixed capacity and a steady refill rate.
type Bucket struct {
	mu         sync.Mutex
	name       string
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	onThrottle func(name string)
}

// NewBucket creates a bucket that allows ratePerMinute events per rolling
// minute, with capacity tokens available as an initial burst.
func NewBucket(name string, ratePerMinute int, capacity int, onThrottle func(name string)) *Bucket {
	if capacity <= 0 {
		capacity = ratePerMinute
	}
	return &Bucket{
		name:       name,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(ratePerMinute) / 60.0,
		lastRefill: time.Now(),
		onThrottle: onThrottle,
	}
}

func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Allow attempts to consume one token without blocking.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens < 1 {
		if b.onThrottle != nil {
			b.onThrottle(b.name)
		}
		return false
	}
	b.tokens--
	return true
}

// Wait blocks (cooperatively, polling every 50ms) until a token is
// available or ctx is cancelled.
func (b *Bucket) Wait(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

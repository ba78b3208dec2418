package gmailapi

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Operation represents a Gmail API operation with its quota cost.
type Operation int

const (
	OpMessagesGet  Operation = iota // 5 units
	OpMessagesList                  // 5 units
	OpHistoryList                   // 2 units
	OpLabelsList                    // 1 unit
	OpProfile                       // 1 unit
)

// Cost returns the quota cost for an operation.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesGet, OpMessagesList:
		return 5
	case OpHistoryList:
		return 2
	default:
		return 1
	}
}

// DefaultCapacity is the token bucket capacity (Gmail's per-user quota).
const DefaultCapacity = 250

const (
	// defaultQPS is the baseline QPS used to calculate the scale factor.
	defaultQPS = 5.0

	// baseRefill is tokens per second at the baseline rate.
	baseRefill = 250.0

	// throttleRecoveryFactor reduces the refill rate during throttle recovery.
	throttleRecoveryFactor = 0.5

	// minWait is the minimum wait when tokens are insufficient.
	minWait = 10 * time.Millisecond

	// MinQPS is the minimum allowed QPS to prevent division by zero.
	MinQPS = 0.1
)

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RateLimiter is a token bucket limiter for Gmail API calls. It is safe for
// concurrent use and supports adaptive throttling after quota errors.
type RateLimiter struct {
	mu             sync.Mutex
	clock          Clock
	tokens         float64
	capacity       float64
	refillRate     float64
	baseRefillRate float64
	lastRefill     time.Time
	throttledUntil time.Time
}

// NewRateLimiter creates a limiter paced for the given QPS. A qps of 5 is
// the default safe rate for the Gmail API.
func NewRateLimiter(qps float64) *RateLimiter {
	return newRateLimiter(realClock{}, qps)
}

func newRateLimiter(clk Clock, qps float64) *RateLimiter {
	if clk == nil {
		panic("gmailapi: RateLimiter requires a non-nil Clock")
	}
	if qps < MinQPS {
		qps = MinQPS
	}

	scale := qps / defaultQPS
	if scale > 1.0 {
		scale = 1.0
	}

	refill := baseRefill * scale
	return &RateLimiter{
		clock:          clk,
		tokens:         DefaultCapacity,
		capacity:       DefaultCapacity,
		refillRate:     refill,
		baseRefillRate: refill,
		lastRefill:     clk.Now(),
	}
}

// reserve attempts to take tokens for op. Returns 0 on success or the
// duration to wait before retrying.
func (r *RateLimiter) reserve(op Operation) time.Duration {
	cost := float64(op.Cost())

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if now.Before(r.throttledUntil) {
		return r.throttledUntil.Sub(now)
	}

	r.refill()

	if r.tokens >= cost {
		r.tokens -= cost
		return 0
	}

	deficit := cost - r.tokens
	wait := time.Duration(deficit/r.refillRate*1000) * time.Millisecond
	if wait < minWait {
		wait = minWait
	}
	return wait
}

// Acquire blocks until the required tokens are available or the context is
// cancelled.
func (r *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	for {
		wait := r.reserve(op)
		if wait == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(wait):
		}
	}
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := r.clock.Now()

	if now.Before(r.throttledUntil) {
		r.lastRefill = now
		return
	}

	if r.refillRate < r.baseRefillRate && !r.throttledUntil.IsZero() {
		r.refillRate = r.baseRefillRate
	}

	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now

	r.tokens += elapsed * r.refillRate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// Throttle drains the bucket and halves the refill rate for the given
// duration, providing back-pressure after 429/403 quota responses.
func (r *RateLimiter) Throttle(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	end := now.Add(duration)

	// A shorter throttle must not cut an existing window short.
	if end.After(r.throttledUntil) {
		r.throttledUntil = end
	}

	r.lastRefill = r.throttledUntil
	r.tokens = 0
	r.refillRate = r.baseRefillRate * throttleRecoveryFactor
}

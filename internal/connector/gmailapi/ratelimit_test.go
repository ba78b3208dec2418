package gmailapi

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a controllable clock for limiter tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// After advances immediately so Acquire never blocks in tests.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func TestOperationCosts(t *testing.T) {
	cases := []struct {
		op   Operation
		want int
	}{
		{OpMessagesGet, 5},
		{OpMessagesList, 5},
		{OpHistoryList, 2},
		{OpLabelsList, 1},
		{OpProfile, 1},
	}
	for _, tc := range cases {
		if got := tc.op.Cost(); got != tc.want {
			t.Errorf("Cost(%d) = %d, want %d", tc.op, got, tc.want)
		}
	}
}

func TestAcquireDrainsBucket(t *testing.T) {
	clk := newFakeClock()
	r := newRateLimiter(clk, defaultQPS)

	before := r.Available()
	if err := r.Acquire(context.Background(), OpMessagesGet); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	after := r.Available()
	if before-after != float64(OpMessagesGet.Cost()) {
		t.Errorf("tokens spent = %v, want %d", before-after, OpMessagesGet.Cost())
	}
}

func TestAcquireWaitsWhenEmpty(t *testing.T) {
	clk := newFakeClock()
	r := newRateLimiter(clk, defaultQPS)

	// Drain the bucket.
	for r.Available() >= float64(OpMessagesGet.Cost()) {
		if err := r.Acquire(context.Background(), OpMessagesGet); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}

	start := clk.Now()
	if err := r.Acquire(context.Background(), OpMessagesGet); err != nil {
		t.Fatalf("Acquire after drain: %v", err)
	}
	if !clk.Now().After(start) {
		t.Error("Acquire did not wait for refill")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	clk := newFakeClock()
	r := newRateLimiter(clk, defaultQPS)

	clk.Advance(time.Hour)
	if got := r.Available(); got != DefaultCapacity {
		t.Errorf("Available after long idle = %v, want %v", got, float64(DefaultCapacity))
	}
}

func TestThrottleBlocksUntilWindowEnds(t *testing.T) {
	clk := newFakeClock()
	r := newRateLimiter(clk, defaultQPS)

	r.Throttle(10 * time.Second)
	if got := r.Available(); got != 0 {
		t.Errorf("tokens after throttle = %v, want 0", got)
	}

	wait := r.reserve(OpProfile)
	if wait <= 0 {
		t.Fatal("reserve during throttle window returned no wait")
	}

	clk.Advance(15 * time.Second)
	if r.Available() <= 0 {
		t.Error("no tokens refilled after throttle window passed")
	}
}

func TestThrottleReducesRateThenRecovers(t *testing.T) {
	clk := newFakeClock()
	r := newRateLimiter(clk, defaultQPS)

	r.Throttle(time.Second)
	if r.refillRate != baseRefill*throttleRecoveryFactor {
		t.Errorf("throttled refill rate = %v, want %v", r.refillRate, baseRefill*throttleRecoveryFactor)
	}

	clk.Advance(2 * time.Second)
	r.Available()
	if r.refillRate != r.baseRefillRate {
		t.Errorf("refill rate after window = %v, want restored to %v", r.refillRate, r.baseRefillRate)
	}
}

func TestLowQPSScalesRefill(t *testing.T) {
	clk := newFakeClock()
	r := newRateLimiter(clk, 1.0)
	if r.baseRefillRate != baseRefill/5 {
		t.Errorf("refill at 1 qps = %v, want %v", r.baseRefillRate, baseRefill/5)
	}

	fast := newRateLimiter(clk, 50.0)
	if fast.baseRefillRate != baseRefill {
		t.Errorf("refill above default qps = %v, want capped at %v", fast.baseRefillRate, baseRefill)
	}
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	r := NewRateLimiter(MinQPS)
	r.Throttle(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Acquire(ctx, OpMessagesGet); err == nil {
		t.Fatal("Acquire with cancelled context returned nil")
	}
}

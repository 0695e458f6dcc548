package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the limiter's refill logic deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(cfg)
	l.now = clock.Now
	l.global = newBucket(cfg.Global, clock.Now())
	return l, clock
}

func TestCheckPermitsWithinBurst(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Global:    BucketConfig{BurstCapacity: 3, RefillInterval: time.Second, TokensPerInterval: 1},
		PerDevice: BucketConfig{BurstCapacity: 3, RefillInterval: time.Second, TokensPerInterval: 1},
	})

	for i := range 3 {
		if v := l.Check("dev"); v.Decision != PerformCall {
			t.Fatalf("call %d decision = %v, want perform", i, v.Decision)
		}
	}
	if v := l.Check("dev"); v.Decision != DelayCall {
		t.Errorf("burst-exceeding call decision = %v, want delay", v.Decision)
	}
}

func TestRefillRestoresTokens(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Global: BucketConfig{BurstCapacity: 1, RefillInterval: time.Second, TokensPerInterval: 1},
	})

	if v := l.Check("dev"); v.Decision != PerformCall {
		t.Fatalf("first call decision = %v", v.Decision)
	}
	if v := l.Check("dev"); v.Decision != DelayCall {
		t.Fatalf("exhausted call decision = %v", v.Decision)
	}

	clock.Advance(time.Second)
	if v := l.CheckQueued("dev"); v.Decision != PerformCall {
		t.Errorf("post-refill decision = %v, want perform", v.Decision)
	}
}

func TestRefillCapsAtBurstCapacity(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Global: BucketConfig{BurstCapacity: 2, RefillInterval: time.Second, TokensPerInterval: 1},
	})

	// Drain, then wait far longer than capacity*interval.
	l.Check("dev")
	l.Check("dev")
	clock.Advance(10 * time.Second)

	permitted := 0
	for range 5 {
		if l.Check("dev").Decision == PerformCall {
			permitted++
		}
	}
	if permitted != 2 {
		t.Errorf("permitted = %d after long idle, want burst capacity 2", permitted)
	}
}

func TestTokenBucketMonotonicity(t *testing.T) {
	// Within a window of w intervals, permits <= burst + w*tokensPerInterval.
	cfg := BucketConfig{BurstCapacity: 2, RefillInterval: time.Second, TokensPerInterval: 1}
	l, clock := newTestLimiter(Config{Global: cfg})

	const windowIntervals = 5
	permitted := 0
	for range windowIntervals {
		for range 10 { // hammer inside each interval
			if l.Check("dev").Decision == PerformCall {
				permitted++
			}
		}
		clock.Advance(time.Second)
	}

	limit := cfg.BurstCapacity + windowIntervals*cfg.TokensPerInterval
	if permitted > limit {
		t.Errorf("permitted = %d in window, want <= %d", permitted, limit)
	}
}

func TestExponentialDelayGrowth(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Global: BucketConfig{BurstCapacity: 1, RefillInterval: time.Second, TokensPerInterval: 1},
	})

	l.Check("dev") // consume the burst token

	v1 := l.Check("a")
	v2 := l.Check("b")
	v3 := l.Check("c")
	if v1.Decision != DelayCall || v2.Decision != DelayCall || v3.Decision != DelayCall {
		t.Fatalf("decisions = %v %v %v, want delays", v1.Decision, v2.Decision, v3.Decision)
	}
	if v1.Delay != time.Second || v2.Delay != 2*time.Second || v3.Delay != 4*time.Second {
		t.Errorf("delays = %v %v %v, want 1s 2s 4s", v1.Delay, v2.Delay, v3.Delay)
	}
}

func TestDelayCappedAtMaxDelay(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Global:   BucketConfig{BurstCapacity: 1, RefillInterval: time.Second, TokensPerInterval: 1},
		MaxDelay: 3 * time.Second,
	})

	l.Check("dev")
	var last Verdict
	for i := range 6 {
		last = l.Check(string(rune('a' + i)))
	}
	if last.Delay > 3*time.Second {
		t.Errorf("delay = %v, want capped at 3s", last.Delay)
	}
}

func TestDropWhenQueueFull(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Global:             BucketConfig{BurstCapacity: 1, RefillInterval: time.Minute, TokensPerInterval: 1},
		MaxQueuedPerDevice: 2,
	})

	l.Check("dev") // burst token gone

	if v := l.Check("dev"); v.Decision != DelayCall {
		t.Fatalf("first queued decision = %v", v.Decision)
	}
	if v := l.Check("dev"); v.Decision != DelayCall {
		t.Fatalf("second queued decision = %v", v.Decision)
	}
	if v := l.Check("dev"); v.Decision != DropCall {
		t.Errorf("over-queue decision = %v, want drop", v.Decision)
	}

	stats := l.Stats()
	if stats.Dropped != 1 || stats.Delayed != 2 || stats.Permitted != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCancelReleasesQueueSlot(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Global:             BucketConfig{BurstCapacity: 1, RefillInterval: time.Minute, TokensPerInterval: 1},
		MaxQueuedPerDevice: 1,
	})

	l.Check("dev")
	if v := l.Check("dev"); v.Decision != DelayCall {
		t.Fatalf("queued decision = %v", v.Decision)
	}
	if v := l.Check("dev"); v.Decision != DropCall {
		t.Fatalf("full-queue decision = %v", v.Decision)
	}

	l.Cancel("dev")
	if v := l.Check("dev"); v.Decision != DelayCall {
		t.Errorf("post-cancel decision = %v, want delay", v.Decision)
	}
}

func TestUnlimitedScopes(t *testing.T) {
	l := New(Config{}) // both scopes unlimited
	for range 100 {
		if v := l.Check("dev"); v.Decision != PerformCall {
			t.Fatalf("decision = %v, want perform", v.Decision)
		}
	}
}

func TestWaitDelaysThenPermits(t *testing.T) {
	// Real-clock version of the staggered-burst scenario, scaled to
	// 100ms intervals: of three simultaneous calls, one runs now and
	// the others after roughly one and two intervals.
	l := New(Config{
		Global: BucketConfig{BurstCapacity: 1, RefillInterval: 100 * time.Millisecond, TokensPerInterval: 1},
	})

	start := time.Now()
	var wg sync.WaitGroup
	elapsed := make([]time.Duration, 3)
	errs := make([]error, 3)

	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = l.Wait(context.Background(), "dev")
			elapsed[i] = time.Since(start)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Wait %d error = %v", i, err)
		}
	}

	var longest time.Duration
	for _, e := range elapsed {
		if e > longest {
			longest = e
		}
	}
	if longest < 200*time.Millisecond {
		t.Errorf("slowest caller finished in %v, want >= 2 refill intervals", longest)
	}

	stats := l.Stats()
	if stats.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", stats.Dropped)
	}
	if stats.Permitted != 3 {
		t.Errorf("permitted = %d, want 3", stats.Permitted)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	l := New(Config{
		Global: BucketConfig{BurstCapacity: 1, RefillInterval: time.Minute, TokensPerInterval: 1},
	})
	l.Check("dev")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "dev")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestWaitDropSurfacesErrRateLimited(t *testing.T) {
	l := New(Config{
		Global:             BucketConfig{BurstCapacity: 1, RefillInterval: time.Minute, TokensPerInterval: 1},
		MaxQueuedPerDevice: 1,
	})
	l.Check("dev")
	if v := l.Check("dev"); v.Decision != DelayCall {
		t.Fatalf("setup decision = %v", v.Decision)
	}

	err := l.Wait(context.Background(), "dev")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Wait() error = %v, want ErrRateLimited", err)
	}
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRateLimited is returned when the limiter decides to drop a call.
var ErrRateLimited = errors.New("ratelimit: call dropped by rate limiter")

// Decision is the limiter's verdict for one call.
type Decision int

const (
	// PerformCall permits the call immediately.
	PerformCall Decision = iota

	// DelayCall defers the call by Verdict.Delay, then re-checks.
	DelayCall

	// DropCall rejects the call; the caller surfaces ErrRateLimited.
	DropCall
)

// String returns the decision name for logging.
func (d Decision) String() string {
	switch d {
	case PerformCall:
		return "perform"
	case DelayCall:
		return "delay"
	case DropCall:
		return "drop"
	default:
		return "unknown"
	}
}

// Verdict pairs a Decision with its delay when the decision is
// DelayCall.
type Verdict struct {
	Decision Decision
	Delay    time.Duration
}

// BucketConfig describes one token bucket. A zero BurstCapacity means
// the scope is unlimited.
type BucketConfig struct {
	BurstCapacity     int           `yaml:"burst_capacity"`
	RefillInterval    time.Duration `yaml:"refill_interval"`
	TokensPerInterval int           `yaml:"tokens_per_interval"`
}

func (c BucketConfig) unlimited() bool {
	return c.BurstCapacity <= 0 || c.RefillInterval <= 0 || c.TokensPerInterval <= 0
}

// Config holds limiter settings for both scopes.
type Config struct {
	Global    BucketConfig `yaml:"global"`
	PerDevice BucketConfig `yaml:"per_device"`

	// MaxQueuedPerDevice caps delayed calls waiting per device before
	// further calls are dropped. Defaults to 8.
	MaxQueuedPerDevice int `yaml:"max_queued_per_device"`

	// MaxDelay caps the exponential backoff. Defaults to 30s.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// defaultMaxQueuedPerDevice bounds the per-device delay queue.
const defaultMaxQueuedPerDevice = 8

// defaultMaxDelay caps backoff growth.
const defaultMaxDelay = 30 * time.Second

// Stats are the limiter's monotonically increasing counters.
type Stats struct {
	Permitted uint64
	Delayed   uint64
	Dropped   uint64
}

// bucket is one refillable token pool plus the backoff state bound to
// it.
type bucket struct {
	cfg        BucketConfig
	tokens     int
	lastRefill time.Time

	// attempts drives the exponential backoff; it resets whenever the
	// bucket hands out a token.
	attempts int
}

func newBucket(cfg BucketConfig, now time.Time) *bucket {
	return &bucket{cfg: cfg, tokens: cfg.BurstCapacity, lastRefill: now}
}

// refill credits tokens for the whole intervals elapsed since the last
// refill, capped at burst capacity.
func (b *bucket) refill(now time.Time) {
	if b.cfg.unlimited() {
		return
	}
	intervals := int(now.Sub(b.lastRefill) / b.cfg.RefillInterval)
	if intervals <= 0 {
		return
	}
	b.tokens += intervals * b.cfg.TokensPerInterval
	if b.tokens > b.cfg.BurstCapacity {
		b.tokens = b.cfg.BurstCapacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.cfg.RefillInterval)
}

func (b *bucket) hasToken() bool {
	return b.cfg.unlimited() || b.tokens > 0
}

func (b *bucket) take() {
	if !b.cfg.unlimited() {
		b.tokens--
	}
	b.attempts = 0
}

// nextDelay returns the backoff for the current attempt and advances
// the generator: refillInterval, doubling per consecutive exhaustion,
// capped at maxDelay.
func (b *bucket) nextDelay(maxDelay time.Duration) time.Duration {
	delay := b.cfg.RefillInterval << b.attempts
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	} else {
		b.attempts++
	}
	return delay
}

// Limiter applies the two-scope token bucket policy.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	global  *bucket
	devices map[string]*bucket
	queued  map[string]int

	permitted atomic.Uint64
	delayed   atomic.Uint64
	dropped   atomic.Uint64

	// now is a test seam.
	now func() time.Time
}

// New creates a limiter from cfg. Zero bucket configs disable the
// corresponding scope.
func New(cfg Config) *Limiter {
	if cfg.MaxQueuedPerDevice <= 0 {
		cfg.MaxQueuedPerDevice = defaultMaxQueuedPerDevice
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	l := &Limiter{
		cfg:     cfg,
		devices: make(map[string]*bucket),
		queued:  make(map[string]int),
		now:     time.Now,
	}
	l.global = newBucket(cfg.Global, l.now())
	return l
}

// Check decides the fate of one call for deviceUUID without blocking.
//
// A DelayCall verdict reserves a queue slot for the device; the caller
// must follow up with either CheckQueued after the delay or Cancel if
// it gives up, so the slot is released.
func (l *Limiter) Check(deviceUUID string) Verdict {
	return l.check(deviceUUID, false)
}

// CheckQueued is Check for a caller that already holds a queue slot
// from an earlier DelayCall verdict. The slot is released when the call
// is finally permitted, and kept across further delays.
func (l *Limiter) CheckQueued(deviceUUID string) Verdict {
	return l.check(deviceUUID, true)
}

func (l *Limiter) check(deviceUUID string, holdsSlot bool) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dev := l.deviceBucket(deviceUUID, now)

	l.global.refill(now)
	dev.refill(now)

	if l.global.hasToken() && dev.hasToken() {
		l.global.take()
		dev.take()
		if holdsSlot && l.queued[deviceUUID] > 0 {
			l.queued[deviceUUID]--
		}
		l.permitted.Add(1)
		return Verdict{Decision: PerformCall}
	}

	// Identify the exhausted bucket; its backoff shapes the delay.
	exhausted := l.global
	if l.global.hasToken() {
		exhausted = dev
	}

	if !holdsSlot {
		if l.queued[deviceUUID] >= l.cfg.MaxQueuedPerDevice {
			l.dropped.Add(1)
			return Verdict{Decision: DropCall}
		}
		l.queued[deviceUUID]++
	}

	l.delayed.Add(1)
	return Verdict{Decision: DelayCall, Delay: exhausted.nextDelay(l.cfg.MaxDelay)}
}

// Cancel releases the queue slot held by a delayed call that will not
// re-check, typically because its context was cancelled.
func (l *Limiter) Cancel(deviceUUID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queued[deviceUUID] > 0 {
		l.queued[deviceUUID]--
	}
}

// Wait blocks until the call is permitted, dropped, or ctx ends.
//
// Returns:
//   - nil when the call may proceed
//   - ErrRateLimited when the limiter dropped the call
//   - ctx.Err() when the context ended during a delay
func (l *Limiter) Wait(ctx context.Context, deviceUUID string) error {
	holdsSlot := false
	for {
		var verdict Verdict
		if holdsSlot {
			verdict = l.CheckQueued(deviceUUID)
		} else {
			verdict = l.Check(deviceUUID)
		}
		switch verdict.Decision {
		case PerformCall:
			return nil
		case DropCall:
			return ErrRateLimited
		case DelayCall:
			holdsSlot = true
			timer := time.NewTimer(verdict.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				l.Cancel(deviceUUID)
				return ctx.Err()
			}
		}
	}
}

// Stats returns a snapshot of the limiter counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Permitted: l.permitted.Load(),
		Delayed:   l.delayed.Load(),
		Dropped:   l.dropped.Load(),
	}
}

// deviceBucket returns the bucket for deviceUUID, creating it on first
// use. Callers hold l.mu.
func (l *Limiter) deviceBucket(deviceUUID string, now time.Time) *bucket {
	dev, ok := l.devices[deviceUUID]
	if !ok {
		dev = newBucket(l.cfg.PerDevice, now)
		l.devices[deviceUUID] = dev
	}
	return dev
}

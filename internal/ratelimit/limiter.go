// Package ratelimit throttles upstream calls with lazily refilled token buckets, one per resource key.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"ContentIngestor/internal/domain"
)

// BucketConfig sizes one token bucket.
type BucketConfig struct {
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refillRate"` // tokens per second
}

// Validate rejects buckets that could never grant a token.
func (c BucketConfig) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("bucket capacity must be >= 1, got %v", c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("bucket refill rate must be > 0, got %v", c.RefillRate)
	}
	return nil
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type bucket struct {
	// sem is a one-slot semaphore guarding the fields below; acquiring it honours ctx.
	sem        chan struct{}
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
}

// Limiter owns the buckets of every resource key. It is safe for concurrent use.
type Limiter struct {
	mu        sync.RWMutex
	buckets   map[string]*bucket
	defaults  BucketConfig
	overrides map[string]BucketConfig
	now       func() time.Time
	sleep     Sleeper
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now; used by tests to drive refills deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper replaces the context-aware timer used while waiting for a refill.
func WithSleeper(s Sleeper) Option {
	return func(l *Limiter) {
		if s != nil {
			l.sleep = s
		}
	}
}

// WithBucket configures a specific resource key.
func WithBucket(key string, cfg BucketConfig) Option {
	return func(l *Limiter) {
		l.overrides[key] = cfg
	}
}

// New builds a limiter; keys without an override use defaults.
func New(defaults BucketConfig, opts ...Option) (*Limiter, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default bucket: %w", err)
	}

	l := &Limiter{
		buckets:   map[string]*bucket{},
		defaults:  defaults,
		overrides: map[string]BucketConfig{},
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}

	for key, cfg := range l.overrides {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("bucket %s: %w", key, err)
		}
	}

	return l, nil
}

// Acquire blocks until a token for key is available and consumes it.
// It never fails for lack of tokens; it fails only when ctx ends first, in which case no token is consumed.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	b := l.bucketFor(key)

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return domain.Cancelled(ctx.Err())
	}
	defer func() { <-b.sem }()

	b.refill(l.now())
	if b.tokens >= 1 {
		b.tokens--
		return nil
	}

	deficit := 1 - b.tokens
	wait := time.Duration(math.Ceil(deficit / b.refillRate * float64(time.Second)))
	if err := l.sleep(ctx, wait); err != nil {
		return domain.Cancelled(err)
	}

	// One recompute is enough: refill is monotonic and nobody else held the bucket while we slept.
	b.refill(l.now())
	if b.tokens < 1 {
		b.tokens = 1
	}
	b.tokens--
	return nil
}

// Tokens returns the tokens currently available for key after a lazy refill.
func (l *Limiter) Tokens(key string) float64 {
	b := l.bucketFor(key)
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	b.refill(l.now())
	return b.tokens
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}

	cfg, ok := l.overrides[key]
	if !ok {
		cfg = l.defaults
	}
	b = &bucket{
		sem:        make(chan struct{}, 1),
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
		tokens:     cfg.Capacity,
		lastRefill: l.now(),
	}
	l.buckets[key] = b
	return b
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

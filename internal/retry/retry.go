// Package retry wraps a single fallible upstream call with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"ContentIngestor/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Policy configures retries. The zero value retries transient fetch errors three times.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Classifier  Classifier
	Logger      *slog.Logger

	// jitter returns a value in [0, n); replaced in tests.
	jitter func(n int64) int64
	sleep  func(ctx context.Context, d time.Duration) error
}

// IsTransient is the default classifier: transient fetch errors and network timeouts retry,
// cancellation and everything else does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, domain.ErrTransientFetch) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Delay returns the wait before the attempt that follows attempt (1-based), without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base, maxDelay := p.baseDelay(), p.maxDelay()
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

// Do runs op until it succeeds, fails permanently, runs out of attempts, or ctx ends.
// Exhaustion returns an error matching both domain.ErrFetchExhausted and the last failure.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.maxAttempts()
	classify := p.Classifier
	if classify == nil {
		classify = IsTransient
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, domain.Cancelled(err)
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return result, nil
		}
		lastErr = err

		if !classify(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.withJitter(p.Delay(attempt))
		logger.Warn("retry backoff wait",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"retry_delay_ms", delay.Milliseconds(),
			"error", err)

		if err := p.wait(ctx, delay); err != nil {
			return zero, domain.Cancelled(err)
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", domain.ErrFetchExhausted, maxAttempts, lastErr)
}

func (p Policy) withJitter(delay time.Duration) time.Duration {
	base := p.baseDelay()
	jitter := p.jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	if base > 0 {
		delay += time.Duration(jitter(int64(base)))
	}
	return min(delay, p.maxDelay())
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
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

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return defaultBaseDelay
	}
	return p.BaseDelay
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return defaultMaxDelay
	}
	return p.MaxDelay
}

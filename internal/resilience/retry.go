package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 250ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration, jitter included. Default: 5s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%).
	JitterFraction float64

	// Backoffs is an explicit delay schedule. When set, the delay before
	// retry n is Backoffs[n-1] and the exponential fields are ignored.
	Backoffs []time.Duration

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the policy used for injected I/O: three
// attempts, 250ms base delay doubling up to 5s, ±10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// ScheduleRetryConfig retries once per entry in backoffs after an immediate
// first attempt.
func ScheduleRetryConfig(shouldRetry func(error) bool, backoffs ...time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts: len(backoffs) + 1,
		Backoffs:    backoffs,
		ShouldRetry: shouldRetry,
	}
}

// Outcome is the result of a retried operation: either a value or the
// exhaustion of every attempt on retryable errors.
type Outcome[T any] struct {
	value     T
	lastErr   error
	attempts  int
	exhausted bool
}

// Ok wraps a successful value.
func Ok[T any](v T, attempts int) Outcome[T] {
	return Outcome[T]{value: v, attempts: attempts}
}

// Exhausted records that every attempt failed with a retryable error.
func Exhausted[T any](lastErr error, attempts int) Outcome[T] {
	return Outcome[T]{lastErr: lastErr, attempts: attempts, exhausted: true}
}

// Value returns the value and true, or the zero value and false when
// exhausted.
func (o Outcome[T]) Value() (T, bool) { return o.value, !o.exhausted }

// IsExhausted reports whether the retries ran out.
func (o Outcome[T]) IsExhausted() bool { return o.exhausted }

// LastError is the final retryable error of an exhausted outcome.
func (o Outcome[T]) LastError() error { return o.lastErr }

// Attempts is the number of calls made.
func (o Outcome[T]) Attempts() int { return o.attempts }

// Unwrap converts the outcome back into a value and error.
func (o Outcome[T]) Unwrap() (T, error) {
	if o.exhausted {
		return o.value, o.lastErr
	}
	return o.value, nil
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// context ends, or attempts run out. Only the last case yields an exhausted
// Outcome; the others return the error directly.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (Outcome[T], error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return Ok(val, attempt), nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(err) {
			return Outcome[T]{attempts: attempt}, err
		}

		// No sleep after the last attempt.
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		if err := sleep(ctx, computeBackoff(attempt, cfg)); err != nil {
			return Outcome[T]{attempts: attempt}, lastErr
		}
	}

	return Exhausted[T](lastErr, cfg.MaxAttempts), nil
}

// Do executes fn with retry logic according to cfg. Exhaustion is reported
// as the last error.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions returning a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := Retry(ctx, cfg, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return out.Unwrap()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if len(cfg.Backoffs) > 0 {
		return cfg
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// computeBackoff returns the delay before retry number attempt (1-based).
func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	if len(cfg.Backoffs) > 0 {
		idx := attempt - 1
		if idx >= len(cfg.Backoffs) {
			idx = len(cfg.Backoffs) - 1
		}
		return cfg.Backoffs[idx]
	}

	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt-1))
	delay = math.Min(delay, float64(cfg.MaxBackoff))

	// Apply jitter: ±JitterFraction of delay.
	if cfg.JitterFraction > 0 {
		delay *= 1 + (rand.Float64()*2-1)*cfg.JitterFraction
	}

	delay = math.Max(0, math.Min(delay, float64(cfg.MaxBackoff)))
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default retry parameters.
const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 2 * time.Second
)

// RetryPolicy is a bounded retry with a fixed delay between attempts.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first one.
	// Defaults to 3 if zero.
	Attempts int

	// Delay is the pause between two attempts. Defaults to 2s if zero.
	Delay time.Duration

	// Retryable reports whether err warrants another attempt. A nil
	// Retryable never retries.
	Retryable func(error) bool

	// OnRetry, if set, is called before each delayed re-attempt with the
	// 1-based number of the attempt that just failed.
	OnRetry func(attempt int, err error)
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return defaultRetryAttempts
	}
	return p.Attempts
}

func (p RetryPolicy) delay() time.Duration {
	if p.Delay <= 0 {
		return defaultRetryDelay
	}
	return p.Delay
}

// Retry calls fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The last error is returned wrapped with the
// attempt count.
func Retry[R any](ctx context.Context, p RetryPolicy, fn func(context.Context) (R, error)) (R, error) {
	var zero R
	total := p.attempts()

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		if attempt >= total {
			return zero, fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		slog.Warn("retrying after transient failure",
			"attempt", attempt,
			"max_attempts", total,
			"delay", p.delay(),
			"error", err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		timer := time.NewTimer(p.delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

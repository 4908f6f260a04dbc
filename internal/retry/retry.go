package retry

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Config holds the backoff settings. MaxRetries counts retries, not attempts.
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:      0,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffMultiple: 2.0,
	}
}

func (c Config) delay(attempt int) time.Duration {
	d := time.Duration(float64(c.BaseDelay) * math.Pow(c.BackoffMultiple, float64(attempt)))
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns an error isRetryable rejects, or the
// retry budget is spent. The last error is returned unchanged.
func Do[T any](ctx context.Context, cfg Config, isRetryable func(error) bool, logger *slog.Logger, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := cfg.delay(attempt - 1)
			if logger != nil {
				logger.Debug("retrying", "call", name, "attempt", attempt+1, "max_attempts", cfg.MaxRetries+1, "delay", wait)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, lastErr
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 && logger != nil {
				logger.Debug("retry succeeded", "call", name, "attempt", attempt+1)
			}
			return result, nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) || ctx.Err() != nil {
			return zero, err
		}
		if logger != nil && attempt < cfg.MaxRetries {
			logger.Warn("retryable error", "call", name, "attempt", attempt+1, "max_attempts", cfg.MaxRetries+1, "error", err)
		}
	}
	return zero, lastErr
}

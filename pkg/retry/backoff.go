// Package retry retries transient failures with exponential backoff.
//
// Only the report archive upload retries. Probes never do.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/logger"
)

type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	MaxRetries      int
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      3,
	}
}

// ExponentialBackoff returns the delay before the given retry attempt
// (1-based). With jitter the delay lands in [d/2, d).
func ExponentialBackoff(config BackoffConfig) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return config.InitialInterval
		}

		interval := float64(config.InitialInterval) * math.Pow(config.Multiplier, float64(attempt-1))
		if interval > float64(config.MaxInterval) {
			interval = float64(config.MaxInterval)
		}
		d := time.Duration(interval)

		if config.Jitter && d >= 2 {
			d = d/2 + time.Duration(rand.Int63n(int64(d/2)))
		}
		return d
	}
}

type RetryableFunc func(ctx context.Context) error

// StopError marks an error that retrying cannot fix.
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps err so Do returns it immediately.
func Stop(err error) error {
	return StopError{Err: err}
}

func IsStopError(err error) bool {
	var stopErr StopError
	return errors.As(err, &stopErr)
}

// Do calls fn until it succeeds, returns a StopError, the retries are used
// up, or ctx is done.
func Do(ctx context.Context, name string, config BackoffConfig, fn RetryableFunc) error {
	backoff := ExponentialBackoff(config)

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			logger.Debug("Retry: backing off", "operation", name, "attempt", attempt+1, "delay", delay, "error", lastErr)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%s: retry cancelled: %w", name, ctx.Err())
			case <-t.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var stopErr StopError
		if errors.As(err, &stopErr) {
			return stopErr.Err
		}
		lastErr = err
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, config.MaxRetries+1, lastErr)
}

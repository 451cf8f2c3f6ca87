// Package retry retries transient failures with capped exponential backoff
// and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// Config tunes the backoff.
type Config struct {
	// MaxAttempts counts the first call; 1 disables retrying
	MaxAttempts int
	// InitialDelay is the wait before the second attempt
	InitialDelay time.Duration
	// MaxDelay caps the wait before jitter is added
	MaxDelay time.Duration
	// Multiplier grows the wait after each attempt
	Multiplier float64
	// JitterFraction adds up to this fraction of the wait at random (0.0 to 1.0)
	JitterFraction float64
}

// DefaultConfig returns general-purpose settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// DNSConfig returns settings for resolver lookups made during an analysis
// cycle, which blocks on them.
func DNSConfig() Config {
	return Config{
		MaxAttempts:    2,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       500 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Do calls fn until it succeeds, fails with an error IsRetryable rejects,
// runs out of attempts or ctx ends.
//
// A non-retryable error is returned unwrapped. Exhausting the attempts
// wraps the last error.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", slog.Int("attempt", attempt))
			}
			return v, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		slog.Debug("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}

		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
		delay = addJitter(delay, cfg.JitterFraction)
	}

	return zero, fmt.Errorf("max retry attempts (%d) exceeded: %w", attempts, lastErr)
}

// IsRetryable reports whether err is transient. Context errors and
// definitive DNS answers ("no such host") are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return false
		}
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH)
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	jitterFraction = min(jitterFraction, 1.0)
	// #nosec G404 -- jitter does not need a cryptographic source
	return duration + time.Duration(rand.Float64()*float64(duration)*jitterFraction)
}

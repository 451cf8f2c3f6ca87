// Package circuitbreaker guards calls to unreliable collaborators with
// github.com/sony/gobreaker. State changes are logged and published as the
// warden_circuit_breaker_state gauge.
package circuitbreaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"trafficwarden/internal/observability/metrics"
)

// ErrOpen is returned for calls rejected by an open breaker.
var ErrOpen = gobreaker.ErrOpenState

// Config tunes one breaker.
type Config struct {
	// Name labels logs and metrics
	Name string
	// MaxRequests is the number of trial calls let through while half-open
	MaxRequests uint32
	// Interval clears the closed-state counts; zero never clears them
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open
	Timeout time.Duration
	// FailureThreshold is the failure ratio that trips the breaker, e.g. 0.6
	FailureThreshold float64
	// MinRequests is the sample size below which the breaker never trips
	MinRequests uint32
	// IsSuccessful classifies returned errors; nil counts every error as a failure
	IsSuccessful func(err error) bool
}

// DefaultConfig returns general-purpose settings.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// DNSConfig returns settings for the resolver behind the legitimacy
// classifier. It tolerates a high failure ratio before tripping since
// lookups of random client addresses fail often.
func DNSConfig() Config {
	return Config{
		Name:             "dns-resolver",
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

// New builds a breaker from cfg and publishes its initial closed state.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: cfg.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateCircuitBreakerState(name, stateValue(to))
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	metrics.UpdateCircuitBreakerState(cfg.Name, stateValue(gobreaker.StateClosed))
	return &CircuitBreaker{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn through the breaker. An open breaker returns ErrOpen without
// calling fn.
func Do[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

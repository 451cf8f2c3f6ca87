// Package dns adapts the system resolver for the legitimacy classifier:
// lookups are paced, time-boxed, retried on transient failures and guarded
// by a circuit breaker.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"trafficwarden/internal/observability/metrics"
	"trafficwarden/internal/resilience/circuitbreaker"
	"trafficwarden/internal/resilience/retry"
)

// Lookup is the subset of *net.Resolver the adapter uses.
type Lookup interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Config holds resolver pacing and timeout settings.
type Config struct {
	// Timeout bounds a single lookup attempt
	Timeout time.Duration
	// QueriesPerSecond is the sustained query rate
	QueriesPerSecond float64
	// Burst is the number of queries allowed at once
	Burst int
}

// DefaultConfig returns resolver settings suitable for one analysis cycle.
func DefaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		QueriesPerSecond: 20,
		Burst:            10,
	}
}

// Resolver performs reverse and forward lookups.
type Resolver struct {
	lookup  Lookup
	cfg     Config
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
}

// NewResolver wraps lookup. A nil lookup uses net.DefaultResolver.
func NewResolver(lookup Lookup, cfg Config) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.QueriesPerSecond <= 0 {
		cfg.QueriesPerSecond = DefaultConfig().QueriesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}

	cbCfg := circuitbreaker.DNSConfig()
	cbCfg.IsSuccessful = isDefinitiveAnswer

	return &Resolver{
		lookup:  lookup,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), cfg.Burst),
		breaker: circuitbreaker.New(cbCfg),
		retry:   retry.DNSConfig(),
	}
}

// LookupAddr returns the PTR names for ip.
func (r *Resolver) LookupAddr(ctx context.Context, ip string) ([]string, error) {
	return r.do(ctx, "reverse", ip, r.lookup.LookupAddr)
}

// LookupHost returns the addresses host resolves to.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return r.do(ctx, "forward", host, r.lookup.LookupHost)
}

func (r *Resolver) do(ctx context.Context, kind, name string, fn func(context.Context, string) ([]string, error)) ([]string, error) {
	// an open breaker rejects the call anyway; skip pacing and backoff
	if r.breaker.IsOpen() {
		return nil, fmt.Errorf("dns %s lookup %s: %w", kind, name, circuitbreaker.ErrOpen)
	}

	answer, err := retry.Do(ctx, r.retry, func() ([]string, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return circuitbreaker.Do(r.breaker, func() ([]string, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()

			start := time.Now()
			names, err := fn(attemptCtx, name)
			metrics.RecordDNSLookup(kind, time.Since(start))
			return names, err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dns %s lookup %s: %w", kind, name, err)
	}
	return answer, nil
}

// isDefinitiveAnswer reports whether err is an authoritative negative
// answer rather than a resolver failure.
func isDefinitiveAnswer(err error) bool {
	if err == nil {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

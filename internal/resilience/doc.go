// Package resilience provides fault tolerance patterns for calls the daemon
// makes to external services, currently the DNS resolver used by the
// legitimacy classifier.
//
// The package supports:
//   - Circuit breakers that stop hammering a resolver that keeps failing
//   - Retry logic with exponential backoff and jitter for transient failures
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.DNSConfig())
//	names, err := retry.Do(ctx, retry.DNSConfig(), func() ([]string, error) {
//	    return circuitbreaker.Do(cb, func() ([]string, error) {
//	        return resolver.LookupAddr(ctx, ip)
//	    })
//	})
package resilience

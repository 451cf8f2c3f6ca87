package dns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficwarden/internal/resilience/circuitbreaker"
)

type stubLookup struct {
	addr      map[string][]string
	host      map[string][]string
	addrErrs  []error
	addrCalls int
}

func (s *stubLookup) LookupAddr(_ context.Context, addr string) ([]string, error) {
	s.addrCalls++
	if len(s.addrErrs) > 0 {
		err := s.addrErrs[0]
		s.addrErrs = s.addrErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	names, ok := s.addr[addr]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: addr, IsNotFound: true}
	}
	return names, nil
}

func (s *stubLookup) LookupHost(_ context.Context, host string) ([]string, error) {
	addrs, ok := s.host[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func testConfig() Config {
	return Config{Timeout: time.Second, QueriesPerSecond: 1000, Burst: 100}
}

func TestResolver_Lookups(t *testing.T) {
	stub := &stubLookup{
		addr: map[string][]string{"66.249.66.1": {"crawl-66-249-66-1.googlebot.com."}},
		host: map[string][]string{"crawl-66-249-66-1.googlebot.com.": {"66.249.66.1"}},
	}
	r := NewResolver(stub, testConfig())

	names, err := r.LookupAddr(context.Background(), "66.249.66.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"crawl-66-249-66-1.googlebot.com."}, names)

	addrs, err := r.LookupHost(context.Background(), "crawl-66-249-66-1.googlebot.com.")
	require.NoError(t, err)
	assert.Equal(t, []string{"66.249.66.1"}, addrs)
}

func TestResolver_NotFoundIsNotRetried(t *testing.T) {
	stub := &stubLookup{}
	r := NewResolver(stub, testConfig())

	_, err := r.LookupAddr(context.Background(), "10.0.0.1")

	var dnsErr *net.DNSError
	require.True(t, errors.As(err, &dnsErr))
	assert.True(t, dnsErr.IsNotFound)
	assert.Equal(t, 1, stub.addrCalls)
}

func TestResolver_RetriesTemporaryFailure(t *testing.T) {
	stub := &stubLookup{
		addr:     map[string][]string{"10.0.0.2": {"host.example."}},
		addrErrs: []error{&net.DNSError{Err: "server misbehaving", IsTemporary: true}},
	}
	r := NewResolver(stub, testConfig())

	names, err := r.LookupAddr(context.Background(), "10.0.0.2")

	require.NoError(t, err)
	assert.Equal(t, []string{"host.example."}, names)
	assert.Equal(t, 2, stub.addrCalls)
}

func TestResolver_CanceledContext(t *testing.T) {
	r := NewResolver(&stubLookup{}, Config{Timeout: time.Second, QueriesPerSecond: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.LookupAddr(ctx, "10.0.0.3")

	assert.Error(t, err)
}

func TestResolver_OpenBreakerFailsFast(t *testing.T) {
	failures := make([]error, 100)
	for i := range failures {
		failures[i] = errors.New("connection refused")
	}
	stub := &stubLookup{addrErrs: failures}
	r := NewResolver(stub, Config{Timeout: time.Second, QueriesPerSecond: 1, Burst: 20})

	for i := 0; i < 10; i++ {
		_, _ = r.LookupAddr(context.Background(), "10.0.0.4")
	}
	require.True(t, r.breaker.IsOpen())
	calls := stub.addrCalls
	tokens := r.limiter.Tokens()

	_, err := r.LookupAddr(context.Background(), "10.0.0.4")

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, calls, stub.addrCalls)
	assert.InDelta(t, tokens, r.limiter.Tokens(), 0.5, "no query slot is spent on a rejected lookup")
}

func TestIsDefinitiveAnswer(t *testing.T) {
	assert.True(t, isDefinitiveAnswer(nil))
	assert.True(t, isDefinitiveAnswer(&net.DNSError{IsNotFound: true}))
	assert.False(t, isDefinitiveAnswer(&net.DNSError{IsTimeout: true}))
	assert.False(t, isDefinitiveAnswer(errors.New("boom")))
}

// Package legitimacy decides whether a client is a verified search-engine
// crawler, using forward-confirmed reverse DNS and a persistent TTL cache.
package legitimacy

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/observability/metrics"
	"trafficwarden/internal/repository"
)

// DefaultAllowList holds the crawler domains whose verified hosts are exempt.
var DefaultAllowList = []string{
	"googlebot.com",
	"yandex.ru",
	"yandex.net",
	"yandex.com",
	"mail.ru",
}

// Resolver performs the reverse and forward lookups.
type Resolver interface {
	LookupAddr(ctx context.Context, ip string) ([]string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Classifier answers Classify from the cache, falling back to DNS.
type Classifier struct {
	repo      repository.LegitimacyRepository
	resolver  Resolver
	allowList []string
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithAllowList replaces the default crawler domains.
func WithAllowList(domains []string) Option {
	return func(c *Classifier) {
		c.allowList = normalizeDomains(domains)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// NewClassifier creates a Classifier over repo and resolver.
func NewClassifier(repo repository.LegitimacyRepository, resolver Resolver, logger *slog.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{
		repo:      repo,
		resolver:  resolver,
		allowList: normalizeDomains(DefaultAllowList),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify reports whether ip is a verified search-engine crawler.
//
// A fresh cache entry answers directly. Otherwise the verdict comes from
// forward-confirmed reverse DNS and is cached whatever its value. Every
// failure along the way yields false.
func (c *Classifier) Classify(ctx context.Context, ip string) bool {
	now := c.now()

	entry, err := c.repo.Get(ctx, ip, now)
	if err != nil {
		metrics.RecordStoreError("legitimacy_get")
		c.logger.Warn("legitimacy cache read failed",
			slog.String("ip", ip),
			slog.Any("error", err))
	}
	if entry != nil {
		metrics.RecordLegitimacyLookup(true)
		return entry.Verdict
	}
	metrics.RecordLegitimacyLookup(false)

	verdict := c.verify(ctx, ip)
	metrics.RecordLegitimacyVerdict(verdict)

	if err := c.repo.Set(ctx, entity.LegitimacyEntry{ClientIP: ip, Verdict: verdict, UpdatedAt: now}); err != nil {
		metrics.RecordStoreError("legitimacy_set")
		c.logger.Warn("legitimacy cache write failed",
			slog.String("ip", ip),
			slog.Any("error", err))
	}
	return verdict
}

// Persist saves the cache durably and drops expired entries.
func (c *Classifier) Persist(ctx context.Context) error {
	return c.repo.Persist(ctx, c.now())
}

func (c *Classifier) verify(ctx context.Context, ip string) bool {
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}

	names, err := c.resolver.LookupAddr(ctx, ip)
	if err != nil {
		c.logger.Debug("reverse lookup failed", slog.String("ip", ip), slog.Any("error", err))
		return false
	}

	for _, name := range names {
		if !c.allowed(name) {
			continue
		}
		addrs, err := c.resolver.LookupHost(ctx, name)
		if err != nil {
			c.logger.Debug("forward lookup failed",
				slog.String("ip", ip),
				slog.String("host", name),
				slog.Any("error", err))
			continue
		}
		for _, a := range addrs {
			if addr.Equal(net.ParseIP(a)) {
				return true
			}
		}
		c.logger.Info("reverse DNS not confirmed by forward lookup",
			slog.String("ip", ip),
			slog.String("host", name))
	}
	return false
}

// allowed reports whether host is one of the allow-listed domains or a
// subdomain of one.
func (c *Classifier) allowed(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, domain := range c.allowList {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.Trim(strings.TrimSpace(d), "."))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

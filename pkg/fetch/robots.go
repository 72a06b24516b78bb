package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Sriram-PR/polite-crawler/pkg/config"
	"github.com/Sriram-PR/polite-crawler/pkg/parse"
)

// maxRobotsBytes bounds how much of a robots.txt body is parsed
const maxRobotsBytes = 512 << 10

// RobotsPolicy is the robots.txt state for one domain at one point in time
// Policies are never mutated; a refresh replaces the cached value
type RobotsPolicy struct {
	Ruleset    *Ruleset // nil when the file was missing or unusable (allow all, no delay)
	FetchedAt  time.Time
	StatusCode int    // 0 when no response was received
	Source     string // robots.txt URL that was requested
}

// Empty reports whether the policy imposes nothing (no usable robots.txt)
func (p *RobotsPolicy) Empty() bool {
	return p == nil || p.Ruleset == nil
}

// Allowed reports whether agent may fetch target under this policy
func (p *RobotsPolicy) Allowed(target *url.URL, agent string) bool {
	if p.Empty() {
		return true
	}
	return p.Ruleset.Allowed(target.RequestURI(), agent)
}

// CrawlDelay returns the delay agent must leave between requests (0 if none declared)
func (p *RobotsPolicy) CrawlDelay(agent string) time.Duration {
	if p.Empty() {
		return 0
	}
	return p.Ruleset.CrawlDelay(agent)
}

// RobotsCache fetches, parses and caches robots.txt per domain key
// Any failure to obtain a usable file yields an empty policy; robots.txt never blocks crawling by its absence
type RobotsCache struct {
	client    *http.Client // direct, never the caching proxy
	extractor *parse.Extractor
	cache     *ristretto.Cache[string, *RobotsPolicy]
	flight    singleflight.Group
	ttl       time.Duration
	timeout   time.Duration
	userAgent string
	now       func() time.Time
	log       *logrus.Entry
}

// NewRobotsCache creates a cache that fetches robots.txt with client
func NewRobotsCache(client *http.Client, extractor *parse.Extractor, cfg *config.AppConfig, log *logrus.Entry) (*RobotsCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *RobotsPolicy]{
		NumCounters:        1 << 20, // ~10x the number of domains we expect to track
		MaxCost:            1 << 17, // one unit per domain; far above any realistic domain count
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create robots cache: %w", err)
	}
	return &RobotsCache{
		client:    client,
		extractor: extractor,
		cache:     cache,
		ttl:       cfg.RobotsCacheTTL,
		timeout:   cfg.RobotsTimeout,
		userAgent: cfg.UserAgent,
		now:       time.Now,
		log:       log,
	}, nil
}

// SetClock replaces the time source used for policy age; intended for tests
func (rc *RobotsCache) SetClock(now func() time.Time) {
	rc.now = now
}

// Close stops the cache's background goroutines
func (rc *RobotsCache) Close() {
	rc.cache.Close()
}

// Policy returns the current policy for rawURL's domain, fetching robots.txt if needed
// The only error is an invalid URL
func (rc *RobotsCache) Policy(ctx context.Context, rawURL string) (*RobotsPolicy, error) {
	policy, _, err := rc.resolve(ctx, rawURL)
	return policy, err
}

// IsAllowed reports whether agent may fetch rawURL. Unparseable URLs are not allowed
func (rc *RobotsCache) IsAllowed(ctx context.Context, rawURL, agent string) bool {
	policy, target, err := rc.resolve(ctx, rawURL)
	if err != nil {
		return false
	}
	return policy.Allowed(target, agent)
}

// CrawlDelay returns the Crawl-delay declared for agent on rawURL's domain
func (rc *RobotsCache) CrawlDelay(ctx context.Context, rawURL, agent string) time.Duration {
	policy, _, err := rc.resolve(ctx, rawURL)
	if err != nil {
		return 0
	}
	return policy.CrawlDelay(agent)
}

func (rc *RobotsCache) resolve(ctx context.Context, rawURL string) (*RobotsPolicy, *url.URL, error) {
	target, err := parse.ParseTarget(rawURL)
	if err != nil {
		return nil, nil, err
	}
	domain, err := rc.extractor.DomainOfHost(target.Hostname())
	if err != nil {
		return nil, nil, err
	}
	return rc.PolicyFor(ctx, domain, target), target, nil
}

// PolicyFor returns the policy cached under domain, fetching robots.txt from target's origin on a miss or once the entry is older than the TTL
// Concurrent misses for the same domain share one fetch
// Entries are keyed by registrable domain, so every subdomain shares the rules
// fetched from whichever origin missed first until the entry expires
func (rc *RobotsCache) PolicyFor(ctx context.Context, domain string, target *url.URL) *RobotsPolicy {
	if policy, ok := rc.lookup(domain); ok {
		return policy
	}

	v, _, shared := rc.flight.Do(domain, func() (any, error) {
		// Another caller may have filled the entry while we queued
		if policy, ok := rc.lookup(domain); ok {
			return policy, nil
		}
		policy := rc.fetch(ctx, domain, target)
		rc.cache.SetWithTTL(domain, policy, 1, rc.ttl)
		rc.cache.Wait()
		return policy, nil
	})
	if shared {
		rc.log.WithField("domain", domain).Debug("Shared in-flight robots.txt fetch")
	}
	return v.(*RobotsPolicy)
}

func (rc *RobotsCache) lookup(domain string) (*RobotsPolicy, bool) {
	policy, ok := rc.cache.Get(domain)
	if !ok || policy == nil {
		return nil, false
	}
	if rc.now().Sub(policy.FetchedAt) >= rc.ttl {
		return nil, false
	}
	return policy, true
}

// Purge drops the cached policy for domain so the next lookup refetches
func (rc *RobotsCache) Purge(domain string) {
	rc.cache.Del(domain)
	rc.cache.Wait()
}

// fetch retrieves and parses robots.txt; it always returns a policy
func (rc *RobotsCache) fetch(ctx context.Context, domain string, target *url.URL) *RobotsPolicy {
	robotsURL := parse.RobotsURL(target)
	robotsLog := rc.log.WithFields(logrus.Fields{"domain": domain, "robots_url": robotsURL})
	policy := &RobotsPolicy{FetchedAt: rc.now(), Source: robotsURL}

	// The fetch outlives any single caller sharing it; only the robots timeout bounds it
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Warnf("Error creating robots.txt request: %v", err)
		return policy
	}
	req.Header.Set("User-Agent", rc.userAgent)

	robotsLog.Info("Fetching robots.txt...")
	resp, err := rc.client.Do(req)
	if err != nil {
		robotsLog.Warnf("Fetching robots.txt failed, allowing all: %v", err)
		return policy
	}
	defer resp.Body.Close()
	policy.StatusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxRobotsBytes))
		robotsLog.WithField("status_code", resp.StatusCode).Info("No usable robots.txt, allowing all")
		return policy
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		robotsLog.Warnf("Error reading robots.txt body, allowing all: %v", err)
		return policy
	}

	ruleset, err := ParseRuleset(body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt, allowing all: %v", err)
		return policy
	}
	policy.Ruleset = ruleset

	fields := logrus.Fields{"status_code": resp.StatusCode, "sitemaps": len(ruleset.Sitemaps())}
	robotsLog.WithFields(fields).Info("Successfully fetched and parsed robots.txt")
	for _, sitemapURL := range ruleset.Sitemaps() {
		robotsLog.WithField("sitemap", sitemapURL).Debug("robots.txt lists sitemap")
	}
	return policy
}

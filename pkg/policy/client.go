package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// maxConfigBytes bounds a domain configuration response
const maxConfigBytes = 64 << 10

// DomainConfig is the centrally managed crawl/cache policy for one domain
// A missing field means enabled; only an explicit false disables
type DomainConfig struct {
	CrawlEnabled *bool `json:"crawl_enabled,omitempty"`
	CacheEnabled *bool `json:"cache_enabled,omitempty"`
}

// CrawlAllowed reports whether crawling the domain is permitted
func (c DomainConfig) CrawlAllowed() bool {
	return c.CrawlEnabled == nil || *c.CrawlEnabled
}

// CacheAllowed reports whether fetches may be served through the caching proxy
func (c DomainConfig) CacheAllowed() bool {
	return c.CacheEnabled == nil || *c.CacheEnabled
}

// Client looks up DomainConfig from the domain configuration service
// Results are never cached; every crawl decision reads the current policy
type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

// NewClient creates a Client for the service at baseURL (e.g. http://backend-service)
func NewClient(baseURL string, httpClient *http.Client, log *logrus.Entry) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     log,
	}
}

// Lookup fetches the configuration for domain via GET <base>/domains/{domain}
// Any failure wraps utils.ErrConfigurationUnavailable
func (c *Client) Lookup(ctx context.Context, domain string) (DomainConfig, error) {
	var cfg DomainConfig
	endpoint := c.baseURL + "/domains/" + url.PathEscape(domain)
	lookupLog := c.log.WithFields(logrus.Fields{"domain": domain, "endpoint": endpoint})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w: %v", utils.ErrConfigurationUnavailable, utils.ErrRequestCreation, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		lookupLog.Warnf("Domain configuration lookup failed: %v", err)
		return cfg, fmt.Errorf("%w: %w", utils.ErrConfigurationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxConfigBytes))
		lookupLog.WithField("status_code", resp.StatusCode).Warn("Domain configuration service returned non-success status")
		return cfg, utils.WrapErrorf(utils.ErrConfigurationUnavailable, "domain %s: service status %d", domain, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxConfigBytes)).Decode(&cfg); err != nil {
		lookupLog.Warnf("Domain configuration response is not valid JSON: %v", err)
		return DomainConfig{}, fmt.Errorf("%w: %w: decode JSON: %v", utils.ErrConfigurationUnavailable, utils.ErrParsing, err)
	}

	lookupLog.WithFields(logrus.Fields{"crawl_allowed": cfg.CrawlAllowed(), "cache_allowed": cfg.CacheAllowed()}).Debug("Domain configuration loaded")
	return cfg, nil
}

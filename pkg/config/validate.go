package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// UserAgent
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RobotsAgent == "" {
		c.RobotsAgent = DefaultRobotsAgent
	}
	if !strings.Contains(strings.ToLower(c.UserAgent), strings.ToLower(c.RobotsAgent)) {
		warnings = append(warnings, fmt.Sprintf(
			"user_agent does not mention robots_agent %q; site operators cannot target this crawler by name",
			c.RobotsAgent))
	}

	// Timeouts
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.RobotsTimeout <= 0 {
		c.RobotsTimeout = 10 * time.Second
	}
	if c.RobotsCacheTTL <= 0 {
		c.RobotsCacheTTL = time.Hour
	}
	if c.FailureBackoffIncrement <= 0 {
		c.FailureBackoffIncrement = time.Second
	}
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}
	if c.SemaphoreIdleEviction <= 0 {
		c.SemaphoreIdleEviction = 5 * time.Minute
	}

	// MaxRedirects
	if c.MaxRedirects < 0 {
		warnings = append(warnings, "max_redirects cannot be negative, defaulting to 10")
		c.MaxRedirects = 10
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = 10
	}

	// MaxBodyBytes
	if c.MaxBodyBytes < 0 {
		warnings = append(warnings, "max_body_bytes cannot be negative, defaulting to 10MiB")
		c.MaxBodyBytes = 0
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 10 << 20
	}

	// MaxRequestsPerDomain
	if c.MaxRequestsPerDomain <= 0 {
		warnings = append(warnings, "max_requests_per_domain should be > 0, defaulting to 2")
		c.MaxRequestsPerDomain = 2
	}

	// PrivateSuffixes
	cleaned := c.PrivateSuffixes[:0]
	for _, s := range c.PrivateSuffixes {
		s = strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".")
		if s == "" {
			warnings = append(warnings, "ignoring empty entry in private_suffixes")
			continue
		}
		cleaned = append(cleaned, s)
	}
	c.PrivateSuffixes = cleaned

	// Domain configuration service
	if c.DomainConfig.BaseURL == "" {
		warnings = append(warnings, "domain_config.base_url is empty, defaulting to 'http://backend-service'")
		c.DomainConfig.BaseURL = "http://backend-service"
	}
	if err := requireAbsoluteURL("domain_config.base_url", c.DomainConfig.BaseURL); err != nil {
		return warnings, err
	}
	c.DomainConfig.BaseURL = strings.TrimRight(c.DomainConfig.BaseURL, "/")
	if c.DomainConfig.Timeout <= 0 {
		c.DomainConfig.Timeout = 5 * time.Second
	}

	// Caching proxy
	if c.Proxy.URL == "" {
		warnings = append(warnings, "proxy.url is empty; cacheable domains will be fetched directly")
	} else if err := requireAbsoluteURL("proxy.url", c.Proxy.URL); err != nil {
		return warnings, err
	}
	if c.Proxy.URL != "" && c.Proxy.CACertFile == "" {
		warnings = append(warnings, "proxy.ca_cert_file is empty; HTTPS through the proxy will use system roots only")
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func requireAbsoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %w", utils.ErrConfigValidation, field, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s %q must be an absolute http(s) URL", utils.ErrConfigValidation, field, raw)
	}
	return nil
}

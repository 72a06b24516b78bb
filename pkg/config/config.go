package config

import "time"

// DefaultUserAgent identifies the crawler to site operators; it is deliberately not a browser string
const DefaultUserAgent = "Mozilla/5.0 (compatible; Linux x86_64; Go-http-client; RecipeRadar/0.1; +https://www.reciperadar.com)"

// DefaultRobotsAgent is the product token matched against robots.txt User-agent lines
const DefaultRobotsAgent = "RecipeRadar"

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent               string             `yaml:"user_agent"`
	RobotsAgent             string             `yaml:"robots_agent,omitempty"`
	RequestTimeout          time.Duration      `yaml:"request_timeout,omitempty"`  // Per-hop budget for target fetches
	RobotsTimeout           time.Duration      `yaml:"robots_timeout,omitempty"`   // Overall budget for a robots.txt fetch
	RobotsCacheTTL          time.Duration      `yaml:"robots_cache_ttl,omitempty"` // Age after which a robots policy is refetched
	FailureBackoffIncrement time.Duration      `yaml:"failure_backoff_increment,omitempty"`
	MaxRedirects            int                `yaml:"max_redirects,omitempty"`
	MaxBodyBytes            int64              `yaml:"max_body_bytes,omitempty"`
	MaxRequestsPerDomain    int                `yaml:"max_requests_per_domain,omitempty"`
	SemaphoreAcquireTimeout time.Duration      `yaml:"semaphore_acquire_timeout,omitempty"`
	SemaphoreIdleEviction   time.Duration      `yaml:"semaphore_idle_eviction,omitempty"` // Idle age (and sweep interval) for per-domain slots
	PrivateSuffixes         []string           `yaml:"private_suffixes,omitempty"`        // Extra suffixes treated like public ones (e.g. "test")
	DomainConfig            DomainConfigClient `yaml:"domain_config"`
	Proxy                   ProxyConfig        `yaml:"proxy"`
	HTTPClientSettings      HTTPClientConfig   `yaml:"http_client_settings,omitempty"`
}

// DomainConfigClient locates the external per-domain crawl/cache policy service
type DomainConfigClient struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ProxyConfig describes the shared caching forward proxy
type ProxyConfig struct {
	URL        string `yaml:"url"`
	CACertFile string `yaml:"ca_cert_file,omitempty"` // Trust anchor for the proxy's TLS interception
}

// HTTPClientConfig holds settings for the shared HTTP transports
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveRobotsAgent returns the token used for robots.txt group matching
func GetEffectiveRobotsAgent(appCfg AppConfig) string {
	if appCfg.RobotsAgent != "" {
		return appCfg.RobotsAgent
	}
	return DefaultRobotsAgent
}

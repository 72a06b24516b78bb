package fetch

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/polite-crawler/pkg/policy"
	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// PolicyLookup resolves the central crawl/cache policy for a domain
type PolicyLookup interface {
	Lookup(ctx context.Context, domain string) (policy.DomainConfig, error)
}

// Transport is the client and headers a fetch must use
type Transport struct {
	Client *http.Client
	Header http.Header
	Cached bool // routed through the caching proxy
}

// Selector chooses between the direct and proxied clients per domain policy
type Selector struct {
	clients   *Clients
	policies  PolicyLookup
	userAgent string
	log       *logrus.Entry
}

// NewSelector creates a Selector over prebuilt clients
func NewSelector(clients *Clients, policies PolicyLookup, userAgent string, log *logrus.Entry) *Selector {
	return &Selector{clients: clients, policies: policies, userAgent: userAgent, log: log}
}

// DefaultHeaders returns the headers sent on every target fetch
func DefaultHeaders(userAgent string) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return h
}

// Select looks up domain's policy and returns the transport for it
// Lookup failure wraps utils.ErrConfigurationUnavailable; crawl_enabled=false wraps utils.ErrCrawlProhibited
func (s *Selector) Select(ctx context.Context, domain string) (*Transport, error) {
	cfg, err := s.policies.Lookup(ctx, domain)
	if err != nil {
		return nil, err
	}
	if !cfg.CrawlAllowed() {
		return nil, utils.WrapErrorf(utils.ErrCrawlProhibited, "domain %s", domain)
	}

	header := DefaultHeaders(s.userAgent)
	if !cfg.CacheAllowed() {
		header.Set("Cache-Control", "no-store")
		s.log.WithField("domain", domain).Debug("Caching disabled for domain, fetching directly")
		return &Transport{Client: s.clients.Direct, Header: header}, nil
	}
	return &Transport{
		Client: s.clients.Proxied,
		Header: header,
		Cached: s.clients.Proxied != s.clients.Direct,
	}, nil
}
